package gemini

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geminikit/core"
)

func jsonClient(status int, body string) *Client {
	transport := &fakeTransport{responses: []*http.Response{{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}}}
	return NewClient("test-key", func(o *ClientOptions) { o.HTTPClient = transport })
}

func TestGenerateContentText(t *testing.T) {
	c := jsonClient(http.StatusOK, `{
		"candidates":[{"content":{"role":"model","parts":[{"text":"Hello there"}]},"finishReason":"STOP"}],
		"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":3,"totalTokenCount":8}
	}`)

	resp, err := c.GenerateContent(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	assert.Equal(t, "Hello there", resp.Text())
	assert.Equal(t, core.RoleAssistant, resp.Content.Role)
	assert.Equal(t, "STOP", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, UsageReport{InputTokens: 5, OutputTokens: 3}, *resp.Usage)
}

func TestGenerateContentFunctionCalls(t *testing.T) {
	c := jsonClient(http.StatusOK, `{
		"candidates":[{"content":{"role":"model","parts":[
			{"text":"checking"},
			{"functionCall":{"name":"get_weather","args":{"city":"Berlin"}}},
			{"functionCall":{"name":"get_time"}}
		]},"finishReason":"STOP"}]
	}`)

	resp, err := c.GenerateContent(context.Background(), userRequest("weather?"))
	require.NoError(t, err)

	assert.Equal(t, "checking", resp.Text())
	calls := resp.FunctionCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.JSONEq(t, `{"city":"Berlin"}`, calls[0].Arguments)
	assert.JSONEq(t, `{}`, calls[1].Arguments)
	// Correlation IDs are assigned at projection time.
	assert.NotEmpty(t, calls[0].ID)
	assert.NotEqual(t, calls[0].ID, calls[1].ID)
}

func TestGenerateContentBlocked(t *testing.T) {
	c := jsonClient(http.StatusOK, `{
		"promptFeedback":{"blockReason":"SAFETY","safetyRatings":[{"category":"HARM_CATEGORY_DANGEROUS"}]}
	}`)

	_, err := c.GenerateContent(context.Background(), userRequest("hi"))
	var provErr *Error
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, ErrCodeBlockedContent, provErr.Code)
	details := provErr.Details.(BlockDetails)
	assert.Equal(t, "SAFETY", details.Reason)
	assert.NotNil(t, details.SafetyRatings)
}

func TestGenerateContentInvalidShape(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"neither parts nor block reason", `{"modelVersion":"gemini-2.0-flash"}`},
		{"empty candidates", `{"candidates":[]}`},
		{"candidate without parts", `{"candidates":[{"content":{"parts":[]}}]}`},
		{"not json at all", `<html>gateway timeout</html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := jsonClient(http.StatusOK, tt.body)
			_, err := c.GenerateContent(context.Background(), userRequest("hi"))
			var provErr *Error
			require.ErrorAs(t, err, &provErr)
			assert.Equal(t, ErrCodeInvalidResponse, provErr.Code)
			// Raw body is preserved for diagnosis.
			assert.Equal(t, tt.body, provErr.Details)
		})
	}
}

func TestGenerateContentHTTPFailure(t *testing.T) {
	c := jsonClient(http.StatusBadRequest, `{"error":{"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)

	_, err := c.GenerateContent(context.Background(), userRequest("hi"))
	var provErr *Error
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, ErrCodeRequestFailed, provErr.Code)
	assert.Equal(t, http.StatusBadRequest, provErr.StatusCode)
	assert.Contains(t, provErr.Message, "API key not valid")
}
