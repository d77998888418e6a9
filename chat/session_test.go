package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geminikit/core"
	"github.com/hupe1980/geminikit/gemini"
	"github.com/hupe1980/geminikit/tool"
)

// scriptedTransport serves canned response bodies in order and records every
// outbound payload, so tests exercise the real client, mapper and decoder.
type scriptedTransport struct {
	bodies   []string
	requests [][]byte
}

func (s *scriptedTransport) Do(req *http.Request) (*http.Response, error) {
	payload, _ := io.ReadAll(req.Body)
	s.requests = append(s.requests, payload)
	if len(s.bodies) == 0 {
		return nil, errors.New("no scripted response left")
	}
	body := s.bodies[0]
	s.bodies = s.bodies[1:]
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}, nil
}

func sseBody(payloads ...string) string {
	var sb strings.Builder
	for _, p := range payloads {
		sb.WriteString("data: " + p + "\n\n")
	}
	return sb.String()
}

func testClient(transport *scriptedTransport) *gemini.Client {
	return gemini.NewClient("test-key", func(o *gemini.ClientOptions) {
		o.HTTPClient = transport
	})
}

func weatherTool(t *testing.T) tool.Tool {
	t.Helper()
	return tool.NewFunctionTool("get_weather", "Get the weather for a city", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city": map[string]any{"type": "string"},
		},
		"required": []string{"city"},
	}, func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
		return "sunny in " + args["city"].(string), nil
	})
}

func TestSessionSendPlain(t *testing.T) {
	transport := &scriptedTransport{bodies: []string{
		`{"candidates":[{"content":{"parts":[{"text":"Hello!"}]},"finishReason":"STOP"}],
		  "usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":2}}`,
	}}

	s, err := NewSession(testClient(transport))
	require.NoError(t, err)

	reply, err := s.SendText(context.Background(), "hi")
	require.NoError(t, err)

	assert.Equal(t, "Hello!", reply.Text())
	assert.Equal(t, 1, reply.Rounds)
	require.NotNil(t, reply.Usage)
	assert.Equal(t, gemini.UsageReport{InputTokens: 4, OutputTokens: 2}, *reply.Usage)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, core.RoleAssistant, history[1].Role)
}

func TestSessionSendToolLoop(t *testing.T) {
	transport := &scriptedTransport{bodies: []string{
		`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"get_weather","args":{"city":"Berlin"}}}]},"finishReason":"STOP"}]}`,
		`{"candidates":[{"content":{"parts":[{"text":"It is sunny in Berlin."}]},"finishReason":"STOP"}]}`,
	}}

	s, err := NewSession(testClient(transport), func(o *SessionOptions) {
		o.Registry = tool.NewRegistry(weatherTool(t))
	})
	require.NoError(t, err)

	reply, err := s.SendText(context.Background(), "weather in berlin?")
	require.NoError(t, err)

	assert.Equal(t, "It is sunny in Berlin.", reply.Text())
	assert.Equal(t, 2, reply.Rounds)

	// user, assistant function call, tool response, final assistant answer
	history := s.History()
	require.Len(t, history, 4)
	assert.Equal(t, core.RoleTool, history[2].Role)
	responses := history[2].FunctionResponses()
	require.Len(t, responses, 1)
	assert.Equal(t, "sunny in Berlin", responses[0].Response)

	// The second request must carry the functionResponse back on the wire.
	require.Len(t, transport.requests, 2)
	assert.Contains(t, string(transport.requests[1]), `"functionResponse"`)
	assert.Contains(t, string(transport.requests[1]), "sunny in Berlin")
}

func TestSessionSendToolLoopBounded(t *testing.T) {
	loop := `{"candidates":[{"content":{"parts":[{"functionCall":{"name":"get_weather","args":{"city":"Berlin"}}}]},"finishReason":"STOP"}]}`
	transport := &scriptedTransport{bodies: []string{loop, loop, loop}}

	s, err := NewSession(testClient(transport), func(o *SessionOptions) {
		o.Registry = tool.NewRegistry(weatherTool(t))
		o.MaxToolRounds = 3
	})
	require.NoError(t, err)

	_, err = s.SendText(context.Background(), "weather?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded 3 rounds")
	assert.Len(t, transport.requests, 3)
}

func TestSessionSendStreamText(t *testing.T) {
	transport := &scriptedTransport{bodies: []string{sseBody(
		`{"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":"lo"}]},"finishReason":"STOP"}]}`,
		`{"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2}}`,
	)}}

	s, err := NewSession(testClient(transport))
	require.NoError(t, err)

	var events []core.Event
	for ev, err := range s.SendStream(context.Background(), core.TextPart{Text: "hi"}) {
		require.NoError(t, err)
		events = append(events, ev)
	}

	require.Len(t, events, 3)
	assert.True(t, events[0].IsPartial())
	assert.Equal(t, "Hel", events[0].Content.Text())
	assert.True(t, events[1].IsPartial())
	assert.Equal(t, "lo", events[1].Content.Text())

	final := events[2]
	assert.False(t, final.IsPartial())
	require.NotNil(t, final.TurnComplete)
	assert.True(t, *final.TurnComplete)
	assert.Equal(t, "Hello", final.Content.Text())
	require.NotNil(t, final.Usage)
	assert.Equal(t, core.Usage{InputTokens: 3, OutputTokens: 2}, *final.Usage)

	// All three events belong to one turn.
	assert.Equal(t, events[0].TurnID, final.TurnID)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, "Hello", history[1].Text())
}

func TestSessionSendStreamToolRecursion(t *testing.T) {
	transport := &scriptedTransport{bodies: []string{
		// First model turn requests a tool call.
		sseBody(`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"get_weather","args":{"city":"Berlin"}}}]},"finishReason":"STOP"}]}`),
		// Nested turn answers with text.
		sseBody(
			`{"candidates":[{"content":{"parts":[{"text":"Sunny."}]},"finishReason":"STOP"}]}`,
			`{"usageMetadata":{"promptTokenCount":9,"candidatesTokenCount":3}}`,
		),
	}}

	s, err := NewSession(testClient(transport), func(o *SessionOptions) {
		o.Registry = tool.NewRegistry(weatherTool(t))
	})
	require.NoError(t, err)

	var events []core.Event
	for ev, err := range s.SendStream(context.Background(), core.TextPart{Text: "weather?"}) {
		require.NoError(t, err)
		events = append(events, ev)
	}

	// function call, function response, text delta, final
	require.Len(t, events, 4)

	calls := events[0].GetFunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "get_weather", calls[0].Name)

	responses := events[1].GetFunctionResponses()
	require.Len(t, responses, 1)
	assert.Equal(t, calls[0].ID, responses[0].ID)
	assert.Equal(t, "sunny in Berlin", responses[0].Response)

	assert.True(t, events[2].IsPartial())
	assert.Equal(t, "Sunny.", events[2].Content.Text())

	final := events[3]
	require.NotNil(t, final.TurnComplete)
	assert.True(t, *final.TurnComplete)
	require.NotNil(t, final.Usage)
	assert.Equal(t, core.Usage{InputTokens: 9, OutputTokens: 3}, *final.Usage)

	// user, assistant call, tool response, assistant answer
	history := s.History()
	require.Len(t, history, 4)
	assert.Equal(t, core.RoleAssistant, history[1].Role)
	assert.Len(t, history[1].FunctionCalls(), 1)
	assert.Equal(t, core.RoleTool, history[2].Role)
	assert.Equal(t, "Sunny.", history[3].Text())

	// The nested request carried the declared tools again.
	require.Len(t, transport.requests, 2)
	assert.Contains(t, string(transport.requests[1]), `"functionDeclarations"`)
}

func TestSessionSendStreamError(t *testing.T) {
	transport := &scriptedTransport{}

	s, err := NewSession(testClient(transport))
	require.NoError(t, err)

	var streamErr error
	for _, err := range s.SendStream(context.Background(), core.TextPart{Text: "hi"}) {
		if err != nil {
			streamErr = err
			break
		}
	}

	var provErr *gemini.Error
	require.ErrorAs(t, streamErr, &provErr)
}

func TestSessionInstructionTemplate(t *testing.T) {
	transport := &scriptedTransport{bodies: []string{
		`{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}`,
	}}

	s, err := NewSession(testClient(transport), func(o *SessionOptions) {
		o.Instructions = "You are {{.name}}, a helpful assistant."
		o.InstructionVars = map[string]any{"name": "Gopher"}
	})
	require.NoError(t, err)

	_, err = s.SendText(context.Background(), "hi")
	require.NoError(t, err)

	require.Len(t, transport.requests, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(transport.requests[0], &payload))
	si := payload["systemInstruction"].(map[string]any)
	parts := si["parts"].([]any)
	assert.Equal(t, "You are Gopher, a helpful assistant.", parts[0].(map[string]any)["text"])
}

func TestSessionReset(t *testing.T) {
	transport := &scriptedTransport{bodies: []string{
		`{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}`,
	}}

	s, err := NewSession(testClient(transport))
	require.NoError(t, err)

	_, err = s.SendText(context.Background(), "hi")
	require.NoError(t, err)
	require.NotEmpty(t, s.History())

	s.Reset()
	assert.Empty(t, s.History())
}
