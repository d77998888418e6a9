package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hupe1980/geminikit/logging"
)

const (
	// DefaultBaseURL is the public Generative Language API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.0-flash"

	// maxErrorBodyBytes bounds how much of a failed response body is read
	// for diagnostics.
	maxErrorBodyBytes = 64 << 10
)

// HTTPClient is the injectable transport. *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientOptions configure a Client.
type ClientOptions struct {
	// Model is the model identifier used in request URLs.
	Model string
	// BaseURL overrides the API endpoint (testing, proxies).
	BaseURL string
	// HTTPClient overrides the transport. Defaults to http.DefaultClient.
	HTTPClient HTTPClient
	// GenerationConfig is the default generation parameter set applied when
	// a request carries none. Nil means the generationConfig key is omitted
	// from the wire payload entirely.
	GenerationConfig *GenerationConfig
	// Logger receives structured diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Client issues generateContent and streamGenerateContent requests against
// the Gemini HTTP API. It is safe for concurrent use; each streaming call
// owns its response body exclusively.
type Client struct {
	apiKey string
	opts   ClientOptions
	logger logging.Logger
}

// NewClient creates a Gemini API client for the given API key.
func NewClient(apiKey string, optFns ...func(o *ClientOptions)) *Client {
	opts := ClientOptions{
		Model:      DefaultModel,
		BaseURL:    DefaultBaseURL,
		HTTPClient: http.DefaultClient,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Client{apiKey: apiKey, opts: opts, logger: opts.Logger}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.opts.Model }

func (c *Client) generateURL() string {
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.opts.BaseURL, c.opts.Model, url.QueryEscape(c.apiKey))
}

func (c *Client) streamURL() string {
	return fmt.Sprintf("%s/models/%s:streamGenerateContent?key=%s&alt=sse",
		c.opts.BaseURL, c.opts.Model, url.QueryEscape(c.apiKey))
}

func (c *Client) newRequest(ctx context.Context, rawURL string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, newUnexpectedError("marshal request payload", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, newUnexpectedError("build http request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// postStream issues a streaming POST and hands the raw response body to the
// caller, which takes exclusive ownership and must close it. HTTP-status
// failures are classified distinctly from transport failures; either way no
// body escapes unclosed.
func (c *Client) postStream(ctx context.Context, rawURL string, payload any) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, rawURL, payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, newTransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		_ = resp.Body.Close()
		return nil, newRequestError(resp.StatusCode, body)
	}
	return resp.Body, nil
}

// postJSON issues a buffered POST and returns the full response body.
func (c *Client) postJSON(ctx context.Context, rawURL string, payload any) ([]byte, error) {
	req, err := c.newRequest(ctx, rawURL, payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, newTransportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, newRequestError(resp.StatusCode, body)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newTransportError(err)
	}
	return body, nil
}

// Float returns a pointer to v. Convenience for GenerationConfig fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v. Convenience for GenerationConfig fields.
func Int(v int) *int { return &v }
