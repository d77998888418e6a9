package gemini

import (
	"context"
	"encoding/json"

	"github.com/hupe1980/geminikit/core"
)

// Response is the buffered result of a non-streaming call.
type Response struct {
	// Content is the assistant turn with wire parts converted back into the
	// generic part set. Function call parts receive correlation IDs.
	Content core.Content
	// FinishReason is the vendor's termination signal for the turn.
	FinishReason string
	// Usage carries token accounting when the vendor reported it.
	Usage *UsageReport
}

// Text returns the concatenated text of the response.
func (r *Response) Text() string { return r.Content.Text() }

// FunctionCalls returns the tool invocations requested by the model.
func (r *Response) FunctionCalls() []core.FunctionCall { return r.Content.FunctionCalls() }

// GenerateContent issues a buffered (non-streaming) request and decodes the
// full response body. A block reason is surfaced as a blocked-content error
// with its safety ratings; a body lacking both content parts and a block
// reason is surfaced with the raw body for diagnosis.
func (c *Client) GenerateContent(ctx context.Context, req Request) (*Response, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, classify(err)
	}

	c.logger.Debug("gemini.generate.request", "model", c.opts.Model, "contents", len(payload.Contents))

	body, err := c.postJSON(ctx, c.generateURL(), payload)
	if err != nil {
		return nil, classify(err)
	}

	var ck chunk
	if err := json.Unmarshal(body, &ck); err != nil {
		return nil, newShapeError(body, err)
	}

	if ck.PromptFeedback != nil && ck.PromptFeedback.BlockReason != "" {
		return nil, newBlockedError(ck.PromptFeedback.BlockReason, ck.PromptFeedback.SafetyRatings)
	}

	if len(ck.Candidates) == 0 || ck.Candidates[0].Content == nil || len(ck.Candidates[0].Content.Parts) == 0 {
		return nil, newShapeError(body, nil)
	}

	cand := ck.Candidates[0]
	parts := make([]core.Part, 0, len(cand.Content.Parts))
	for _, p := range cand.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			args := p.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			raw, err := json.Marshal(args)
			if err != nil {
				return nil, newUnexpectedError("serialize function call args", err)
			}
			parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID:        core.NewID(),
				Name:      p.FunctionCall.Name,
				Arguments: string(raw),
			}})
		case p.Text != "":
			parts = append(parts, core.TextPart{Text: p.Text})
		}
	}

	resp := &Response{
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: cand.FinishReason,
	}
	if ck.UsageMetadata != nil {
		usage := ck.UsageMetadata.report()
		resp.Usage = &usage
	}
	return resp, nil
}
