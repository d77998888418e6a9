package core

import (
	"time"

	"github.com/google/uuid"
)

// Event is the unit of communication emitted by chat sessions and tool
// execution. After emission it should be treated as immutable. It captures:
//
//   - Correlation (TurnID, ID, Author)
//   - Conversational content (optional role-based Parts)
//   - Streaming metadata (Partial, TurnComplete)
//   - Usage accounting for the turn (Usage, present on the terminal event)
//   - Error metadata
//   - High precision UTC timestamp
//
// Content may be nil for control or error-only events. Timestamp uses a
// native time.Time (UTC).
type Event struct {
	ID           string    `json:"id"`
	TurnID       string    `json:"turn_id"`
	Author       string    `json:"author"`
	Timestamp    time.Time `json:"timestamp"`
	Content      *Content  `json:"content,omitempty"`
	Partial      *bool     `json:"partial,omitempty"`
	TurnComplete *bool     `json:"turn_complete,omitempty"`
	Usage        *Usage    `json:"usage,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
}

// Usage is the generic token accounting record for one request/response
// round trip. When the vendor reports only a combined total the split is
// unknown: InputTokens is zero and OutputTokens carries the total, which is
// lossy by construction.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// NewEvent creates a bare event authored by 'author' bound to a turn.
// Prefer helper constructors for common semantic categories (message,
// function call/response).
func NewEvent(turnID, author string) Event {
	return Event{
		ID:        NewID(),
		TurnID:    turnID,
		Author:    author,
		Timestamp: time.Now().UTC(),
	}
}

// NewMessageEvent creates an assistant message event with a single text part.
func NewMessageEvent(author, message string) Event {
	e := NewEvent("", author)
	e.Content = &Content{Role: RoleAssistant, Parts: []Part{TextPart{Text: message}}}
	return e
}

// NewUserMessageEvent creates a user-authored text message event.
func NewUserMessageEvent(turnID, message string) Event {
	e := NewEvent(turnID, RoleUser)
	e.Content = &Content{Role: RoleUser, Parts: []Part{TextPart{Text: message}}}
	return e
}

// NewUserContentEvent creates a user-authored event with arbitrary Content.
// Useful for cases where the Content is not just a simple text message.
func NewUserContentEvent(turnID string, content *Content) Event {
	e := NewEvent(turnID, RoleUser)
	e.Content = content
	return e
}

// NewFunctionCallEvent represents the model requesting execution of a named
// function/tool.
func NewFunctionCallEvent(turnID, author string, calls ...FunctionCall) Event {
	e := NewEvent(turnID, author)
	parts := make([]Part, 0, len(calls))
	for _, fc := range calls {
		parts = append(parts, FunctionCallPart{FunctionCall: fc})
	}
	e.Content = &Content{Role: RoleAssistant, Parts: parts}
	return e
}

// NewFunctionResponseEvent records the completion result (or error) of a
// previously requested function call. If err is non-nil its message is
// copied into the response Error field.
func NewFunctionResponseEvent(turnID, author, id, functionName string, result any, err error) Event {
	e := NewEvent(turnID, author)
	fr := FunctionResponse{ID: id, Name: functionName, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	e.Content = &Content{Role: RoleTool, Parts: []Part{FunctionResponsePart{FunctionResponse: fr}}}
	return e
}

// NewID generates a new unique identifier usable for events, turns and
// function call correlation.
func NewID() string { return uuid.NewString() }

// IsPartial reports whether this event represents a streaming fragment that
// will be followed by additional events composing the final assistant turn.
func (e Event) IsPartial() bool { return e.Partial != nil && *e.Partial }

// GetFunctionCalls returns any FunctionCall parts contained within the event
// content preserving their original order.
func (e Event) GetFunctionCalls() []FunctionCall {
	if e.Content == nil {
		return nil
	}
	return e.Content.FunctionCalls()
}

// GetFunctionResponses returns any FunctionResponse parts contained within
// the event content preserving their original order.
func (e Event) GetFunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}
	return e.Content.FunctionResponses()
}

// IsFinalResponse reports whether the event closes an assistant turn: no
// pending tool calls or responses and not a streaming fragment.
func (e Event) IsFinalResponse() bool {
	return len(e.GetFunctionCalls()) == 0 &&
		len(e.GetFunctionResponses()) == 0 &&
		!e.IsPartial()
}

// UnixSeconds returns the timestamp as fractional seconds since Unix epoch.
// Useful for metrics & numeric serialization paths.
func (e Event) UnixSeconds() float64 { return float64(e.Timestamp.UnixNano()) / 1e9 }
