package gemini

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"strings"

	"github.com/hupe1980/geminikit/core"
	"github.com/hupe1980/geminikit/logging"
	"github.com/hupe1980/geminikit/tool"
)

// StreamEvent is the closed variant set yielded by GenerateContentStream.
type StreamEvent interface{ isStreamEvent() }

// TextDelta carries one incremental text fragment, emitted as soon as it is
// decoded. The concatenation of all deltas equals the turn's full text.
type TextDelta struct {
	Text string
}

func (TextDelta) isStreamEvent() {}

// ToolEvent wraps one event produced by the injected tool call handler while
// a mid-stream tool invocation resolves. The decoder treats the payload as
// opaque; the handler's whole sequence is spliced in before the decoder
// resumes reading its own stream.
type ToolEvent struct {
	Event core.Event
}

func (ToolEvent) isStreamEvent() {}

// UsageReport is the terminal token accounting event, synthesized once at
// end of stream when the vendor reported usage metadata. When only a
// combined total was reported the input/output split is unknown: InputTokens
// is zero and OutputTokens carries the total, which is lossy by construction.
type UsageReport struct {
	InputTokens  int
	OutputTokens int
}

func (UsageReport) isStreamEvent() {}

// ToolResolver looks up a tool by the name the model requested.
// *tool.Registry implements it.
type ToolResolver interface {
	ResolveTool(name string) (tool.Tool, bool)
}

// ToolCallHandler executes a projected tool call message and returns a lazy
// sequence of caller-defined events. The handler may itself perform another
// full streaming round trip; execution is strictly nested, never
// interleaved, and its events are forwarded transparently.
type ToolCallHandler func(ctx context.Context, msg *ToolCallMessage) iter.Seq2[core.Event, error]

// ToolCallMessage is the generic projection of the model's accumulated
// function call parts: accompanying text (possibly empty) and the calls that
// resolved against the registry.
type ToolCallMessage struct {
	Content string
	Calls   []ResolvedToolCall
}

// ResolvedToolCall pairs a registry tool with the model's invocation of it.
// Call.ID is a correlation ID assigned at projection time; Gemini function
// calls carry no wire ID.
type ResolvedToolCall struct {
	Tool tool.Tool
	Call core.FunctionCall
}

// Finish reasons on the wire. Gemini ends tool-call turns with STOP; there
// is no dedicated tool-call reason.
const finishReasonStop = "STOP"

// chunk is one decoded SSE data payload (and, for the non-streaming
// endpoint, the whole response body - same shape).
type chunk struct {
	Candidates     []candidate     `json:"candidates"`
	UsageMetadata  *usageMetadata  `json:"usageMetadata"`
	PromptFeedback *promptFeedback `json:"promptFeedback"`
}

type candidate struct {
	Content       *candidateContent `json:"content"`
	FinishReason  string            `json:"finishReason"`
	SafetyRatings any               `json:"safetyRatings"`
}

type candidateContent struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type promptFeedback struct {
	BlockReason   string `json:"blockReason"`
	SafetyRatings any    `json:"safetyRatings"`
}

// usageMetadata keeps the vendor's counters pointer-typed so presence of the
// prompt/candidates pair is detectable against a total-only form.
type usageMetadata struct {
	PromptTokenCount     *int `json:"promptTokenCount"`
	CandidatesTokenCount *int `json:"candidatesTokenCount"`
	TotalTokenCount      *int `json:"totalTokenCount"`
}

func (u *usageMetadata) hasPair() bool {
	return u.PromptTokenCount != nil && u.CandidatesTokenCount != nil
}

// report projects the counters into the generic usage record. The
// {prompt, candidates} pair is preferred; a total-only form falls back to
// {0, total}.
func (u *usageMetadata) report() UsageReport {
	var r UsageReport
	if u.PromptTokenCount != nil {
		r.InputTokens = *u.PromptTokenCount
	}
	if u.CandidatesTokenCount != nil {
		r.OutputTokens = *u.CandidatesTokenCount
	}
	if u.PromptTokenCount == nil && u.CandidatesTokenCount == nil && u.TotalTokenCount != nil {
		r.OutputTokens = *u.TotalTokenCount
	}
	return r
}

// Decoder states.
type streamState int

const (
	stateStreaming streamState = iota
	stateFlushingUsage
	stateDone
	stateErrored
)

// streamDecoder is the accumulator state machine for one stream. Exactly one
// exists per in-flight request; it owns the response body exclusively and is
// discarded when the stream terminates.
type streamDecoder struct {
	lines      *lineReader
	resolver   ToolResolver
	onToolCall ToolCallHandler
	logger     logging.Logger

	state    streamState
	fullText strings.Builder
	pending  []part
	usage    *usageMetadata
}

// GenerateContentStream issues a streaming request and returns a lazy event
// sequence. Nothing happens until the consumer pulls the first event; each
// production step performs one line read and decode. The response body is
// closed on every exit path, including early consumer breaks and errors.
func (c *Client) GenerateContentStream(ctx context.Context, req Request) iter.Seq2[StreamEvent, error] {
	return func(yield func(StreamEvent, error) bool) {
		payload, err := c.buildPayload(req)
		if err != nil {
			yield(nil, classify(err))
			return
		}

		c.logger.Debug("gemini.stream.request", "model", c.opts.Model, "contents", len(payload.Contents))

		body, err := c.postStream(ctx, c.streamURL(), payload)
		if err != nil {
			yield(nil, classify(err))
			return
		}
		defer body.Close()

		d := &streamDecoder{
			lines:      newLineReader(body),
			resolver:   req.Resolver,
			onToolCall: req.OnToolCall,
			logger:     c.logger,
			state:      stateStreaming,
		}
		d.run(ctx, yield)
	}
}

// run drives the state machine until DONE or ERRORED.
func (d *streamDecoder) run(ctx context.Context, yield func(StreamEvent, error) bool) {
	for d.state == stateStreaming {
		line, err := d.lines.next()
		if err == io.EOF {
			d.state = stateFlushingUsage
			break
		}
		if err != nil {
			d.state = stateErrored
			yield(nil, newTransportError(err))
			return
		}

		payload, ok := dataPayload(line)
		if !ok || payload == "" {
			continue
		}

		var ck chunk
		if err := json.Unmarshal([]byte(payload), &ck); err != nil {
			// Tolerate partial lines and keep-alive noise; never fatal.
			d.logger.Debug("gemini.stream.chunk.skipped", "error", err.Error())
			continue
		}

		if !d.processChunk(ctx, ck, yield) {
			return
		}
	}

	if d.state == stateFlushingUsage {
		if d.usage != nil {
			if !yield(d.usage.report(), nil) {
				return
			}
		}
		d.state = stateDone
	}
}

// processChunk applies one decoded chunk to the accumulator and yields any
// resulting events. It returns false when production must stop, either
// because the consumer broke out or the stream turned fatal.
func (d *streamDecoder) processChunk(ctx context.Context, ck chunk, yield func(StreamEvent, error) bool) bool {
	if ck.PromptFeedback != nil && ck.PromptFeedback.BlockReason != "" {
		d.state = stateErrored
		yield(nil, newBlockedError(ck.PromptFeedback.BlockReason, ck.PromptFeedback.SafetyRatings))
		return false
	}

	if ck.UsageMetadata != nil {
		d.storeUsage(ck.UsageMetadata)
	}

	if len(ck.Candidates) == 0 {
		return true
	}
	cand := ck.Candidates[0]

	if cand.Content != nil && len(cand.Content.Parts) > 0 {
		parts := cand.Content.Parts
		if parts[0].FunctionCall != nil {
			// A function call may arrive atomic or split across chunks with
			// no boundary marker; accumulate every part and flush only on
			// the finish signal.
			d.pending = append(d.pending, parts...)
		} else {
			for _, p := range parts {
				if p.Text == "" {
					continue
				}
				d.fullText.WriteString(p.Text)
				if !yield(TextDelta{Text: p.Text}, nil) {
					return false
				}
			}
		}
	}

	if cand.FinishReason != "" && len(d.pending) > 0 {
		pending := d.pending
		d.pending = nil
		if cand.FinishReason == finishReasonStop {
			return d.resolvePending(ctx, pending, yield)
		}
		// A fragment arrived but was never resolved by a tool invocation
		// signal. Emitting a half-formed call would corrupt the
		// conversation, so the fragments are dropped.
		d.logger.Warn("gemini.stream.fragment.discarded",
			"finish_reason", cand.FinishReason, "parts", len(pending))
	}

	return true
}

// resolvePending projects the accumulated function call parts and splices
// the tool handler's event sequence into the output stream. The handler runs
// synchronously inside this production step and is fully drained before the
// decoder reads another line.
func (d *streamDecoder) resolvePending(ctx context.Context, pending []part, yield func(StreamEvent, error) bool) bool {
	msg := projectToolCalls(pending, d.resolver, d.logger)
	if len(msg.Calls) == 0 || d.onToolCall == nil {
		return true
	}
	for ev, err := range d.onToolCall(ctx, msg) {
		if err != nil {
			d.state = stateErrored
			yield(nil, classify(err))
			return false
		}
		if !yield(ToolEvent{Event: ev}, nil) {
			return false
		}
	}
	return true
}

// storeUsage records usage counters with the preference rule: a chunk
// carrying the full prompt/candidates pair always wins; a stored pair is
// never displaced by a total-only form; within the same form the last chunk
// wins.
func (d *streamDecoder) storeUsage(u *usageMetadata) {
	if u.hasPair() {
		d.usage = u
		return
	}
	if d.usage != nil && d.usage.hasPair() {
		return
	}
	d.usage = u
}

// projectToolCalls converts accumulated wire parts into the generic tool
// call message. Unresolved names are omitted silently; the vendor may still
// reference deprecated or unregistered functions. Text parts among the
// accumulated set concatenate into the accompanying content string.
func projectToolCalls(pending []part, resolver ToolResolver, logger logging.Logger) *ToolCallMessage {
	msg := &ToolCallMessage{}
	var text strings.Builder

	for _, p := range pending {
		if p.Text != "" {
			text.WriteString(p.Text)
		}
		if p.FunctionCall == nil {
			continue
		}
		name := p.FunctionCall.Name
		if resolver == nil {
			logger.Debug("gemini.stream.tool.unknown", "tool", name)
			continue
		}
		t, ok := resolver.ResolveTool(name)
		if !ok {
			logger.Debug("gemini.stream.tool.unknown", "tool", name)
			continue
		}
		args := p.FunctionCall.Args
		if args == nil {
			args = map[string]any{}
		}
		raw, err := json.Marshal(args)
		if err != nil {
			logger.Warn("gemini.stream.tool.args_unserializable", "tool", name, "error", err.Error())
			raw = []byte("{}")
		}
		msg.Calls = append(msg.Calls, ResolvedToolCall{
			Tool: t,
			Call: core.FunctionCall{ID: core.NewID(), Name: name, Arguments: string(raw)},
		})
	}

	msg.Content = text.String()
	return msg
}
