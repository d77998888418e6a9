package chat

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/hupe1980/geminikit/core"
	"github.com/hupe1980/geminikit/gemini"
	"github.com/hupe1980/geminikit/internal/util"
	"github.com/hupe1980/geminikit/logging"
	"github.com/hupe1980/geminikit/tool"
)

// DefaultMaxToolRounds bounds how many model turns one send may chain
// through tool execution before giving up.
const DefaultMaxToolRounds = 8

// SessionOptions configure a chat session.
type SessionOptions struct {
	// ID identifies the session in logs and tool contexts. Generated when
	// empty.
	ID string
	// Instructions is the system prompt. Supports Go template syntax with
	// InstructionVars ({{.name}} substitution).
	Instructions    string
	InstructionVars map[string]any
	// Registry supplies the callable tools. An empty registry is created
	// when nil.
	Registry *tool.Registry
	// GenerationConfig overrides the client default for this session.
	GenerationConfig *gemini.GenerationConfig
	// MaxToolRounds bounds the tool loop. Defaults to DefaultMaxToolRounds.
	MaxToolRounds int
	// MaxParallelTools limits concurrent tool execution within one model
	// turn. <1 means one goroutine per call.
	MaxParallelTools int
	// Logger receives structured diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Session holds one conversation: its history, instructions, tool registry
// and the executor for mid-turn tool calls. History lives in memory only and
// is discarded with the session.
//
// A Session supports one in-flight send at a time; it is not safe for
// concurrent use by multiple goroutines. The tool registry it references is
// safe for concurrent registration.
type Session struct {
	id            string
	client        *gemini.Client
	registry      *tool.Registry
	instructions  string
	genConfig     *gemini.GenerationConfig
	maxToolRounds int
	exec          *executor
	state         *core.State
	history       []core.Content
	logger        logging.Logger
}

// NewSession creates a chat session bound to a client. Instructions are
// rendered once at construction.
func NewSession(client *gemini.Client, optFns ...func(o *SessionOptions)) (*Session, error) {
	opts := SessionOptions{
		MaxToolRounds: DefaultMaxToolRounds,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Registry == nil {
		opts.Registry = tool.NewRegistry()
	}
	if opts.MaxToolRounds < 1 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.ID == "" {
		opts.ID = core.NewID()
	}

	instructions, err := util.RenderTemplate(opts.Instructions, opts.InstructionVars)
	if err != nil {
		return nil, fmt.Errorf("render instructions: %w", err)
	}

	return &Session{
		id:            opts.ID,
		client:        client,
		registry:      opts.Registry,
		instructions:  instructions,
		genConfig:     opts.GenerationConfig,
		maxToolRounds: opts.MaxToolRounds,
		exec:          newExecutor(opts.Registry, opts.MaxParallelTools, opts.Logger),
		state:         core.NewState(),
		logger:        opts.Logger,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// History returns a copy of the conversation so far.
func (s *Session) History() []core.Content {
	return append([]core.Content(nil), s.history...)
}

// Reset clears the conversation history while keeping instructions, tools
// and session state.
func (s *Session) Reset() { s.history = nil }

// request snapshots the session into one model request.
func (s *Session) request() gemini.Request {
	req := gemini.Request{
		Contents:         append([]core.Content(nil), s.history...),
		Instructions:     s.instructions,
		GenerationConfig: s.genConfig,
	}
	if s.registry.Len() > 0 {
		req.Tools = s.registry.Tools()
	}
	req.Resolver = s.registry
	return req
}

// Reply is the buffered result of Send.
type Reply struct {
	// Content is the final assistant turn.
	Content core.Content
	// FinishReason is the vendor's termination signal for the final turn.
	FinishReason string
	// Usage is the token accounting of the last model turn that reported it.
	Usage *gemini.UsageReport
	// Rounds counts the model turns consumed, tool rounds included.
	Rounds int
}

// Text returns the concatenated text of the final assistant turn.
func (r *Reply) Text() string { return r.Content.Text() }

// SendText is a convenience for Send with a single user text part.
func (s *Session) SendText(ctx context.Context, text string) (*Reply, error) {
	return s.Send(ctx, core.TextPart{Text: text})
}

// Send appends a user message and runs buffered model turns until the model
// answers without requesting tools, executing requested tool calls between
// turns. The loop is bounded by MaxToolRounds.
func (s *Session) Send(ctx context.Context, parts ...core.Part) (*Reply, error) {
	if len(parts) > 0 {
		s.history = append(s.history, core.Content{Role: core.RoleUser, Parts: parts})
	}

	turnID := core.NewID()
	var usage *gemini.UsageReport

	for round := 1; round <= s.maxToolRounds; round++ {
		resp, err := s.client.GenerateContent(ctx, s.request())
		if err != nil {
			return nil, err
		}

		s.history = append(s.history, resp.Content)
		if resp.Usage != nil {
			usage = resp.Usage
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			return &Reply{
				Content:      resp.Content,
				FinishReason: resp.FinishReason,
				Usage:        usage,
				Rounds:       round,
			}, nil
		}

		events := s.exec.execute(ctx, s.id, turnID, s.state, calls)
		s.history = append(s.history, functionResponseContent(events))
	}

	return nil, fmt.Errorf("tool loop exceeded %d rounds without a final response", s.maxToolRounds)
}

// SendStream appends a user message and returns a lazy event sequence for
// the turn. Text arrives as partial events while decoding; tool calls are
// executed mid-stream with their request, responses and the nested model
// turn's events spliced in order; the final event carries the full text,
// TurnComplete and any usage report. Recursion through tool rounds is
// bounded by MaxToolRounds.
func (s *Session) SendStream(ctx context.Context, parts ...core.Part) iter.Seq2[core.Event, error] {
	return func(yield func(core.Event, error) bool) {
		if len(parts) > 0 {
			s.history = append(s.history, core.Content{Role: core.RoleUser, Parts: parts})
		}
		s.streamTurn(ctx, core.NewID(), 1, yield)
	}
}

// streamTurn performs one streaming model turn. It reports false when
// production must stop because the consumer broke out or an error was
// yielded.
func (s *Session) streamTurn(ctx context.Context, turnID string, round int, yield func(core.Event, error) bool) bool {
	if round > s.maxToolRounds {
		yield(core.Event{}, fmt.Errorf("tool loop exceeded %d rounds without a final response", s.maxToolRounds))
		return false
	}

	sawToolTurn := false
	req := s.request()
	req.OnToolCall = func(ctx context.Context, msg *gemini.ToolCallMessage) iter.Seq2[core.Event, error] {
		sawToolTurn = true
		return s.resolveToolCalls(ctx, turnID, round, msg)
	}

	var fullText strings.Builder
	var usage *core.Usage

	for ev, err := range s.client.GenerateContentStream(ctx, req) {
		if err != nil {
			yield(core.Event{}, err)
			return false
		}
		switch e := ev.(type) {
		case gemini.TextDelta:
			fullText.WriteString(e.Text)
			partial := true
			delta := core.NewEvent(turnID, core.RoleAssistant)
			delta.Content = &core.Content{Role: core.RoleAssistant, Parts: []core.Part{core.TextPart{Text: e.Text}}}
			delta.Partial = &partial
			if !yield(delta, nil) {
				return false
			}
		case gemini.ToolEvent:
			if !yield(e.Event, nil) {
				return false
			}
		case gemini.UsageReport:
			usage = &core.Usage{InputTokens: e.InputTokens, OutputTokens: e.OutputTokens}
		}
	}

	if sawToolTurn {
		// The nested turn already emitted its own final event; this turn
		// only carried the function call exchange.
		return true
	}

	if fullText.Len() > 0 {
		s.history = append(s.history, core.NewAssistantContent(fullText.String()))
	}

	partial := false
	complete := true
	final := core.NewEvent(turnID, core.RoleAssistant)
	if fullText.Len() > 0 {
		final.Content = &core.Content{Role: core.RoleAssistant, Parts: []core.Part{core.TextPart{Text: fullText.String()}}}
	}
	final.Partial = &partial
	final.TurnComplete = &complete
	final.Usage = usage
	return yield(final, nil)
}

// resolveToolCalls is the tool execution callback handed to the stream
// decoder: it records the model's function call turn, executes the calls,
// feeds the responses back into history and issues the nested model turn
// whose events the decoder splices into the outer stream.
func (s *Session) resolveToolCalls(ctx context.Context, turnID string, round int, msg *gemini.ToolCallMessage) iter.Seq2[core.Event, error] {
	return func(yield func(core.Event, error) bool) {
		calls := make([]core.FunctionCall, 0, len(msg.Calls))
		for _, rc := range msg.Calls {
			calls = append(calls, rc.Call)
		}

		callParts := make([]core.Part, 0, len(calls)+1)
		if msg.Content != "" {
			callParts = append(callParts, core.TextPart{Text: msg.Content})
		}
		for _, fc := range calls {
			callParts = append(callParts, core.FunctionCallPart{FunctionCall: fc})
		}
		s.history = append(s.history, core.Content{Role: core.RoleAssistant, Parts: callParts})

		if !yield(core.NewFunctionCallEvent(turnID, core.RoleAssistant, calls...), nil) {
			return
		}

		events := s.exec.execute(ctx, s.id, turnID, s.state, calls)
		for _, ev := range events {
			if !yield(ev, nil) {
				return
			}
		}
		s.history = append(s.history, functionResponseContent(events))

		// Function responses trigger another model turn.
		s.streamTurn(ctx, turnID, round+1, yield)
	}
}

// functionResponseContent collapses function response events into one
// tool-role message for the wire.
func functionResponseContent(events []core.Event) core.Content {
	parts := make([]core.Part, 0, len(events))
	for _, ev := range events {
		for _, fr := range ev.GetFunctionResponses() {
			parts = append(parts, core.FunctionResponsePart{FunctionResponse: fr})
		}
	}
	return core.Content{Role: core.RoleTool, Parts: parts}
}
