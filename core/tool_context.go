package core

import (
	"context"
	"sync"

	"github.com/hupe1980/geminikit/logging"
)

// State is a mutex-guarded key/value bag shared by the tools of one chat
// session. It gives tool implementations a scratch space that survives
// across turns without any persistence machinery behind it.
type State struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewState creates an empty state bag.
func NewState() *State {
	return &State{values: map[string]any{}}
}

// Get retrieves the value stored under key.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Keys returns the currently stored keys in unspecified order.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}

// ToolContext provides a constrained, auditable surface for tool / function
// implementations invoked during a chat turn. It carries the invocation
// context, correlation identifiers and the session state bag.
type ToolContext struct {
	ctx            context.Context
	sessionID      string
	turnID         string
	functionCallID string
	state          *State
	logger         logging.Logger
}

// NewToolContext constructs a tool context bound to one function call.
// A nil logger is replaced by a NoOpLogger and a nil state bag by an empty
// one, so tool implementations never need nil checks.
func NewToolContext(ctx context.Context, sessionID, turnID, functionCallID string, state *State, logger logging.Logger) *ToolContext {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if state == nil {
		state = NewState()
	}
	return &ToolContext{
		ctx:            ctx,
		sessionID:      sessionID,
		turnID:         turnID,
		functionCallID: functionCallID,
		state:          state,
		logger:         logger,
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// SessionID returns the session ID associated with the tool invocation.
func (tc *ToolContext) SessionID() string { return tc.sessionID }

// TurnID returns the turn ID associated with the tool invocation.
func (tc *ToolContext) TurnID() string { return tc.turnID }

// FunctionCallID returns the function call ID associated with the tool invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// GetState retrieves the session state value stored under key.
func (tc *ToolContext) GetState(key string) (any, bool) {
	return tc.state.Get(key)
}

// SetState records a session state mutation visible to subsequent tool
// invocations of the same session.
func (tc *ToolContext) SetState(key string, value any) {
	tc.state.Set(key, value)
}
