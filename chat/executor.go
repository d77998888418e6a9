package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/geminikit/core"
	"github.com/hupe1980/geminikit/logging"
	"github.com/hupe1980/geminikit/tool"
)

// executor runs the tool calls of one model turn, possibly in parallel, and
// returns exactly one function response event per call in the original
// request order. Failures (unknown tools, validation errors, panics) become
// error-shaped responses that flow back to the model; they never abort the
// conversation.
type executor struct {
	registry    *tool.Registry
	maxParallel int // <1 means unbounded within the batch
	logger      logging.Logger
}

func newExecutor(registry *tool.Registry, maxParallel int, logger logging.Logger) *executor {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &executor{registry: registry, maxParallel: maxParallel, logger: logger}
}

func (e *executor) execute(ctx context.Context, sessionID, turnID string, state *core.State, calls []core.FunctionCall) []core.Event {
	n := len(calls)
	if n == 0 {
		return nil
	}

	// Single call executes inline.
	if n == 1 {
		return []core.Event{e.executeOne(ctx, sessionID, turnID, state, calls[0])}
	}

	maxPar := e.maxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	results := make([]core.Event, n)
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxPar)

	batchStart := time.Now()
	for i := range calls {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, fc core.FunctionCall) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = e.executeOne(ctx, sessionID, turnID, state, fc)
		}(i, calls[i])
	}
	wg.Wait()

	events := make([]core.Event, 0, n)
	for i, ev := range results {
		if ev.ID == "" {
			// Cancelled before start; still answer the call so the model
			// sees one response per request.
			ev = core.NewFunctionResponseEvent(turnID, calls[i].Name, calls[i].ID, calls[i].Name, nil, ctx.Err())
		}
		events = append(events, ev)
	}

	e.logger.Debug("chat.tools.batch.complete",
		"count", n, "parallelism", maxPar, "duration_ms", time.Since(batchStart).Milliseconds())

	return events
}

func (e *executor) executeOne(ctx context.Context, sessionID, turnID string, state *core.State, fc core.FunctionCall) core.Event {
	toolCtx := core.NewToolContext(ctx, sessionID, turnID, fc.ID, state, e.logger)

	start := time.Now()
	var (
		result any
		err    error
	)
	func() { // panic safety
		defer func() {
			if r := recover(); r != nil {
				err = panicError(fc.Name, r)
				e.logger.Error("chat.tool.panic", "tool", fc.Name, "recover", fmt.Sprintf("%v", r))
			}
		}()
		result, err = e.callTool(toolCtx, fc)
	}()

	e.logger.Info("chat.tool.executed",
		"tool", fc.Name, "fc_id", fc.ID,
		"duration_ms", time.Since(start).Milliseconds(), "error", err != nil)

	return core.NewFunctionResponseEvent(turnID, fc.Name, fc.ID, fc.Name, result, err)
}

func (e *executor) callTool(toolCtx *core.ToolContext, fc core.FunctionCall) (any, error) {
	impl, ok := e.registry.ResolveTool(fc.Name)
	if !ok {
		return nil, fmt.Errorf("tool %s not found", fc.Name)
	}

	argMap := map[string]any{}
	if fc.Arguments != "" {
		if err := json.Unmarshal([]byte(fc.Arguments), &argMap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal args: %w", err)
		}
	}

	return impl.Call(toolCtx, argMap)
}

func panicError(toolName string, r any) error {
	return &tool.ToolError{
		Tool:    toolName,
		Message: fmt.Sprintf("panic during execution: %v", r),
		Code:    "EXECUTION_ERROR",
		Details: string(debug.Stack()),
	}
}
