package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geminikit/core"
	"github.com/hupe1980/geminikit/tool"
)

// gauge tracks the maximum number of concurrent executions.
type gauge struct {
	mu       sync.Mutex
	cur, max int
}

func (g *gauge) enter() {
	g.mu.Lock()
	g.cur++
	if g.cur > g.max {
		g.max = g.cur
	}
	g.mu.Unlock()
}

func (g *gauge) leave() {
	g.mu.Lock()
	g.cur--
	g.mu.Unlock()
}

func callsFor(n int, name string) []core.FunctionCall {
	calls := make([]core.FunctionCall, 0, n)
	for i := 0; i < n; i++ {
		calls = append(calls, core.FunctionCall{
			ID:        core.NewID(),
			Name:      name,
			Arguments: fmt.Sprintf(`{"idx":%d}`, i),
		})
	}
	return calls
}

func TestExecutorPreservesOrder(t *testing.T) {
	echo := tool.NewFunctionTool("echo_idx", "echo the index", map[string]any{"type": "object"},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			idx := args["idx"].(float64)
			// Later calls finish first to make out-of-order emission visible.
			time.Sleep(time.Duration(8-int(idx)) * time.Millisecond)
			return idx, nil
		})

	e := newExecutor(tool.NewRegistry(echo), 0, nil)
	calls := callsFor(8, "echo_idx")
	events := e.execute(context.Background(), "sess", "turn", core.NewState(), calls)

	require.Len(t, events, 8)
	for i, ev := range events {
		responses := ev.GetFunctionResponses()
		require.Len(t, responses, 1)
		assert.Equal(t, calls[i].ID, responses[0].ID)
		assert.Equal(t, float64(i), responses[0].Response)
	}
}

func TestExecutorParallelismBound(t *testing.T) {
	g := &gauge{}
	slow := tool.NewFunctionTool("slow", "sleep briefly", map[string]any{"type": "object"},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			g.enter()
			defer g.leave()
			time.Sleep(5 * time.Millisecond)
			return "done", nil
		})

	e := newExecutor(tool.NewRegistry(slow), 2, nil)
	events := e.execute(context.Background(), "sess", "turn", core.NewState(), callsFor(6, "slow"))

	require.Len(t, events, 6)
	assert.LessOrEqual(t, g.max, 2)
	assert.GreaterOrEqual(t, g.max, 1)
}

func TestExecutorPanicRecovery(t *testing.T) {
	angry := tool.NewFunctionTool("angry", "always panics", map[string]any{"type": "object"},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			panic("kaboom")
		})
	calm := tool.NewFunctionTool("calm", "always fine", map[string]any{"type": "object"},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			return "fine", nil
		})

	e := newExecutor(tool.NewRegistry(angry, calm), 0, nil)
	events := e.execute(context.Background(), "sess", "turn", core.NewState(), []core.FunctionCall{
		{ID: "1", Name: "angry"},
		{ID: "2", Name: "calm"},
	})

	require.Len(t, events, 2)
	failed := events[0].GetFunctionResponses()[0]
	assert.Contains(t, failed.Error, "kaboom")
	ok := events[1].GetFunctionResponses()[0]
	assert.Empty(t, ok.Error)
	assert.Equal(t, "fine", ok.Response)
}

func TestExecutorUnknownTool(t *testing.T) {
	e := newExecutor(tool.NewRegistry(), 0, nil)
	events := e.execute(context.Background(), "sess", "turn", core.NewState(), []core.FunctionCall{
		{ID: "1", Name: "ghost"},
	})

	require.Len(t, events, 1)
	resp := events[0].GetFunctionResponses()[0]
	assert.Contains(t, resp.Error, "not found")
	assert.Equal(t, "ghost", resp.Name)
}

func TestExecutorBadArguments(t *testing.T) {
	noop := tool.NewFunctionTool("noop", "noop", map[string]any{"type": "object"},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) { return nil, nil })

	e := newExecutor(tool.NewRegistry(noop), 0, nil)
	events := e.execute(context.Background(), "sess", "turn", core.NewState(), []core.FunctionCall{
		{ID: "1", Name: "noop", Arguments: "{broken"},
	})

	require.Len(t, events, 1)
	assert.Contains(t, events[0].GetFunctionResponses()[0].Error, "unmarshal")
}

func TestExecutorEmptyBatch(t *testing.T) {
	e := newExecutor(tool.NewRegistry(), 0, nil)
	assert.Nil(t, e.execute(context.Background(), "sess", "turn", core.NewState(), nil))
}
