package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geminikit/core"
)

func toolCtx() *core.ToolContext {
	return core.NewToolContext(context.Background(), "sess", "turn", "fc-1", nil, nil)
}

func TestFunctionToolCall(t *testing.T) {
	sum := NewFunctionTool("calculate_sum", "Calculate the sum of two numbers", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}, func(tc *core.ToolContext, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})

	result, err := sum.Call(toolCtx(), map[string]any{"a": 1.5, "b": 2.5})
	require.NoError(t, err)
	assert.Equal(t, 4.0, result)
}

func TestFunctionToolValidation(t *testing.T) {
	sum := NewFunctionTool("calculate_sum", "sum", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
		},
		"required": []string{"a"},
	}, func(tc *core.ToolContext, args map[string]any) (any, error) {
		return args["a"], nil
	})

	_, err := sum.Call(toolCtx(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
	assert.Equal(t, "calculate_sum", toolErr.Tool)
}

func TestFunctionToolExecutionError(t *testing.T) {
	failing := NewFunctionTool("fail", "always fails", map[string]any{"type": "object"},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return nil, errors.New("upstream down")
		})

	_, err := failing.Call(toolCtx(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
	assert.Equal(t, "upstream down", toolErr.Message)
}

func TestFunctionToolPreservesToolError(t *testing.T) {
	custom := NewToolError("fail", "rate limited", "RATE_LIMITED")
	failing := NewFunctionTool("fail", "fails with custom code", map[string]any{"type": "object"},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return nil, custom
		})

	_, err := failing.Call(toolCtx(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Same(t, custom, toolErr)
}

func TestFunctionToolFromStruct(t *testing.T) {
	type SumArgs struct {
		A float64 `json:"a" description:"First addend"`
		B float64 `json:"b" description:"Second addend"`
	}

	sum := NewFunctionToolFromStruct("calculate_sum", "sum", SumArgs{},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		})

	schema := sum.Parameters()
	assert.Equal(t, "object", schema["type"])
	props := schema["properties"].(map[string]any)
	require.Contains(t, props, "a")
	require.Contains(t, props, "b")

	result, err := sum.Call(toolCtx(), map[string]any{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestRegistry(t *testing.T) {
	echo := NewFunctionTool("echo", "echo", map[string]any{"type": "object"},
		func(tc *core.ToolContext, args map[string]any) (any, error) { return args, nil })
	ping := NewFunctionTool("ping", "ping", map[string]any{"type": "object"},
		func(tc *core.ToolContext, args map[string]any) (any, error) { return "pong", nil })

	r := NewRegistry(ping, echo)
	assert.Equal(t, 2, r.Len())

	resolved, ok := r.ResolveTool("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", resolved.Name())

	_, ok = r.ResolveTool("ghost")
	assert.False(t, ok)

	// Deterministic, name-sorted declaration order.
	tools := r.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name())
	assert.Equal(t, "ping", tools[1].Name())

	r.Deregister("echo")
	assert.Equal(t, 1, r.Len())
	r.Deregister("ghost") // no-op
	assert.Equal(t, 1, r.Len())
}

func TestRegistryReplaceSameName(t *testing.T) {
	v1 := NewFunctionTool("echo", "v1", map[string]any{"type": "object"},
		func(tc *core.ToolContext, args map[string]any) (any, error) { return "v1", nil })
	v2 := NewFunctionTool("echo", "v2", map[string]any{"type": "object"},
		func(tc *core.ToolContext, args map[string]any) (any, error) { return "v2", nil })

	r := NewRegistry(v1)
	r.Register(v2)
	assert.Equal(t, 1, r.Len())
	resolved, _ := r.ResolveTool("echo")
	assert.Equal(t, "v2", resolved.Description())
}
