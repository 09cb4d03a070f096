package agentloop

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wnrun/wn-core/internal/result"
	"github.com/wnrun/wn-core/pkg/toolregistry"
	"github.com/wnrun/wn-core/pkg/wire"
)

type mockProvider struct {
	mu        sync.Mutex
	responses []wire.CompleteResponse
	index     int
}

func (m *mockProvider) Complete(ctx context.Context, messages []wire.Message, tools []wire.ToolDefinition, model string) (wire.CompleteResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index >= len(m.responses) {
		return wire.CompleteResponse{Content: "done"}, nil
	}
	resp := m.responses[m.index]
	m.index++
	return resp, nil
}

func (m *mockProvider) Stream(ctx context.Context, messages []wire.Message, tools []wire.ToolDefinition, model string, handler wire.StreamHandler) error {
	return nil
}

func (m *mockProvider) DefaultModel() string { return "mock-model" }

type recordingHandler struct {
	mu        sync.Mutex
	states    []State
	responses []string
	toolEnds  []string
	errs      []error
}

func (h *recordingHandler) OnState(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, s)
}
func (h *recordingHandler) OnResponse(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = append(h.responses, text)
}
func (h *recordingHandler) OnToolStart(name string, args map[string]any) {}
func (h *recordingHandler) OnToolEnd(name string, result wire.ToolResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.toolEnds = append(h.toolEnds, name)
}
func (h *recordingHandler) OnError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}
func (h *recordingHandler) OnUsage(u wire.TokenUsage) {}

func TestStep_DirectAnswerNoToolCalls(t *testing.T) {
	p := &mockProvider{responses: []wire.CompleteResponse{{Content: "hello there"}}}
	handler := &recordingHandler{}
	loop := New(p, toolregistry.New(), handler, "mock-model", 0)

	res := loop.Step(context.Background(), "hi")
	require.True(t, res.IsOk())
	v, err := res.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, "hello there", v)
	assert.Contains(t, handler.states, StateThinking)
	assert.Contains(t, handler.states, StateIdle)
	assert.Equal(t, []string{"hello there"}, handler.responses)
}

func TestStep_ToolNotFound(t *testing.T) {
	p := &mockProvider{responses: []wire.CompleteResponse{
		{ToolCalls: []wire.ToolCall{{ID: "1", Name: "missing_tool", Arguments: map[string]any{}}}},
		{Content: "recovered"},
	}}
	loop := New(p, toolregistry.New(), &recordingHandler{}, "mock-model", 0)

	res := loop.Step(context.Background(), "do something")
	require.True(t, res.IsOk())
	v, _ := res.Unwrap()
	assert.Equal(t, "recovered", v)

	found := false
	for _, m := range loop.Messages() {
		if m.ToolCallID == "1" && m.Content == "Tool not found: missing_tool" {
			found = true
		}
	}
	assert.True(t, found, "expected a synthesized tool-not-found message")
}

func TestStep_ExecutesToolAndContinues(t *testing.T) {
	reg := toolregistry.New()
	require.NoError(t, reg.Register(wire.ToolDefinition{
		Name: "echo",
		Execute: func(args map[string]any) wire.ToolResult {
			return wire.Ok("echoed: " + args["text"].(string))
		},
	}))

	p := &mockProvider{responses: []wire.CompleteResponse{
		{ToolCalls: []wire.ToolCall{{ID: "1", Name: "echo", Arguments: map[string]any{"text": "hi"}}}},
		{Content: "final answer"},
	}}
	handler := &recordingHandler{}
	loop := New(p, reg, handler, "mock-model", 0)

	res := loop.Step(context.Background(), "echo hi")
	require.True(t, res.IsOk())
	v, _ := res.Unwrap()
	assert.Equal(t, "final answer", v)
	assert.Equal(t, []string{"echo"}, handler.toolEnds)
}

func TestStep_AbortedWhenAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := New(&mockProvider{}, toolregistry.New(), &recordingHandler{}, "mock-model", 0)
	res := loop.Step(ctx, "anything")
	require.True(t, res.IsErr())
	assert.EqualError(t, res.Err(), "Aborted")
	assert.Empty(t, loop.Messages(), "log must not be mutated on an already-cancelled step")
}

func TestStep_MaxToolRoundsReached(t *testing.T) {
	p := &mockProvider{responses: []wire.CompleteResponse{
		{ToolCalls: []wire.ToolCall{{ID: "1", Name: "noop", Arguments: map[string]any{}}}},
		{ToolCalls: []wire.ToolCall{{ID: "2", Name: "noop", Arguments: map[string]any{}}}},
	}}
	reg := toolregistry.New()
	require.NoError(t, reg.Register(wire.ToolDefinition{
		Name:    "noop",
		Execute: func(args map[string]any) wire.ToolResult { return wire.Ok("") },
	}))
	handler := &recordingHandler{}
	loop := New(p, reg, handler, "mock-model", 1)

	res := loop.Step(context.Background(), "loop forever")
	require.True(t, res.IsErr())
	assert.EqualError(t, res.Err(), "Max tool rounds reached: 1")
	require.Len(t, handler.errs, 1)
}

type sliceInputSource struct {
	inputs []string
	idx    int
}

func (s *sliceInputSource) Next(ctx context.Context) (string, bool) {
	if s.idx >= len(s.inputs) {
		return "", false
	}
	v := s.inputs[s.idx]
	s.idx++
	return v, true
}

func TestRun_ContinuesAfterFailedTurn(t *testing.T) {
	// The first turn hits the one-round bound and fails; the second
	// turn still runs and succeeds.
	p := &mockProvider{responses: []wire.CompleteResponse{
		{ToolCalls: []wire.ToolCall{{ID: "1", Name: "missing_tool", Arguments: map[string]any{}}}},
		{Content: "ok2"},
	}}
	loop := New(p, toolregistry.New(), &recordingHandler{}, "mock-model", 1)
	source := &sliceInputSource{inputs: []string{"a", "b"}}

	var turns []result.Result[string]
	res := loop.Run(context.Background(), source, func(turnResult result.Result[string]) bool {
		turns = append(turns, turnResult)
		return false
	})
	assert.True(t, res.IsOk())
	require.Len(t, turns, 2)
	assert.True(t, turns[0].IsErr())
	assert.True(t, turns[1].IsOk())
	assert.Len(t, loop.Messages(), 5) // user, assistant tool call, tool result, user, assistant
}

func TestRun_LoopHookStopsEarly(t *testing.T) {
	p := &mockProvider{responses: []wire.CompleteResponse{
		{Content: "ok1"},
		{Content: "ok2"},
	}}
	loop := New(p, toolregistry.New(), &recordingHandler{}, "mock-model", 0)
	source := &sliceInputSource{inputs: []string{"a", "b"}}

	calls := 0
	res := loop.Run(context.Background(), source, func(turnResult result.Result[string]) bool {
		calls++
		return true
	})
	assert.True(t, res.IsOk())
	assert.Equal(t, 1, calls)
}
