package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wnrun/wn-core/pkg/wire"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New("", "")
	require.Error(t, err)
}

func TestNormalizeBaseURL_EmptyUsesDefault(t *testing.T) {
	assert.Equal(t, defaultBaseURL, normalizeBaseURL(""))
}

func TestNormalizeBaseURL_StripsV1Suffix(t *testing.T) {
	assert.Equal(t, "https://example.com", normalizeBaseURL("https://example.com/v1/"))
}

func TestBuildParams_SystemMessageSeparatedFromTurns(t *testing.T) {
	p, err := New("key", "")
	require.NoError(t, err)

	messages := []wire.Message{
		{Role: wire.RoleSystem, Content: "You are helpful"},
		{Role: wire.RoleUser, Content: "hi"},
	}
	params, err := p.buildParams(messages, nil, "claude-sonnet-4-6")
	require.NoError(t, err)
	require.Len(t, params.System, 1)
	assert.Equal(t, "You are helpful", params.System[0].Text)
	assert.Len(t, params.Messages, 1)
}

func TestBuildParams_MultipleToolResultsMergeIntoOneMessage(t *testing.T) {
	p, err := New("key", "")
	require.NoError(t, err)

	messages := []wire.Message{
		{Role: wire.RoleUser, Content: "check endpoints"},
		{Role: wire.RoleAssistant, ToolCalls: []wire.ToolCall{
			{ID: "call_1", Name: "fetch", Arguments: map[string]any{"url": "a"}},
			{ID: "call_2", Name: "fetch", Arguments: map[string]any{"url": "b"}},
		}},
		{Role: wire.RoleUser, Content: "ok", ToolCallID: "call_1", Name: "fetch"},
		{Role: wire.RoleUser, Content: "ok", ToolCallID: "call_2", Name: "fetch"},
		{Role: wire.RoleAssistant, Content: "all healthy"},
	}
	params, err := p.buildParams(messages, nil, "")
	require.NoError(t, err)
	// user, assistant(tool_use x2), user(tool_result x2 merged), assistant
	assert.Len(t, params.Messages, 4)
}

func TestBuildParams_DefaultsModelWhenEmpty(t *testing.T) {
	p, err := New("key", "")
	require.NoError(t, err)

	params, err := p.buildParams([]wire.Message{{Role: wire.RoleUser, Content: "hi"}}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, defaultModel, string(params.Model))
}

func TestComplete_RoundTripParsesToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "msg_test", "type": "message", "role": "assistant",
			"model":       "claude-sonnet-4-6",
			"stop_reason": "tool_use",
			"content": []map[string]any{
				{"type": "text", "text": "checking"},
				{"type": "tool_use", "id": "call_1", "name": "get_weather", "input": map[string]any{"city": "SF"}},
			},
			"usage": map[string]any{"input_tokens": 10, "output_tokens": 4},
		})
	}))
	defer server.Close()

	p, err := New("key", server.URL)
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), []wire.Message{{Role: wire.RoleUser, Content: "weather?"}}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "checking", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.Equal(t, "SF", resp.ToolCalls[0].Arguments["city"])
	assert.Equal(t, "tool_calls", resp.FinishReason)
}

func TestComplete_RoundTripAgainstHTTPServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var reqBody map[string]any
		json.NewDecoder(r.Body).Decode(&reqBody)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "msg_test", "type": "message", "role": "assistant",
			"model":       reqBody["model"],
			"stop_reason": "end_turn",
			"content":     []map[string]any{{"type": "text", "text": "hello there"}},
			"usage":       map[string]any{"input_tokens": 15, "output_tokens": 8},
		})
	}))
	defer server.Close()

	p, err := New("test-key", server.URL)
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), []wire.Message{{Role: wire.RoleUser, Content: "hi"}}, nil, "claude-sonnet-4-6")
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.InputTokens)
}

func TestDefaultModel(t *testing.T) {
	p, err := New("key", "")
	require.NoError(t, err)
	assert.Equal(t, defaultModel, p.DefaultModel())
}
