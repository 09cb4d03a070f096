package openai

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

func TestComplete_BasicContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body["model"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id":"chatcmpl-123", "object":"chat.completion", "created":1, "model":"gpt-4o",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello"}}],
			"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}
		}`))
	}))
	defer server.Close()

	p, err := New("test-key", server.URL)
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), []wire.Message{{Role: wire.RoleUser, Content: "hi"}}, nil, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 10, resp.Usage.InputTokens)
	assert.Equal(t, 2, resp.Usage.OutputTokens)
}

func TestComplete_DefaultsModelWhenEmpty(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"finish_reason":"stop","message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	p, err := New("key", server.URL)
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), []wire.Message{{Role: wire.RoleUser, Content: "hi"}}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, defaultModel, body["model"])
}

func TestComplete_ParsesToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices":[{
				"finish_reason":"tool_calls",
				"message":{
					"role":"assistant",
					"content":"",
					"tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"SF\"}"}}]
				}
			}]
		}`))
	}))
	defer server.Close()

	p, err := New("key", server.URL)
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), []wire.Message{{Role: wire.RoleUser, Content: "weather?"}}, nil, "")
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.Equal(t, "SF", resp.ToolCalls[0].Arguments["city"])
	assert.Equal(t, "tool_calls", resp.FinishReason)
}

func TestComplete_NoChoicesIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	p, err := New("key", server.URL)
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), []wire.Message{{Role: wire.RoleUser, Content: "hi"}}, nil, "")
	require.Error(t, err)
}

func TestMapFinishReason(t *testing.T) {
	assert.Equal(t, "tool_calls", mapFinishReason("tool_calls"))
	assert.Equal(t, "truncated", mapFinishReason("length"))
	assert.Equal(t, "stop", mapFinishReason("stop"))
}

func TestDefaultModel(t *testing.T) {
	p, err := New("key", "")
	require.NoError(t, err)
	assert.Equal(t, defaultModel, p.DefaultModel())
}
