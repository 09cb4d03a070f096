// Package compat adapts a plain OpenAI-compatible HTTP endpoint (no
// vendor SDK, unified role list, text-based tool-call extraction for
// backends that don't emit structured tool_calls) to the
// wire.Provider contract.
package compat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wnrun/wn-core/internal/rtlog"
	"github.com/wnrun/wn-core/pkg/wire"
)

const (
	thinkOpenTag  = "<think>"
	thinkCloseTag = "</think>"
	miniMaxOpen   = "[TOOL_CALL]"
	miniMaxCloseA = "</minimax:tool_call>"
	miniMaxCloseB = "[/minimax:tool_call]"
	invokeOpen    = "<invoke name=\""
	invokeClose   = "</invoke>"
	paramOpen     = "<parameter name=\""
	paramClose    = "</parameter>"

	maxReasoningBlocks  = 10
	maxMiniMaxToolCalls = 20
	maxParameters       = 50

	defaultModel          = "gpt-4o-mini"
	defaultRequestTimeout = 120 * time.Second
)

type Provider struct {
	apiKey     string
	apiBase    string
	httpClient *http.Client
}

// New constructs the generic OpenAI-compatible back-end. apiBase is
// required; apiKey may be empty for endpoints that don't require auth.
func New(apiKey, apiBase string) (*Provider, error) {
	if apiBase == "" {
		return nil, fmt.Errorf("compat: missing API base URL")
	}
	return &Provider{
		apiKey:     apiKey,
		apiBase:    strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}, nil
}

func (p *Provider) DefaultModel() string { return defaultModel }

func (p *Provider) Complete(ctx context.Context, messages []wire.Message, tools []wire.ToolDefinition, model string) (wire.CompleteResponse, error) {
	if model == "" {
		model = defaultModel
	}

	body := map[string]any{
		"model":    model,
		"messages": buildMessages(messages),
	}
	if len(tools) > 0 {
		body["tools"] = buildTools(tools)
		body["tool_choice"] = "auto"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return wire.CompleteResponse{}, fmt.Errorf("compat: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return wire.CompleteResponse{}, fmt.Errorf("compat: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return wire.CompleteResponse{}, fmt.Errorf("compat: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return wire.CompleteResponse{}, fmt.Errorf("compat: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return wire.CompleteResponse{}, fmt.Errorf("compat: request failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	return parseResponse(respBody)
}

// Stream has no wire-format streaming counterpart for this back-end (the
// teacher's HTTP client only issues a single synchronous request); it is
// synthesized as one delta chunk followed by tool-call chunks and a
// final done chunk, matching the StreamHandler contract's invariant
// that ChunkDone is always last.
func (p *Provider) Stream(ctx context.Context, messages []wire.Message, tools []wire.ToolDefinition, model string, handler wire.StreamHandler) error {
	resp, err := p.Complete(ctx, messages, tools, model)
	if err != nil {
		return err
	}
	if resp.Content != "" {
		if err := handler(wire.StreamChunk{Kind: wire.ChunkDelta, Delta: resp.Content}); err != nil {
			return err
		}
	}
	for _, tc := range resp.ToolCalls {
		if err := handler(wire.StreamChunk{Kind: wire.ChunkToolCall, ToolCall: tc}); err != nil {
			return err
		}
	}
	return handler(wire.StreamChunk{Kind: wire.ChunkDone, Usage: resp.Usage})
}

type compatMessage struct {
	Role       string              `json:"role"`
	Content    string              `json:"content"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	Name       string              `json:"name,omitempty"`
	ToolCalls  []compatToolCallOut `json:"tool_calls,omitempty"`
}

type compatToolCallOut struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func buildMessages(messages []wire.Message) []compatMessage {
	out := make([]compatMessage, 0, len(messages))
	for _, m := range messages {
		switch {
		case m.Role == wire.RoleAssistant:
			out = append(out, buildAssistantMessage(m))
		case m.ToolCallID != "":
			out = append(out, compatMessage{Role: "tool", Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name})
		default:
			out = append(out, compatMessage{Role: string(m.Role), Content: m.Content})
		}
	}
	return out
}

func buildAssistantMessage(m wire.Message) compatMessage {
	out := compatMessage{Role: string(wire.RoleAssistant), Content: m.Content}
	for _, tc := range m.ToolCalls {
		args := "{}"
		if len(tc.Arguments) > 0 {
			if b, err := json.Marshal(tc.Arguments); err == nil {
				args = string(b)
			}
		}
		call := compatToolCallOut{ID: tc.ID, Type: "function"}
		call.Function.Name = tc.Name
		call.Function.Arguments = args
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out
}

type compatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

func buildTools(tools []wire.ToolDefinition) []compatTool {
	out := make([]compatTool, 0, len(tools))
	for _, t := range tools {
		ct := compatTool{Type: "function"}
		ct.Function.Name = t.Name
		ct.Function.Description = t.Description
		ct.Function.Parameters = t.Parameters
		out = append(out, ct)
	}
	return out
}

func parseResponse(body []byte) (wire.CompleteResponse, error) {
	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function *struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return wire.CompleteResponse{}, fmt.Errorf("compat: failed to unmarshal response: %w", err)
	}
	if len(apiResponse.Choices) == 0 {
		return wire.CompleteResponse{FinishReason: "stop"}, nil
	}

	choice := apiResponse.Choices[0]
	content := choice.Message.Content
	var toolCalls []wire.ToolCall

	content = stripReasoningBlocks(content)
	content, minimaxCalls := extractMiniMaxToolCalls(content)
	toolCalls = append(toolCalls, minimaxCalls...)
	finishReason := choice.FinishReason
	if len(minimaxCalls) > 0 {
		finishReason = "tool_calls"
	}

	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		name := ""
		if tc.Function != nil {
			name = tc.Function.Name
			if tc.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					rtlog.WarnCF("provider.compat", "failed to decode tool call arguments", map[string]any{"tool": name, "error": err.Error()})
					args = map[string]any{}
				}
			}
		}
		toolCalls = append(toolCalls, wire.ToolCall{ID: tc.ID, Name: name, Arguments: args})
	}

	var usage *wire.TokenUsage
	if apiResponse.Usage != nil && (apiResponse.Usage.PromptTokens > 0 || apiResponse.Usage.CompletionTokens > 0) {
		usage = &wire.TokenUsage{InputTokens: apiResponse.Usage.PromptTokens, OutputTokens: apiResponse.Usage.CompletionTokens}
	}

	return wire.CompleteResponse{
		Content:      content,
		ToolCalls:    toolCalls,
		FinishReason: mapFinishReason(finishReason),
		Usage:        usage,
	}, nil
}

// stripReasoningBlocks removes <think>...</think> blocks some
// endpoints embed directly in the content field.
func stripReasoningBlocks(content string) string {
	for i := 0; i < maxReasoningBlocks; i++ {
		start := strings.Index(content, thinkOpenTag)
		if start == -1 {
			break
		}
		endRel := strings.Index(content[start:], thinkCloseTag)
		if endRel == -1 {
			break
		}
		end := start + endRel
		content = strings.TrimSpace(content[:start] + content[end+len(thinkCloseTag):])
	}
	return content
}

// extractMiniMaxToolCalls pulls MiniMax-style [TOOL_CALL]<invoke
// name="...">...</invoke>[/TOOL_CALL] blocks out of free-form text for
// backends that don't emit structured tool_calls.
func extractMiniMaxToolCalls(content string) (string, []wire.ToolCall) {
	var calls []wire.ToolCall

	for i := 0; i < maxMiniMaxToolCalls; i++ {
		tagStart := strings.Index(content, miniMaxOpen)
		if tagStart == -1 {
			break
		}

		angleIdx := strings.Index(content[tagStart:], miniMaxCloseA)
		bracketIdx := strings.Index(content[tagStart:], miniMaxCloseB)

		tagEndIdx, tagLen := -1, 0
		if angleIdx != -1 && (bracketIdx == -1 || angleIdx < bracketIdx) {
			tagEndIdx, tagLen = tagStart+angleIdx, len(miniMaxCloseA)
		} else if bracketIdx != -1 {
			tagEndIdx, tagLen = tagStart+bracketIdx, len(miniMaxCloseB)
		}
		if tagEndIdx == -1 {
			break
		}

		xmlBodyStart := tagStart + len(miniMaxOpen)
		if xmlBodyStart > tagEndIdx {
			break
		}
		xmlPart := content[xmlBodyStart:tagEndIdx]

		if call, ok := parseMiniMaxInvoke(xmlPart, i); ok {
			calls = append(calls, call)
		}
		content = strings.TrimSpace(content[:tagStart] + content[tagEndIdx+tagLen:])
	}

	return content, calls
}

func parseMiniMaxInvoke(xmlPart string, idx int) (wire.ToolCall, bool) {
	nameStart := strings.Index(xmlPart, invokeOpen)
	if nameStart == -1 {
		return wire.ToolCall{}, false
	}
	nameStart += len(invokeOpen)
	nameEnd := strings.Index(xmlPart[nameStart:], "\"")
	invokeEnd := strings.Index(xmlPart, invokeClose)
	if nameEnd == -1 || invokeEnd == -1 {
		return wire.ToolCall{}, false
	}

	toolName := xmlPart[nameStart : nameStart+nameEnd]
	args := make(map[string]any)
	paramsPart := xmlPart[nameStart+nameEnd:]

	for p := 0; p < maxParameters; p++ {
		pStart := strings.Index(paramsPart, paramOpen)
		if pStart == -1 {
			break
		}
		pStart += len(paramOpen)
		if pStart >= len(paramsPart) {
			return wire.ToolCall{}, false
		}
		pNameEnd := strings.Index(paramsPart[pStart:], "\"")
		if pNameEnd == -1 {
			return wire.ToolCall{}, false
		}
		pName := paramsPart[pStart : pStart+pNameEnd]

		valMarkerIdx := strings.Index(paramsPart[pStart+pNameEnd:], ">")
		if valMarkerIdx == -1 {
			return wire.ToolCall{}, false
		}
		valueStart := pStart + pNameEnd + valMarkerIdx + 1
		if valueStart > len(paramsPart) {
			return wire.ToolCall{}, false
		}

		valueEndMarkerIdx := strings.Index(paramsPart[valueStart:], paramClose)
		if valueEndMarkerIdx == -1 {
			return wire.ToolCall{}, false
		}
		valueEnd := valueStart + valueEndMarkerIdx
		args[pName] = html.UnescapeString(paramsPart[valueStart:valueEnd])

		nextParamStart := valueEnd + len(paramClose)
		if nextParamStart > len(paramsPart) {
			paramsPart = ""
			break
		}
		paramsPart = paramsPart[nextParamStart:]
	}

	return wire.ToolCall{ID: fmt.Sprintf("minimax-%d", idx), Name: toolName, Arguments: args}, true
}

func mapFinishReason(reason string) string {
	switch reason {
	case "tool_calls":
		return "tool_calls"
	case "length":
		return "truncated"
	case "":
		return "stop"
	default:
		return reason
	}
}
