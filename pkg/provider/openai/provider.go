// Package openai adapts the OpenAI Chat Completions API (unified role
// list, tool_calls array with JSON-string arguments) to the
// wire.Provider contract.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/wnrun/wn-core/pkg/wire"
)

const defaultModel = "gpt-4o"

type Provider struct {
	client *openai.Client
}

// New constructs the OpenAI back-end. apiKey is required.
func New(apiKey, baseURL string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: missing API key")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")))
	}
	client := openai.NewClient(opts...)
	return &Provider{client: &client}, nil
}

func (p *Provider) DefaultModel() string { return defaultModel }

func (p *Provider) Complete(ctx context.Context, messages []wire.Message, tools []wire.ToolDefinition, model string) (wire.CompleteResponse, error) {
	params := buildParams(messages, tools, model)

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return wire.CompleteResponse{}, fmt.Errorf("openai: request failed (status=%d): %s", apiErr.StatusCode, strings.TrimSpace(apiErr.Message))
		}
		return wire.CompleteResponse{}, fmt.Errorf("openai: request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return wire.CompleteResponse{}, fmt.Errorf("openai: response had no choices")
	}

	choice := resp.Choices[0]
	return wire.CompleteResponse{
		Content:      choice.Message.Content,
		ToolCalls:    parseToolCalls(choice.Message.ToolCalls),
		FinishReason: mapFinishReason(choice.FinishReason),
		Usage:        mapUsage(resp.Usage),
	}, nil
}

func (p *Provider) Stream(ctx context.Context, messages []wire.Message, tools []wire.ToolDefinition, model string, handler wire.StreamHandler) error {
	params := buildParams(messages, tools, model)
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	names := map[int64]string{}
	ids := map[int64]string{}
	argBuf := map[int64]*strings.Builder{}
	var order []int64
	var usage *wire.TokenUsage

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			if err := handler(wire.StreamChunk{Kind: wire.ChunkDelta, Delta: delta.Content}); err != nil {
				return err
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			if _, seen := names[idx]; !seen {
				order = append(order, idx)
				argBuf[idx] = &strings.Builder{}
			}
			if tc.ID != "" {
				ids[idx] = tc.ID
			}
			if tc.Function.Name != "" {
				names[idx] = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				argBuf[idx].WriteString(tc.Function.Arguments)
			}
		}
		if chunk.Usage.TotalTokens > 0 || chunk.Usage.PromptTokens > 0 {
			usage = &wire.TokenUsage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai: streaming failed: %w", err)
	}

	for _, idx := range order {
		args := map[string]any{}
		if argBuf[idx].Len() > 0 {
			if err := json.Unmarshal([]byte(argBuf[idx].String()), &args); err != nil {
				args = map[string]any{}
			}
		}
		id := ids[idx]
		if id == "" {
			id = wire.NewToolCallID()
		}
		if err := handler(wire.StreamChunk{Kind: wire.ChunkToolCall, ToolCall: wire.ToolCall{ID: id, Name: names[idx], Arguments: args}}); err != nil {
			return err
		}
	}

	return handler(wire.StreamChunk{Kind: wire.ChunkDone, Usage: usage})
}

func buildParams(messages []wire.Message, tools []wire.ToolDefinition, model string) openai.ChatCompletionNewParams {
	if model == "" {
		model = defaultModel
	}
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: buildMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = buildTools(tools)
		params.ToolChoice.OfAuto = openai.String(string(openai.ChatCompletionToolChoiceOptionAutoAuto))
	}
	return params
}

func buildMessages(messages []wire.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch {
		case msg.Role == wire.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case msg.Role == wire.RoleAssistant:
			out = append(out, buildAssistantMessage(msg))
		case msg.ToolCallID != "":
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func buildAssistantMessage(msg wire.Message) openai.ChatCompletionMessageParamUnion {
	assistant := openai.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" {
		assistant.Content.OfString = openai.String(msg.Content)
	}
	for _, tc := range msg.ToolCalls {
		args := "{}"
		if len(tc.Arguments) > 0 {
			if b, err := json.Marshal(tc.Arguments); err == nil {
				args = string(b)
			}
		}
		assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: args,
				},
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func buildTools(tools []wire.ToolDefinition) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		fn := shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  shared.FunctionParameters(t.Parameters),
		}
		out = append(out, openai.ChatCompletionFunctionTool(fn))
	}
	return out
}

func parseToolCalls(calls []openai.ChatCompletionMessageToolCallUnion) []wire.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]wire.ToolCall, 0, len(calls))
	for _, call := range calls {
		fc, ok := call.AsAny().(openai.ChatCompletionMessageFunctionToolCall)
		if !ok {
			continue
		}
		args := map[string]any{}
		if strings.TrimSpace(fc.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(fc.Function.Arguments), &args); err != nil {
				args = map[string]any{}
			}
		}
		out = append(out, wire.ToolCall{ID: fc.ID, Name: fc.Function.Name, Arguments: args})
	}
	return out
}

func mapFinishReason(reason string) string {
	switch reason {
	case "tool_calls":
		return "tool_calls"
	case "length":
		return "truncated"
	default:
		return "stop"
	}
}

func mapUsage(usage openai.CompletionUsage) *wire.TokenUsage {
	if usage.TotalTokens == 0 && usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		return nil
	}
	return &wire.TokenUsage{InputTokens: int(usage.PromptTokens), OutputTokens: int(usage.CompletionTokens)}
}
