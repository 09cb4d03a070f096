// Package anthropic adapts the Anthropic Messages API (system-separated,
// tool_use/tool_result content blocks) to the wire.Provider contract.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/wnrun/wn-core/pkg/provider/streamdecode"
	"github.com/wnrun/wn-core/pkg/wire"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-sonnet-4-6"
	defaultMaxTokens = int64(4096)
)

type Provider struct {
	client    *anthropic.Client
	baseURL   string
	maxTokens int64
}

type Option func(*Provider)

func WithMaxTokens(n int64) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

// New constructs the Anthropic back-end. apiKey is required; fails fast
// if empty (spec.md §4.1 Construction).
func New(apiKey, baseURL string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: missing API key")
	}
	normalized := normalizeBaseURL(baseURL)
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(normalized),
	)
	p := &Provider{client: &client, baseURL: normalized, maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) DefaultModel() string { return defaultModel }

func (p *Provider) Complete(ctx context.Context, messages []wire.Message, tools []wire.ToolDefinition, model string) (wire.CompleteResponse, error) {
	params, err := p.buildParams(messages, tools, model)
	if err != nil {
		return wire.CompleteResponse{}, err
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return wire.CompleteResponse{}, fmt.Errorf("anthropic: request failed: %w", err)
	}

	return parseMessage(resp), nil
}

func (p *Provider) Stream(ctx context.Context, messages []wire.Message, tools []wire.ToolDefinition, model string, handler wire.StreamHandler) error {
	params, err := p.buildParams(messages, tools, model)
	if err != nil {
		return err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	acc := streamdecode.NewToolCallAccumulator()
	usage := &streamdecode.UsageAccumulator{}
	blockKind := map[int64]string{}

	for stream.Next() {
		event := stream.Current()
		switch e := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			switch e.ContentBlock.Type {
			case "tool_use":
				tu := e.ContentBlock.AsToolUse()
				blockKind[e.Index] = "tool_use"
				acc.Start(int(e.Index), tu.ID, tu.Name)
			default:
				blockKind[e.Index] = "text"
			}
		case anthropic.ContentBlockDeltaEvent:
			switch blockKind[e.Index] {
			case "tool_use":
				if pd := e.Delta.AsInputJSONDelta(); pd.PartialJSON != "" {
					acc.AppendArgs(int(e.Index), pd.PartialJSON)
				}
			default:
				if td := e.Delta.AsTextDelta(); td.Text != "" {
					if err := handler(wire.StreamChunk{Kind: wire.ChunkDelta, Delta: td.Text}); err != nil {
						return err
					}
				}
			}
		case anthropic.ContentBlockStopEvent:
			if blockKind[e.Index] == "tool_use" {
				if tc, ok := acc.Finish(int(e.Index)); ok {
					if err := handler(wire.StreamChunk{Kind: wire.ChunkToolCall, ToolCall: tc}); err != nil {
						return err
					}
				}
			}
		case anthropic.MessageDeltaEvent:
			usage.Add(0, int(e.Usage.OutputTokens))
		case anthropic.MessageStartEvent:
			usage.Add(int(e.Message.Usage.InputTokens), 0)
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic: streaming failed: %w", err)
	}

	return handler(wire.StreamChunk{Kind: wire.ChunkDone, Usage: usage.Usage()})
}

func (p *Provider) buildParams(messages []wire.Message, tools []wire.ToolDefinition, model string) (anthropic.MessageNewParams, error) {
	var system []anthropic.TextBlockParam
	var anthropicMessages []anthropic.MessageParam

	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		switch msg.Role {
		case wire.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case wire.RoleUser:
			if msg.ToolCallID != "" {
				var toolBlocks []anthropic.ContentBlockParamUnion
				for i < len(messages) && isToolResult(messages[i]) {
					toolBlocks = append(toolBlocks,
						anthropic.NewToolResultBlock(messages[i].ToolCallID, messages[i].Content, false))
					i++
				}
				i--
				anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(toolBlocks...))
			} else {
				anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		case wire.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				var blocks []anthropic.ContentBlockParamUnion
				if msg.Content != "" {
					blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
				}
				for _, tc := range msg.ToolCalls {
					args := tc.Arguments
					if args == nil {
						args = map[string]any{}
					}
					blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
				}
				anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(blocks...))
			} else {
				anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}

	if model == "" {
		model = defaultModel
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  anthropicMessages,
		MaxTokens: p.maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = translateTools(tools)
	}

	return params, nil
}

func translateTools(tools []wire.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		tool := anthropic.ToolParam{
			Name: t.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: t.Parameters["properties"],
			},
		}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		if req, ok := t.Parameters["required"].([]any); ok {
			required := make([]string, 0, len(req))
			for _, r := range req {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
			tool.InputSchema.Required = required
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

func parseMessage(resp *anthropic.Message) wire.CompleteResponse {
	var content string
	var toolCalls []wire.ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			var args map[string]any
			if err := json.Unmarshal(tu.Input, &args); err != nil {
				args = map[string]any{}
			}
			toolCalls = append(toolCalls, wire.ToolCall{ID: tu.ID, Name: tu.Name, Arguments: args})
		}
	}

	finishReason := "stop"
	switch resp.StopReason {
	case anthropic.StopReasonToolUse:
		finishReason = "tool_calls"
	case anthropic.StopReasonMaxTokens:
		finishReason = "truncated"
	}

	return wire.CompleteResponse{
		Content:      content,
		ToolCalls:    toolCalls,
		FinishReason: finishReason,
		Usage: &wire.TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
}

func isToolResult(msg wire.Message) bool {
	return msg.Role == wire.RoleUser && msg.ToolCallID != ""
}

func normalizeBaseURL(apiBase string) string {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		return defaultBaseURL
	}
	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/v1")
	if base == "" {
		return defaultBaseURL
	}
	return base
}
