// Package gemini adapts the Google genai SDK (separate systemInstruction,
// FunctionCall/FunctionResponse parts, restricted JSON-schema dialect) to
// the wire.Provider contract.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/wnrun/wn-core/pkg/wire"
)

const defaultModel = "gemini-2.5-flash"

type Provider struct {
	client *genai.Client
}

// New constructs the Gemini back-end. apiKey is required.
func New(apiKey, baseURL string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: missing API key")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(baseURL, "/")}
	}
	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: client init failed: %w", err)
	}
	return &Provider{client: client}, nil
}

func (p *Provider) DefaultModel() string { return defaultModel }

func (p *Provider) Complete(ctx context.Context, messages []wire.Message, tools []wire.ToolDefinition, model string) (wire.CompleteResponse, error) {
	contents, systemInstruction := buildContents(messages)
	config := buildConfig(systemInstruction, tools)

	if model == "" {
		model = defaultModel
	}
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return wire.CompleteResponse{}, fmt.Errorf("gemini: request failed (status=%d): %s", apiErr.Code, strings.TrimSpace(apiErr.Message))
		}
		return wire.CompleteResponse{}, fmt.Errorf("gemini: request failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return wire.CompleteResponse{FinishReason: "stop", Usage: mapUsage(resp)}, nil
	}

	content, toolCalls := parseCandidate(resp.Candidates[0])
	return wire.CompleteResponse{
		Content:      content,
		ToolCalls:    toolCalls,
		FinishReason: mapFinishReason(resp.Candidates[0].FinishReason, len(toolCalls) > 0),
		Usage:        mapUsage(resp),
	}, nil
}

func (p *Provider) Stream(ctx context.Context, messages []wire.Message, tools []wire.ToolDefinition, model string, handler wire.StreamHandler) error {
	contents, systemInstruction := buildContents(messages)
	config := buildConfig(systemInstruction, tools)
	if model == "" {
		model = defaultModel
	}

	var usage *wire.TokenUsage
	var streamErr error
	for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			streamErr = err
			break
		}
		if resp == nil || len(resp.Candidates) == 0 {
			continue
		}
		candidate := resp.Candidates[0]
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					if err := handler(wire.StreamChunk{Kind: wire.ChunkDelta, Delta: part.Text}); err != nil {
						return err
					}
				}
				if part.FunctionCall != nil {
					tc := functionCallToToolCall(part.FunctionCall)
					if err := handler(wire.StreamChunk{Kind: wire.ChunkToolCall, ToolCall: tc}); err != nil {
						return err
					}
				}
			}
		}
		if u := mapUsage(resp); u != nil {
			usage = u
		}
	}
	if streamErr != nil {
		return fmt.Errorf("gemini: streaming failed: %w", streamErr)
	}

	return handler(wire.StreamChunk{Kind: wire.ChunkDone, Usage: usage})
}

func buildConfig(systemInstruction *genai.Content, tools []wire.ToolDefinition) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if systemInstruction != nil {
		config.SystemInstruction = systemInstruction
	}
	if mapped := buildTools(tools); len(mapped) > 0 {
		config.Tools = mapped
	}
	return config
}

func buildContents(messages []wire.Message) ([]*genai.Content, *genai.Content) {
	contents := make([]*genai.Content, 0, len(messages))
	var systemTexts []string
	toolCallNames := map[string]string{}

	for _, msg := range messages {
		switch {
		case msg.Role == wire.RoleSystem:
			if msg.Content != "" {
				systemTexts = append(systemTexts, msg.Content)
			}
		case msg.Role == wire.RoleAssistant:
			modelContent := &genai.Content{Role: string(genai.RoleModel)}
			if msg.Content != "" {
				modelContent.Parts = append(modelContent.Parts, genai.NewPartFromText(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				if tc.Name == "" {
					continue
				}
				if tc.ID != "" {
					toolCallNames[tc.ID] = tc.Name
				}
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				modelContent.Parts = append(modelContent.Parts, genai.NewPartFromFunctionCall(tc.Name, args))
			}
			if len(modelContent.Parts) > 0 {
				contents = append(contents, modelContent)
			}
		case msg.ToolCallID != "":
			name := toolCallNames[msg.ToolCallID]
			if name == "" {
				name = msg.Name
			}
			if name == "" {
				continue
			}
			resp := map[string]any{"result": msg.Content}
			contents = append(contents, genai.NewContentFromFunctionResponse(name, resp, genai.RoleUser))
		default:
			if msg.Content != "" {
				contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
			}
		}
	}

	var systemInstruction *genai.Content
	if len(systemTexts) > 0 {
		systemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(strings.Join(systemTexts, "\n"))}}
	}
	return contents, systemInstruction
}

func buildTools(tools []wire.ToolDefinition) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		if t.Name == "" {
			continue
		}
		decl := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
		if len(t.Parameters) > 0 {
			decl.ParametersJsonSchema = sanitizeSchema(t.Parameters)
		}
		declarations = append(declarations, decl)
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func parseCandidate(candidate *genai.Candidate) (string, []wire.ToolCall) {
	if candidate == nil || candidate.Content == nil {
		return "", nil
	}
	var text strings.Builder
	var toolCalls []wire.ToolCall
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			toolCalls = append(toolCalls, functionCallToToolCall(part.FunctionCall))
		}
	}
	return text.String(), toolCalls
}

func functionCallToToolCall(fc *genai.FunctionCall) wire.ToolCall {
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}
	id := fc.ID
	if id == "" {
		id = wire.NewToolCallID()
	}
	return wire.ToolCall{ID: id, Name: fc.Name, Arguments: args}
}

func mapFinishReason(reason genai.FinishReason, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_calls"
	}
	if reason == genai.FinishReasonMaxTokens {
		return "truncated"
	}
	return "stop"
}

func mapUsage(resp *genai.GenerateContentResponse) *wire.TokenUsage {
	if resp == nil || resp.UsageMetadata == nil {
		return nil
	}
	u := resp.UsageMetadata
	if u.PromptTokenCount == 0 && u.CandidatesTokenCount == 0 {
		return nil
	}
	return &wire.TokenUsage{InputTokens: int(u.PromptTokenCount), OutputTokens: int(u.CandidatesTokenCount)}
}

var geminiUnsupportedKeywords = map[string]bool{
	"patternProperties": true, "additionalProperties": true, "$schema": true,
	"$id": true, "$ref": true, "$defs": true, "definitions": true,
	"examples": true, "minLength": true, "maxLength": true, "minimum": true,
	"maximum": true, "multipleOf": true, "pattern": true, "format": true,
	"minItems": true, "maxItems": true, "uniqueItems": true,
	"minProperties": true, "maxProperties": true,
}

// sanitizeSchema strips JSON-Schema keywords Gemini's restricted schema
// dialect does not accept.
func sanitizeSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	result := make(map[string]any)
	for k, v := range schema {
		if geminiUnsupportedKeywords[k] {
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			result[k] = sanitizeSchema(val)
		case []any:
			sanitized := make([]any, len(val))
			for i, item := range val {
				if m, ok := item.(map[string]any); ok {
					sanitized[i] = sanitizeSchema(m)
				} else {
					sanitized[i] = item
				}
			}
			result[k] = sanitized
		default:
			result[k] = v
		}
	}
	if _, hasProps := result["properties"]; hasProps {
		if _, hasType := result["type"]; !hasType {
			result["type"] = "object"
		}
	}
	return result
}
