// Package wire defines the canonical, vendor-neutral types that flow
// between the Agent Loop, the Tool Registry, and every Provider
// back-end (spec.md §3 DATA MODEL).
package wire

import "github.com/google/uuid"

// Role is the canonical message role. Provider adapters re-tag it to
// the vendor's own role vocabulary during translation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single conversation turn.
//
// Invariant: a message with ToolCallID set MUST carry the textual tool
// output in Content. An assistant message with non-empty ToolCalls MAY
// also carry text; both are preserved.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// NewToolCallID synthesizes a fresh id for back-ends that do not return
// one themselves (spec.md §3 ToolCall, testable property 3).
func NewToolCallID() string {
	return uuid.NewString()
}

// ToolResult is the textual outcome of a tool call.
type ToolResult struct {
	OK     bool
	Output string
	Error  string
}

// Ok builds a successful ToolResult.
func Ok(output string) ToolResult {
	return ToolResult{OK: true, Output: output}
}

// Fail builds a failed ToolResult; Output is always present (possibly
// empty) so the model always has something to read.
func Fail(errMsg string) ToolResult {
	return ToolResult{OK: false, Output: "", Error: errMsg}
}

// ToolDefinition is a named callable the model may invoke.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
	Execute     func(args map[string]any) ToolResult
}

// TokenUsage is always non-negative; omit the field entirely (nil
// *TokenUsage) rather than reporting zero when a vendor doesn't report
// usage (spec.md §4.1 Token-usage mapping).
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// StreamChunkKind discriminates the StreamChunk tagged union.
type StreamChunkKind int

const (
	ChunkDelta StreamChunkKind = iota
	ChunkToolCall
	ChunkDone
)

// StreamChunk is one element of a Provider's incremental stream.
//
// Invariant: every stream yields exactly one ChunkDone chunk, and it is
// the last.
type StreamChunk struct {
	Kind     StreamChunkKind
	Delta    string
	ToolCall ToolCall
	Usage    *TokenUsage
}

// CompleteResponse is the result of one non-streaming LLM round-trip.
type CompleteResponse struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        *TokenUsage
	FinishReason string
}

// StreamHandler receives chunks as a Provider streams a response.
type StreamHandler func(chunk StreamChunk) error
