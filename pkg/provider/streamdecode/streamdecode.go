// Package streamdecode holds the cross-vendor streaming tool-call
// reassembly state machine described in spec.md §9: one vendor reports
// a block-start event with the name and argument JSON deltas keyed by
// block index; another reports incremental tool_calls[i].function.arguments
// fragments keyed by index; a third reports whole calls at once. The
// anthropic adapter reassembles its block events with this accumulator;
// the openai and gemini adapters keep their own stream state.
package streamdecode

import (
	"encoding/json"

	"github.com/wnrun/wn-core/pkg/wire"
)

// ToolCallAccumulator reassembles fragmented tool-call events keyed by
// the vendor's block/call index. Emit only happens on Finish for a
// given index (or immediately, for vendors that hand over whole calls,
// by calling Start then Finish back to back).
type ToolCallAccumulator struct {
	entries map[int]*pendingCall
	order   []int
}

type pendingCall struct {
	id       string
	name     string
	argsJSON []byte
}

func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{entries: make(map[int]*pendingCall)}
}

// Start begins (or re-begins) tracking a tool call at the given index.
func (a *ToolCallAccumulator) Start(index int, id, name string) {
	if _, ok := a.entries[index]; !ok {
		a.order = append(a.order, index)
	}
	a.entries[index] = &pendingCall{id: id, name: name}
}

// AppendArgs appends a raw JSON argument fragment to the call at index.
func (a *ToolCallAccumulator) AppendArgs(index int, fragment string) {
	entry, ok := a.entries[index]
	if !ok {
		entry = &pendingCall{}
		a.entries[index] = entry
		a.order = append(a.order, index)
	}
	entry.argsJSON = append(entry.argsJSON, []byte(fragment)...)
}

// Finish finalizes the call at index, parsing the accumulated JSON
// fragments. A parse failure falls back to an empty object rather than
// propagating an error (spec.md testable property 5).
func (a *ToolCallAccumulator) Finish(index int) (wire.ToolCall, bool) {
	entry, ok := a.entries[index]
	if !ok {
		return wire.ToolCall{}, false
	}
	delete(a.entries, index)

	args := map[string]any{}
	if len(entry.argsJSON) > 0 {
		if err := json.Unmarshal(entry.argsJSON, &args); err != nil {
			args = map[string]any{}
		}
	}

	id := entry.id
	if id == "" {
		id = wire.NewToolCallID()
	}

	return wire.ToolCall{ID: id, Name: entry.name, Arguments: args}, true
}

// FinishAll finalizes every call still pending, in the order first
// observed. It suits back-ends that signal the end of the whole response
// rather than a per-block stop event; no adapter in this repository calls it.
func (a *ToolCallAccumulator) FinishAll() []wire.ToolCall {
	var calls []wire.ToolCall
	for _, idx := range a.order {
		if tc, ok := a.Finish(idx); ok {
			calls = append(calls, tc)
		}
	}
	a.order = nil
	return calls
}

// UsageAccumulator aggregates token usage that a vendor may split
// across trailing stream events.
type UsageAccumulator struct {
	input, output int
	seen          bool
}

func (u *UsageAccumulator) Add(input, output int) {
	u.input += input
	u.output += output
	u.seen = true
}

func (u *UsageAccumulator) Usage() *wire.TokenUsage {
	if !u.seen {
		return nil
	}
	return &wire.TokenUsage{InputTokens: u.input, OutputTokens: u.output}
}
