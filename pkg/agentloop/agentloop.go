// Package agentloop drives one conversation turn through potentially
// many LLM round-trips when tool calls intervene, notifying a handler
// of state transitions and results along the way (spec.md §4.2).
package agentloop

import (
	"context"
	"fmt"

	"github.com/wnrun/wn-core/internal/result"
	"github.com/wnrun/wn-core/internal/rtlog"
	"github.com/wnrun/wn-core/pkg/provider"
	"github.com/wnrun/wn-core/pkg/toolregistry"
	"github.com/wnrun/wn-core/pkg/wire"
)

// State enumerates the Agent Loop's observable lifecycle.
type State int

const (
	StateIdle State = iota
	StateWaitingInput
	StateThinking
	StateToolRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingInput:
		return "waiting_input"
	case StateThinking:
		return "thinking"
	case StateToolRunning:
		return "tool_running"
	default:
		return "unknown"
	}
}

// Handler receives lifecycle notifications. New substitutes NoopHandler
// for a nil handler; every method of a non-nil handler is invoked. All
// callbacks are called synchronously on the goroutine running step/run.
type Handler interface {
	OnState(state State)
	OnResponse(text string)
	OnToolStart(name string, arguments map[string]any)
	OnToolEnd(name string, result wire.ToolResult)
	OnError(err error)
	OnUsage(usage wire.TokenUsage)
}

// NoopHandler satisfies Handler with all callbacks doing nothing; the
// sub-agent runner uses it so a worker step has nothing observing it.
type NoopHandler struct{}

func (NoopHandler) OnState(State)                                {}
func (NoopHandler) OnResponse(string)                             {}
func (NoopHandler) OnToolStart(string, map[string]any)            {}
func (NoopHandler) OnToolEnd(string, wire.ToolResult)             {}
func (NoopHandler) OnError(error)                                 {}
func (NoopHandler) OnUsage(wire.TokenUsage)                       {}

// Loop owns a message log exclusively; nothing outside step/run may
// mutate it (spec.md §4.2 invariants).
type Loop struct {
	provider      provider.Provider
	tools         *toolregistry.Registry
	handler       Handler
	model         string
	maxToolRounds int // 0 means unbounded

	messages []wire.Message
}

// New builds a Loop. maxToolRounds of 0 means unbounded, matching the
// spec's documented default.
func New(p provider.Provider, tools *toolregistry.Registry, handler Handler, model string, maxToolRounds int) *Loop {
	if handler == nil {
		handler = NoopHandler{}
	}
	return &Loop{
		provider:      p,
		tools:         tools,
		handler:       handler,
		model:         model,
		maxToolRounds: maxToolRounds,
	}
}

// Messages returns the accumulated message log. Callers must not
// mutate the returned slice.
func (l *Loop) Messages() []wire.Message {
	return l.messages
}

// SeedSystem appends a system message to the log before any user
// input. Callers must do this, if at all, before the first Step.
func (l *Loop) SeedSystem(content string) {
	l.messages = append(l.messages, wire.Message{Role: wire.RoleSystem, Content: content})
}

func (l *Loop) setState(s State) {
	l.handler.OnState(s)
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Step advances the conversation by one user input, performing
// whatever tool rounds are necessary before returning the final
// assistant text (spec.md §4.2, steps 1-9).
func (l *Loop) Step(ctx context.Context, input string) result.Result[string] {
	if cancelled(ctx) {
		return result.Err[string](fmt.Errorf("Aborted"))
	}

	l.messages = append(l.messages, wire.Message{Role: wire.RoleUser, Content: input})

	rounds := 0
	for {
		l.setState(StateThinking)

		if cancelled(ctx) {
			return result.Err[string](fmt.Errorf("Aborted"))
		}

		advertised := l.advertisedTools()
		resp, err := l.provider.Complete(ctx, l.messages, advertised, l.model)
		if err != nil {
			l.handler.OnError(err)
			return result.Err[string](err)
		}

		if resp.Usage != nil {
			l.handler.OnUsage(*resp.Usage)
		}

		if len(resp.ToolCalls) == 0 {
			l.messages = append(l.messages, wire.Message{Role: wire.RoleAssistant, Content: resp.Content})
			l.handler.OnResponse(resp.Content)
			l.setState(StateIdle)
			return result.Ok(resp.Content)
		}

		assistantMsg := wire.Message{Role: wire.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
		l.messages = append(l.messages, assistantMsg)
		if resp.Content != "" {
			l.handler.OnResponse(resp.Content)
		}

		for _, tc := range resp.ToolCalls {
			if cancelled(ctx) {
				return result.Err[string](fmt.Errorf("Aborted"))
			}

			tool, found := l.tools.Get(tc.Name)
			if !found {
				notFound := wire.ToolResult{OK: false, Output: "Tool not found: " + tc.Name}
				l.messages = append(l.messages, wire.Message{
					Role:       wire.RoleUser,
					Content:    notFound.Output,
					ToolCallID: tc.ID,
					Name:       tc.Name,
				})
				continue
			}

			l.setState(StateToolRunning)
			l.handler.OnToolStart(tc.Name, tc.Arguments)

			toolResult := tool.Execute(tc.Arguments)

			l.messages = append(l.messages, wire.Message{
				Role:       wire.RoleUser,
				Content:    toolResult.Output,
				ToolCallID: tc.ID,
				Name:       tc.Name,
			})
			l.handler.OnToolEnd(tc.Name, toolResult)
		}

		rounds++
		if l.maxToolRounds > 0 && rounds >= l.maxToolRounds {
			err := fmt.Errorf("Max tool rounds reached: %d", l.maxToolRounds)
			l.handler.OnError(err)
			return result.Err[string](err)
		}
	}
}

func (l *Loop) advertisedTools() []wire.ToolDefinition {
	if l.tools == nil {
		return nil
	}
	return l.tools.List()
}

// InputSource yields successive user inputs for Run. It returns
// ok=false once exhausted.
type InputSource interface {
	Next(ctx context.Context) (string, bool)
}

// LoopHook is invoked after each turn; returning true stops Run.
type LoopHook func(turnResult result.Result[string]) bool

// Run iterates inputSource, calling Step on each item. A failed turn
// does not terminate Run (spec.md §4.2 "Multi-turn operation").
func (l *Loop) Run(ctx context.Context, inputSource InputSource, hook LoopHook) result.Result[struct{}] {
	for {
		if cancelled(ctx) {
			return result.Err[struct{}](fmt.Errorf("Aborted"))
		}

		input, ok := inputSource.Next(ctx)
		if !ok {
			return result.Ok(struct{}{})
		}

		turnResult := l.Step(ctx, input)
		if turnResult.IsErr() {
			rtlog.WarnCF("agentloop", "turn failed", map[string]any{"error": turnResult.Err().Error()})
		}

		if hook != nil && hook(turnResult) {
			return result.Ok(struct{}{})
		}
	}
}
