package main

import (
	"github.com/wnrun/wn-core/internal/rtlog"
	"github.com/wnrun/wn-core/pkg/agentloop"
	"github.com/wnrun/wn-core/pkg/rpc"
	"github.com/wnrun/wn-core/pkg/wire"
)

// rpcBridge turns Agent Loop lifecycle callbacks into the outbound
// notifications of spec.md §6. It is shared by every Agent Loop the
// core ever builds (configUpdate swaps the Loop, never this bridge).
type rpcBridge struct {
	server *rpc.Server
}

func (b *rpcBridge) OnState(state agentloop.State) {
	_ = b.server.Notify("stateChange", map[string]any{"state": state.String()})
}

func (b *rpcBridge) OnResponse(text string) {
	_ = b.server.Notify("response", map[string]any{"content": text})
}

func (b *rpcBridge) OnToolStart(name string, arguments map[string]any) {
	_ = b.server.Notify("toolExec", map[string]any{"event": "start", "name": name, "args": arguments})
}

func (b *rpcBridge) OnToolEnd(name string, result wire.ToolResult) {
	_ = b.server.Notify("toolExec", map[string]any{
		"event": "end",
		"name":  name,
		"result": map[string]any{
			"ok":     result.OK,
			"output": result.Output,
			"error":  result.Error,
		},
	})
}

func (b *rpcBridge) OnError(err error) {
	_ = b.server.Notify("log", map[string]any{"level": "error", "message": err.Error()})
}

func (b *rpcBridge) OnUsage(usage wire.TokenUsage) {
	rtlog.DebugCF("agentloop", "token usage", map[string]any{
		"inputTokens":  usage.InputTokens,
		"outputTokens": usage.OutputTokens,
	})
}
