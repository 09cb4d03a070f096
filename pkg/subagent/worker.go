package subagent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/wnrun/wn-core/pkg/agentloop"
	"github.com/wnrun/wn-core/pkg/builtintools"
	"github.com/wnrun/wn-core/pkg/provider"
	"github.com/wnrun/wn-core/pkg/toolregistry"
	"github.com/wnrun/wn-core/pkg/wire"
)

// RunWorker is the sub-agent worker entrypoint (spec.md §4.6 step 2):
// it reads a WorkerPayload from in, independently constructs a
// provider, registers the standard built-ins, runs one Step, and
// writes exactly one terminal message to out before returning.
//
// cmd/wn's worker subcommand is the only caller in production; tests
// call it directly against in-memory pipes.
func RunWorker(ctx context.Context, in io.Reader, out io.Writer) int {
	writer := bufio.NewWriter(out)
	defer writer.Flush()

	payloadJSON, err := io.ReadAll(in)
	if err != nil {
		writeTerminal(writer, workerMessage{Type: "error", Error: fmt.Sprintf("failed to read payload: %v", err)})
		return 1
	}

	var payload WorkerPayload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		writeTerminal(writer, workerMessage{Type: "error", Error: fmt.Sprintf("failed to decode payload: %v", err)})
		return 1
	}

	provRes := provider.New(payload.ProviderName, payload.ProviderConfig)
	prov, err := provRes.Unwrap()
	if err != nil {
		writeTerminal(writer, workerMessage{Type: "error", Error: fmt.Sprintf("failed to construct provider: %v", err)})
		return 1
	}

	registry := toolregistry.New()
	workspace, _ := os.Getwd()
	for _, tool := range []wire.ToolDefinition{
		builtintools.ReadFile(workspace, false),
		builtintools.WriteFile(workspace, false),
		builtintools.ListDir(workspace, false),
		builtintools.Exec(workspace, false),
		builtintools.Grep(workspace, false),
	} {
		_ = registry.Register(tool)
	}

	model := payload.Model
	if model == "" {
		model = prov.DefaultModel()
	}

	loop := agentloop.New(prov, registry, agentloop.NoopHandler{}, model, 0)
	if payload.SystemMessage != "" {
		loop.SeedSystem(payload.SystemMessage)
	}

	stepResult := loop.Step(ctx, payload.Task)
	text, err := stepResult.Unwrap()
	if err != nil {
		writeTerminal(writer, workerMessage{Type: "error", Error: err.Error()})
		return 1
	}

	writeTerminal(writer, workerMessage{Type: "result", Data: text})
	return 0
}

func writeTerminal(w *bufio.Writer, msg workerMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	w.Write(raw)
	w.WriteString("\n")
	w.Flush()
}
