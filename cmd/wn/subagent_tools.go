package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wnrun/wn-core/pkg/subagent"
	"github.com/wnrun/wn-core/pkg/wire"
)

// spawnAgentTool, listSpawnsTool, and stopSpawnTool expose the
// Sub-Agent Runner (spec.md §4.6) to the model itself, the way the
// teacher exposes multiagent spawning as a regular callable tool
// rather than a side channel.

func spawnAgentTool(runner *subagent.Runner, root subagent.RootConfig, personas map[string]subagent.Persona, skills map[string]subagent.Skill) wire.ToolDefinition {
	return wire.ToolDefinition{
		Name:        "spawn_agent",
		Description: "Spawn an isolated sub-agent to work a task in parallel. Returns a running handle immediately; poll list_spawns for completion.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"persona":  map[string]any{"type": "string", "description": "Persona name to give the sub-agent"},
				"skills":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Skill names to append to the persona's system message"},
				"provider": map[string]any{"type": "string", "description": "Provider name to run the sub-agent under"},
				"model":    map[string]any{"type": "string", "description": "Model name override"},
				"task":     map[string]any{"type": "string", "description": "The task for the spawned agent to perform"},
			},
			"required": []string{"persona", "provider", "task"},
		},
		Execute: func(args map[string]any) wire.ToolResult {
			cfg := subagent.AgentConfig{
				Persona:  stringArg(args, "persona"),
				Provider: stringArg(args, "provider"),
				Model:    stringArg(args, "model"),
				Task:     stringArg(args, "task"),
				Skills:   stringSliceArg(args, "skills"),
			}
			handle := runner.Spawn(context.Background(), cfg, root, personas, skills)
			data, err := json.Marshal(handle)
			if err != nil {
				return wire.Fail(fmt.Sprintf("failed to encode handle: %v", err))
			}
			return wire.Ok(string(data))
		},
	}
}

func listSpawnsTool(runner *subagent.Runner) wire.ToolDefinition {
	return wire.ToolDefinition{
		Name:        "list_spawns",
		Description: "List every sub-agent handle, running or terminal.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Execute: func(map[string]any) wire.ToolResult {
			data, err := json.Marshal(runner.List())
			if err != nil {
				return wire.Fail(fmt.Sprintf("failed to encode handles: %v", err))
			}
			return wire.Ok(string(data))
		},
	}
}

func stopSpawnTool(runner *subagent.Runner) wire.ToolDefinition {
	return wire.ToolDefinition{
		Name:        "stop_spawn",
		Description: "Forcibly terminate a running sub-agent by id.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"id": map[string]any{"type": "string", "description": "The handle id returned by spawn_agent"}},
			"required":   []string{"id"},
		},
		Execute: func(args map[string]any) wire.ToolResult {
			id := stringArg(args, "id")
			runner.Stop(id)
			return wire.Ok(fmt.Sprintf("stopped %s", id))
		},
	}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
