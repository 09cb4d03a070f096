package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wnrun/wn-core/internal/rtconfig"
	"github.com/wnrun/wn-core/internal/rtlog"
	"github.com/wnrun/wn-core/pkg/builtintools"
	"github.com/wnrun/wn-core/pkg/mcpclient"
	"github.com/wnrun/wn-core/pkg/resource"
	"github.com/wnrun/wn-core/pkg/rpc"
	"github.com/wnrun/wn-core/pkg/subagent"
	"github.com/wnrun/wn-core/pkg/toolregistry"
	"github.com/wnrun/wn-core/pkg/wire"
)

func newServeCommand() *cobra.Command {
	var providerFlag, modelFlag, personaFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent runtime core, speaking JSON-RPC over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), providerFlag, modelFlag, personaFlag)
		},
	}

	cmd.Flags().StringVar(&providerFlag, "provider", "", "Override the default provider")
	cmd.Flags().StringVar(&modelFlag, "model", "", "Override the default model")
	cmd.Flags().StringVar(&personaFlag, "persona", "", "Override the default persona")

	return cmd
}

func runServe(parentCtx context.Context, providerFlag, modelFlag, personaFlag string) error {
	cfg, err := rtconfig.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	rtconfig.ApplyFlagOverrides(cfg, providerFlag, modelFlag, personaFlag)

	resources, err := loadResources()
	if err != nil {
		return fmt.Errorf("loading resources: %w", err)
	}

	workspace, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving workspace: %w", err)
	}

	tools := toolregistry.New()
	if err := registerBuiltins(tools, workspace); err != nil {
		return fmt.Errorf("registering built-in tools: %w", err)
	}

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	mcpManager := mcpclient.NewManager()
	externalTools, warnings := mcpManager.ConnectAll(ctx, cfg.MCP.Servers)
	for _, w := range warnings {
		rtlog.WarnC("mcpclient", w.Error())
	}
	if len(cfg.MCP.Servers) > 0 && externalTools == nil {
		return fmt.Errorf("connecting external tool servers: all %d configured servers failed", len(cfg.MCP.Servers))
	}
	for _, t := range externalTools {
		if err := tools.RegisterExternal(t); err != nil {
			rtlog.WarnC("mcpclient", err.Error())
		}
	}

	runner := subagent.NewRunner([]string{os.Args[0], subagentWorkerCommand}, 5)
	root := subagent.RootConfig{Providers: cfg.Providers, ToolServers: cfg.MCP.Servers}
	subPersonas, subSkills := toSubagentResources(resources)
	if err := tools.Register(spawnAgentTool(runner, root, subPersonas, subSkills)); err != nil {
		return fmt.Errorf("registering spawn_agent tool: %w", err)
	}
	if err := tools.Register(listSpawnsTool(runner)); err != nil {
		return fmt.Errorf("registering list_spawns tool: %w", err)
	}
	if err := tools.Register(stopSpawnTool(runner)); err != nil {
		return fmt.Errorf("registering stop_spawn tool: %w", err)
	}

	transport := rpc.NewStdioTransport(os.Stdin, os.Stdout)

	// c is assigned below, after the server that needs to dispatch to
	// it and the bridge that needs to notify through it both exist —
	// the three are mutually referential, so the handler closure reads
	// c by reference rather than by value.
	var c *core
	server := rpc.NewServer(transport, func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		return c.rpcHandler(ctx, method, params)
	})
	bridge := &rpcBridge{server: server}

	c = newCore(cfg, resources, tools, bridge)
	if err := c.start(); err != nil {
		return fmt.Errorf("starting agent loop: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- server.Start(ctx) }()

	select {
	case <-sigCh:
		rtlog.InfoC("wn", "shutting down on signal")
	case err := <-serveErrCh:
		if err != nil {
			rtlog.ErrorC("wn", err.Error())
		}
	}

	cancel()
	server.Stop()
	mcpManager.CloseAll()

	return nil
}

func loadResources() (resource.Set, error) {
	globalConfigPath, err := rtconfig.GlobalPath()
	if err != nil {
		return resource.Set{}, err
	}
	localConfigPath, err := rtconfig.LocalPath()
	if err != nil {
		return resource.Set{}, err
	}
	return resource.Load(filepath.Dir(globalConfigPath), filepath.Dir(localConfigPath))
}

func registerBuiltins(tools *toolregistry.Registry, workspace string) error {
	for _, t := range []func(string, bool) wire.ToolDefinition{
		builtintools.ReadFile, builtintools.WriteFile, builtintools.ListDir, builtintools.Exec, builtintools.Grep,
	} {
		if err := tools.Register(t(workspace, false)); err != nil {
			return err
		}
	}
	return nil
}

func toSubagentResources(set resource.Set) (map[string]subagent.Persona, map[string]subagent.Skill) {
	personas := make(map[string]subagent.Persona, len(set.Personas))
	for name, p := range set.Personas {
		personas[name] = subagent.Persona{Name: p.Name, Content: p.Content}
	}
	skills := make(map[string]subagent.Skill, len(set.Skills))
	for name, s := range set.Skills {
		skills[name] = subagent.Skill{Name: s.Name, Body: s.Body}
	}
	return personas, skills
}
