// Package mcpclient wraps external tool servers (spec.md §4.3 "External
// tool adapter") reachable over stdio, using the Model Context Protocol
// client SDK for the handshake, tool enumeration, and call transport.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wnrun/wn-core/internal/rtconfig"
	"github.com/wnrun/wn-core/internal/rtlog"
	"github.com/wnrun/wn-core/pkg/wire"
)

// schemaToMap flattens the SDK's typed JSON Schema into the plain
// map[string]any shape wire.ToolDefinition.Parameters expects, so a
// provider adapter never needs to know the schema came from an
// external server.
func schemaToMap(schema any) (map[string]any, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal input schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal input schema: %w", err)
	}
	return m, nil
}

// Manager owns one connected session per configured external tool
// server. Connections are single-writer: only the owning entry's
// Execute speaks to its session.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*sdkmcp.ClientSession
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*sdkmcp.ClientSession)}
}

// ConnectAll attempts every configured server in parallel. A failed
// server contributes a warning, not a hard failure; a connected server
// contributes its tools as ToolDefinitions. If every server failed,
// ConnectAll returns nil tools together with one warning per server
// (spec.md §4.3 "External connection lifecycle").
func (m *Manager) ConnectAll(ctx context.Context, servers []rtconfig.MCPServerConfig) ([]wire.ToolDefinition, []error) {
	type outcome struct {
		tools []wire.ToolDefinition
		err   error
	}

	results := make([]outcome, len(servers))
	var wg sync.WaitGroup
	for i, cfg := range servers {
		wg.Add(1)
		go func(i int, cfg rtconfig.MCPServerConfig) {
			defer wg.Done()
			tools, err := m.connectOne(ctx, cfg)
			results[i] = outcome{tools: tools, err: err}
		}(i, cfg)
	}
	wg.Wait()

	var allTools []wire.ToolDefinition
	var warnings []error
	connected := 0
	for i, res := range results {
		if res.err != nil {
			warnings = append(warnings, fmt.Errorf("mcp server %q: %w", servers[i].Name, res.err))
			rtlog.WarnCF("mcpclient", "server connect failed", map[string]any{"server": servers[i].Name, "error": res.err.Error()})
			continue
		}
		connected++
		allTools = append(allTools, res.tools...)
	}

	if len(servers) > 0 && connected == 0 {
		return nil, warnings
	}
	return allTools, warnings
}

func (m *Manager) connectOne(ctx context.Context, cfg rtconfig.MCPServerConfig) ([]wire.ToolDefinition, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("command is empty")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "wn-core", Version: "dev"}, nil)
	transport := &sdkmcp.CommandTransport{Command: cmd}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	listing, err := session.ListTools(ctx, nil)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	m.mu.Lock()
	m.sessions[cfg.Name] = session
	m.mu.Unlock()

	tools := make([]wire.ToolDefinition, 0, len(listing.Tools))
	for _, t := range listing.Tools {
		tools = append(tools, m.wrapTool(cfg.Name, t))
	}
	return tools, nil
}

// wrapTool builds the ToolDefinition a tool registry sees: a
// server-prefixed name, opaque schema pass-through, and an execute
// closure that calls the underlying (un-prefixed) name against the
// owning session.
func (m *Manager) wrapTool(serverName string, t *sdkmcp.Tool) wire.ToolDefinition {
	qualifiedName := serverName + "__" + t.Name
	underlyingName := t.Name

	var params map[string]any
	if t.InputSchema != nil {
		params, _ = schemaToMap(t.InputSchema)
	}

	return wire.ToolDefinition{
		Name:        qualifiedName,
		Description: t.Description,
		Parameters:  params,
		Execute: func(args map[string]any) wire.ToolResult {
			m.mu.Lock()
			session := m.sessions[serverName]
			m.mu.Unlock()
			if session == nil {
				return wire.Fail(fmt.Sprintf("mcp server %q is not connected", serverName))
			}

			result, err := session.CallTool(context.Background(), &sdkmcp.CallToolParams{
				Name:      underlyingName,
				Arguments: args,
			})
			if err != nil {
				return wire.Fail(err.Error())
			}

			text := firstTextContent(result)
			if result.IsError {
				return wire.Fail(text)
			}
			return wire.Ok(text)
		},
	}
}

// firstTextContent flattens the server's result content to text: the
// first text content block, empty on absence (spec.md §4.3).
func firstTextContent(result *sdkmcp.CallToolResult) string {
	for _, content := range result.Content {
		if tc, ok := content.(*sdkmcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// CloseAll terminates all surviving connections; errors during close
// are suppressed since the process is tearing down anyway.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*sdkmcp.ClientSession)
	m.mu.Unlock()

	for _, session := range sessions {
		_ = session.Close()
	}
}
