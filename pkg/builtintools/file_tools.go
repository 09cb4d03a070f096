package builtintools

import (
	"strings"

	"github.com/wnrun/wn-core/pkg/wire"
)

// ReadFile builds the "read_file" built-in.
func ReadFile(workspace string, restrict bool) wire.ToolDefinition {
	fs := newFS(workspace, restrict)
	return wire.ToolDefinition{
		Name:        "read_file",
		Description: "Read the contents of a file",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Path to the file to read"},
			},
			"required": []string{"path"},
		},
		Execute: func(args map[string]any) wire.ToolResult {
			path, ok := args["path"].(string)
			if !ok || path == "" {
				return wire.Fail("path is required")
			}
			content, err := fs.ReadFile(path)
			if err != nil {
				return wire.Fail(err.Error())
			}
			return wire.Ok(string(content))
		},
	}
}

// WriteFile builds the "write_file" built-in.
func WriteFile(workspace string, restrict bool) wire.ToolDefinition {
	fs := newFS(workspace, restrict)
	return wire.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "Path to the file to write"},
				"content": map[string]any{"type": "string", "description": "Content to write to the file"},
			},
			"required": []string{"path", "content"},
		},
		Execute: func(args map[string]any) wire.ToolResult {
			path, ok := args["path"].(string)
			if !ok || path == "" {
				return wire.Fail("path is required")
			}
			content, ok := args["content"].(string)
			if !ok {
				return wire.Fail("content is required")
			}
			if err := fs.WriteFile(path, []byte(content)); err != nil {
				return wire.Fail(err.Error())
			}
			return wire.Ok("File written: " + path)
		},
	}
}

// ListDir builds the "list_dir" built-in.
func ListDir(workspace string, restrict bool) wire.ToolDefinition {
	fs := newFS(workspace, restrict)
	return wire.ToolDefinition{
		Name:        "list_dir",
		Description: "List files and directories in a path",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Path to list"},
			},
			"required": []string{"path"},
		},
		Execute: func(args map[string]any) wire.ToolResult {
			path, ok := args["path"].(string)
			if !ok || path == "" {
				path = "."
			}
			entries, err := fs.ReadDir(path)
			if err != nil {
				return wire.Fail("failed to read directory: " + err.Error())
			}
			var out strings.Builder
			for _, entry := range entries {
				if entry.IsDir() {
					out.WriteString("DIR:  " + entry.Name() + "\n")
				} else {
					out.WriteString("FILE: " + entry.Name() + "\n")
				}
			}
			return wire.Ok(out.String())
		},
	}
}
