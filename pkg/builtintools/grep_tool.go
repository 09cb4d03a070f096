package builtintools

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/wnrun/wn-core/pkg/wire"
)

const maxGrepMatches = 200

// Grep builds the "grep" built-in: a regex search over a directory
// tree, honoring the same workspace restriction as the filesystem
// tools.
func Grep(workspace string, restrict bool) wire.ToolDefinition {
	return wire.ToolDefinition{
		Name:        "grep",
		Description: "Search file contents for a regular expression pattern under a directory",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string", "description": "RE2 regular expression to search for"},
				"path":    map[string]any{"type": "string", "description": "Directory to search (defaults to the workspace root)"},
			},
			"required": []string{"pattern"},
		},
		Execute: func(args map[string]any) wire.ToolResult {
			pattern, ok := args["pattern"].(string)
			if !ok || pattern == "" {
				return wire.Fail("pattern is required")
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return wire.Fail("invalid pattern: " + err.Error())
			}

			searchPath, _ := args["path"].(string)
			if searchPath == "" {
				searchPath = "."
			}

			absRoot, err := resolveSearchRoot(workspace, restrict, searchPath)
			if err != nil {
				return wire.Fail(err.Error())
			}

			matches, truncated, err := searchTree(absRoot, re)
			if err != nil {
				return wire.Fail(err.Error())
			}
			if len(matches) == 0 {
				return wire.Ok("(no matches)")
			}
			out := strings.Join(matches, "\n")
			if truncated {
				out += fmt.Sprintf("\n... (truncated at %d matches)", maxGrepMatches)
			}
			return wire.Ok(out)
		},
	}
}

func resolveSearchRoot(workspace string, restrict bool, searchPath string) (string, error) {
	if !restrict {
		abs, err := filepath.Abs(searchPath)
		if err != nil {
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
		return abs, nil
	}

	fs := sandboxFS{Workspace: workspace}
	return fs.Resolve(searchPath)
}

func searchTree(root string, re *regexp.Regexp) ([]string, bool, error) {
	var matches []string
	truncated := false

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= maxGrepMatches {
			truncated = true
			return filepath.SkipAll
		}

		file, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer file.Close()

		rel, _ := filepath.Rel(root, path)
		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := scanner.Text()
			if re.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d:%s", rel, lineNum, line))
				if len(matches) >= maxGrepMatches {
					truncated = true
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return matches, truncated, nil
}
