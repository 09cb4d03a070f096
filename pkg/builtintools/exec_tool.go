package builtintools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/wnrun/wn-core/pkg/wire"
)

var defaultDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\b(format|mkfs|diskpart)\b\s`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
	regexp.MustCompile(`\$\([^)]+\)`),
	regexp.MustCompile("`[^`]+`"),
	regexp.MustCompile(`\|\s*sh\b`),
	regexp.MustCompile(`\|\s*bash\b`),
	regexp.MustCompile(`;\s*rm\s+-[rf]`),
	regexp.MustCompile(`&&\s*rm\s+-[rf]`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bchmod\s+[0-7]{3,4}\b`),
	regexp.MustCompile(`\bchown\b`),
	regexp.MustCompile(`\bpkill\b`),
	regexp.MustCompile(`\bkillall\b`),
	regexp.MustCompile(`\bcurl\b.*\|\s*(sh|bash)`),
	regexp.MustCompile(`\bwget\b.*\|\s*(sh|bash)`),
	regexp.MustCompile(`\bgit\s+push\b`),
	regexp.MustCompile(`\bssh\b.*@`),
}

var guardPathPattern = regexp.MustCompile(`[A-Za-z]:\\[^\\"']+|/[^\s"']+`)

const defaultExecTimeout = 60 * time.Second

// Exec builds the "exec" built-in: a shell tool with a deny-pattern
// guard and, when restrict is true, a workspace path-escape guard.
func Exec(workingDir string, restrict bool) wire.ToolDefinition {
	return wire.ToolDefinition{
		Name:        "exec",
		Description: "Execute a shell command and return its output. Use with caution.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string", "description": "The shell command to execute"},
				"working_dir": map[string]any{
					"type":        "string",
					"description": "Optional working directory for the command",
				},
				"timeout_seconds": map[string]any{
					"type":        "integer",
					"description": "Override command timeout in seconds (0 disables timeout)",
					"minimum":     0,
				},
			},
			"required": []string{"command"},
		},
		Execute: func(args map[string]any) wire.ToolResult {
			command, ok := args["command"].(string)
			if !ok || command == "" {
				return wire.Fail("command is required")
			}

			cwd := workingDir
			if wd, ok := args["working_dir"].(string); ok && wd != "" {
				cwd = wd
			}

			if guardMsg := guardCommand(command, cwd, restrict); guardMsg != "" {
				return wire.Fail(guardMsg)
			}

			timeout := defaultExecTimeout
			if ts, ok := asInt(args["timeout_seconds"]); ok {
				if ts == 0 {
					timeout = 0
				} else {
					timeout = time.Duration(ts) * time.Second
				}
			}

			return runCommand(command, cwd, timeout)
		},
	}
}

func runCommand(command, cwd string, timeout time.Duration) wire.ToolResult {
	var ctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	cmd := shellCommand(ctx, command)
	if cwd != "" {
		cmd.Dir = cwd
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\nSTDERR:\n" + stderr.String()
	}
	output = truncateOutput(output)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return wire.Fail(fmt.Sprintf("command timed out after %v", timeout))
		}
		output += fmt.Sprintf("\nExit code: %v", err)
		return wire.Fail(output)
	}
	return wire.Ok(output)
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

func truncateOutput(output string) string {
	if output == "" {
		return "(no output)"
	}
	const maxLen = 10000
	if len(output) > maxLen {
		return output[:maxLen] + fmt.Sprintf("\n... (truncated, %d more chars)", len(output)-maxLen)
	}
	return output
}

func guardCommand(command, cwd string, restrict bool) string {
	lower := strings.ToLower(strings.TrimSpace(command))
	for _, pattern := range defaultDenyPatterns {
		if pattern.MatchString(lower) {
			return "command blocked by safety guard (dangerous pattern detected)"
		}
	}

	if !restrict || cwd == "" {
		return ""
	}
	if strings.Contains(command, "..\\") || strings.Contains(command, "../") {
		return "command blocked by safety guard (path traversal detected)"
	}

	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return ""
	}
	for _, match := range guardPathPattern.FindAllString(command, -1) {
		p, err := filepath.Abs(match)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(cwdAbs, p)
		if err != nil {
			continue
		}
		if strings.HasPrefix(rel, "..") {
			return "command blocked by safety guard (path outside working dir)"
		}
	}
	return ""
}

func asInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	default:
		return 0, false
	}
}
