package rtlog

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStderr redirects os.Stderr for the duration of fn and returns
// every line it wrote.
func captureStderr(t *testing.T, fn func()) []string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	orig := os.Stderr
	os.Stderr = w
	t.Cleanup(func() { os.Stderr = orig })

	fn()
	require.NoError(t, w.Close())

	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func TestInfoCF_EmitsJSONLineWithFields(t *testing.T) {
	SetLevel(Debug)
	lines := captureStderr(t, func() {
		InfoCF("core", "turn started", map[string]any{"sessionID": "abc"})
	})
	require.Len(t, lines, 1)

	var e entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &e))
	assert.Equal(t, "INFO", e.Level)
	assert.Equal(t, "core", e.Component)
	assert.Equal(t, "turn started", e.Message)
	assert.Equal(t, "abc", e.Fields["sessionID"])
	assert.NotEmpty(t, e.Timestamp)
}

func TestSetLevel_SuppressesBelowThreshold(t *testing.T) {
	SetLevel(Warn)
	t.Cleanup(func() { SetLevel(Info) })

	lines := captureStderr(t, func() {
		InfoC("core", "should be suppressed")
		WarnC("core", "should appear")
	})
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "should appear")
}

func TestErrorC_HasNoFieldsKeyWhenNil(t *testing.T) {
	SetLevel(Debug)
	lines := captureStderr(t, func() {
		ErrorC("core", "boom")
	})
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], `"fields"`)
}

func TestDebugCF_SuppressedAtDefaultLevel(t *testing.T) {
	SetLevel(Info)
	lines := captureStderr(t, func() {
		DebugCF("core", "noisy", nil)
	})
	assert.Empty(t, lines)
}
