// Package toolregistry is the two-tier keyed store over built-in and
// external ToolDefinitions (spec.md §4.3): built-in entries shadow
// external entries of the same name.
package toolregistry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wnrun/wn-core/pkg/wire"
)

// Registry holds two independent stores, keyed by tool name.
type Registry struct {
	mu       sync.RWMutex
	builtin  map[string]wire.ToolDefinition
	external map[string]wire.ToolDefinition
}

func New() *Registry {
	return &Registry{
		builtin:  make(map[string]wire.ToolDefinition),
		external: make(map[string]wire.ToolDefinition),
	}
}

// Register adds a built-in tool. Duplicate names within the built-in
// store are rejected.
func (r *Registry) Register(tool wire.ToolDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.builtin[tool.Name]; exists {
		return fmt.Errorf("toolregistry: built-in tool %q already registered", tool.Name)
	}
	r.builtin[tool.Name] = tool
	return nil
}

// RegisterExternal adds an external tool. Duplicate names within the
// external store are rejected.
func (r *Registry) RegisterExternal(tool wire.ToolDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.external[tool.Name]; exists {
		return fmt.Errorf("toolregistry: external tool %q already registered", tool.Name)
	}
	r.external[tool.Name] = tool
	return nil
}

// Get consults built-in first, then external.
func (r *Registry) Get(name string) (wire.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.builtin[name]; ok {
		return t, true
	}
	t, ok := r.external[name]
	return t, ok
}

// List returns the union of both stores, built-in entries overriding
// external entries of the same name. Iteration order is deterministic
// (sorted by name) but that ordering is not itself a contract.
func (r *Registry) List() []wire.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	merged := make(map[string]wire.ToolDefinition, len(r.builtin)+len(r.external))
	for name, t := range r.external {
		merged[name] = t
	}
	for name, t := range r.builtin {
		merged[name] = t
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]wire.ToolDefinition, 0, len(names))
	for _, name := range names {
		out = append(out, merged[name])
	}
	return out
}

// Count returns the number of distinct tool names visible via List.
func (r *Registry) Count() int {
	return len(r.List())
}
