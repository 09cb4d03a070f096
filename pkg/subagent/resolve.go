// Package subagent resolves a spawn request against the process-wide
// configuration and runs the resulting sub-agent as an isolated
// worker process (spec.md §4.6).
package subagent

import (
	"fmt"
	"strings"

	"github.com/wnrun/wn-core/internal/rtconfig"
)

// Persona is a named system-message fragment.
type Persona struct {
	Name    string
	Content string
}

// Skill is a named system-message fragment appended after the persona.
type Skill struct {
	Name string
	Body string
}

// RootConfig is the process-wide configuration a spawn resolves
// against: the providers table and the external tool-server list.
type RootConfig struct {
	Providers   map[string]rtconfig.ProviderConfig
	ToolServers []rtconfig.MCPServerConfig
}

// AgentConfig is the caller's spawn request.
type AgentConfig struct {
	Persona  string
	Skills   []string
	Provider string
	Model    string
	Task     string
}

// WorkerPayload is everything a worker process needs to run one
// sub-agent turn independently, with no further access to the
// runner's in-memory state.
type WorkerPayload struct {
	ID                string
	Task              string
	SystemMessage     string
	ProviderName      string
	ProviderConfig    rtconfig.ProviderConfig
	Model             string
	ToolServerConfigs []rtconfig.MCPServerConfig
}

// Resolve builds a WorkerPayload from the caller's AgentConfig against
// the root configuration, persona table, and skill table, per spec.md
// §4.6 step 1. A non-nil error is a resolve-time failure (persona,
// skill, or provider not found) that must produce a terminal failed
// handle without starting a worker.
func Resolve(id string, cfg AgentConfig, root RootConfig, personas map[string]Persona, skills map[string]Skill) (WorkerPayload, error) {
	persona, ok := personas[cfg.Persona]
	if !ok {
		return WorkerPayload{}, fmt.Errorf("Persona not found: %s", cfg.Persona)
	}

	var skillBodies []string
	for _, name := range cfg.Skills {
		skill, ok := skills[name]
		if !ok {
			return WorkerPayload{}, fmt.Errorf("Skill not found: %s", name)
		}
		skillBodies = append(skillBodies, skill.Body)
	}

	providerCfg, ok := root.Providers[cfg.Provider]
	if !ok {
		return WorkerPayload{}, fmt.Errorf("Provider not found: %s", cfg.Provider)
	}

	systemMessage := persona.Content
	if len(skillBodies) > 0 {
		systemMessage = persona.Content + "\n\n" + strings.Join(skillBodies, "\n\n")
	}

	return WorkerPayload{
		ID:                id,
		Task:              cfg.Task,
		SystemMessage:     systemMessage,
		ProviderName:      cfg.Provider,
		ProviderConfig:    providerCfg,
		Model:             cfg.Model,
		ToolServerConfigs: root.ToolServers,
	}, nil
}
