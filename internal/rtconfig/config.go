// Package rtconfig loads the runtime core's configuration file, applies
// environment-variable interpolation and overrides, and layers a
// project-local file over a global one (spec.md §6 Resource layering).
package rtconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/caarlos0/env/v11"
)

// ProviderConfig is the per-provider credential/endpoint record.
type ProviderConfig struct {
	APIKey    string `json:"apiKey,omitempty"`
	AuthToken string `json:"authToken,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
}

// MCPServerConfig describes one external tool-server subprocess.
type MCPServerConfig struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// MCPConfig is the optional mcp.servers block.
type MCPConfig struct {
	Servers []MCPServerConfig `json:"servers,omitempty"`
}

// Config is the root configuration file shape (spec.md §6).
type Config struct {
	DefaultProvider string                     `json:"defaultProvider" env:"WN_DEFAULT_PROVIDER"`
	DefaultModel    string                     `json:"defaultModel" env:"WN_DEFAULT_MODEL"`
	DefaultPersona  string                     `json:"defaultPersona" env:"WN_DEFAULT_PERSONA"`
	Providers       map[string]ProviderConfig  `json:"providers,omitempty"`
	MCP             MCPConfig                  `json:"mcp,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DefaultProvider: "claude",
		DefaultModel:    "",
		DefaultPersona:  "default",
		Providers:       map[string]ProviderConfig{},
	}
}

// GlobalPath returns the global config file path (~/.wn/config.json).
func GlobalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".wn", "config.json"), nil
}

// LocalPath returns the project-local config file path (.wn/config.json
// next to the current working directory).
func LocalPath() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}
	return filepath.Join(wd, ".wn", "config.json"), nil
}

// Load reads the global config, then overlays a project-local config if
// present, then applies environment-variable field overrides and
// ${VAR} interpolation. A missing file at either layer is not an error;
// a parse error at a present file is fatal, per spec.md §6.
func Load() (*Config, error) {
	cfg := Default()

	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	if err := mergeFile(cfg, globalPath); err != nil {
		return nil, err
	}

	localPath, err := LocalPath()
	if err != nil {
		return nil, err
	}
	if err := mergeFile(cfg, localPath); err != nil {
		return nil, err
	}

	interpolate(cfg)

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	var layer Config
	if err := json.Unmarshal(data, &layer); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}

	if layer.DefaultProvider != "" {
		cfg.DefaultProvider = layer.DefaultProvider
	}
	if layer.DefaultModel != "" {
		cfg.DefaultModel = layer.DefaultModel
	}
	if layer.DefaultPersona != "" {
		cfg.DefaultPersona = layer.DefaultPersona
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	for name, p := range layer.Providers {
		// Project-local entries replace the global entry by name entirely
		// (spec.md §6: "Same-named ... from local layer replaces the
		// global entry entirely").
		cfg.Providers[name] = p
	}
	if len(layer.MCP.Servers) > 0 {
		cfg.MCP.Servers = layer.MCP.Servers
	}

	return nil
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolate resolves ${VAR} references against the process environment
// at every string depth in the config. Unresolved references are left
// literal.
func interpolate(cfg *Config) {
	cfg.DefaultProvider = interpolateString(cfg.DefaultProvider)
	cfg.DefaultModel = interpolateString(cfg.DefaultModel)
	cfg.DefaultPersona = interpolateString(cfg.DefaultPersona)
	for name, p := range cfg.Providers {
		p.APIKey = interpolateString(p.APIKey)
		p.AuthToken = interpolateString(p.AuthToken)
		p.BaseURL = interpolateString(p.BaseURL)
		cfg.Providers[name] = p
	}
	for i, s := range cfg.MCP.Servers {
		s.Command = interpolateString(s.Command)
		for j, a := range s.Args {
			s.Args[j] = interpolateString(a)
		}
		for k, v := range s.Env {
			s.Env[k] = interpolateString(v)
		}
		cfg.MCP.Servers[i] = s
	}
}

func interpolateString(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envRefPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// ApplyFlagOverrides overlays single-field CLI flag values, the
// outermost layer in spec.md §6's resource layering.
func ApplyFlagOverrides(cfg *Config, provider, model, persona string) {
	if provider != "" {
		cfg.DefaultProvider = provider
	}
	if model != "" {
		cfg.DefaultModel = model
	}
	if persona != "" {
		cfg.DefaultPersona = persona
	}
}
