// Package resource loads persona, skill, and agent definitions from
// Markdown files (spec.md §6 "Persona file" / "Skill file" / "Agent
// file"), layering a project-local directory over a global one.
package resource

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona's identifier is its filename without extension; its body is
// the whole file content, unparsed.
type Persona struct {
	Name    string
	Content string
}

// Skill is parsed from frontmatter-delimited Markdown.
type Skill struct {
	Name        string
	Description string
	Tools       []string
	Body        string
}

// Agent is parsed from frontmatter-delimited Markdown; its body
// becomes the description.
type Agent struct {
	Name        string
	Persona     string
	Provider    string
	Model       string
	Skills      []string
	Description string
}

type skillFrontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tools       []string `yaml:"tools"`
}

type agentFrontmatter struct {
	Name     string   `yaml:"name"`
	Persona  string   `yaml:"persona"`
	Provider string   `yaml:"provider"`
	Model    string   `yaml:"model"`
	Skills   []string `yaml:"skills"`
}

// splitFrontmatter separates a `---\n...\n---\n` YAML block from the
// body that follows it. A file with no leading "---" line has no
// frontmatter; raw is returned whole as the body.
func splitFrontmatter(raw string) (frontmatter string, body string, hasFrontmatter bool) {
	lines := strings.Split(raw, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", raw, false
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			frontmatter = strings.Join(lines[1:i], "\n")
			body = strings.Join(lines[i+1:], "\n")
			return frontmatter, strings.TrimLeft(body, "\n"), true
		}
	}
	// Opening delimiter with no closing one: treat the whole thing as
	// body, matching the teacher's lenient SKILL.md parser behavior.
	return "", raw, false
}

// LoadPersona reads a persona file: its body, verbatim, is the system
// message. The identifier is the filename without extension.
func LoadPersona(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("failed to read persona file: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Persona{Name: name, Content: string(data)}, nil
}

// LoadSkill reads a skill file. description is required: its absence
// is a fatal validation error for that skill (spec.md §6).
func LoadSkill(path string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, fmt.Errorf("failed to read skill file: %w", err)
	}

	front, body, _ := splitFrontmatter(string(data))

	var fm skillFrontmatter
	if front != "" {
		if err := yaml.Unmarshal([]byte(front), &fm); err != nil {
			return Skill{}, fmt.Errorf("failed to parse skill frontmatter: %w", err)
		}
	}

	name := fm.Name
	if name == "" {
		name = filepath.Base(filepath.Dir(path))
	}
	if fm.Description == "" {
		return Skill{}, fmt.Errorf("skill %q is missing a required description", name)
	}

	return Skill{
		Name:        name,
		Description: fm.Description,
		Tools:       fm.Tools,
		Body:        strings.TrimSpace(body),
	}, nil
}

// LoadAgent reads an agent file. Its body becomes the Description.
func LoadAgent(path string) (Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Agent{}, fmt.Errorf("failed to read agent file: %w", err)
	}

	front, body, _ := splitFrontmatter(string(data))

	var fm agentFrontmatter
	if front != "" {
		if err := yaml.Unmarshal([]byte(front), &fm); err != nil {
			return Agent{}, fmt.Errorf("failed to parse agent frontmatter: %w", err)
		}
	}

	name := fm.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return Agent{
		Name:        name,
		Persona:     fm.Persona,
		Provider:    fm.Provider,
		Model:       fm.Model,
		Skills:      fm.Skills,
		Description: strings.TrimSpace(body),
	}, nil
}
