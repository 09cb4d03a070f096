package resource

import (
	"fmt"
	"os"
	"path/filepath"
)

// Set is the loaded, layered view of every persona/skill/agent
// visible to the runtime core.
type Set struct {
	Personas map[string]Persona
	Skills   map[string]Skill
	Agents   map[string]Agent
}

// Load builds a Set by reading personas/, skills/, agents/
// subdirectories of globalDir then overlaying the same subdirectories
// of localDir — a same-named entry in localDir replaces the global
// entry entirely (spec.md §6 "Resource layering"). Either directory
// may not exist; a missing directory contributes nothing.
func Load(globalDir, localDir string) (Set, error) {
	set := Set{
		Personas: make(map[string]Persona),
		Skills:   make(map[string]Skill),
		Agents:   make(map[string]Agent),
	}

	for _, dir := range []string{globalDir, localDir} {
		if dir == "" {
			continue
		}
		if err := loadPersonas(filepath.Join(dir, "personas"), set.Personas); err != nil {
			return Set{}, err
		}
		if err := loadSkills(filepath.Join(dir, "skills"), set.Skills); err != nil {
			return Set{}, err
		}
		if err := loadAgents(filepath.Join(dir, "agents"), set.Agents); err != nil {
			return Set{}, err
		}
	}

	return set, nil
}

func loadPersonas(dir string, into map[string]Persona) error {
	return forEachFile(dir, func(path string) error {
		p, err := LoadPersona(path)
		if err != nil {
			return fmt.Errorf("persona %q: %w", path, err)
		}
		into[p.Name] = p
		return nil
	})
}

func loadSkills(dir string, into map[string]Skill) error {
	return forEachFile(dir, func(path string) error {
		s, err := LoadSkill(path)
		if err != nil {
			return fmt.Errorf("skill %q: %w", path, err)
		}
		into[s.Name] = s
		return nil
	})
}

func loadAgents(dir string, into map[string]Agent) error {
	return forEachFile(dir, func(path string) error {
		a, err := LoadAgent(path)
		if err != nil {
			return fmt.Errorf("agent %q: %w", path, err)
		}
		into[a.Name] = a
		return nil
	})
}

// forEachFile walks dir's immediate Markdown/text files (and, for
// skill-style layouts, a SKILL.md inside each immediate
// subdirectory), skipping a missing directory entirely.
func forEachFile(dir string, fn func(path string) error) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			nested := filepath.Join(path, "SKILL.md")
			if _, err := os.Stat(nested); err == nil {
				if err := fn(nested); err != nil {
					return err
				}
			}
			continue
		}
		if isMarkdownOrText(entry.Name()) {
			if err := fn(path); err != nil {
				return err
			}
		}
	}
	return nil
}

func isMarkdownOrText(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".md" || ext == ".txt"
}
