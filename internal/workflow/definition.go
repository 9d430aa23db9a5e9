package workflow

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// WriteMode says how a stage's output lands in the document.
type WriteMode string

const (
	ModeAppend  WriteMode = "append"
	ModeReplace WriteMode = "replace"
)

// DefaultSeparator is placed between appended parts.
const DefaultSeparator = "\n\n---\n\n"

// Definition declares the ordered stage list of a document workflow.
type Definition struct {
	ID             string     `yaml:"id"`
	Name           string     `yaml:"name,omitempty"`
	Separator      string     `yaml:"separator,omitempty"`
	SystemPrompt   string     `yaml:"system_prompt,omitempty"`
	RevisePrompt   string     `yaml:"revise_prompt"`
	FeedbackPrompt string     `yaml:"feedback_prompt"`
	Stages         []StageDef `yaml:"stages"`
}

// StageDef is one stage. Prompt names the template that produces the
// stage's content; a stage without one is entered silently.
type StageDef struct {
	ID            string    `yaml:"id"`
	Label         string    `yaml:"label,omitempty"`
	Prompt        string    `yaml:"prompt,omitempty"`
	Mode          WriteMode `yaml:"mode,omitempty"`
	ReviewSection int       `yaml:"review_section,omitempty"`
	Requires      []string  `yaml:"requires,omitempty"`
}

// Enabled reports whether every required flag is set.
func (s StageDef) Enabled(flags map[string]bool) bool {
	for _, f := range s.Requires {
		if !flags[f] {
			return false
		}
	}
	return true
}

func (s StageDef) clone() StageDef {
	s.Requires = slices.Clone(s.Requires)
	return s
}

// Clone returns a deep copy of the definition.
func (def Definition) Clone() Definition {
	clone := def
	clone.Stages = make([]StageDef, len(def.Stages))
	for i, s := range def.Stages {
		clone.Stages[i] = s.clone()
	}
	return clone
}

// Validate ensures the definition is self-consistent.
func (def Definition) Validate() error {
	if def.ID == "" {
		return fmt.Errorf("workflow: id is required")
	}
	if len(def.Stages) < 2 {
		return fmt.Errorf("workflow %s: at least two stages are required", def.ID)
	}
	if def.RevisePrompt == "" || def.FeedbackPrompt == "" {
		return fmt.Errorf("workflow %s: revise_prompt and feedback_prompt are required", def.ID)
	}

	first, last := def.Stages[0], def.Stages[len(def.Stages)-1]
	if first.Prompt != "" {
		return fmt.Errorf("workflow %s: initial stage %s must not have a prompt", def.ID, first.ID)
	}
	if len(first.Requires) > 0 || len(last.Requires) > 0 {
		return fmt.Errorf("workflow %s: first and last stage cannot be optional", def.ID)
	}
	if last.ReviewSection > 0 {
		return fmt.Errorf("workflow %s: terminal stage %s cannot be a review stage", def.ID, last.ID)
	}

	seen := map[string]struct{}{}
	sections := map[int]string{}
	for idx, s := range def.Stages {
		if s.ID == "" {
			return fmt.Errorf("workflow %s stage[%d]: id is required", def.ID, idx)
		}
		if _, exists := seen[s.ID]; exists {
			return fmt.Errorf("workflow %s: duplicate stage id %s", def.ID, s.ID)
		}
		seen[s.ID] = struct{}{}

		switch s.Mode {
		case "", ModeAppend, ModeReplace:
		default:
			return fmt.Errorf("workflow %s stage %s: unknown mode %q", def.ID, s.ID, s.Mode)
		}
		if s.ReviewSection < 0 {
			return fmt.Errorf("workflow %s stage %s: review_section must be >= 0", def.ID, s.ID)
		}
		if s.ReviewSection > 0 {
			if s.Prompt == "" {
				return fmt.Errorf("workflow %s stage %s: review stage needs a prompt", def.ID, s.ID)
			}
			if other, dup := sections[s.ReviewSection]; dup {
				return fmt.Errorf("workflow %s: section %d reviewed by both %s and %s", def.ID, s.ReviewSection, other, s.ID)
			}
			sections[s.ReviewSection] = s.ID
		}
		for _, f := range s.Requires {
			if f == "" {
				return fmt.Errorf("workflow %s stage %s: empty flag in requires", def.ID, s.ID)
			}
		}
	}
	return nil
}

// Normalized clones the definition, fills defaults and validates the result.
func (def Definition) Normalized() (Definition, error) {
	clone := def.Clone()
	if clone.Separator == "" {
		clone.Separator = DefaultSeparator
	}
	for i := range clone.Stages {
		if clone.Stages[i].Mode == "" {
			clone.Stages[i].Mode = ModeAppend
		}
		if clone.Stages[i].Label == "" {
			clone.Stages[i].Label = clone.Stages[i].ID
		}
	}
	if err := clone.Validate(); err != nil {
		return Definition{}, err
	}
	return clone, nil
}

// ParseDefinitionYAML decodes and normalizes a definition.
func ParseDefinitionYAML(data []byte) (Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definition{}, fmt.Errorf("workflow: definition payload is empty")
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("workflow: decode definition: %w", err)
	}
	return def.Normalized()
}

// LoadDefinitionFile loads a definition from an explicit file path.
func LoadDefinitionFile(path string) (Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	def, err := ParseDefinitionYAML(content)
	if err != nil {
		return Definition{}, fmt.Errorf("workflow: %s: %w", path, err)
	}
	return def, nil
}
