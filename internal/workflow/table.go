package workflow

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"skkn-server/internal/domain"
)

//go:embed stages.yaml prompts/*.tmpl
var defaultFS embed.FS

// PromptData is the input of every instruction template.
type PromptData struct {
	Topic     domain.TopicInfo
	Section   int
	Feedback  string
	Reference string
	Current   string
}

var templateFuncs = template.FuncMap{
	"default": func(fallback, value string) string {
		if strings.TrimSpace(value) == "" {
			return fallback
		}
		return value
	},
}

// Library is a validated definition together with its parsed templates.
// It is immutable and shared between sessions.
type Library struct {
	def       Definition
	templates *template.Template
}

// DefaultLibrary loads the embedded stage list and prompts.
func DefaultLibrary() (*Library, error) {
	raw, err := defaultFS.ReadFile("stages.yaml")
	if err != nil {
		return nil, fmt.Errorf("workflow: read embedded definition: %w", err)
	}
	def, err := ParseDefinitionYAML(raw)
	if err != nil {
		return nil, err
	}
	return NewLibrary(def, defaultFS, "prompts/*.tmpl")
}

// LoadLibrary loads the definition at path, or the embedded one when path is
// empty. Templates next to the file override the embedded prompts.
func LoadLibrary(path string) (*Library, error) {
	if path == "" {
		return DefaultLibrary()
	}
	def, err := LoadDefinitionFile(path)
	if err != nil {
		return nil, err
	}
	tmpl, err := parseTemplates(def.ID, defaultFS, "prompts/*.tmpl")
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	overrides, err := fs.Glob(os.DirFS(dir), "*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("workflow: list templates in %s: %w", dir, err)
	}
	if len(overrides) > 0 {
		if _, err := tmpl.ParseFS(os.DirFS(dir), "*.tmpl"); err != nil {
			return nil, fmt.Errorf("workflow: parse templates in %s: %w", dir, err)
		}
	}
	lib := &Library{def: def, templates: tmpl}
	if err := lib.checkTemplates(); err != nil {
		return nil, err
	}
	return lib, nil
}

// NewLibrary parses the templates matching pattern in fsys and checks that
// every prompt referenced by def exists.
func NewLibrary(def Definition, fsys fs.FS, pattern string) (*Library, error) {
	tmpl, err := parseTemplates(def.ID, fsys, pattern)
	if err != nil {
		return nil, err
	}
	lib := &Library{def: def, templates: tmpl}
	if err := lib.checkTemplates(); err != nil {
		return nil, err
	}
	return lib, nil
}

func parseTemplates(name string, fsys fs.FS, pattern string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(templateFuncs).ParseFS(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("workflow: parse templates: %w", err)
	}
	return tmpl, nil
}

func (l *Library) checkTemplates() error {
	names := []string{l.def.RevisePrompt, l.def.FeedbackPrompt}
	if l.def.SystemPrompt != "" {
		names = append(names, l.def.SystemPrompt)
	}
	for _, s := range l.def.Stages {
		if s.Prompt != "" {
			names = append(names, s.Prompt)
		}
	}
	for _, name := range names {
		if l.templates.Lookup(name) == nil {
			return fmt.Errorf("workflow %s: template %s not found", l.def.ID, name)
		}
	}
	return nil
}

// Definition returns a copy of the loaded definition.
func (l *Library) Definition() Definition { return l.def.Clone() }

// Table builds the transition table for one session's flags.
func (l *Library) Table(flags map[string]bool) *Table {
	enabled := make([]StageDef, 0, len(l.def.Stages))
	for _, s := range l.def.Stages {
		if s.Enabled(flags) {
			enabled = append(enabled, s)
		}
	}
	return &Table{lib: l, stages: enabled}
}

// Edge is the transition out of a stage.
type Edge struct {
	From          domain.Stage
	To            domain.Stage
	Prompt        string
	Mode          WriteMode
	ReviewSection int
}

// Silent reports whether the edge is taken without an upstream request.
func (e Edge) Silent() bool { return e.Prompt == "" }

// Table maps each stage to its outgoing edge. Stages disabled by the
// session's flags are skipped.
type Table struct {
	lib    *Library
	stages []StageDef
}

// Initial is the stage a new session starts in.
func (t *Table) Initial() domain.Stage { return domain.Stage(t.stages[0].ID) }

// Terminal is the last stage.
func (t *Table) Terminal() domain.Stage { return domain.Stage(t.stages[len(t.stages)-1].ID) }

// Separator is placed between appended parts.
func (t *Table) Separator() string { return t.lib.def.Separator }

// Stages lists the enabled stages in order.
func (t *Table) Stages() []StageDef {
	out := make([]StageDef, len(t.stages))
	for i, s := range t.stages {
		out[i] = s.clone()
	}
	return out
}

// Next returns the edge leaving from. It reports false for the terminal
// stage and for stages not in the definition.
func (t *Table) Next(from domain.Stage) (Edge, bool) {
	stages := t.lib.def.Stages
	idx := -1
	for i, s := range stages {
		if s.ID == string(from) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Edge{}, false
	}
	for _, s := range stages[idx+1:] {
		if !t.enabled(s.ID) {
			continue
		}
		return Edge{
			From:          from,
			To:            domain.Stage(s.ID),
			Prompt:        s.Prompt,
			Mode:          s.Mode,
			ReviewSection: s.ReviewSection,
		}, true
	}
	return Edge{}, false
}

func (t *Table) enabled(id string) bool {
	for _, s := range t.stages {
		if s.ID == id {
			return true
		}
	}
	return false
}

func (t *Table) stage(id domain.Stage) (StageDef, bool) {
	for _, s := range t.stages {
		if s.ID == string(id) {
			return s, true
		}
	}
	return StageDef{}, false
}

// Contains reports whether the stage is enabled in this table.
func (t *Table) Contains(stage domain.Stage) bool { return t.enabled(string(stage)) }

// ReviewSection returns the section reviewed after entering stage.
func (t *Table) ReviewSection(stage domain.Stage) (int, bool) {
	s, ok := t.stage(stage)
	if !ok || s.ReviewSection == 0 {
		return 0, false
	}
	return s.ReviewSection, true
}

// Label is the display name of a stage.
func (t *Table) Label(stage domain.Stage) string {
	if s, ok := t.stage(stage); ok {
		return s.Label
	}
	return string(stage)
}

// Instruction renders the prompt of edge. Silent edges render to "".
func (t *Table) Instruction(edge Edge, data PromptData) (string, error) {
	if edge.Silent() {
		return "", nil
	}
	if data.Section == 0 {
		data.Section = edge.ReviewSection
	}
	return t.lib.render(edge.Prompt, data)
}

// SystemInstruction renders the system prompt, or "" when none is defined.
func (t *Table) SystemInstruction(data PromptData) (string, error) {
	if t.lib.def.SystemPrompt == "" {
		return "", nil
	}
	return t.lib.render(t.lib.def.SystemPrompt, data)
}

// ReviseInstruction renders the rewrite request for one section.
func (t *Table) ReviseInstruction(data PromptData) (string, error) {
	return t.lib.render(t.lib.def.RevisePrompt, data)
}

// FeedbackInstruction renders the outline rewrite request.
func (t *Table) FeedbackInstruction(data PromptData) (string, error) {
	return t.lib.render(t.lib.def.FeedbackPrompt, data)
}

func (l *Library) render(name string, data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := l.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("workflow: render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
