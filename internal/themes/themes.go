package themes

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

//go:embed themes.yaml
var defaultFiles embed.FS

var ErrUnknownTheme = errors.New("unknown theme")

// Data is what a theme prompt may reference. Analysis is empty in plain mode.
type Data struct {
	Analysis string
	Movetext string
	Opening  string
	White    string
	Black    string
	Event    string
}

type Theme struct {
	Name   string `json:"name"`
	Title  string `json:"title"`
	prompt *template.Template
}

type themeFile struct {
	Themes map[string]struct {
		Title  string `yaml:"title"`
		Prompt string `yaml:"prompt"`
	} `yaml:"themes"`
}

// Table is the immutable set of narrative themes, keyed by exact name.
type Table struct {
	themes map[string]*Theme
}

// New loads the embedded themes and then applies overrides from dir if provided.
// Override files may add themes or replace embedded ones; a name defined by two override files is an error.
func New(overrideDir string) (*Table, error) {
	t := &Table{themes: make(map[string]*Theme)}

	raw, err := fs.ReadFile(defaultFiles, "themes.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded themes: %w", err)
	}
	parsed, err := parseThemes(raw)
	if err != nil {
		return nil, fmt.Errorf("parse embedded themes: %w", err)
	}
	for name, th := range parsed {
		t.themes[name] = th
	}

	if strings.TrimSpace(overrideDir) != "" {
		if err := t.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	if len(t.themes) == 0 {
		return nil, errors.New("no themes loaded")
	}
	return t, nil
}

func (t *Table) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read theme dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	seen := make(map[string]string) // theme -> filename
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		parsed, err := parseThemes(b)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for k := range parsed {
			if prev, ok := seen[k]; ok {
				return fmt.Errorf("duplicate theme %q in %s and %s", k, prev, name)
			}
			seen[k] = name
		}
		for k, th := range parsed {
			t.themes[k] = th
		}
	}
	return nil
}

func parseThemes(b []byte) (map[string]*Theme, error) {
	var f themeFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	out := make(map[string]*Theme, len(f.Themes))
	for name, entry := range f.Themes {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.New("theme without a name")
		}
		if strings.TrimSpace(entry.Prompt) == "" {
			return nil, fmt.Errorf("theme %s: empty prompt", name)
		}
		tpl, err := template.New(name).Option("missingkey=error").Parse(entry.Prompt)
		if err != nil {
			return nil, fmt.Errorf("theme %s: %w", name, err)
		}
		title := strings.TrimSpace(entry.Title)
		if title == "" {
			title = name
		}
		out[name] = &Theme{Name: name, Title: title, prompt: tpl}
	}
	return out, nil
}

// Names returns theme names in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.themes))
	for name := range t.themes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Table) Has(name string) bool {
	_, ok := t.themes[name]
	return ok
}

func (t *Table) Title(name string) (string, bool) {
	th, ok := t.themes[name]
	if !ok {
		return "", false
	}
	return th.Title, true
}

// List returns every theme sorted by name.
func (t *Table) List() []Theme {
	out := make([]Theme, 0, len(t.themes))
	for _, name := range t.Names() {
		out = append(out, *t.themes[name])
	}
	return out
}

// Render fills the named theme's prompt. Lookup is by exact name.
func (t *Table) Render(name string, data Data) (string, error) {
	th, ok := t.themes[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTheme, name)
	}
	var b strings.Builder
	if err := th.prompt.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render theme %s: %w", name, err)
	}
	return b.String(), nil
}
