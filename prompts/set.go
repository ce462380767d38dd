package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

//go:embed defaults/*.md
var defaultFS embed.FS

// Set is a collection of templates keyed by name. It is safe for concurrent
// use.
type Set struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewSet creates a set holding ts. Later templates replace earlier ones with
// the same name.
func NewSet(ts ...*Template) *Set {
	s := &Set{templates: make(map[string]*Template, len(ts))}
	for _, t := range ts {
		s.templates[t.Name] = t
	}
	return s
}

// Defaults returns the built-in templates.
func Defaults() (*Set, error) {
	sub, err := fs.Sub(defaultFS, "defaults")
	if err != nil {
		return nil, err
	}
	return LoadFS(sub)
}

// LoadFS loads every "**/*.md" file in fsys.
func LoadFS(fsys fs.FS) (*Set, error) {
	matches, err := doublestar.Glob(fsys, "**/*.md")
	if err != nil {
		return nil, fmt.Errorf("listing prompt templates: %w", err)
	}
	slices.Sort(matches)

	s := NewSet()
	for _, name := range matches {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading prompt %s: %w", name, err)
		}
		t, err := Parse(name, data)
		if err != nil {
			return nil, err
		}
		if prev, ok := s.templates[t.Name]; ok {
			return nil, fmt.Errorf("prompt %q defined in both %s and %s", t.Name, prev.FilePath, name)
		}
		s.templates[t.Name] = t
	}
	return s, nil
}

// LoadDir loads user templates from dir.
func LoadDir(dir string) (*Set, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("accessing prompt directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("prompt path must be a directory: %s", dir)
	}
	return LoadFS(os.DirFS(dir))
}

// Overlay returns a new set with the templates of s replaced or extended by
// those of other.
func (s *Set) Overlay(other *Set) *Set {
	out := NewSet()
	s.mu.RLock()
	maps.Copy(out.templates, s.templates)
	s.mu.RUnlock()

	if other != nil {
		other.mu.RLock()
		maps.Copy(out.templates, other.templates)
		other.mu.RUnlock()
	}
	return out
}

// Get returns the template called name.
func (s *Set) Get(name string) (*Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[name]
	return t, ok
}

// Names returns the template names in sorted order.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.templates))
}

// Render executes the template called name against data.
func (s *Set) Render(name string, data any) (*Rendered, error) {
	t, ok := s.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	return t.Render(data)
}
