// Package storycontext builds the codex, scene and outline context that is
// injected into generation prompts.
package storycontext

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNotFound is returned by a Store when a scene does not exist.
var ErrNotFound = errors.New("not found")

// EntryType classifies a codex entry.
type EntryType string

const (
	EntryCharacter EntryType = "character"
	EntryLocation  EntryType = "location"
	EntryItem      EntryType = "item"
	EntryLore      EntryType = "lore"
	EntrySubplot   EntryType = "subplot"
	EntryOther     EntryType = "other"
)

// Entry is one codex (world-building) entry.
type Entry struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Type        EntryType `json:"type" yaml:"type"`
	Aliases     []string  `json:"aliases,omitempty" yaml:"aliases"`
	Description string    `json:"description" yaml:"description"`
	Tags        []string  `json:"tags,omitempty" yaml:"tags"`
	// Scope is a glob over story paths the entry applies to, such as
	// "saga/**" or "saga/book-2". Empty means every story.
	Scope string `json:"scope,omitempty" yaml:"scope"`
	// AlwaysInclude ranks the entry ahead of relevance scoring.
	AlwaysInclude bool `json:"always_include,omitempty" yaml:"always_include"`
}

// Scene is a unit of story text.
type Scene struct {
	ID      string `json:"id" yaml:"id"`
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
	Summary string `json:"summary,omitempty" yaml:"summary"`
	// Path is the story path the scene belongs to, e.g. "saga/book-2".
	Path string `json:"path" yaml:"path"`
}

// Store is the read-only codex and story store. Reads are taken fresh at the
// start of every generation.
type Store interface {
	// Entries returns the entries that apply to the story path scope.
	Entries(ctx context.Context, scope string) ([]Entry, error)
	// Scene returns the scene with id, or ErrNotFound.
	Scene(ctx context.Context, id string) (Scene, error)
}

// MemoryStore is an in-memory Store. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	scenes  map[string]Scene
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scenes: make(map[string]Scene)}
}

// PutEntry adds or replaces the entry with the same ID.
func (s *MemoryStore) PutEntry(e Entry) error {
	if e.ID == "" {
		return errors.New("entry id is required")
	}
	if e.Scope != "" && !doublestar.ValidatePattern(e.Scope) {
		return fmt.Errorf("entry %s: invalid scope pattern %q", e.ID, e.Scope)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.IndexFunc(s.entries, func(x Entry) bool { return x.ID == e.ID }); i >= 0 {
		s.entries[i] = e
		return nil
	}
	s.entries = append(s.entries, e)
	return nil
}

// PutScene adds or replaces a scene.
func (s *MemoryStore) PutScene(sc Scene) error {
	if sc.ID == "" {
		return errors.New("scene id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenes[sc.ID] = sc
	return nil
}

// Entries returns the entries whose Scope matches scope, in insertion order.
func (s *MemoryStore) Entries(ctx context.Context, scope string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scope = strings.Trim(scope, "/")

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.entries {
		if e.Scope == "" {
			out = append(out, e)
			continue
		}
		ok, err := doublestar.Match(e.Scope, scope)
		if err != nil {
			return nil, fmt.Errorf("matching scope of entry %s: %w", e.ID, err)
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Scene returns the scene with id.
func (s *MemoryStore) Scene(ctx context.Context, id string) (Scene, error) {
	if err := ctx.Err(); err != nil {
		return Scene{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scenes[id]
	if !ok {
		return Scene{}, fmt.Errorf("scene %s: %w", id, ErrNotFound)
	}
	return sc, nil
}
