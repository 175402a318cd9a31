package persona

import (
	"sort"
	"strings"
)

// Store exposes persona retrieval for HTTP handlers.
type Store interface {
	List() []Persona
	FindByID(name string) (Persona, bool)
}

// MemoryStore implements Store with an immutable in-memory index.
type MemoryStore struct {
	items []Persona
	index map[string]Persona
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
// Names are normalised to lower case; later duplicates win.
func NewMemoryStore(items []Persona) *MemoryStore {
	index := make(map[string]Persona, len(items))
	for _, item := range items {
		item.Name = normalize(item.Name)
		if item.Name == "" {
			continue
		}
		index[item.Name] = item
	}

	sorted := make([]Persona, 0, len(index))
	for _, item := range index {
		sorted = append(sorted, item)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	return &MemoryStore{items: sorted, index: index}
}

// List returns all personas ordered by name.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by name, case-insensitively.
func (s *MemoryStore) FindByID(name string) (Persona, bool) {
	p, ok := s.index[normalize(name)]
	return p, ok
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
