package persona

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreFindIsCaseInsensitive(t *testing.T) {
	store := NewMemoryStore(Seed())

	p, ok := store.FindByID("Bob")
	require.True(t, ok)
	assert.Equal(t, "bob", p.Name)

	_, ok = store.FindByID("nobody")
	assert.False(t, ok)
}

func TestMemoryStoreListIsSortedCopy(t *testing.T) {
	store := NewMemoryStore([]Persona{{Name: "Ross", Description: "r"}, {Name: "bob", Description: "b"}})

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, "bob", list[0].Name)
	assert.Equal(t, "ross", list[1].Name)

	list[0].Description = "changed"
	again, _ := store.FindByID("bob")
	assert.Equal(t, "b", again.Description)
}

func TestParseJSONSkipsEmptyEntries(t *testing.T) {
	raw := []byte(`{"Bob": "works too much", "ghost": "  "}`)

	items, skipped, err := Parse(raw, "json", "persona.json")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "bob", items[0].Name)

	require.Len(t, skipped, 1)
	var cfgErr *ConfigurationError
	require.True(t, errors.As(skipped[0], &cfgErr))
	assert.Equal(t, "ghost", cfgErr.Character)
	assert.True(t, errors.Is(skipped[0], ErrConfiguration))
}

func TestParseYAMLRejectsNonStringDescriptions(t *testing.T) {
	raw := []byte("niki: nurse\nross:\n  - not\n  - text\n")

	items, skipped, err := Parse(raw, "yaml", "persona.yaml")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "niki", items[0].Name)
	assert.Len(t, skipped, 1)
}

func TestParseMalformedDocument(t *testing.T) {
	_, _, err := Parse([]byte("{not json"), "json", "persona.json")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestLoadFileByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persona.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"michelle": "stays every year"}`), 0o600))

	items, skipped, err := LoadFile(path)
	require.NoError(t, err)
	assert.Empty(t, skipped)
	assert.Equal(t, []Persona{{Name: "michelle", Description: "stays every year"}}, items)
}

func TestLoadDefaultCoversAllTownPeople(t *testing.T) {
	items, skipped, err := LoadDefault()
	require.NoError(t, err)
	assert.Empty(t, skipped)

	store := NewMemoryStore(items)
	for _, name := range []string{"bob", "niki", "lindsay", "ross", "michelle", "mary", "ben", "ana", "tom", "mia"} {
		_, ok := store.FindByID(name)
		assert.True(t, ok, name)
	}
}
