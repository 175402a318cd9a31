package script

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSkipsMalformedLines(t *testing.T) {
	raw := []byte(`{"character": "bob", "greetings": ["Yeah?", "Who's this?"]}
not json at all

{"greetings": ["orphan"]}
{"character": "Niki", "closing": ["Bye!"], "observation": "should be a list"}
`)

	lib, skipped := Parse(raw, "lines.jsonl")

	lines, err := lib.Lines("bob", "greetings")
	require.NoError(t, err)
	assert.Equal(t, []string{"Yeah?", "Who's this?"}, lines)

	lines, err = lib.Lines("NIKI", "closing")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bye!"}, lines)

	require.Len(t, skipped, 3)
	for _, err := range skipped {
		assert.ErrorIs(t, err, ErrConfiguration)
	}

	var cfgErr *ConfigurationError
	require.True(t, errors.As(skipped[0], &cfgErr))
	assert.Equal(t, 2, cfgErr.Line)
}

func TestLinesMissingCategoryFailsClearly(t *testing.T) {
	lib := NewLibrary([]Entry{{Character: "ross", Category: "greetings", Lines: []string{"Hello there"}}, {Character: "ross", Category: "closing"}})

	_, err := lib.Lines("ross", "work_resistance")
	var missing *MissingCategoryError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "ross", missing.Character)
	assert.Equal(t, "work_resistance", missing.Category)

	_, err = lib.Lines("ross", "closing")
	assert.ErrorIs(t, err, ErrMissingCategory, "an empty category is treated as missing")

	_, err = lib.Lines("ghost", "greetings")
	assert.ErrorIs(t, err, ErrMissingCategory)
}

func TestLinesReturnsCopy(t *testing.T) {
	lib := NewLibrary([]Entry{{Character: "bob", Category: "closing", Lines: []string{"Bye."}}})

	lines, err := lib.Lines("bob", "closing")
	require.NoError(t, err)
	lines[0] = "mutated"

	again, _ := lib.Lines("bob", "closing")
	assert.Equal(t, "Bye.", again[0])
}

func TestLoadDefaultHasPlannedCategories(t *testing.T) {
	lib, skipped := LoadDefault()
	assert.Empty(t, skipped)

	want := map[string][]string{
		"bob":      {"greetings", "response_to_operator_greetings", "work_resistance", "decision_point", "minimal_engagement", "progression", "final_refusal", "closing"},
		"niki":     {"greetings", "response_to_operator_greetings", "progression", "observation", "observation_2", "observations", "closing"},
		"lindsay":  {"greetings", "response_to_operator_greetings", "children", "parents", "observations", "progression", "closing"},
		"ross":     {"greetings", "response_to_operator_greetings", "progression", "closing"},
		"michelle": {"greetings", "response_to_operator_greetings", "resistance", "progression", "refuse_assistance", "closing"},
		"operator": {"greetings", "emphasize_danger", "emphasize_value_of_life", "progression", "closing"},
		"julie":    {"greetings", "emphasize_danger", "progression", "closing", "general"},
	}
	for character, categories := range want {
		for _, category := range categories {
			assert.True(t, lib.Has(character, category), "%s/%s", character, category)
		}
	}
	assert.Contains(t, lib.Characters(), "julie")
	assert.Equal(t, []string{"closing", "greetings", "progression", "response_to_operator_greetings"}, lib.Categories("ross"))
}
