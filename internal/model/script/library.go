// Package script 保存每个角色按类别划分的示例台词，作为提示词中的风格锚点。
package script

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrConfiguration marks script entries that could not be loaded.
	ErrConfiguration = errors.New("configuration error")
	// ErrMissingCategory is returned when a category has no lines for a character.
	ErrMissingCategory = errors.New("missing category")
)

// Entry 是某个角色某一类别下的有序示例台词。
type Entry struct {
	Character string
	Category  string
	Lines     []string
}

// ConfigurationError 描述台词文件中被跳过的一行或一个类别。
type ConfigurationError struct {
	Source    string
	Line      int
	Character string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	if e.Character == "" {
		return fmt.Sprintf("%s:%d: %s", e.Source, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s:%d: character %q: %s", e.Source, e.Line, e.Character, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// MissingCategoryError 表示请求的类别在该角色下不存在或为空。
type MissingCategoryError struct {
	Character string
	Category  string
}

func (e *MissingCategoryError) Error() string {
	return fmt.Sprintf("no %q lines for character %q", e.Category, e.Character)
}

func (e *MissingCategoryError) Unwrap() error { return ErrMissingCategory }

// Library is read-only after construction and safe for concurrent use.
type Library struct {
	lines map[string]map[string][]string
}

// NewLibrary builds a library from entries. Entries for the same character
// and category are concatenated in order.
func NewLibrary(entries []Entry) *Library {
	lib := &Library{lines: make(map[string]map[string][]string)}
	for _, e := range entries {
		lib.add(e)
	}
	return lib
}

func (l *Library) add(e Entry) {
	character := normalize(e.Character)
	category := strings.TrimSpace(e.Category)
	if character == "" || category == "" {
		return
	}
	byCategory, ok := l.lines[character]
	if !ok {
		byCategory = make(map[string][]string)
		l.lines[character] = byCategory
	}
	byCategory[category] = append(byCategory[category], e.Lines...)
}

// Lines returns a copy of the example lines. An absent or empty category is
// a *MissingCategoryError, never an empty slice.
func (l *Library) Lines(character, category string) ([]string, error) {
	lines := l.lines[normalize(character)][category]
	if len(lines) == 0 {
		return nil, &MissingCategoryError{Character: normalize(character), Category: category}
	}
	return append([]string(nil), lines...), nil
}

// Has reports whether the character has at least one line in category.
func (l *Library) Has(character, category string) bool {
	return len(l.lines[normalize(character)][category]) > 0
}

// Characters lists known characters in sorted order.
func (l *Library) Characters() []string {
	out := make([]string, 0, len(l.lines))
	for name := range l.lines {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Categories lists the categories defined for a character in sorted order.
func (l *Library) Categories(character string) []string {
	byCategory := l.lines[normalize(character)]
	out := make([]string, 0, len(byCategory))
	for name := range byCategory {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
