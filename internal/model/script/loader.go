package script

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/zhouzirui/evacsim/backend/data"
)

const characterKey = "character"

// LoadFile reads a JSONL script file.
func LoadFile(path string) (*Library, []error, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read script file: %w", err)
	}
	lib, skipped := Parse(raw, path)
	return lib, skipped, nil
}

// LoadDefault 解析内置的示例台词。
func LoadDefault() (*Library, []error) {
	return Parse(data.CharacterLines, "embedded character_lines.jsonl")
}

// Parse 逐行解析 JSONL：每行一个对象，"character" 为角色名，其余键为类别 -> 台词数组。
// 格式错误的行或类别被跳过，并以 ConfigurationError 返回，不会中断加载。
func Parse(raw []byte, source string) (*Library, []error) {
	var (
		entries []Entry
		skipped []error
	)

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			skipped = append(skipped, &ConfigurationError{Source: source, Line: lineNo, Reason: fmt.Sprintf("invalid json: %v", err)})
			continue
		}

		var character string
		if rawName, ok := obj[characterKey]; !ok || json.Unmarshal(rawName, &character) != nil || strings.TrimSpace(character) == "" {
			skipped = append(skipped, &ConfigurationError{Source: source, Line: lineNo, Reason: "missing character name"})
			continue
		}

		for category, rawLines := range obj {
			if category == characterKey {
				continue
			}
			var lines []string
			if err := json.Unmarshal(rawLines, &lines); err != nil {
				skipped = append(skipped, &ConfigurationError{
					Source:    source,
					Line:      lineNo,
					Character: character,
					Reason:    fmt.Sprintf("category %q is not a list of strings", category),
				})
				continue
			}
			entries = append(entries, Entry{Character: character, Category: category, Lines: lines})
		}
	}
	if err := scanner.Err(); err != nil {
		skipped = append(skipped, &ConfigurationError{Source: source, Line: lineNo + 1, Reason: err.Error()})
	}

	return NewLibrary(entries), skipped
}
