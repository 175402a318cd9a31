package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/evacsim/backend/data"
)

// LoadFile 读取角色背景文件。.json 按 JSON 解析，其余按 YAML 解析；
// 两种格式都是 "角色名 -> 背景描述" 的映射。
// 空描述的角色会被跳过，并以 ConfigurationError 形式返回。
func LoadFile(path string) ([]Persona, []error, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read persona file: %w", err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return Parse(raw, format, path)
}

// LoadDefault 解析内置的角色背景。
func LoadDefault() ([]Persona, []error, error) {
	return Parse(data.Personas, "yaml", "embedded persona.yaml")
}

// Parse decodes a name -> description mapping. The error return is reserved
// for documents that cannot be decoded at all.
func Parse(raw []byte, format, source string) ([]Persona, []error, error) {
	entries := make(map[string]string)

	switch format {
	case "json":
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, nil, &ConfigurationError{Source: source, Reason: err.Error()}
		}
	default:
		var node map[string]any
		if err := yaml.Unmarshal(raw, &node); err != nil {
			return nil, nil, &ConfigurationError{Source: source, Reason: err.Error()}
		}
		var skipped []error
		for name, value := range node {
			text, ok := value.(string)
			if !ok {
				skipped = append(skipped, &ConfigurationError{Source: source, Character: name, Reason: "description must be a string"})
				continue
			}
			entries[name] = text
		}
		items, more := collect(entries, source)
		return items, append(skipped, more...), nil
	}

	items, skipped := collect(entries, source)
	return items, skipped, nil
}

func collect(entries map[string]string, source string) ([]Persona, []error) {
	items := make([]Persona, 0, len(entries))
	var skipped []error
	for name, description := range entries {
		description = strings.TrimSpace(description)
		if normalize(name) == "" || description == "" {
			skipped = append(skipped, &ConfigurationError{Source: source, Character: name, Reason: "empty persona description"})
			continue
		}
		items = append(items, Persona{Name: normalize(name), Description: description})
	}
	return items, skipped
}
