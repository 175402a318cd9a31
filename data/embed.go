// Package data 内置默认的角色背景与示例台词。
package data

import _ "embed"

// Personas 默认角色背景 (YAML)。
//
//go:embed persona.yaml
var Personas []byte

// CharacterLines 默认示例台词 (JSONL, 每行一个角色)。
//
//go:embed character_lines.jsonl
var CharacterLines []byte
