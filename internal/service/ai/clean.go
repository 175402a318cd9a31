package ai

import (
	"regexp"
	"strings"
)

var (
	thinkBlock   = regexp.MustCompile(`(?is)<think>.*?</think>`)
	// 说话人前缀只认单个名字/角色词，或完整的 "Fire Department Agent"；
	// 冒号后必须是空白或结尾，"5:30" 这类时间不会被截断。
	speakerLabel = regexp.MustCompile(`^(?:(?i:fire department agent)|\p{L}[\p{L}.'-]*):(?:\s+|$)`)
	roleLabel    = regexp.MustCompile(`(?i)\b(?:agent|operator):\s*`)
)

// Clean 去掉模型输出里的思考片段和说话人前缀。
// 反复执行直到结果不再变化，所以 Clean(Clean(x)) == Clean(x)。
func Clean(raw string) string {
	text := raw
	for {
		next := cleanOnce(text)
		if next == text {
			return next
		}
		text = next
	}
}

// StripThinking 只去掉 <think> 片段，保留其余文本原样。
func StripThinking(raw string) string {
	text := thinkBlock.ReplaceAllString(raw, "")
	if i := strings.LastIndex(strings.ToLower(text), "</think>"); i >= 0 {
		text = text[i+len("</think>"):]
	}
	if i := strings.Index(strings.ToLower(text), "<think>"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

func cleanOnce(text string) string {
	text = StripThinking(text)
	text = speakerLabel.ReplaceAllString(text, "")
	text = roleLabel.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if len(text) >= 2 {
		first, last := text[0], text[len(text)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			text = text[1 : len(text)-1]
		}
	}
	return strings.TrimSpace(text)
}
