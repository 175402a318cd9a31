package chat

import (
	"strings"
	"time"
)

// Message 是会话中的一条发言，只追加不修改。
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Speaker   string    `json:"speaker"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Line renders the message the way prompts and history reads expect it.
func (m Message) Line() string {
	return m.Speaker + ": " + m.Content
}

// FormatHistory joins messages as "speaker: content" lines.
func FormatHistory(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	lines := make([]string, len(messages))
	for i, m := range messages {
		lines[i] = m.Line()
	}
	return strings.Join(lines, "\n")
}

// CountLines 返回历史文本中按换行分隔的条目数，空历史为 0。
// 轮次分支只依赖这个值，不单独存储计数。
func CountLines(history string) int {
	if history == "" {
		return 0
	}
	return strings.Count(history, "\n") + 1
}

// SplitLines is the inverse of FormatHistory for non-empty history.
func SplitLines(history string) []string {
	if history == "" {
		return nil
	}
	return strings.Split(history, "\n")
}
