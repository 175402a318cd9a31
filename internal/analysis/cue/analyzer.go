// Package cue 提供基于关键词的轻量判断，不调用大模型。
// 用于 "是否结束对话" "是否还在提问" 这类便宜且稳定的信号，
// 也作为大模型探针不可用时的兜底。
package cue

import (
	"sort"
	"strings"
)

// Signal 表示一种可从文本中识别的语义信号。
type Signal string

const (
	Danger      Signal = "danger"
	ValueOfLife Signal = "value_of_life"
	Fire        Signal = "fire"
	Children    Signal = "children"
	Parents     Signal = "parents"
	Engagement  Signal = "engagement"
	Ending      Signal = "ending"
	Evacuating  Signal = "evacuating"
)

// EndingKeywords 出现任意一个即视为对话在收尾。
var EndingKeywords = []string{"fine", "alright", "sure", "ok", "sounds good", "thank", "thanks", "bye", "goodbye", "see you"}

var keywordBuckets = map[Signal][]string{
	Danger: {
		"danger", "dangerous", "spreading", "moving toward", "coming toward", "getting worse", "risk", "mandatory",
		"life-threatening", "within the hour", "very close", "right behind", "trapped", "cut off", "out of control",
	},
	ValueOfLife: {
		"your life", "worth your life", "worth dying", "can be replaced", "can't be replaced", "replaceable",
		"nothing is worth", "your family", "your safety", "stay alive", "lose you", "people who love you",
	},
	Fire: {"fire", "wildfire", "smoke", "flame", "flames", "burning", "blaze", "embers", "ash"},
	Children: {"kid", "kids", "child", "children", "son", "daughter", "baby", "little ones", "emma", "jake"},
	Parents: {"parent", "parents", "mom", "dad", "mother", "father", "their family"},
	Engagement: {
		"i would leave", "i'd leave", "i would go", "i'd go", "i would evacuate", "i'd evacuate", "yes, i would",
		"i would get out", "i'd get out", "in your shoes",
	},
	Ending: EndingKeywords,
	Evacuating: {
		"i'm leaving", "i am leaving", "i'll leave", "i'll go", "i'm going", "head out", "heading out", "grab my",
		"get the kids in the car", "we're leaving", "i'll pack", "pick me up", "i'll be ready", "i'll come along",
		"evacuate now", "agree to evacuate",
	},
}

var evacuationRefusals = []string{
	"not leaving", "won't leave", "i'm staying", "i am staying", "not going anywhere", "refuse", "stop calling",
	"i'm not going", "no thank you", "this is my home",
}

// Result 是一段文本中各信号的得分。
type Result struct {
	Scores map[Signal]int
}

// Has reports whether the signal scored above zero.
func (r Result) Has(s Signal) bool {
	return r.Scores[s] > 0
}

// Signals returns the detected signals in a stable order.
func (r Result) Signals() []Signal {
	out := make([]Signal, 0, len(r.Scores))
	for s, score := range r.Scores {
		if score > 0 {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Analyze scores every signal bucket against text.
func Analyze(text string) Result {
	normalized := strings.ToLower(strings.TrimSpace(text))
	scores := make(map[Signal]int)
	if normalized == "" {
		return Result{Scores: scores}
	}

	words := tokenize(normalized)
	for signal, keywords := range keywordBuckets {
		for _, kw := range keywords {
			if matches(normalized, words, kw) {
				scores[signal]++
			}
		}
	}

	for _, kw := range evacuationRefusals {
		if strings.Contains(normalized, kw) {
			scores[Evacuating] -= 2
		}
	}
	return Result{Scores: scores}
}

// Detect 判断文本是否包含某个信号。
func Detect(text string, s Signal) bool {
	return Analyze(text).Has(s)
}

// HasEndingKeyword 是交互模式中使用的收尾关键词判断。
func HasEndingKeyword(text string) bool {
	return Detect(text, Ending)
}

// IsQuestion reports whether the text contains a literal question mark.
func IsQuestion(text string) bool {
	return strings.Contains(text, "?")
}

// 单词关键词按整词匹配，避免 "ok" 命中 "smoke"；短语按子串匹配。
func matches(normalized string, words map[string]struct{}, kw string) bool {
	if strings.Contains(kw, " ") || strings.Contains(kw, "'") || strings.Contains(kw, "-") {
		return strings.Contains(normalized, kw)
	}
	if _, ok := words[kw]; ok {
		return true
	}
	// "thank" 需要命中 "thanks"/"thankful" 这类前缀词。
	if kw == "thank" {
		return strings.Contains(normalized, kw)
	}
	return false
}

func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'')
	})
	words := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		words[f] = struct{}{}
	}
	return words
}
