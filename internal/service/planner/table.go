package planner

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/evacsim/backend/internal/service/probe"
)

// Stage 是由消息条数推出的对话阶段。
type Stage int

const (
	StageGreeting Stage = iota + 1 // count == 1
	StageOpening                   // count == 3
	StageMiddle                    // count == 5
	StageFinal                     // count == 7
	StageFallback                  // any other count
)

// StageOf maps a message count onto a stage.
func StageOf(count int) Stage {
	switch count {
	case 1:
		return StageGreeting
	case 3:
		return StageOpening
	case 5:
		return StageMiddle
	case 7:
		return StageFinal
	default:
		return StageFallback
	}
}

func (s Stage) String() string {
	switch s {
	case StageGreeting:
		return "greeting"
	case StageOpening:
		return "opening"
	case StageMiddle:
		return "middle"
	case StageFinal:
		return "final"
	default:
		return "fallback"
	}
}

// Flag 是一个语义布尔信号。
type Flag string

const (
	FlagDanger            Flag = "danger"
	FlagDangerHistory     Flag = "danger_history"
	FlagValueOfLife       Flag = "value_of_life"
	FlagFire              Flag = "fire"
	FlagFireHistory       Flag = "fire_history"
	FlagKeepAsking        Flag = "keep_asking"
	FlagEnding            Flag = "ending"
	FlagChildren          Flag = "children"
	FlagParents           Flag = "parents"
	FlagEngagement        Flag = "engagement"
	FlagEngagementHistory Flag = "engagement_history"
)

// Flags holds evaluated flags. Missing entries are false.
type Flags map[Flag]bool

// Rule 是决策表中的一行。When 为空表示无条件命中，否则任一 flag 为真即命中。
type Rule struct {
	Stage       Stage
	When        []Flag
	Category    string
	Instruction string
}

func (r Rule) matches(flags Flags) bool {
	if len(r.When) == 0 {
		return true
	}
	for _, f := range r.When {
		if flags[f] {
			return true
		}
	}
	return false
}

// Table is one character's decision table. Rules are tried in order.
type Table struct {
	Character Character
	Rules     []Rule
	Checks    []FlagCheck
	// WithoutExamples 表示该角色没有示例台词，指令中不嵌入 examples。
	WithoutExamples bool
}

// Select 是 (count, flags) 的纯函数。
func (t *Table) Select(count int, flags Flags) (Rule, error) {
	stage := StageOf(count)
	for _, r := range t.Rules {
		if r.Stage == stage && r.matches(flags) {
			return r, nil
		}
	}
	return Rule{}, fmt.Errorf("table %s has no rule for stage %s", t.Character, stage)
}

// Categories returns every category the table can select, in first-seen order.
func (t *Table) Categories() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range t.Rules {
		if _, ok := seen[r.Category]; ok {
			continue
		}
		seen[r.Category] = struct{}{}
		out = append(out, r.Category)
	}
	return out
}

// flagsFor returns the flags the rules of stage consult.
func (t *Table) flagsFor(stage Stage) map[Flag]struct{} {
	needed := make(map[Flag]struct{})
	for _, r := range t.Rules {
		if r.Stage != stage {
			continue
		}
		for _, f := range r.When {
			needed[f] = struct{}{}
		}
	}
	return needed
}

// Scope 指定 flag 的取值范围。
type Scope int

const (
	// ScopeLastMessage evaluates the message that opened this turn.
	ScopeLastMessage Scope = iota
	// ScopeHistory evaluates the whole bounded history as one text.
	ScopeHistory
	// ScopeEachLine evaluates history lines one by one until the first yes.
	ScopeEachLine
)

// FlagCheck describes how one flag is evaluated for a character. A check
// uses Probe when set, otherwise Keyword; ScopeEachLine requires Probe.
type FlagCheck struct {
	Flag    Flag
	Probe   probe.Kind
	Keyword func(text string) bool
	Scope   Scope

	// ScopeEachLine 时的过滤：从第 FromLine 行（1 起）开始，只看 LineSpeaker 说的话。
	FromLine    int
	LineSpeaker string

	// 门控：消息数需大于 MinCount，且 OperatorOnly 时本轮发言者需为 Operator。
	MinCount     int
	OperatorOnly bool
}

func (c FlagCheck) gated(count int, speaker string) bool {
	if count <= c.MinCount {
		return false
	}
	if c.OperatorOnly && !strings.EqualFold(strings.TrimSpace(speaker), "operator") {
		return false
	}
	return true
}

func (c FlagCheck) lineFilter() func(line string) bool {
	if c.FromLine <= 1 && c.LineSpeaker == "" {
		return nil
	}
	index := 0
	return func(line string) bool {
		index++
		if index < c.FromLine {
			return false
		}
		if c.LineSpeaker == "" {
			return true
		}
		speaker, _, ok := strings.Cut(line, ":")
		return ok && strings.EqualFold(strings.TrimSpace(speaker), c.LineSpeaker)
	}
}

func renderInstruction(tmpl, name, category, examples string) string {
	return strings.NewReplacer("{name}", name, "{category}", category, "{examples}", examples).Replace(tmpl)
}
