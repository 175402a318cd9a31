// Package planner 根据消息条数与语义 flag 决定每一轮使用的台词类别，
// 并生成嵌入示例台词的指令。
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zhouzirui/evacsim/backend/internal/model/chat"
	"github.com/zhouzirui/evacsim/backend/internal/model/script"
	"github.com/zhouzirui/evacsim/backend/internal/service/probe"
)

// Prober evaluates yes/no probes. *probe.Service satisfies it.
type Prober interface {
	Check(ctx context.Context, kind probe.Kind, text string) (bool, error)
	CheckAny(ctx context.Context, kind probe.Kind, lines []string, filter func(line string) bool) (bool, error)
}

// PlanInput 是一轮规划所需的输入。History 已包含本轮用户输入。
type PlanInput struct {
	Character   Character
	History     string
	LastMessage string
	Speaker     string
}

// Decision is the planned turn. It is never persisted.
type Decision struct {
	Character   Character
	Count       int
	Stage       Stage
	Category    string
	Instruction string
	Examples    []string
	Flags       Flags
}

// Planner selects categories from per-character tables.
type Planner struct {
	tables  map[Character]*Table
	library *script.Library
	prober  Prober
	logger  *slog.Logger
}

// New creates a planner with the default tables.
func New(library *script.Library, prober Prober, logger *slog.Logger) *Planner {
	if library == nil {
		library = script.NewLibrary(nil)
	}
	if prober == nil {
		prober = probe.NewService(nil, probe.Config{}, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		tables:  DefaultTables(),
		library: library,
		prober:  prober,
		logger:  logger,
	}
}

// Register 为角色注册或替换决策表。
func (p *Planner) Register(t *Table) {
	p.tables[t.Character] = t
}

// Table returns the table registered for c.
func (p *Planner) Table(c Character) (*Table, bool) {
	t, ok := p.tables[c]
	return t, ok
}

// Plan 计算消息数、按需求值 flag、选出规则并渲染指令。
func (p *Planner) Plan(ctx context.Context, in PlanInput) (Decision, error) {
	table, ok := p.tables[in.Character]
	if !ok {
		return Decision{}, fmt.Errorf("%w: no table for %q", ErrUnknownCharacter, in.Character)
	}

	count := chat.CountLines(in.History)
	flags, err := p.evaluate(ctx, table, in, count)
	if err != nil {
		return Decision{}, err
	}

	rule, err := table.Select(count, flags)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		Character: in.Character,
		Count:     count,
		Stage:     StageOf(count),
		Category:  rule.Category,
		Flags:     flags,
	}
	if table.WithoutExamples {
		decision.Instruction = renderInstruction(rule.Instruction, in.Character.DisplayName(), rule.Category, "")
		return decision, nil
	}

	examples, err := p.library.Lines(string(in.Character), rule.Category)
	if err != nil {
		return Decision{}, err
	}
	decision.Examples = examples
	decision.Instruction = renderInstruction(rule.Instruction, in.Character.DisplayName(), rule.Category, formatExamples(examples))

	p.logger.DebugContext(ctx, "planned turn",
		"character", in.Character, "count", count, "stage", decision.Stage.String(), "category", rule.Category)
	return decision, nil
}

// evaluate 只求值当前阶段规则会用到的 flag。
func (p *Planner) evaluate(ctx context.Context, table *Table, in PlanInput, count int) (Flags, error) {
	flags := make(Flags)
	needed := table.flagsFor(StageOf(count))
	if len(needed) == 0 {
		return flags, nil
	}

	for _, check := range table.Checks {
		if _, ok := needed[check.Flag]; !ok {
			continue
		}
		if !check.gated(count, in.Speaker) {
			continue
		}
		value, err := p.runCheck(ctx, check, in)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", check.Flag, err)
		}
		flags[check.Flag] = flags[check.Flag] || value
	}
	return flags, nil
}

func (p *Planner) runCheck(ctx context.Context, check FlagCheck, in PlanInput) (bool, error) {
	switch check.Scope {
	case ScopeEachLine:
		return p.prober.CheckAny(ctx, check.Probe, chat.SplitLines(in.History), check.lineFilter())
	default:
		text := in.LastMessage
		if check.Scope == ScopeHistory {
			text = in.History
		}
		if strings.TrimSpace(text) == "" {
			return false, nil
		}
		if check.Probe == "" {
			return check.Keyword(strings.ToLower(text)), nil
		}
		return p.prober.Check(ctx, check.Probe, text)
	}
}

func formatExamples(lines []string) string {
	raw, err := json.Marshal(lines)
	if err != nil {
		return strings.Join(lines, " | ")
	}
	return string(raw)
}

// Categories 返回角色决策表可能选出的全部类别。
func (p *Planner) Categories(c Character) []string {
	if t, ok := p.tables[c]; ok {
		return t.Categories()
	}
	return nil
}

// Validate reports every category a table can select that the library
// lacks. Tables without examples are skipped.
func (p *Planner) Validate() []error {
	var errs []error
	for _, c := range TownPeople() {
		t, ok := p.tables[c]
		if !ok || t.WithoutExamples {
			continue
		}
		for _, category := range t.Categories() {
			if _, err := p.library.Lines(string(c), category); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}
