package planner

import (
	"errors"
	"fmt"

	"github.com/zhouzirui/evacsim/backend/internal/model/script"
)

// ErrConversationEnded 表示自动 Julie 模式已达到消息上限。
var ErrConversationEnded = errors.New("conversation has ended")

// AgentFallbackCategory is used when Julie's planned category has no lines.
const AgentFallbackCategory = "general"

const (
	agentInstruction        = "Generate a message to respond {name}. Use or adapt lines from this category: {category}: {examples}."
	agentClosingInstruction = "This conversation is now ending. Generate ONLY a brief goodbye message to {name} that clearly ends the conversation. " +
		"Choose from these closing lines: {examples}. Do not ask any questions or continue the conversation."
	replyInstruction        = "Generate a response to Julie's persuasive message. Use or adapt lines from this {category}: {examples}."
	genericReplyInstruction = "Generate a response to Julie's persuasive message."
)

var persuasionFocus = map[Character]string{
	Bob:      "Focus on how his work can be continued later or recovered, but his life cannot be replaced.",
	Niki:     "Explain the fire danger clearly and directly to address her confusion and uncertainty.",
	Lindsay:  "Emphasize the safety of her family and children, offer specific help with evacuating them.",
	Ross:     "Use logical arguments about the fire's trajectory and timing to appeal to his practical nature.",
	Michelle: "Be respectful of her independence, provide factual information about the fire rather than giving commands.",
}

const defaultPersuasionFocus = "Emphasize the imminent danger and the need to evacuate immediately."

// PersuasionFocus returns the angle Julie takes with a town person.
func PersuasionFocus(c Character) string {
	if focus, ok := persuasionFocus[c]; ok {
		return focus
	}
	return defaultPersuasionFocus
}

// AgentCategory 按消息数选择 Julie 的类别。超过 9 条时返回 ErrConversationEnded。
func AgentCategory(target Character, count int) (string, error) {
	switch {
	case count <= 1:
		return "greetings", nil
	case count <= 5:
		if target == Bob || target == Michelle {
			return "emphasize_danger", nil
		}
		return "progression", nil
	case count <= 7:
		return "progression", nil
	case count <= 9:
		return "closing", nil
	default:
		return "", ErrConversationEnded
	}
}

// ReplyCategory 是自动 Julie 模式下居民回应 Julie 时使用的类别。
func ReplyCategory(c Character, count int) string {
	if count <= 2 {
		return "greetings"
	}
	if count <= 5 {
		switch c {
		case Bob:
			return "work_resistance"
		case Niki, Lindsay:
			return "observations"
		default:
			return "response_to_operator_greetings"
		}
	}
	switch c {
	case Bob:
		return "minimal_engagement"
	case Michelle:
		return "refuse_assistance"
	default:
		return "progression"
	}
}

// PlanAgent plans Julie's line towards target when count messages exist.
// A category without lines falls back to AgentFallbackCategory.
func (p *Planner) PlanAgent(target Character, count int) (Decision, error) {
	category, err := AgentCategory(target, count)
	if err != nil {
		return Decision{}, err
	}

	examples, err := p.library.Lines(string(Julie), category)
	if errors.Is(err, script.ErrMissingCategory) {
		p.logger.Warn("agent category missing, using fallback", "category", category, "fallback", AgentFallbackCategory)
		category = AgentFallbackCategory
		examples, err = p.library.Lines(string(Julie), category)
	}
	if err != nil {
		return Decision{}, err
	}

	tmpl := agentInstruction
	if category == "closing" {
		tmpl = agentClosingInstruction
	}
	instruction := renderInstruction(tmpl, target.DisplayName(), category, formatExamples(examples)) + " " + PersuasionFocus(target)

	return Decision{
		Character:   Julie,
		Count:       count,
		Stage:       StageOf(count),
		Category:    category,
		Instruction: instruction,
		Examples:    examples,
	}, nil
}

// PlanReply plans the town person's answer to Julie in auto-agent mode.
func (p *Planner) PlanReply(c Character, count int) (Decision, error) {
	table, ok := p.tables[c]
	if !ok {
		return Decision{}, fmt.Errorf("%w: no table for %q", ErrUnknownCharacter, c)
	}

	category := ReplyCategory(c, count)
	decision := Decision{Character: c, Count: count, Stage: StageOf(count), Category: category}
	if table.WithoutExamples {
		decision.Instruction = genericReplyInstruction
		return decision, nil
	}

	examples, err := p.library.Lines(string(c), category)
	if err != nil {
		return Decision{}, err
	}
	decision.Examples = examples
	decision.Instruction = renderInstruction(replyInstruction, c.DisplayName(), category, formatExamples(examples))
	return decision, nil
}
