// Package probe 用单轮大模型 yes/no 提问判断对话中的语义信号，
// 模型不可用或调用失败时回退到 cue 关键词规则。
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/zhouzirui/evacsim/backend/internal/analysis/cue"
	"github.com/zhouzirui/evacsim/backend/internal/service/ai"
)

// Kind 标识一种探针问题。
type Kind string

const (
	EmphasizeDanger      Kind = "emphasize_danger"
	EmphasizeValueOfLife Kind = "emphasize_value_of_life"
	MentionsFire         Kind = "mentions_fire"
	KeepAsking           Kind = "keep_asking_questions"
	EndingConversation   Kind = "ending_conversation"
	AsksAboutChildren    Kind = "asks_about_children"
	AsksAboutParents     Kind = "asks_about_parents"
	Engagement           Kind = "engagement"
)

const answerRule = "respond with 'yes', if not, respond with 'no', only respond with 'yes' or 'no'."

var questions = map[Kind]string{
	EmphasizeDanger:      "Based on the previous utterance %s, determine if this utterance is emphasizing danger. If so, " + answerRule,
	EmphasizeValueOfLife: "Based on the previous utterance %s, determine if this utterance is emphasizing the value of life. If so, " + answerRule,
	MentionsFire:         "Based on the previous utterance %s, determine if this utterance mentions fire. If so, " + answerRule,
	KeepAsking:           "Based on the previous utterance %s, determine if this utterance is asking about the fire conditions. If so, " + answerRule,
	EndingConversation: "Based on the previous conversation %s, determine if the last message is the end of the conversation, " +
		"for example, if the speaker says thanks or goodbye or something similar, it means the conversation is ending. " +
		"If the conversation is ending, " + answerRule,
	AsksAboutChildren: "Based on the previous utterance %s, determine if this utterance asks about children. If so, " + answerRule,
	AsksAboutParents:  "Based on the previous utterance %s, determine if this utterance asks about parents. If so, " + answerRule,
	Engagement: "Based on this utterance %s, determine if the operator expresses he would like to leave if he is in the situation. " +
		"If the operator expresses he would like to leave, " + answerRule,
}

const decisionQuestion = "Based on the previous conversation %s, determine if %s is leaving/going/being evacuated or not. " +
	"If %s is leaving/going/being evacuated, " + answerRule

// Kinds returns every supported probe kind.
func Kinds() []Kind {
	return []Kind{EmphasizeDanger, EmphasizeValueOfLife, MentionsFire, KeepAsking, EndingConversation, AsksAboutChildren, AsksAboutParents, Engagement}
}

// Question renders the yes/no question for kind over text.
func Question(kind Kind, text string) (string, error) {
	q, ok := questions[kind]
	if !ok {
		return "", fmt.Errorf("unknown probe kind %q", kind)
	}
	return fmt.Sprintf(q, text), nil
}

// ErrProbeParse 表示模型回答既不是明确的 yes 也不是 no。
var ErrProbeParse = errors.New("probe answer is neither yes nor no")

// ParseError carries the unparseable answer.
type ParseError struct {
	Answer string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %q", ErrProbeParse, e.Answer)
}

func (e *ParseError) Unwrap() error { return ErrProbeParse }

// ParseYesNo 只要回答中出现 "yes"（不区分大小写）即为 true。以 "no" 开头为 false；
// 其余情况同样视为 false，但返回 *ParseError 供调用方记录。只去掉 <think> 片段，
// 不剥离说话人前缀，"Yes: ..." 仍然算 yes。
func ParseYesNo(answer string) (bool, error) {
	text := strings.ToLower(ai.StripThinking(answer))
	if strings.Contains(text, "yes") {
		return true, nil
	}
	words := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(words) > 0 && words[0] == "no" {
		return false, nil
	}
	return false, &ParseError{Answer: answer}
}

// Generator is the part of ai.Service the probes need.
type Generator interface {
	Generate(ctx context.Context, tmpl ai.Template, vars map[string]any) (string, error)
}

// Config 控制探针是否调用大模型。
type Config struct {
	Enabled bool
}

// Service runs probes. The zero value and a nil generator both use the
// keyword fallback only.
type Service struct {
	gen     Generator
	enabled bool
	logger  *slog.Logger
}

// NewService creates a probe service. gen may be nil.
func NewService(gen Generator, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gen:     gen,
		enabled: cfg.Enabled && gen != nil,
		logger:  logger,
	}
}

// Enabled 返回是否使用大模型判断。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// Check asks one yes/no question about text.
func (s *Service) Check(ctx context.Context, kind Kind, text string) (bool, error) {
	question, err := Question(kind, text)
	if err != nil {
		return false, err
	}
	if !s.Enabled() {
		return fallback(kind, text), nil
	}
	return s.ask(ctx, string(kind), question, func() bool { return fallback(kind, text) })
}

// CheckAny 依次检查通过 filter 的行，遇到第一个 yes 即返回。filter 为 nil 时检查所有行。
func (s *Service) CheckAny(ctx context.Context, kind Kind, lines []string, filter func(line string) bool) (bool, error) {
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if filter != nil && !filter(line) {
			continue
		}
		ok, err := s.Check(ctx, kind, line)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Decision 是对 "该居民是否撤离" 的判断。
type Decision struct {
	Raw      string
	Evacuate bool
}

func (d Decision) String() string {
	if d.Evacuate {
		return "Evacuate"
	}
	return "Do not evacuate"
}

// Decide asks whether name is leaving, based on the formatted history.
func (s *Service) Decide(ctx context.Context, history, name string) (Decision, error) {
	if !s.Enabled() {
		return Decision{Evacuate: decideByKeywords(history, name)}, nil
	}

	var raw string
	question := fmt.Sprintf(decisionQuestion, history, name, name)
	evacuate, err := s.askRaw(ctx, "decision", question, &raw, func() bool { return decideByKeywords(history, name) })
	if err != nil {
		return Decision{}, err
	}
	return Decision{Raw: raw, Evacuate: evacuate}, nil
}

func (s *Service) ask(ctx context.Context, name, question string, fb func() bool) (bool, error) {
	var raw string
	return s.askRaw(ctx, name, question, &raw, fb)
}

func (s *Service) askRaw(ctx context.Context, name, question string, raw *string, fb func() bool) (bool, error) {
	answer, err := s.gen.Generate(ctx, ai.ProbeTemplate, map[string]any{"question": question})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		s.logger.WarnContext(ctx, "probe failed, using keyword fallback", "probe", name, "error", err)
		return fb(), nil
	}

	*raw = answer
	ok, err := ParseYesNo(answer)
	if err != nil {
		s.logger.WarnContext(ctx, "probe answer not understood, treating as no", "probe", name, "error", err)
	}
	return ok, nil
}

func fallback(kind Kind, text string) bool {
	switch kind {
	case EmphasizeDanger:
		return cue.Detect(text, cue.Danger)
	case EmphasizeValueOfLife:
		return cue.Detect(text, cue.ValueOfLife)
	case MentionsFire:
		return cue.Detect(text, cue.Fire)
	case KeepAsking:
		return cue.IsQuestion(lastLine(text))
	case EndingConversation:
		return cue.HasEndingKeyword(lastLine(text))
	case AsksAboutChildren:
		return cue.Detect(text, cue.Children)
	case AsksAboutParents:
		return cue.Detect(text, cue.Parents)
	case Engagement:
		return cue.Detect(text, cue.Engagement)
	default:
		return false
	}
}

// decideByKeywords 只看该居民自己说的话，最后一次表态为准。
func decideByKeywords(history, name string) bool {
	prefix := strings.ToLower(name) + ":"
	score := 0
	for _, line := range strings.Split(history, "\n") {
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), prefix) {
			continue
		}
		if s := cue.Analyze(line).Scores[cue.Evacuating]; s != 0 {
			score = s
		}
	}
	return score > 0
}

func lastLine(text string) string {
	text = strings.TrimRight(text, "\n")
	if i := strings.LastIndex(text, "\n"); i >= 0 {
		return text[i+1:]
	}
	return text
}
