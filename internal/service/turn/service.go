// Package turn 编排一轮对话：加锁、写入输入、规划、生成、清洗、写入回复、判断撤离。
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhouzirui/evacsim/backend/internal/logger"
	"github.com/zhouzirui/evacsim/backend/internal/model/chat"
	"github.com/zhouzirui/evacsim/backend/internal/model/persona"
	"github.com/zhouzirui/evacsim/backend/internal/service/ai"
	chatsvc "github.com/zhouzirui/evacsim/backend/internal/service/chat"
	"github.com/zhouzirui/evacsim/backend/internal/service/planner"
	"github.com/zhouzirui/evacsim/backend/internal/service/probe"
)

var tracer = otel.Tracer("github.com/zhouzirui/evacsim/backend/internal/service/turn")

var (
	// ErrPersonaNotFound means the character has no persona description.
	ErrPersonaNotFound = errors.New("persona not found")
	// ErrGeneratorUnavailable means no chat model is configured.
	ErrGeneratorUnavailable = errors.New("text generation is not configured")
)

// 自动 Julie 模式结束时的固定台词。
const (
	EndedAgentLine = "Thank you for your time. Stay safe!"
	EndedReplyLine = "Goodbye, thank you for your help."
)

// DefaultSpeaker is used when a request names no speaker.
const DefaultSpeaker = "Operator"

// Generator produces raw model text. *ai.Service satisfies it.
type Generator interface {
	Generate(ctx context.Context, tmpl ai.Template, vars map[string]any) (string, error)
}

// Decider answers "is this person evacuating?". *probe.Service satisfies it.
type Decider interface {
	Decide(ctx context.Context, history, name string) (probe.Decision, error)
}

// Request 是一次对话请求。
type Request struct {
	Character planner.Character
	UserInput string
	Speaker   string
}

// Result is what one turn produced. Agent fields are only set in
// auto-agent mode.
type Result struct {
	SessionID          string
	Response           string
	RetrievedInfo      *chat.RetrievedInfo
	Category           string
	DecisionResponse   string
	AgentResponse      string
	AgentRetrievedInfo *chat.RetrievedInfo
	ConversationEnded  bool
}

// PartialError 表示轮次中已有消息写入，但后续步骤失败。已写入的历史不会回滚。
type PartialError struct {
	Committed string
	Err       error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("turn failed after %s was committed: %v", e.Committed, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Options 控制历史窗口与自动模式上限。
type Options struct {
	HistoryWindow   int
	AutoMaxMessages int
}

// Service runs turns against the conversation store.
type Service struct {
	conversations *chatsvc.Service
	planner       *planner.Planner
	generator     Generator
	decider       Decider
	personas      persona.Store
	opts          Options
	logger        *slog.Logger
}

// NewService wires a turn service. generator may be nil, in which case
// every turn fails with ErrGeneratorUnavailable.
func NewService(conversations *chatsvc.Service, p *planner.Planner, generator Generator, decider Decider, personas persona.Store, opts Options, log *slog.Logger) *Service {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 11
	}
	if opts.AutoMaxMessages <= 0 {
		opts.AutoMaxMessages = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		conversations: conversations,
		planner:       p,
		generator:     generator,
		decider:       decider,
		personas:      personas,
		opts:          opts,
		logger:        log,
	}
}

// Interactive runs one operator-driven turn on the character's stable session.
func (s *Service) Interactive(ctx context.Context, req Request) (*Result, error) {
	sessionID := chat.InteractiveSessionID(string(req.Character))
	ctx, span := tracer.Start(ctx, "turn.interactive")
	span.SetAttributes(attribute.String("session_id", sessionID), attribute.String("character", string(req.Character)))
	defer span.End()

	log := logger.WithSession(s.logger, sessionID, string(req.Character))

	description, err := s.precheck(req.Character)
	if err != nil {
		return nil, err
	}

	unlock, err := s.conversations.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	speaker := strings.TrimSpace(req.Speaker)
	if speaker == "" {
		speaker = DefaultSpeaker
	}
	// 先按追加后的历史规划，规划失败时不写入任何消息。
	history, err := s.conversations.Preview(ctx, sessionID, speaker, req.UserInput, s.opts.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	decision, err := s.planner.Plan(ctx, planner.PlanInput{
		Character:   req.Character,
		History:     history,
		LastMessage: req.UserInput,
		Speaker:     speaker,
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	if strings.TrimSpace(req.UserInput) != "" {
		if _, err := s.conversations.Append(ctx, sessionID, speaker, req.UserInput); err != nil {
			return nil, fmt.Errorf("append user input: %w", err)
		}
	}
	span.SetAttributes(attribute.Int("message_count", decision.Count), attribute.String("category", decision.Category))

	vars := map[string]any{
		"name":        req.Character.DisplayName(),
		"persona":     description,
		"history":     history,
		"instruction": decision.Instruction,
	}
	response, info, err := s.generate(ctx, ai.TownPersonTemplate, vars, string(req.Character), decision)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	if _, err := s.conversations.Append(ctx, sessionID, req.Character.DisplayName(), response); err != nil {
		return nil, fmt.Errorf("append reply: %w", err)
	}

	result := &Result{
		SessionID:     sessionID,
		Response:      response,
		RetrievedInfo: info,
		Category:      decision.Category,
	}

	verdict, err := s.decide(ctx, sessionID, req.Character)
	if err != nil {
		return result, &PartialError{Committed: "reply", Err: err}
	}
	result.DecisionResponse = verdict

	log.InfoContext(ctx, "interactive turn completed", "message_count", decision.Count, "category", decision.Category, "decision", verdict)
	return result, nil
}

// AutoAgent 让 Julie 先发言，再由居民回应，一次请求产生两条消息。
// 超过上限时不再写入，直接返回固定的结束台词。
func (s *Service) AutoAgent(ctx context.Context, req Request) (*Result, error) {
	sessionID := chat.InteractiveSessionID(string(req.Character))
	ctx, span := tracer.Start(ctx, "turn.auto_agent")
	span.SetAttributes(attribute.String("session_id", sessionID), attribute.String("character", string(req.Character)))
	defer span.End()

	log := logger.WithSession(s.logger, sessionID, string(req.Character))

	description, err := s.precheck(req.Character)
	if err != nil {
		return nil, err
	}

	unlock, err := s.conversations.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	history, err := s.conversations.ReadTail(ctx, sessionID, s.opts.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	count := chat.CountLines(history)

	agentPlan, err := s.planner.PlanAgent(req.Character, count)
	if errors.Is(err, planner.ErrConversationEnded) || count > s.opts.AutoMaxMessages {
		log.InfoContext(ctx, "auto agent conversation ended", "message_count", count)
		return &Result{
			SessionID:         sessionID,
			AgentResponse:     EndedAgentLine,
			Response:          EndedReplyLine,
			ConversationEnded: true,
		}, nil
	}
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	replyPlan, err := s.planner.PlanReply(req.Character, count)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	agentLine, agentInfo, err := s.generate(ctx, ai.AgentTemplate, map[string]any{
		"history":     history,
		"instruction": agentPlan.Instruction,
	}, string(planner.Julie), agentPlan)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	if _, err := s.conversations.Append(ctx, sessionID, planner.Julie.DisplayName(), agentLine); err != nil {
		return nil, fmt.Errorf("append agent line: %w", err)
	}

	result := &Result{
		SessionID:          sessionID,
		AgentResponse:      agentLine,
		AgentRetrievedInfo: agentInfo,
		Category:           replyPlan.Category,
	}

	response, info, err := s.generate(ctx, ai.TownPersonReplyTemplate, map[string]any{
		"name":        req.Character.DisplayName(),
		"persona":     description,
		"history":     history,
		"instruction": replyPlan.Instruction,
		"agent_line":  agentLine,
	}, string(req.Character), replyPlan)
	if err != nil {
		recordError(span, err)
		log.WarnContext(ctx, "town person reply failed, agent line kept", "error", err)
		return result, &PartialError{Committed: "agent line", Err: err}
	}
	if _, err := s.conversations.Append(ctx, sessionID, req.Character.DisplayName(), response); err != nil {
		return result, &PartialError{Committed: "agent line", Err: fmt.Errorf("append reply: %w", err)}
	}
	result.Response = response
	result.RetrievedInfo = info

	verdict, err := s.decide(ctx, sessionID, req.Character)
	if err != nil {
		return result, &PartialError{Committed: "reply", Err: err}
	}
	result.DecisionResponse = verdict

	log.InfoContext(ctx, "auto agent turn completed",
		"message_count", count, "agent_category", agentPlan.Category, "category", replyPlan.Category, "decision", verdict)
	return result, nil
}

// Close 结束角色的交互会话。
func (s *Service) Close(ctx context.Context, sessionID string) error {
	return s.conversations.Close(ctx, sessionID)
}

func (s *Service) precheck(c planner.Character) (string, error) {
	if s.generator == nil {
		return "", ErrGeneratorUnavailable
	}
	p, ok := s.personas.FindByID(string(c))
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPersonaNotFound, c)
	}
	return p.Description, nil
}

func (s *Service) generate(ctx context.Context, tmpl ai.Template, vars map[string]any, speaker string, decision planner.Decision) (string, *chat.RetrievedInfo, error) {
	prompt, err := ai.Render(ctx, tmpl, vars)
	if err != nil {
		return "", nil, err
	}

	raw, err := s.generator.Generate(ctx, tmpl, vars)
	if err != nil {
		return "", nil, err
	}
	text := ai.Clean(raw)
	if text == "" {
		return "", nil, &ai.GenerationError{Template: tmpl.Name, Attempts: 1, Transient: true, Err: ai.ErrEmptyResponse}
	}

	return text, &chat.RetrievedInfo{
		FullPrompt: prompt,
		Speaker:    speaker,
		Category:   decision.Category,
		Examples:   decision.Examples,
	}, nil
}

func (s *Service) decide(ctx context.Context, sessionID string, c planner.Character) (string, error) {
	if s.decider == nil {
		return "", nil
	}
	history, err := s.conversations.ReadTail(ctx, sessionID, s.opts.HistoryWindow)
	if err != nil {
		return "", fmt.Errorf("read history: %w", err)
	}
	d, err := s.decider.Decide(ctx, history, string(c))
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
