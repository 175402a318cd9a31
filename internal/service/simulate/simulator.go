// Package simulate 生成完整的自动对话：单条脚本化流程（auto 模式）与批量 Julie 对话。
package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zhouzirui/evacsim/backend/internal/model/chat"
	"github.com/zhouzirui/evacsim/backend/internal/model/persona"
	"github.com/zhouzirui/evacsim/backend/internal/model/script"
	"github.com/zhouzirui/evacsim/backend/internal/service/ai"
	chatsvc "github.com/zhouzirui/evacsim/backend/internal/service/chat"
	"github.com/zhouzirui/evacsim/backend/internal/service/planner"
	"github.com/zhouzirui/evacsim/backend/internal/service/probe"
	"github.com/zhouzirui/evacsim/backend/internal/service/turn"
)

var tracer = otel.Tracer("github.com/zhouzirui/evacsim/backend/internal/service/simulate")

// Generator produces raw model text. *ai.Service satisfies it.
type Generator interface {
	Generate(ctx context.Context, tmpl ai.Template, vars map[string]any) (string, error)
}

// Decider answers "is this person evacuating?". *probe.Service satisfies it.
type Decider interface {
	Decide(ctx context.Context, history, name string) (probe.Decision, error)
}

// Options 控制历史窗口与批量对话长度。
type Options struct {
	HistoryWindow int
	MaxMessages   int
}

// Simulator runs whole conversations without an operator.
type Simulator struct {
	conversations *chatsvc.Service
	planner       *planner.Planner
	library       *script.Library
	generator     Generator
	decider       Decider
	personas      persona.Store
	opts          Options
	logger        *slog.Logger
	now           func() time.Time
}

// New creates a simulator.
func New(conversations *chatsvc.Service, p *planner.Planner, library *script.Library, generator Generator, decider Decider, personas persona.Store, opts Options, logger *slog.Logger) *Simulator {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 11
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 10
	}
	if library == nil {
		library = script.NewLibrary(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		conversations: conversations,
		planner:       p,
		library:       library,
		generator:     generator,
		decider:       decider,
		personas:      personas,
		opts:          opts,
		logger:        logger,
		now:           time.Now,
	}
}

// Transcript 是一次 auto 模式对话的结果。
type Transcript struct {
	SessionID     string                `json:"session_id"`
	Lines         []chat.TranscriptLine `json:"lines"`
	Text          string                `json:"transcript"`
	RetrievedInfo []chat.RetrievedInfo  `json:"retrieved_info"`
	Decision      string                `json:"decision"`
}

// LineFunc receives each line as soon as it is stored. Returning an error
// stops the run.
type LineFunc func(line chat.TranscriptLine) error

// Run 按角色的脚本流程生成整段对话，每一行写入新的会话并通过 onLine 推送。
func (s *Simulator) Run(ctx context.Context, c planner.Character, onLine LineFunc) (*Transcript, error) {
	if s.generator == nil {
		return nil, turn.ErrGeneratorUnavailable
	}
	p, ok := s.personas.FindByID(string(c))
	if !ok {
		return nil, fmt.Errorf("%w: %s", turn.ErrPersonaNotFound, c)
	}

	sessionID := fmt.Sprintf("%s_%d", c, s.now().UnixNano())
	ctx, span := tracer.Start(ctx, "simulate.run")
	span.SetAttributes(attribute.String("session_id", sessionID), attribute.String("character", string(c)))
	defer span.End()

	unlock, err := s.conversations.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	defer s.closeSession(ctx, sessionID)

	t := &Transcript{SessionID: sessionID}
	name := c.DisplayName()

	for i, step := range Flow(c) {
		history, err := s.conversations.ReadTail(ctx, sessionID, s.opts.HistoryWindow)
		if err != nil {
			return t, fmt.Errorf("read history: %w", err)
		}

		speaker, owner, vars := AgentSpeaker, agentScriptCharacter, map[string]any{
			"name":    "Fire Department Agent",
			"persona": ai.AgentPersona,
		}
		if step.Role == RoleTownPerson {
			speaker, owner = name, string(c)
			vars["name"] = name
			vars["persona"] = p.Description
		}

		var examples []string
		if lines, err := s.library.Lines(owner, step.Category); err == nil {
			examples = lines
		}
		vars["history"] = history
		vars["instruction"] = stepInstruction(step, name, examples)

		text, info, err := s.generate(ctx, ai.ScriptedStepTemplate, vars)
		if err != nil {
			return t, fmt.Errorf("step %d (%s): %w", i+1, step.Category, err)
		}
		info.Speaker = speaker
		info.Category = step.Category
		info.Examples = examples

		if _, err := s.conversations.Append(ctx, sessionID, speaker, text); err != nil {
			return t, fmt.Errorf("append step %d: %w", i+1, err)
		}

		line := chat.TranscriptLine{Speaker: speaker, Message: text, Category: step.Category, RetrievedInfo: info}
		t.Lines = append(t.Lines, line)
		t.RetrievedInfo = append(t.RetrievedInfo, *info)
		t.Text += speaker + ": " + text + "\n"

		if onLine != nil {
			if err := onLine(line); err != nil {
				return t, err
			}
		}
	}

	if s.decider != nil {
		d, err := s.decider.Decide(ctx, strings.TrimRight(t.Text, "\n"), string(c))
		if err != nil {
			return t, fmt.Errorf("decide: %w", err)
		}
		t.Decision = d.String()
	}

	s.logger.InfoContext(ctx, "auto conversation generated", "session_id", sessionID, "character", c, "lines", len(t.Lines), "decision", t.Decision)
	return t, nil
}

// closeSession 删除一次性会话的历史；ctx 已取消时仍然执行。
func (s *Simulator) closeSession(ctx context.Context, sessionID string) {
	if err := s.conversations.Close(context.WithoutCancel(ctx), sessionID); err != nil {
		s.logger.WarnContext(ctx, "close generated session failed", "session_id", sessionID, "error", err)
	}
}

func stepInstruction(step Step, name string, examples []string) string {
	instruction := strings.ReplaceAll(step.Instruction, "{name}", name)
	if len(examples) == 0 {
		return instruction
	}
	raw, _ := json.Marshal(examples)
	return instruction + " Relevant examples from " + step.Category + ": " + string(raw)
}

func (s *Simulator) generate(ctx context.Context, tmpl ai.Template, vars map[string]any) (string, *chat.RetrievedInfo, error) {
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
	return text, &chat.RetrievedInfo{FullPrompt: prompt}, nil
}

// Batch 对每个角色运行 Julie 自动对话，生成可写入文件的 Artifact。
// 单个角色失败只结束该角色的对话；ctx 取消时立即返回。
func (s *Simulator) Batch(ctx context.Context, characters []planner.Character) (*chat.Artifact, error) {
	if s.generator == nil {
		return nil, turn.ErrGeneratorUnavailable
	}
	if len(characters) == 0 {
		characters = planner.ScriptedTownPeople()
	}

	artifact := &chat.Artifact{GeneratedAt: s.now().UTC()}
	for _, c := range characters {
		conv, err := s.batchConversation(ctx, c)
		if err != nil {
			return nil, err
		}
		artifact.Conversations = append(artifact.Conversations, conv)
		s.logger.InfoContext(ctx, "batch conversation generated",
			"character", c, "messages", conv.TotalMessages, "decisions", len(conv.DecisionResponses))
	}
	artifact.TotalConversations = len(artifact.Conversations)
	return artifact, nil
}

// decisionWindow 与最少行数：历史至少 3 行才做撤离判断。
const (
	decisionWindow   = 9
	decisionMinLines = 3
)

func (s *Simulator) batchConversation(ctx context.Context, c planner.Character) (chat.Conversation, error) {
	conv := chat.Conversation{
		TownPerson:          string(c),
		ConversationHistory: []chat.TranscriptLine{},
		DecisionResponses:   []chat.DecisionRecord{},
	}

	p, ok := s.personas.FindByID(string(c))
	if !ok {
		s.logger.WarnContext(ctx, "skipping character without persona", "character", c)
		return conv, nil
	}

	sessionID := fmt.Sprintf("%s_auto_session_%d", c, s.now().UnixNano())
	ctx, span := tracer.Start(ctx, "simulate.batch_conversation")
	span.SetAttributes(attribute.String("session_id", sessionID), attribute.String("character", string(c)))
	defer span.End()

	log := s.logger.With("session_id", sessionID, "character", c)
	defer s.closeSession(ctx, sessionID)

	for count := 1; count <= s.opts.MaxMessages; count++ {
		if err := ctx.Err(); err != nil {
			return conv, err
		}

		stop, err := s.batchExchange(ctx, c, p, sessionID, count, &conv)
		if err != nil {
			if ctx.Err() != nil {
				return conv, ctx.Err()
			}
			log.WarnContext(ctx, "batch conversation stopped early", "message", count, "error", err)
			break
		}
		if stop {
			break
		}
	}

	conv.TotalMessages = len(conv.ConversationHistory)
	return conv, nil
}

// batchExchange 生成 Julie 的一句与居民的回应。Julie 进入 closing 后结束。
func (s *Simulator) batchExchange(ctx context.Context, c planner.Character, p persona.Persona, sessionID string, count int, conv *chat.Conversation) (bool, error) {
	history, err := s.conversations.ReadTail(ctx, sessionID, s.opts.HistoryWindow)
	if err != nil {
		return false, err
	}

	agentPlan, err := s.planner.PlanAgent(c, count)
	if errors.Is(err, planner.ErrConversationEnded) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	agentLine, agentInfo, err := s.generate(ctx, ai.AgentTemplate, map[string]any{
		"history":     history,
		"instruction": agentPlan.Instruction,
	})
	if err != nil {
		return false, err
	}
	agentInfo.Speaker, agentInfo.Category, agentInfo.Examples = string(planner.Julie), agentPlan.Category, agentPlan.Examples
	if _, err := s.conversations.Append(ctx, sessionID, planner.Julie.DisplayName(), agentLine); err != nil {
		return false, err
	}
	conv.ConversationHistory = append(conv.ConversationHistory, chat.TranscriptLine{
		Speaker: planner.Julie.DisplayName(), Message: agentLine, Category: agentPlan.Category, RetrievedInfo: agentInfo,
	})

	if agentPlan.Category == "closing" {
		return true, nil
	}

	replyPlan, err := s.planner.PlanReply(c, count)
	if err != nil {
		return false, err
	}
	reply, replyInfo, err := s.generate(ctx, ai.TownPersonReplyTemplate, map[string]any{
		"name":        c.DisplayName(),
		"persona":     p.Description,
		"history":     history,
		"instruction": replyPlan.Instruction,
		"agent_line":  agentLine,
	})
	if err != nil {
		return false, err
	}
	replyInfo.Speaker, replyInfo.Category, replyInfo.Examples = string(c), replyPlan.Category, replyPlan.Examples
	if _, err := s.conversations.Append(ctx, sessionID, c.DisplayName(), reply); err != nil {
		return false, err
	}
	conv.ConversationHistory = append(conv.ConversationHistory, chat.TranscriptLine{
		Speaker: string(c), Message: reply, Category: replyPlan.Category, RetrievedInfo: replyInfo,
	})

	if s.decider == nil {
		return false, nil
	}
	recent, err := s.conversations.ReadTail(ctx, sessionID, decisionWindow)
	if err != nil {
		return false, err
	}
	if chat.CountLines(recent) >= decisionMinLines {
		d, err := s.decider.Decide(ctx, recent, string(c))
		if err != nil {
			return false, err
		}
		conv.DecisionResponses = append(conv.DecisionResponses, chat.DecisionRecord{MessageCount: count, Decision: d.String()})
	}
	return false, nil
}
