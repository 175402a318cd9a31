package simulate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/evacsim/backend/internal/model/chat"
	"github.com/zhouzirui/evacsim/backend/internal/model/persona"
	"github.com/zhouzirui/evacsim/backend/internal/model/script"
	"github.com/zhouzirui/evacsim/backend/internal/service/ai"
	chatsvc "github.com/zhouzirui/evacsim/backend/internal/service/chat"
	"github.com/zhouzirui/evacsim/backend/internal/service/planner"
	"github.com/zhouzirui/evacsim/backend/internal/service/probe"
	"github.com/zhouzirui/evacsim/backend/internal/service/turn"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	sim           *Simulator
	conversations *chatsvc.Service
	model         *ai.MockChatModel
}

// reply answers generation prompts; yes/no prompts get decision.
func newFixture(t *testing.T, decision string, reply func(prompt string) (string, error)) *fixture {
	t.Helper()
	lib, warnings := script.LoadDefault()
	require.Empty(t, warnings)

	m := ai.NewMockChatModel()
	m.GenerateFunc = func(ctx context.Context, input []*schema.Message) (*schema.Message, error) {
		prompt := input[len(input)-1].Content
		if strings.Contains(prompt, "'yes' or 'no'") {
			return schema.AssistantMessage(decision, nil), nil
		}
		text, err := reply(prompt)
		if err != nil {
			return nil, err
		}
		return schema.AssistantMessage(text, nil), nil
	}
	gen, err := ai.NewService(context.Background(), m, ai.Options{MaxRetries: 1}, nil)
	require.NoError(t, err)

	probes := probe.NewService(gen, probe.Config{Enabled: true}, nil)
	conversations := chatsvc.NewService(nil, nil)
	sim := New(conversations, planner.New(lib, probes, nil), lib, gen, probes,
		persona.NewMemoryStore(persona.Seed()), Options{HistoryWindow: 11, MaxMessages: 10}, nil)
	sim.now = func() time.Time { return fixedNow }
	return &fixture{sim: sim, conversations: conversations, model: m}
}

func constant(text string) func(string) (string, error) {
	return func(string) (string, error) { return text, nil }
}

func TestRunFollowsScriptedFlow(t *testing.T) {
	f := newFixture(t, "yes", constant("I hear you."))
	ctx := context.Background()

	var streamed []chat.TranscriptLine
	tr, err := f.sim.Run(ctx, planner.Bob, func(line chat.TranscriptLine) error {
		streamed = append(streamed, line)
		return nil
	})
	require.NoError(t, err)

	flow := Flow(planner.Bob)
	require.Len(t, tr.Lines, len(flow))
	assert.Equal(t, tr.Lines, streamed)
	assert.Len(t, tr.RetrievedInfo, len(flow))
	assert.Equal(t, "Evacuate", tr.Decision)
	assert.True(t, strings.HasPrefix(tr.SessionID, "bob_"))

	assert.Equal(t, AgentSpeaker, tr.Lines[0].Speaker)
	assert.Equal(t, "greetings", tr.Lines[0].Category)
	assert.Equal(t, "Bob", tr.Lines[1].Speaker)
	for i, step := range flow {
		assert.Equal(t, step.Category, tr.Lines[i].Category)
	}

	assert.Equal(t, len(flow), chat.CountLines(strings.TrimRight(tr.Text, "\n")))

	history, err := f.conversations.ReadTail(ctx, tr.SessionID, 50)
	require.NoError(t, err)
	assert.Empty(t, history, "generated sessions are closed once the run ends")
}

func TestRunPromptsCarryRoleAndExamples(t *testing.T) {
	f := newFixture(t, "no", constant("Sure."))

	tr, err := f.sim.Run(context.Background(), planner.Bob, nil)
	require.NoError(t, err)
	assert.Equal(t, "Do not evacuate", tr.Decision)

	first := tr.RetrievedInfo[0]
	assert.Contains(t, first.FullPrompt, "You are roleplaying as Fire Department Agent.")
	assert.Contains(t, first.FullPrompt, "greeting to Bob")
	assert.NotEmpty(t, first.Examples, "operator greetings come from the script library")

	second := tr.RetrievedInfo[1]
	assert.Contains(t, second.FullPrompt, "You are roleplaying as Bob.")
	assert.Contains(t, second.FullPrompt, "Agent: Sure.")
	assert.NotEmpty(t, second.Examples)
}

func TestRunStopsWhenLineCallbackFails(t *testing.T) {
	f := newFixture(t, "no", constant("Hello."))
	stop := errors.New("client gone")

	calls := 0
	tr, err := f.sim.Run(context.Background(), planner.Ross, func(chat.TranscriptLine) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	assert.Len(t, tr.Lines, 2)

	history, err := f.conversations.ReadTail(context.Background(), tr.SessionID, 50)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRunUnknownPersona(t *testing.T) {
	f := newFixture(t, "no", constant("Hello."))
	_, err := f.sim.Run(context.Background(), planner.Character("zoe"), nil)
	require.ErrorIs(t, err, turn.ErrPersonaNotFound)
	assert.Empty(t, f.model.Calls())
}

func TestRunWithoutGenerator(t *testing.T) {
	sim := New(chatsvc.NewService(nil, nil), planner.New(nil, nil, nil), nil, nil, nil,
		persona.NewMemoryStore(persona.Seed()), Options{}, nil)
	_, err := sim.Run(context.Background(), planner.Bob, nil)
	require.ErrorIs(t, err, turn.ErrGeneratorUnavailable)

	_, err = sim.Batch(context.Background(), nil)
	require.ErrorIs(t, err, turn.ErrGeneratorUnavailable)
}

func TestBatchBobEndsAfterClosing(t *testing.T) {
	f := newFixture(t, "no", func(prompt string) (string, error) {
		if strings.HasPrefix(prompt, "You are roleplaying as Julie") {
			return "Julie: Please leave now.", nil
		}
		return "I'm busy.", nil
	})

	artifact, err := f.sim.Batch(context.Background(), []planner.Character{planner.Bob})
	require.NoError(t, err)
	assert.Equal(t, fixedNow, artifact.GeneratedAt)
	assert.Equal(t, 1, artifact.TotalConversations)

	conv := artifact.Conversations[0]
	assert.Equal(t, "bob", conv.TownPerson)
	// 七轮完整问答加上 Julie 的 closing。
	require.Equal(t, 15, conv.TotalMessages)
	require.Len(t, conv.ConversationHistory, 15)

	first := conv.ConversationHistory[0]
	assert.Equal(t, "Julie", first.Speaker)
	assert.Equal(t, "Please leave now.", first.Message)
	assert.Equal(t, "greetings", first.Category)
	assert.Equal(t, "bob", conv.ConversationHistory[1].Speaker)
	assert.Equal(t, "greetings", conv.ConversationHistory[1].Category)
	assert.Equal(t, "work_resistance", conv.ConversationHistory[5].Category)

	last := conv.ConversationHistory[14]
	assert.Equal(t, "Julie", last.Speaker)
	assert.Equal(t, "closing", last.Category)

	// 第一轮只有两行历史，不做判断。
	require.Len(t, conv.DecisionResponses, 6)
	assert.Equal(t, 2, conv.DecisionResponses[0].MessageCount)
	assert.Equal(t, "Do not evacuate", conv.DecisionResponses[0].Decision)

	history, err := f.conversations.ReadTail(context.Background(), fmt.Sprintf("bob_auto_session_%d", fixedNow.UnixNano()), 50)
	require.NoError(t, err)
	assert.Empty(t, history, "batch sessions are closed after the artifact is built")
}

func TestBatchReplyPromptSeesAgentLine(t *testing.T) {
	f := newFixture(t, "no", func(prompt string) (string, error) {
		if strings.HasPrefix(prompt, "You are roleplaying as Julie") {
			return "The fire is close.", nil
		}
		return "Okay.", nil
	})

	artifact, err := f.sim.Batch(context.Background(), []planner.Character{planner.Ross})
	require.NoError(t, err)

	reply := artifact.Conversations[0].ConversationHistory[1]
	require.NotNil(t, reply.RetrievedInfo)
	assert.Contains(t, reply.RetrievedInfo.FullPrompt, "Julie just said: The fire is close.")
	assert.Contains(t, artifact.Conversations[0].ConversationHistory[0].RetrievedInfo.FullPrompt, planner.PersuasionFocus(planner.Ross))
}

func TestBatchFailureEndsOnlyThatConversation(t *testing.T) {
	f := newFixture(t, "no", func(prompt string) (string, error) {
		if strings.Contains(prompt, "roleplaying as Niki") {
			return "", errors.New("401 unauthorized")
		}
		return "Fine.", nil
	})

	artifact, err := f.sim.Batch(context.Background(), []planner.Character{planner.Niki, planner.Ross})
	require.NoError(t, err)
	require.Equal(t, 2, artifact.TotalConversations)

	niki := artifact.Conversations[0]
	assert.Equal(t, "niki", niki.TownPerson)
	assert.Equal(t, 1, niki.TotalMessages, "Julie's greeting is kept, the failed reply is not")

	ross := artifact.Conversations[1]
	assert.Greater(t, ross.TotalMessages, 10)
}

func TestBatchCancelled(t *testing.T) {
	f := newFixture(t, "no", constant("Fine."))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.sim.Batch(ctx, []planner.Character{planner.Bob})
	require.ErrorIs(t, err, context.Canceled)
}
