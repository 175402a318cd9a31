package ai

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockChatModel is a scripted model for tests and offline dry runs.
type MockChatModel struct {
	GenerateFunc func(ctx context.Context, input []*schema.Message) (*schema.Message, error)

	// Prompts records the final user message of every call.
	Prompts []string

	mu sync.Mutex // protects Prompts
}

// NewMockChatModel creates a mock with the default offline behaviour.
func NewMockChatModel() *MockChatModel {
	return &MockChatModel{Prompts: make([]string, 0)}
}

// Generate records the prompt and delegates to GenerateFunc. Without one,
// yes/no questions are answered "no" and everything else gets a fixed line.
func (m *MockChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	prompt := ""
	if len(input) > 0 {
		prompt = input[len(input)-1].Content
	}

	m.mu.Lock()
	m.Prompts = append(m.Prompts, prompt)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, input)
	}

	if strings.Contains(prompt, "'yes' or 'no'") {
		return schema.AssistantMessage("no", nil), nil
	}
	return schema.AssistantMessage("Okay, I hear you.", nil), nil
}

// Stream wraps Generate in a single-element stream.
func (m *MockChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// BindTools is a no-op.
func (m *MockChatModel) BindTools(_ []*schema.ToolInfo) error {
	return nil
}

// Calls returns a copy of the recorded prompts.
func (m *MockChatModel) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Prompts...)
}

var _ model.ChatModel = (*MockChatModel)(nil)
