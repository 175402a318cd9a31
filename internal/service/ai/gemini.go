package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/zhouzirui/evacsim/backend/internal/config"
)

// ModelsAPI is the slice of the genai client the adapter needs.
type ModelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiChatModel 把 genai 客户端适配成 eino 的 ChatModel，便于放进同一条 chain。
type GeminiChatModel struct {
	models      ModelsAPI
	model       string
	temperature *float32
	maxTokens   int32
}

// NewGeminiChatModel 使用 API Key（Gemini API）或 Project（Vertex AI）创建客户端。
func NewGeminiChatModel(ctx context.Context, cfg config.GeminiConfig, temperature *float64, maxTokens *int) (*GeminiChatModel, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.APIKey == "" {
		clientCfg = &genai.ClientConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiChatModel(client.Models, cfg.Model, temperature, maxTokens), nil
}

func newGeminiChatModel(models ModelsAPI, modelName string, temperature *float64, maxTokens *int) *GeminiChatModel {
	m := &GeminiChatModel{models: models, model: modelName, maxTokens: 256}
	if temperature != nil {
		t := float32(*temperature)
		m.temperature = &t
	} else {
		t := float32(0.7)
		m.temperature = &t
	}
	if maxTokens != nil && *maxTokens > 0 {
		m.maxTokens = int32(*maxTokens)
	}
	return m
}

// Generate sends the conversation to Gemini. System messages become the
// system instruction; assistant messages are sent with the model role.
func (g *GeminiChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	var (
		contents []*genai.Content
		system   []string
	)
	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			system = append(system, msg.Content)
		case schema.Assistant:
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: msg.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     g.temperature,
		MaxOutputTokens: g.maxTokens,
	}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: strings.Join(system, "\n")}},
		}
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	return schema.AssistantMessage(extractText(resp), nil), nil
}

// Stream 不做真正的流式，只把完整结果包装成单元素流。
func (g *GeminiChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := g.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// BindTools is a no-op; the dialogue prompts never use tools.
func (g *GeminiChatModel) BindTools(_ []*schema.ToolInfo) error {
	return nil
}

func extractText(res *genai.GenerateContentResponse) string {
	if res == nil {
		return ""
	}
	for _, c := range res.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p != nil && p.Text != "" {
				return p.Text
			}
		}
	}
	return ""
}

var _ model.ChatModel = (*GeminiChatModel)(nil)
