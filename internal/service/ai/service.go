package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/zhouzirui/evacsim/backend/internal/config"
)

var tracer = otel.Tracer("github.com/zhouzirui/evacsim/backend/internal/service/ai")

// Options 控制单次调用超时与重试。
type Options struct {
	Timeout      time.Duration
	MaxRetries   int
	InitialDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxRetries < 1 {
		o.MaxRetries = 1
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 500 * time.Millisecond
	}
	return o
}

// Service renders prompt templates and runs them through the chat model.
// It never touches conversation state.
type Service struct {
	chatModel model.ChatModel
	opts      Options
	logger    *slog.Logger

	mu     sync.Mutex
	chains map[string]compose.Runnable[map[string]any, *schema.Message]
}

// NewFromConfig 根据 LLM_PROVIDER 创建 Ark 或 Gemini 模型并构建服务。
func NewFromConfig(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (*Service, error) {
	var (
		chatModel model.ChatModel
		err       error
	)
	switch cfg.Provider {
	case config.ProviderGemini:
		chatModel, err = NewGeminiChatModel(ctx, cfg.Gemini, cfg.Temperature, cfg.MaxTokens)
	default:
		chatModel, err = cfg.NewChatModel(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	return NewService(ctx, chatModel, Options{Timeout: cfg.Timeout, MaxRetries: cfg.MaxRetries}, logger)
}

// NewService compiles the builtin templates against chatModel.
func NewService(ctx context.Context, chatModel model.ChatModel, opts Options, logger *slog.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, ErrUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		chatModel: chatModel,
		opts:      opts.withDefaults(),
		logger:    logger,
		chains:    make(map[string]compose.Runnable[map[string]any, *schema.Message]),
	}
	for _, tmpl := range BuiltinTemplates() {
		if _, err := s.chain(ctx, tmpl); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) chain(ctx context.Context, tmpl Template) (compose.Runnable[map[string]any, *schema.Message], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if runnable, ok := s.chains[tmpl.Name]; ok {
		return runnable, nil
	}

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(tmpl.chatTemplate())
	chain.AppendChatModel(s.chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s chain: %w", tmpl.Name, err)
	}
	s.chains[tmpl.Name] = runnable
	return runnable, nil
}

// Render 返回模板渲染后的完整提示词，用于 retrieved_info 展示。
func Render(ctx context.Context, tmpl Template, vars map[string]any) (string, error) {
	messages, err := tmpl.chatTemplate().Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name, err)
	}
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n\n"), nil
}

// Generate renders tmpl with vars and returns the raw model text. Each
// attempt runs under its own timeout; transient failures are retried with
// exponential backoff.
func (s *Service) Generate(ctx context.Context, tmpl Template, vars map[string]any) (string, error) {
	ctx, span := tracer.Start(ctx, "ai.generate")
	span.SetAttributes(attribute.String("template", tmpl.Name))
	defer span.End()

	if _, err := Render(ctx, tmpl, vars); err != nil {
		genErr := &GenerationError{Template: tmpl.Name, Err: err}
		span.RecordError(genErr)
		span.SetStatus(codes.Error, "render failed")
		return "", genErr
	}

	runnable, err := s.chain(ctx, tmpl)
	if err != nil {
		return "", &GenerationError{Template: tmpl.Name, Err: err}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialDelay
	b.MaxInterval = 8 * s.opts.InitialDelay

	attempts := 0
	text, err := backoff.Retry(ctx, func() (string, error) {
		attempts++
		text, err := s.attempt(ctx, runnable, vars)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		if !classify(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.opts.MaxRetries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.WarnContext(ctx, "generation attempt failed, retrying", "template", tmpl.Name, "error", err, "retry_in", next)
		}),
	)
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		genErr := &GenerationError{
			Template:  tmpl.Name,
			Attempts:  attempts,
			Transient: ctx.Err() == nil && classify(err),
			Err:       err,
		}
		span.RecordError(genErr)
		span.SetStatus(codes.Error, "generation failed")
		return "", genErr
	}

	s.logger.DebugContext(ctx, "generated text", "template", tmpl.Name, "length", len(text), "attempts", attempts)
	return text, nil
}

func (s *Service) attempt(ctx context.Context, runnable compose.Runnable[map[string]any, *schema.Message], vars map[string]any) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	msg, err := runnable.Invoke(attemptCtx, vars)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("%w after %s", ErrGenerationTimeout, s.opts.Timeout)
		}
		return "", err
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", ErrEmptyResponse
	}
	return msg.Content, nil
}
