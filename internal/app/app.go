// Package app 组装所有服务，供 API 服务与命令行工具共用。
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/evacsim/backend/internal/config"
	"github.com/zhouzirui/evacsim/backend/internal/model/persona"
	"github.com/zhouzirui/evacsim/backend/internal/model/script"
	"github.com/zhouzirui/evacsim/backend/internal/service/ai"
	chatsvc "github.com/zhouzirui/evacsim/backend/internal/service/chat"
	"github.com/zhouzirui/evacsim/backend/internal/service/planner"
	"github.com/zhouzirui/evacsim/backend/internal/service/probe"
	"github.com/zhouzirui/evacsim/backend/internal/service/simulate"
	"github.com/zhouzirui/evacsim/backend/internal/service/turn"
)

// App holds the wired services. Generator is nil when no model is configured.
type App struct {
	Personas      *persona.MemoryStore
	Library       *script.Library
	Conversations *chatsvc.Service
	Generator     *ai.Service
	Probes        *probe.Service
	Planner       *planner.Planner
	Turns         *turn.Service
	Simulator     *simulate.Simulator

	closers []func() error
}

// Options 覆盖配置中的部分行为，主要用于离线运行。
type Options struct {
	// ChatModel replaces the configured backend when set.
	ChatModel model.ChatModel
	// MemoryOnly ignores REDIS_URL.
	MemoryOnly bool
}

// Build loads data files and wires every service. Per-character
// configuration problems are logged and skipped; only unreadable files
// and store failures are returned.
func Build(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*App, error) {
	a := &App{}

	personas, err := loadPersonas(cfg.Data.PersonaFile, logger)
	if err != nil {
		return nil, err
	}
	a.Personas = persona.NewMemoryStore(personas)

	a.Library, err = loadLibrary(cfg.Data.ScriptFile, logger)
	if err != nil {
		return nil, err
	}

	store, err := a.sessionStore(ctx, cfg.Session, opts.MemoryOnly, logger)
	if err != nil {
		return nil, err
	}
	a.Conversations = chatsvc.NewService(store, logger)

	a.Generator, err = newGenerator(ctx, cfg.AI, opts.ChatModel, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	// 未配置模型时各服务拿到的是 nil 接口，而不是包着 nil 指针的接口。
	var (
		gen     probe.Generator
		turnGen turn.Generator
		simGen  simulate.Generator
	)
	a.Probes = probe.NewService(nil, probe.Config{}, logger)
	if a.Generator != nil {
		gen, turnGen, simGen = a.Generator, a.Generator, a.Generator
		a.Probes = probe.NewService(gen, probe.Config{Enabled: cfg.AI.ProbesEnabled}, logger)
	}

	a.Planner = planner.New(a.Library, a.Probes, logger)
	for _, err := range a.Planner.Validate() {
		logger.Warn("planner table references missing example lines", "error", err)
	}

	a.Turns = turn.NewService(a.Conversations, a.Planner, turnGen, a.Probes, a.Personas, turn.Options{
		HistoryWindow:   cfg.Session.HistoryWindow,
		AutoMaxMessages: cfg.Session.AutoMaxMessages,
	}, logger)
	a.Simulator = simulate.New(a.Conversations, a.Planner, a.Library, simGen, a.Probes, a.Personas, simulate.Options{
		HistoryWindow: cfg.Session.HistoryWindow,
		MaxMessages:   cfg.Session.AutoMaxMessages,
	}, logger)

	return a, nil
}

// Close releases external connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func loadPersonas(path string, logger *slog.Logger) ([]persona.Persona, error) {
	var (
		items    []persona.Persona
		warnings []error
		err      error
	)
	if path == "" {
		items, warnings, err = persona.LoadDefault()
	} else {
		items, warnings, err = persona.LoadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("load personas: %w", err)
	}
	for _, w := range warnings {
		logger.Warn("skipping persona entry", "error", w)
	}
	logger.Info("personas loaded", "count", len(items), "source", sourceName(path))
	return items, nil
}

func loadLibrary(path string, logger *slog.Logger) (*script.Library, error) {
	var (
		lib      *script.Library
		warnings []error
		err      error
	)
	if path == "" {
		lib, warnings = script.LoadDefault()
	} else {
		lib, warnings, err = script.LoadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("load script library: %w", err)
	}
	for _, w := range warnings {
		logger.Warn("skipping script entry", "error", w)
	}
	logger.Info("script library loaded", "characters", len(lib.Characters()), "source", sourceName(path))
	return lib, nil
}

func sourceName(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}

func (a *App) sessionStore(ctx context.Context, cfg config.SessionConfig, memoryOnly bool, logger *slog.Logger) (chatsvc.Store, error) {
	if memoryOnly || cfg.RedisURL == "" {
		logger.Info("using in-memory session store", "ttl", cfg.TTL)
		return chatsvc.NewMemoryStore(cfg.TTL), nil
	}

	store, err := chatsvc.NewRedisStore(cfg.RedisURL, cfg.TTL, logger)
	if err != nil {
		return nil, err
	}
	if err := store.WaitForConnection(ctx); err != nil {
		store.Close()
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	logger.Info("using redis session store", "ttl", cfg.TTL)
	return store, nil
}

func newGenerator(ctx context.Context, cfg config.AIConfig, override model.ChatModel, logger *slog.Logger) (*ai.Service, error) {
	if override != nil {
		return ai.NewService(ctx, override, ai.Options{Timeout: cfg.Timeout, MaxRetries: cfg.MaxRetries}, logger)
	}
	if !cfg.Enabled() {
		logger.Warn("LLM credentials not configured, generation endpoints will return 503", "provider", cfg.Provider)
		return nil, nil
	}
	gen, err := ai.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("text generation initialised", "provider", cfg.Provider)
	return gen, nil
}
