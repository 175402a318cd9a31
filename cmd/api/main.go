package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/evacsim/backend/internal/app"
	"github.com/zhouzirui/evacsim/backend/internal/config"
	"github.com/zhouzirui/evacsim/backend/internal/handler"
	"github.com/zhouzirui/evacsim/backend/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded, using system environment variables only", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.Setup(cfg)

	shutdownTracer, err := logger.InitTracer(ctx, cfg.Tracing, cfg.Environment)
	if err != nil {
		log.Error("failed to initialise tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	services, err := app.Build(ctx, cfg, app.Options{}, log)
	if err != nil {
		log.Error("failed to initialise services", "error", err)
		os.Exit(1)
	}
	defer services.Close()

	go services.Conversations.RunJanitor(ctx, cfg.Session.SweepInterval)

	router := handler.NewRouter(handler.Deps{
		Personas:  services.Personas,
		Turns:     services.Turns,
		Simulator: services.Simulator,
		Logger:    log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("evacuation dialogue backend listening", "addr", cfg.Server.Addr, "environment", cfg.Environment)
	if err := runServer(ctx, srv); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
