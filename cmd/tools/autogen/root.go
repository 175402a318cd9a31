package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/evacsim/backend/internal/app"
	"github.com/zhouzirui/evacsim/backend/internal/config"
	"github.com/zhouzirui/evacsim/backend/internal/logger"
	"github.com/zhouzirui/evacsim/backend/internal/model/chat"
	"github.com/zhouzirui/evacsim/backend/internal/service/ai"
	"github.com/zhouzirui/evacsim/backend/internal/service/planner"
)

type options struct {
	output      string
	characters  []string
	dryRun      bool
	maxMessages int
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "autogen",
		Short: "Generate automated Julie conversations for every scripted town person",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output JSON path (default: auto_conversations_<timestamp>.json)")
	cmd.Flags().StringSliceVarP(&opts.characters, "characters", "c", nil, "Town people to include (default: bob,niki,lindsay,ross,michelle)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Use an offline mock model instead of the configured LLM")
	cmd.Flags().IntVar(&opts.maxMessages, "max-messages", 0, "Override AUTO_MAX_MESSAGES")
	return cmd
}

func run(ctx context.Context, opts *options, cmd *cobra.Command) error {
	characters, err := parseCharacters(opts.characters)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if opts.maxMessages > 0 {
		cfg.Session.AutoMaxMessages = opts.maxMessages
	}
	log := logger.Setup(cfg)

	buildOpts := app.Options{MemoryOnly: true}
	if opts.dryRun {
		buildOpts.ChatModel = ai.NewMockChatModel()
	}
	services, err := app.Build(ctx, cfg, buildOpts, log)
	if err != nil {
		return err
	}
	defer services.Close()

	artifact, err := services.Simulator.Batch(ctx, characters)
	if err != nil {
		return err
	}

	path := opts.output
	if path == "" {
		path = defaultOutput(artifact.GeneratedAt)
	}
	if err := writeArtifact(path, artifact); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Generated %d conversations -> %s\n", artifact.TotalConversations, path)
	for _, conv := range artifact.Conversations {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-10s %2d messages, %d decisions\n", conv.TownPerson, conv.TotalMessages, len(conv.DecisionResponses))
	}
	return nil
}

func parseCharacters(names []string) ([]planner.Character, error) {
	if len(names) == 0 {
		return planner.ScriptedTownPeople(), nil
	}
	out := make([]planner.Character, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		c, err := planner.ParseTownPerson(name)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func defaultOutput(at time.Time) string {
	return fmt.Sprintf("auto_conversations_%s.json", at.Format("20060102_150405"))
}

func writeArtifact(path string, artifact *chat.Artifact) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
