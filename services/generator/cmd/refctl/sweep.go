package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"postcraft/pkg/ai"
	"postcraft/pkg/store"
	"postcraft/services/generator/internal/app"
	"postcraft/services/generator/internal/config"
	"postcraft/services/generator/internal/pipeline"
	"postcraft/services/generator/internal/references"
)

func newSweepCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Fail and refund generation jobs left pending past the stale window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("sweep needs databaseURL")
			}
			st, err := store.NewGormStore(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			a, err := sweepApp(cfg, st)
			if err != nil {
				return err
			}
			n, err := a.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "swept %d stale job(s)\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", config.ConfigPath, "generator config file")
	return cmd
}

// sweepApp builds an App that only sweeps. The model client is constructed
// but never called.
func sweepApp(cfg config.FileConfig, st store.Store) (*app.App, error) {
	apiKey := cfg.OpenAIAPIKey
	if strings.EqualFold(cfg.LLMProvider, "gemini") {
		apiKey = cfg.GeminiAPIKey
	}
	gen, err := ai.NewGenerator(ai.ProviderConfig{Provider: cfg.LLMProvider, APIKey: apiKey, BaseURL: cfg.LLMBaseURL})
	if err != nil {
		return nil, fmt.Errorf("init llm provider: %w", err)
	}
	stages := pipeline.New(gen, pipeline.Models{Style: cfg.StyleModel, Draft: cfg.DraftModel, Rewrite: cfg.RewriteModel}, cfg.StageTimeout())
	return app.New(app.Config{
		Store:      st,
		Stages:     stages,
		References: references.NewResolver(cfg.MinTextLength, slog.Default()),
		Logger:     slog.Default(),
		StaleAfter: cfg.StaleAfter(),
	})
}
