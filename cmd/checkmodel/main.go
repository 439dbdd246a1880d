package main

import (
	"context"
	"fmt"
	"os"

	"github.com/atera92/mensetsu-app/internal/config"
	"github.com/atera92/mensetsu-app/internal/llm"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath string
		prompt     string
	)
	cmd := &cobra.Command{
		Use:   "checkmodel",
		Short: "Send one prompt to the configured generation model",
		Long: "checkmodel verifies the generation credentials and model name by " +
			"sending a single prompt with the same settings the relay uses.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewProduction()
			defer logger.Sync()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Generation.Timeout)
			defer cancel()

			model, err := llm.NewModel(ctx, cfg.Generation)
			if err != nil {
				logger.Error("failed to initialize model", zap.Error(err))
				return err
			}
			completion, err := llms.GenerateFromSinglePrompt(ctx, model, prompt)
			if err != nil {
				logger.Error("failed to generate completion",
					zap.Error(err),
					zap.String("provider", cfg.Generation.Provider),
					zap.String("model", cfg.Generation.Model))
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), completion)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "自己紹介を一文でお願いします。", "prompt to send")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
