package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atera92/mensetsu-app/internal/api"
	"github.com/atera92/mensetsu-app/internal/config"
	"github.com/atera92/mensetsu-app/internal/db"
	"github.com/atera92/mensetsu-app/internal/llm"
	"github.com/atera92/mensetsu-app/internal/logging"
	"github.com/atera92/mensetsu-app/internal/speech"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

type historyStore interface {
	llm.HistoryStore
	api.ConversationStore
	Close() error
}

func main() {
	root := &cobra.Command{
		Use:   "mensetsu",
		Short: "Interview practice relay: chat reply plus spoken audio",
	}
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		dev        bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if dev {
				cfg.Log.Development = true
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (defaults and environment only when empty)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	cmd.Flags().BoolVar(&dev, "dev", false, "human-readable debug logging")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := openStore(cfg.Storage)
	if err != nil {
		logger.Error("failed to initialize history store",
			zap.Error(err),
			zap.String("driver", cfg.Storage.Driver),
			zap.String("dbPath", cfg.Storage.Path))
		return err
	}
	defer store.Close()

	model, err := llm.NewModel(ctx, cfg.Generation)
	if err != nil {
		logger.Error("failed to initialize generation model", zap.Error(err))
		return err
	}

	var tokens llm.TokenCounter
	if cfg.Generation.TokenEncoding != "" {
		tokens, err = llm.NewTokenCounter(cfg.Generation.TokenEncoding)
		if err != nil {
			logger.Warn("history token reporting disabled", zap.Error(err))
		}
	}

	sessions := llm.NewSessionManager(llm.Config{
		Model: model,
		Store: store,
		Persona: llm.Persona{
			Instruction:     cfg.Persona.Instruction,
			Acknowledgement: cfg.Persona.Acknowledgement,
		},
		Timeout:     cfg.Generation.Timeout,
		MaxLive:     cfg.Server.MaxConversations,
		IdleTTL:     cfg.Server.ConversationTTL,
		Tokens:      tokens,
		CallOptions: callOptions(cfg.Generation),
		Logger:      logger.Named("llm"),
	})

	synth := speech.New(speech.Config{
		APIKey:  cfg.Speech.APIKey,
		BaseURL: cfg.Speech.BaseURL,
		Model:   cfg.Speech.Model,
		Voice:   cfg.Speech.Voice,
		Timeout: cfg.Speech.Timeout,
		TempDir: cfg.Speech.TempDir,
		Logger:  logger.Named("speech"),
	})

	handler := api.NewHandler(store, sessions, synth, cfg.Server.DefaultConversation, logger.Named("api"))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Routes(cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			zap.String("addr", cfg.Server.Addr),
			zap.String("provider", cfg.Generation.Provider),
			zap.String("model", cfg.Generation.Model),
			zap.String("voice", synth.Voice()),
			zap.Strings("allowedOrigins", cfg.Server.AllowedOrigins))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func callOptions(cfg config.GenerationConfig) []llms.CallOption {
	var opts []llms.CallOption
	if cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(cfg.MaxTokens))
	}
	if cfg.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(cfg.Temperature))
	}
	return opts
}

func openStore(cfg config.StorageConfig) (historyStore, error) {
	if cfg.Driver == config.StorageSQLite {
		database, err := db.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return database, nil
	}
	return db.NewMemoryStore(), nil
}
