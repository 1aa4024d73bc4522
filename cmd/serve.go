package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphstudio/graphstudio/config"
	"github.com/graphstudio/graphstudio/logger"
	"github.com/graphstudio/graphstudio/orchestrator"
	"github.com/graphstudio/graphstudio/panel"
	"github.com/graphstudio/graphstudio/provider"
	"github.com/graphstudio/graphstudio/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the studio server",
	Long: `Run the studio HTTP server: the chat completions endpoint used by the
browser shell, provider metadata endpoints, and the websocket event feed.

Examples:
  graphstudio serve                       # listen on the configured address
  graphstudio serve --addr 0.0.0.0:8080   # override the listen address`,
	RunE: runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	store := panel.NewStore(panel.Builtin())
	workspaceFile, err := cfg.WorkspaceFile()
	if err != nil {
		return err
	}
	if err := store.LoadFile(workspaceFile); err != nil {
		return fmt.Errorf("failed to load workspace: %w", err)
	}
	if cfg.Workspace.AutosaveSeconds > 0 {
		if err := store.StartAutosave(time.Duration(cfg.Workspace.AutosaveSeconds) * time.Second); err != nil {
			logger.Warn("autosave unavailable", "err", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	srv := server.New(cfg, store)
	if err := attachConversation(srv, cfg, store); err != nil {
		logger.Warn("conversation endpoints disabled", "err", err)
	}
	fmt.Printf("graphstudio server on %s. Press Ctrl+C to stop.\n", cfg.Server.Addr)
	err = srv.ListenAndServe(ctx)

	if saveErr := store.StopAutosave(); saveErr != nil {
		logger.Error("final workspace save failed", "err", saveErr)
	}
	logger.Info("studio server stopped")
	return err
}

// attachConversation builds the server-side conversation controller and
// feeds its updates to websocket clients. The server still runs without it
// when no provider is configured; only the conversation endpoints go dark.
func attachConversation(srv *server.Server, cfg *config.Config, store *panel.Store) error {
	if err := provider.Validate(cfg.AI.Provider, cfg.AI.Model); err != nil {
		return err
	}
	apiKey, apiBase, err := cfg.Credentials(cfg.AI.Provider)
	if err != nil {
		return err
	}
	p, err := provider.New(cfg.AI.Provider, apiKey, apiBase, cfg.AI.Model, cfg.AI.MaxTokens, cfg.AI.Temperature)
	if err != nil {
		return err
	}

	controller := orchestrator.NewController(p, store, orchestrator.Options{
		Provider:         cfg.AI.Provider,
		Model:            cfg.AI.Model,
		ContextWindow:    cfg.AI.ContextWindowTokens,
		ContextWarnRatio: cfg.AI.ContextWarnRatio,
		OnUpdate: func(messages []orchestrator.Message) {
			srv.Publish("conversation", messages)
		},
	})
	srv.SetController(controller)
	return nil
}
