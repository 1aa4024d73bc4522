package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphstudio/graphstudio/config"
	"github.com/graphstudio/graphstudio/logger"
	"github.com/graphstudio/graphstudio/orchestrator"
	"github.com/graphstudio/graphstudio/panel"
	"github.com/graphstudio/graphstudio/provider"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the workspace from the terminal",
	Long: `Start an interactive conversation against the persisted panel
workspace. Panel tools are offered to the model; tool calls run against the
live panels and mutations are saved back to the workspace file.

Commands inside the session:
  /export   print the conversation as JSON
  /regen    regenerate the last response
  /quit     exit`,
	RunE: runChat,
}

var chatObserveAll bool

func init() {
	chatCmd.Flags().BoolVar(&chatObserveAll, "observe-all", false, "Include every panel's content in the model context")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

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

	store := panel.NewStore(panel.Builtin())
	workspaceFile, err := cfg.WorkspaceFile()
	if err != nil {
		return err
	}
	if err := store.LoadFile(workspaceFile); err != nil {
		return fmt.Errorf("failed to load workspace: %w", err)
	}
	if len(store.List()) == 0 {
		seedDefaultPanels(store)
	}
	if chatObserveAll {
		for _, inst := range store.List() {
			store.SetObserving(inst.ID, true)
		}
	}
	if cfg.Workspace.AutosaveSeconds > 0 {
		if err := store.StartAutosave(time.Duration(cfg.Workspace.AutosaveSeconds) * time.Second); err != nil {
			logger.Warn("autosave unavailable", "err", err)
		}
	}
	defer func() {
		if err := store.StopAutosave(); err != nil {
			logger.Error("final workspace save failed", "err", err)
		}
	}()

	controller := orchestrator.NewController(p, store, orchestrator.Options{
		Provider:         cfg.AI.Provider,
		Model:            cfg.AI.Model,
		ContextWindow:    cfg.AI.ContextWindowTokens,
		ContextWarnRatio: cfg.AI.ContextWarnRatio,
	})

	fmt.Printf("graphstudio chat (%s / %s). /quit to exit.\n", cfg.AI.Provider, cfg.AI.Model)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/export":
			data, err := controller.ExportJSON()
			if err != nil {
				fmt.Println("export failed:", err)
				continue
			}
			fmt.Println(string(data))
			continue
		case "/regen":
			if err := controller.RegenerateLastResponse(context.Background()); err != nil {
				fmt.Println("regenerate failed:", err)
				continue
			}
			printLastTurn(controller)
			continue
		}

		if err := controller.SendMessage(context.Background(), line); err != nil {
			fmt.Println("error:", err)
			continue
		}
		printLastTurn(controller)
	}
	return scanner.Err()
}

// printLastTurn prints everything appended since the last user message.
func printLastTurn(c *orchestrator.Controller) {
	msgs := c.Messages()
	start := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == orchestrator.RoleUser {
			start = i + 1
			break
		}
	}
	for _, m := range msgs[start:] {
		switch m.Role {
		case orchestrator.RoleToolResults:
			for _, res := range m.Results {
				if res.Success {
					fmt.Printf("[tool %s ok]\n", res.ToolName)
				} else {
					fmt.Printf("[tool %s failed: %s]\n", res.ToolName, res.Error)
				}
			}
		case orchestrator.RoleAssistant:
			if m.IsError {
				fmt.Println("assistant error:", m.Content)
				continue
			}
			if m.Content != "" {
				fmt.Println("assistant>", m.Content)
			}
		}
	}
}

func seedDefaultPanels(store *panel.Store) {
	for _, typeID := range []string{"chat", "workspace", "notes"} {
		if _, err := store.Add(typeID, ""); err != nil {
			logger.Warn("failed to seed panel", "type", typeID, "err", err)
		}
	}
}
