package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/graphstudio/graphstudio/config"
	"github.com/graphstudio/graphstudio/provider"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize graphstudio configuration",
	Long:  `Create the graphstudio configuration directory and default config file.`,
	RunE:  runOnboard,
}

func init() {
	rootCmd.AddCommand(onboardCmd)
}

// providerURLs maps provider names to their API key portal URLs.
var providerURLs = map[string]string{
	"openai":      "https://platform.openai.com/api-keys",
	"deepseek":    "https://platform.deepseek.com",
	"siliconflow": "https://cloud.siliconflow.cn",
	"anthropic":   "https://console.anthropic.com",
}

func runOnboard(_ *cobra.Command, _ []string) error {
	dir, err := config.Dir()
	if err != nil {
		return err
	}
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config already exists at:", configPath)
		fmt.Println("To reconfigure, edit the file directly or delete it first.")
		return nil
	}

	var (
		selectedProvider string
		selectedModel    string
		apiKey           string
	)

	// Step 1: select provider
	providerOptions := make([]huh.Option[string], 0)
	for _, name := range provider.SupportedProviders() {
		if _, ok := providerURLs[name]; !ok {
			continue
		}
		providerOptions = append(providerOptions, huh.NewOption(name, name))
	}
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Choose your LLM provider").
				Description("graphstudio routes conversations through one provider. Choose one to get started.").
				Options(providerOptions...).
				Value(&selectedProvider),
		),
	).Run()
	if err != nil {
		return err
	}

	// Step 2: select model (dynamic based on provider)
	modelOptions := make([]huh.Option[string], 0)
	for _, m := range provider.ModelsFor(selectedProvider) {
		modelOptions = append(modelOptions, huh.NewOption(fmt.Sprintf("%s (%s)", m.Name, m.ID), m.ID))
	}
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Choose model for "+selectedProvider).
				Description("The first option is the recommended default.").
				Options(modelOptions...).
				Value(&selectedModel),
		),
	).Run()
	if err != nil {
		return err
	}

	// Step 3: API key
	keyURL := providerURLs[selectedProvider]
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Enter your "+selectedProvider+" API key").
				Description("Create one at "+keyURL).
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("API key is required")
					}
					return nil
				}).
				Value(&apiKey),
		),
	).Run()
	if err != nil {
		return err
	}

	cfg := config.DefaultConfig()
	cfg.AI.Provider = selectedProvider
	cfg.AI.Model = selectedModel
	setProviderKey(cfg, selectedProvider, strings.TrimSpace(apiKey))

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println("Config written to:", configPath)
	fmt.Println("Run `graphstudio serve` to start the studio server, or `graphstudio chat` for a terminal session.")
	return nil
}

func setProviderKey(cfg *config.Config, name, apiKey string) {
	pc := &config.ProviderConfig{APIKey: apiKey}
	switch name {
	case "openai":
		cfg.Providers.OpenAI = pc
	case "deepseek":
		cfg.Providers.DeepSeek = pc
	case "siliconflow":
		cfg.Providers.SiliconFlow = pc
	case "anthropic":
		cfg.Providers.Anthropic = pc
	}
}
