package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tatty/internal/artifacts"
	"github.com/nextlevelbuilder/tatty/internal/config"
)

const tattyMDTemplate = `# TATTY.md

Project notes for the agent. This file is injected into every run's
context, so keep it short and factual.

## About this workspace

(describe what lives here and how to build/test it)

## Conventions

(anything the agent should always do or avoid)
`

const envTemplate = `# tatty workspace environment. Values here override the global config.
# OPENAI_API_KEY=
# BRAVE_API_KEY=
# TATTY_MODEL=
# TATTY_LOG_LEVEL=info
`

func initCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the workspace and configure a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(yes)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "accept defaults, skip the wizard")
	return cmd
}

func runInit(yes bool) error {
	cfg := mustLoadConfig()
	workspace := cfg.Agent.Workspace

	folders := artifacts.NewManager(workspace, cfg.Artifacts.Folders)
	if err := folders.Init(); err != nil {
		return fmt.Errorf("create workspace folders: %w", err)
	}
	fmt.Printf("Created workspace folders: %s\n", strings.Join(cfg.Artifacts.Folders, " "))

	wroteTemplate := func(name, content string) {
		path := filepath.Join(workspace, name)
		if _, err := os.Stat(path); err == nil {
			return
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not write %s: %s\n", name, err)
			return
		}
		fmt.Printf("Created %s\n", name)
	}
	wroteTemplate("TATTY.md", tattyMDTemplate)
	wroteTemplate(".env", envTemplate)

	if yes {
		fmt.Println("Workspace initialized with defaults. Set OPENAI_API_KEY and you're ready.")
		return nil
	}
	return runProviderWizard(cfg)
}

// runProviderWizard collects provider, key and model and saves the
// config. The key goes to the OS keyring; config.Save never writes it.
func runProviderWizard(cfg *config.Config) error {
	provider, err := promptSelect("Which provider?", []SelectOption[string]{
		{Label: "OpenAI (or compatible)", Value: "openai"},
		{Label: "Boundary relay", Value: "boundary"},
		{Label: "Gemini", Value: "gemini"},
		{Label: "Custom endpoint", Value: "custom"},
	}, 0)
	if err != nil {
		return err
	}
	cfg.Agent.Provider = provider

	defaults := map[string]string{
		"openai":   "gpt-4o",
		"boundary": "claude-sonnet-4-5",
		"gemini":   "gemini-2.0-flash",
		"custom":   "",
	}
	model, err := promptString("Model", "Enter to accept the default", defaults[provider])
	if err != nil {
		return err
	}
	if model != "" {
		cfg.Agent.Model = model
	}

	if provider == "custom" {
		base, err := promptString("API base URL", "OpenAI-compatible chat completions endpoint", "")
		if err != nil {
			return err
		}
		cfg.Providers.Custom.APIBase = base
	}

	key, err := promptPassword("API key", "Stored in the OS keyring, never in the config file")
	if err != nil {
		return err
	}
	if key != "" {
		if err := config.SetSecret(provider, key); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: keyring unavailable (%s); put the key in .env instead\n", err)
		}
	}

	if enableWeb, err := promptYesNo("Enable web search and fetch tools?", true); err == nil && !enableWeb {
		off := false
		cfg.Tools.Web.Enabled = &off
	}

	cfgPath := resolveConfigPath()
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Saved %s\n", cfgPath)
	fmt.Println(accentStyle.Render("Ready.") + " Try:  tatty \"what's in this directory?\"")
	return nil
}
