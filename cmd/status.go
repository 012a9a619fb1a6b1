package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tatty/internal/artifacts"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report workspace and configuration readiness",
		Run: func(cmd *cobra.Command, args []string) {
			runStatus()
		},
	}
}

func runStatus() {
	cfg := mustLoadConfig()
	workspace := cfg.Agent.Workspace

	check := func(ok bool, label string) {
		mark := "✓"
		if !ok {
			mark = "✗"
		}
		fmt.Printf("  %s %s\n", mark, label)
	}
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(workspace, name))
		return err == nil
	}

	fmt.Println(accentStyle.Render("Workspace ") + workspace)
	missing := artifacts.NewManager(workspace, cfg.Artifacts.Folders).Verify()
	check(len(missing) == 0, fmt.Sprintf("standard folders (%d missing)", len(missing)))
	check(exists("TATTY.md"), "TATTY.md context file")
	check(exists(".env"), ".env file")

	fmt.Println(accentStyle.Render("Config ") + resolveConfigPath())
	_, cfgErr := os.Stat(resolveConfigPath())
	check(cfgErr == nil, "config file present")

	providerReady := false
	switch cfg.Agent.Provider {
	case "", "openai":
		providerReady = cfg.Providers.OpenAI.APIKey != ""
	case "boundary":
		providerReady = cfg.Providers.Boundary.APIKey != ""
	case "gemini":
		providerReady = cfg.Providers.Gemini.APIKey != ""
	case "custom":
		providerReady = cfg.Providers.Custom.APIBase != ""
	}
	check(providerReady, fmt.Sprintf("provider %q credentials", cfg.Agent.Provider))
	fmt.Printf("  model: %s\n", cfg.Agent.Model)

	fmt.Println(accentStyle.Render("Features"))
	check(cfg.MemoryEnabled(), "workspace memory")
	webOn := cfg.Tools.Web.Enabled == nil || *cfg.Tools.Web.Enabled
	check(webOn, "web tools")
	check(cfg.IsManaged(), "managed mode (Postgres)")

	if len(missing) > 0 {
		fmt.Println(dimStyle.Render("Run `tatty init` to create missing folders."))
	}
	if !providerReady {
		fmt.Println(dimStyle.Render("Run `tatty init` or set OPENAI_API_KEY to configure a provider."))
	}
}
