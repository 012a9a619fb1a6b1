package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tatty/internal/config"
)

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available AI models and providers",
	}
	cmd.AddCommand(modelsListCmd())
	return cmd
}

type modelEntry struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Status   string `json:"status"`
}

func modelsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured models and providers",
		Run: func(cmd *cobra.Command, args []string) {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
				os.Exit(1)
			}

			entries := buildModelList(cfg)
			entries = append(entries, managedProviderEntries(cfg)...)

			if jsonOutput {
				data, _ := json.MarshalIndent(entries, "", "  ")
				fmt.Println(string(data))
				return
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "PROVIDER\tMODEL\tSTATUS\n")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Provider, e.Model, e.Status)
			}
			tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func buildModelList(cfg *config.Config) []modelEntry {
	entries := []modelEntry{
		{Provider: cfg.Agent.Provider, Model: cfg.Agent.Model, Status: "default"},
	}
	if cfg.Agent.FastModel != "" {
		entries = append(entries, modelEntry{
			Provider: cfg.Agent.Provider, Model: cfg.Agent.FastModel, Status: "fast",
		})
	}

	type providerCheck struct {
		name   string
		hasKey bool
	}
	checks := []providerCheck{
		{"openai", cfg.Providers.OpenAI.APIKey != ""},
		{"boundary", cfg.Providers.Boundary.APIKey != ""},
		{"gemini", cfg.Providers.Gemini.APIKey != ""},
		{"custom", cfg.Providers.Custom.APIBase != ""},
	}
	for _, p := range checks {
		if p.hasKey {
			entries = append(entries, modelEntry{
				Provider: p.name,
				Model:    "(any)",
				Status:   "available",
			})
		}
	}

	return entries
}

// managedProviderEntries lists providers registered in the database
// (managed mode); standalone returns nothing.
func managedProviderEntries(cfg *config.Config) []modelEntry {
	if !cfg.IsManaged() {
		return nil
	}
	stores, err := openStores(cfg)
	if err != nil || stores.Providers == nil {
		return nil
	}
	defer stores.Close()

	providers, err := stores.Providers.ListProviders(context.Background())
	if err != nil {
		return nil
	}
	var entries []modelEntry
	for _, p := range providers {
		status := "registered"
		if !p.Enabled {
			status = "disabled"
		}
		entries = append(entries, modelEntry{Provider: p.Name, Model: "(any)", Status: status})
	}
	return entries
}
