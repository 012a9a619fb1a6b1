package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tatty/internal/memory"
)

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and search workspace memory",
	}
	cmd.AddCommand(memorySyncCmd())
	cmd.AddCommand(memorySearchCmd())
	return cmd
}

func openMemory() *memory.Manager {
	cfg := mustLoadConfig()
	if !cfg.MemoryEnabled() {
		fmt.Fprintln(os.Stderr, "Memory is disabled in config.")
		os.Exit(1)
	}
	memCfg := memory.DefaultManagerConfig(cfg.Agent.Workspace)
	memCfg.DBPath = cfg.MemoryDBPath()
	mgr, err := memory.NewManager(memCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening memory index: %s\n", err)
		os.Exit(1)
	}
	return mgr
}

func memorySyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reindex MEMORY.md and memory/*.md",
		Run: func(cmd *cobra.Command, args []string) {
			mgr := openMemory()
			defer mgr.Close()
			if err := mgr.IndexAll(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("Indexed %d chunks.\n", mgr.ChunkCount())
		},
	}
}

func memorySearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Full-text search over workspace memory",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mgr := openMemory()
			defer mgr.Close()
			query := strings.Join(args, " ")
			results, err := mgr.Search(context.Background(), query, memory.SearchOptions{
				Query:      query,
				MaxResults: limit,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			if len(results) == 0 {
				fmt.Println("No matches.")
				return
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "SCORE\tLOCATION\tSNIPPET\n")
			for _, r := range results {
				fmt.Fprintf(tw, "%.2f\t%s:%d-%d\t%s\n",
					r.Score, r.Path, r.StartLine, r.EndLine,
					truncateStr(strings.ReplaceAll(r.Snippet, "\n", " "), 80))
			}
			tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "max results")
	return cmd
}
