package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func tracesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Inspect recorded agent runs (managed mode)",
	}
	cmd.AddCommand(tracesListCmd())
	cmd.AddCommand(tracesShowCmd())
	return cmd
}

func tracesListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent traces",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := mustLoadConfig()
			stores := mustOpenStores(cfg)
			defer stores.Close()
			if stores.Tracing == nil {
				fmt.Fprintln(os.Stderr, "Traces require managed mode (database.postgres_dsn).")
				os.Exit(1)
			}

			traces, err := stores.Tracing.ListTraces(context.Background(), "", limit)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "TRACE\tSESSION\tSTATUS\tSPANS\tTOKENS\tSTARTED\n")
			for _, t := range traces {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d/%d\t%s\n",
					t.ID, t.SessionKey, t.Status, t.SpanCount,
					t.InputTokens, t.OutputTokens,
					t.StartTime.Format(time.RFC3339))
			}
			tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum traces to list")
	return cmd
}

func tracesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [trace-id]",
		Short: "Show the spans of one trace",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			traceID, err := uuid.Parse(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Invalid trace id: %s\n", args[0])
				os.Exit(1)
			}
			cfg := mustLoadConfig()
			stores := mustOpenStores(cfg)
			defer stores.Close()
			if stores.Spans == nil {
				fmt.Fprintln(os.Stderr, "Traces require managed mode (database.postgres_dsn).")
				os.Exit(1)
			}

			spans, err := stores.Spans.ListSpans(context.Background(), traceID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "SPAN\tTYPE\tNAME\tSTATUS\tDURATION\tTOKENS\n")
			for _, s := range spans {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%dms\t%d/%d\n",
					s.ID, s.SpanType, s.Name, s.Status, s.DurationMS,
					s.InputTokens, s.OutputTokens)
			}
			tw.Flush()
		},
	}
}
