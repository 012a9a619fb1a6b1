package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/adhocore/gronx"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tatty/internal/store"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled agent runs",
	}
	cmd.AddCommand(cronAddCmd())
	cmd.AddCommand(cronListCmd())
	cmd.AddCommand(cronRemoveCmd())
	cmd.AddCommand(cronEnableCmd())
	return cmd
}

func cronAddCmd() *cobra.Command {
	var name, expr, session string
	cmd := &cobra.Command{
		Use:   "add [prompt]",
		Short: "Schedule a recurring agent run",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if !gronx.New().IsValid(expr) {
				fmt.Fprintf(os.Stderr, "Invalid cron expression: %s\n", expr)
				os.Exit(1)
			}
			stores := mustOpenStores(mustLoadConfig())
			defer stores.Close()
			prompt := strings.Join(args, " ")
			if name == "" {
				name = truncateStr(prompt, 40)
			}
			job, err := stores.Cron.AddJob(name,
				store.CronSchedule{Kind: "cron", Expr: expr},
				prompt, false, session, "")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("Added job %s (%s)\n", job.ID, expr)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job name (defaults to the prompt)")
	cmd.Flags().StringVar(&expr, "expr", "", "cron expression, e.g. \"0 9 * * 1-5\"")
	cmd.Flags().StringVar(&session, "session", "", "session key to run in")
	cmd.MarkFlagRequired("expr")
	return cmd
}

func cronListCmd() *cobra.Command {
	var jsonOutput bool
	var showDisabled bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		Run: func(cmd *cobra.Command, args []string) {
			stores := mustOpenStores(mustLoadConfig())
			defer stores.Close()
			printCronJobs(stores.Cron.ListJobs(showDisabled), jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&showDisabled, "all", false, "include disabled jobs")
	return cmd
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [jobId]",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			stores := mustOpenStores(mustLoadConfig())
			defer stores.Close()
			if err := stores.Cron.RemoveJob(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("Removed job %s\n", args[0])
		},
	}
}

func cronEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable [jobId] [true|false]",
		Short: "Enable or disable a job",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			enabled := args[1] == "true" || args[1] == "1" || args[1] == "on"
			stores := mustOpenStores(mustLoadConfig())
			defer stores.Close()
			if err := stores.Cron.EnableJob(args[0], enabled); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("Job %s enabled=%v\n", args[0], enabled)
		},
	}
}

func printCronJobs(jobs []store.CronJob, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(jobs, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(jobs) == 0 {
		fmt.Println("No cron jobs configured.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tNAME\tENABLED\tSCHEDULE\tLAST RUN\n")
	for _, j := range jobs {
		schedule := j.Schedule.Kind
		if j.Schedule.Expr != "" {
			schedule = j.Schedule.Expr
		} else if j.Schedule.EveryMS != nil {
			d := time.Duration(*j.Schedule.EveryMS) * time.Millisecond
			schedule = "every " + d.String()
		}

		lastRun := "never"
		if j.State.LastRunAtMS != nil {
			lastRun = time.UnixMilli(*j.State.LastRunAtMS).Format(time.DateTime)
		}

		idShort := j.ID
		if len(idShort) > 8 {
			idShort = idShort[:8]
		}

		fmt.Fprintf(tw, "%s\t%s\t%v\t%s\t%s\n",
			idShort, j.Name, j.Enabled, schedule, lastRun)
	}
	tw.Flush()
}
