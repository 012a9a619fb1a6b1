package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tatty/internal/agent"
	"github.com/nextlevelbuilder/tatty/internal/config"
)

var (
	flagConfig        string
	flagDir           string
	flagModel         string
	flagProvider      string
	flagMaxIterations int
	flagVerbose       bool
)

var accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
var dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

var rootCmd = &cobra.Command{
	Use:   "tatty [query]",
	Short: "Autonomous tool-calling agent for your terminal",
	Long: `tatty runs an LLM agent loop with file, shell, web and memory tools
against the current workspace. Give it a task as the argument, or use
"tatty chat" for an interactive session and "tatty tui" for the full UI.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runOnce(strings.Join(args, " "))
	},
}

// Execute is the CLI entry point.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file (default ~/.tatty/config.json5)")
	pf.StringVar(&flagDir, "dir", "", "workspace directory (default current directory)")
	pf.StringVar(&flagModel, "model", "", "model override")
	pf.StringVar(&flagProvider, "provider", "", "provider override (openai, boundary, gemini, custom)")
	pf.IntVar(&flagMaxIterations, "max-iterations", 0, "max agent iterations per run")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(tuiCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(memoryCmd())
	rootCmd.AddCommand(skillsCmd())
	rootCmd.AddCommand(cronCmd())
	rootCmd.AddCommand(pairCmd())
	rootCmd.AddCommand(tracesCmd())
	rootCmd.AddCommand(artifactsCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())
}

// resolveConfigPath honors --config, then TATTY_CONFIG, then the default.
func resolveConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if env := os.Getenv("TATTY_CONFIG"); env != "" {
		return env
	}
	return config.DefaultConfigPath()
}

// greetings that never reach the provider.
var cannedGreetings = map[string]bool{
	"start": true, "begin": true, "go": true, "hello": true, "hi": true,
}

func greetingReply() string {
	return "Hi! I'm tatty. Give me a task and I'll work on it in this directory.\n" +
		"Try:  tatty \"summarize the README\"  or  tatty chat"
}

// runOnce executes a single-shot query: build the runtime, run one turn,
// print progress events and the final reply.
func runOnce(query string) error {
	if cannedGreetings[strings.ToLower(strings.TrimSpace(query))] {
		fmt.Println(greetingReply())
		return nil
	}

	rt, err := buildRuntime(printEvent)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		rt.Loop.RequestInterrupt()
	}()

	result, err := rt.Run(ctx, query)
	if err != nil {
		return err
	}
	fmt.Println(result.Content)
	return nil
}

// printEvent renders loop progress to stderr so stdout stays clean for
// the final answer.
func printEvent(evt agent.AgentEvent) {
	payload, _ := evt.Payload.(map[string]interface{})
	switch evt.Type {
	case agent.EventToolStart:
		name, _ := payload["name"].(string)
		fmt.Fprintln(os.Stderr, dimStyle.Render("⚙ "+name))
	case agent.EventToolResult:
		if isErr, _ := payload["is_error"].(bool); isErr {
			name, _ := payload["name"].(string)
			fmt.Fprintln(os.Stderr, dimStyle.Render("✗ "+name+" failed"))
		}
	case agent.EventStatus:
		if status, _ := payload["status"].(string); status != "" {
			slog.Debug("agent status", "status", status)
		}
	case agent.EventError:
		msg, _ := payload["error"].(string)
		fmt.Fprintln(os.Stderr, dimStyle.Render("error: "+msg))
	}
}
