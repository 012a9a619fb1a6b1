package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tatty/internal/agent"
	"github.com/nextlevelbuilder/tatty/internal/tui"
)

func tuiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the full-screen terminal interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI()
		},
	}
}

// tuiRunner adapts the runtime to the TUI's Runner interface.
type tuiRunner struct {
	rt *agentRuntime
}

func (r *tuiRunner) Run(ctx context.Context, message string) (*agent.RunResult, error) {
	return r.rt.RunSession(ctx, r.rt.SessionKey(), message)
}

func (r *tuiRunner) Interrupt() {
	r.rt.Loop.RequestInterrupt()
}

func runTUI() error {
	// Events arrive on the loop goroutine; Program.Send bridges them
	// into the update cycle. The program is created after the runtime,
	// so the callback reads through a pointer set below.
	var program *tea.Program

	rt, err := buildRuntime(func(evt agent.AgentEvent) {
		if program != nil {
			program.Send(tui.AgentEventMsg{Event: evt})
		}
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	model := tui.New(tui.Options{
		Runner:    &tuiRunner{rt: rt},
		AgentID:   rt.AgentID,
		ModelName: rt.Loop.Model(),
		Greeting:  greetingReply(),
	})

	program = tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
