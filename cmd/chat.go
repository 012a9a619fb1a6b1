package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tatty/internal/agent"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat()
		},
	}
}

func runChat() error {
	rt, err := buildRuntime(printEvent)
	if err != nil {
		return err
	}
	defer rt.Close()

	fmt.Println(accentStyle.Render("tatty chat") + dimStyle.Render("  ("+rt.Cfg.Agent.Model+")"))
	fmt.Println(dimStyle.Render("exit/quit to leave, /new to reset the session, ^C to interrupt a run"))

	// ^C interrupts the in-flight run; a second ^C with nothing running
	// exits the loop.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if rt.Loop.IsRunning() {
				rt.Loop.RequestInterrupt()
				continue
			}
			fmt.Println()
			os.Exit(0)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print(accentStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case input == "exit" || input == "quit" || input == "q":
			return nil
		case input == "/new":
			rt.Sessions.Reset(rt.SessionKey())
			fmt.Println(dimStyle.Render("session reset"))
			continue
		}
		if cannedGreetings[strings.ToLower(input)] {
			fmt.Println(greetingReply())
			continue
		}

		ctx := agent.WithConfirmer(context.Background(), confirmToolPrompt)
		result, err := rt.Run(ctx, input)
		if err != nil {
			fmt.Fprintln(os.Stderr, dimStyle.Render("error: "+err.Error()))
			continue
		}
		fmt.Println(result.Content)
	}
}

// confirmToolPrompt asks the user to approve a gated tool call.
func confirmToolPrompt(toolName, argsJSON string) bool {
	fmt.Printf("%s wants to run %s\n  %s\nAllow? [y/N] ", accentStyle.Render("tatty"), toolName, dimStyle.Render(truncateStr(argsJSON, 200)))
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
