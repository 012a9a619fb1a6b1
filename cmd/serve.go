package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tatty/internal/agent"
	"github.com/nextlevelbuilder/tatty/internal/bus"
	"github.com/nextlevelbuilder/tatty/internal/config"
	"github.com/nextlevelbuilder/tatty/internal/heartbeat"
	"github.com/nextlevelbuilder/tatty/internal/server"
	"github.com/nextlevelbuilder/tatty/internal/sessions"
	"github.com/nextlevelbuilder/tatty/internal/store"
	"github.com/nextlevelbuilder/tatty/pkg/protocol"
)

func serveCmd() *cobra.Command {
	var (
		flagHost  string
		flagPort  int
		flagToken string
		flagQR    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run as a service with HTTP and WebSocket APIs",
		Long: `Starts a long-running service exposing the agent over HTTP
(OpenAI-compatible /v1/chat/completions, /v1/responses, /tools/invoke)
and a WebSocket RPC/event stream at /ws. Cron jobs and heartbeats run
inside this process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flagHost, flagPort, flagToken, flagQR)
		},
	}

	cmd.Flags().StringVar(&flagHost, "host", "", "listen host (default from config)")
	cmd.Flags().IntVar(&flagPort, "port", 0, "listen port (default from config)")
	cmd.Flags().StringVar(&flagToken, "token", "", "bearer token for API auth (default from config)")
	cmd.Flags().BoolVar(&flagQR, "qr", false, "print a QR code with the WebSocket URL")
	return cmd
}

func runServe(host string, port int, token string, showQR bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var rt *agentRuntime
	// Serve mode has no terminal to print to. Loop events fan out to
	// WebSocket clients through the bus.
	rt, err = buildRuntimeWith(cfg, func(evt agent.AgentEvent) {
		if rt != nil && rt.Bus != nil {
			rt.Bus.Broadcast(bus.Event{Name: protocol.EventAgent, Payload: map[string]interface{}{
				"type":    evt.Type,
				"payload": evt.Payload,
			}})
		}
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	if host == "" {
		host = cfg.Serve.Host
	}
	if port == 0 {
		port = cfg.Serve.Port
	}
	if token == "" {
		token = cfg.Serve.Token
	}
	// Managed mode keeps the serve token in encrypted config secrets.
	if token == "" && rt.Stores.Secrets != nil {
		if v, serr := rt.Stores.Secrets.Get(context.Background(), "serve_token"); serr == nil && v != "" {
			token = v
		}
	}

	srv := server.New(server.Config{
		Host:              host,
		Port:              port,
		Token:             token,
		RequestsPerMinute: cfg.Serve.RequestsPerMinute,
		AgentID:           rt.AgentID,
		Model:             rt.Loop.Model(),
	}, rt.Loop, rt.Sessions, rt.Tools, rt.Bus)
	if rt.Stores.Pairing != nil {
		srv.SetPairingStore(rt.Stores.Pairing)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Cron.Enabled && rt.Stores.Cron != nil {
		rt.Stores.Cron.SetOnJob(rt.cronJobHandler(ctx))
		if err := rt.Stores.Cron.Start(); err != nil {
			slog.Warn("cron service failed to start", "error", err)
		} else {
			defer rt.Stores.Cron.Stop()
		}
	}

	if cfg.Heartbeat.Enabled {
		hb := heartbeat.NewService(heartbeat.Config{
			AgentID:     rt.AgentID,
			Interval:    time.Duration(cfg.Heartbeat.IntervalMin) * time.Minute,
			ActiveHours: cfg.Heartbeat.ActiveHours,
			Target:      "ws",
			To:          "clients",
			Workspace:   cfg.Agent.Workspace,
		}, rt.agentRunner(), rt.Bus, nil)
		hb.Start()
		defer hb.Stop()
	}

	if stopTS := initTailscale(ctx, srv.Handler()); stopTS != nil {
		defer stopTS()
	}

	// Hot-reload applies logging changes in place; provider and tool
	// changes need a restart.
	if watcher, werr := config.NewWatcher(resolveConfigPath()); werr == nil {
		watcher.OnChange(func(newCfg *config.Config) {
			setupLogging(newCfg)
			slog.Info("config reloaded", "note", "provider and tool changes apply on restart")
		})
		if err := watcher.Start(); err != nil {
			slog.Warn("config watcher failed to start", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	scheme := "ws"
	wsURL := fmt.Sprintf("%s://%s/ws", scheme, srv.Addr())
	if showQR {
		qr, err := qrcode.New(wsURL, qrcode.Medium)
		if err != nil {
			slog.Warn("qr code generation failed", "error", err)
		} else {
			fmt.Println(qr.ToSmallString(false))
		}
	}
	fmt.Printf("tatty serve listening on http://%s (ws: %s)\n", srv.Addr(), wsURL)

	return srv.Start(ctx)
}

// agentRunner adapts the loop to the heartbeat service's callback.
func (rt *agentRuntime) agentRunner() heartbeat.AgentRunner {
	return func(ctx context.Context, agentID, sessionKey, message, runID string) (string, error) {
		result, err := rt.Loop.Run(ctx, agent.RunRequest{
			SessionKey: sessionKey,
			Message:    message,
			Channel:    "heartbeat",
			ChatID:     "internal",
			PeerKind:   "direct",
			RunID:      runID,
		})
		if err != nil {
			return "", err
		}
		return result.Content, nil
	}
}

// cronJobHandler runs a fired cron job through the agent loop.
func (rt *agentRuntime) cronJobHandler(ctx context.Context) func(job *store.CronJob) (string, error) {
	return func(job *store.CronJob) (string, error) {
		sessionKey := job.Payload.SessionKey
		if sessionKey == "" {
			sessionKey = sessions.BuildSessionKey(rt.AgentID, "cron", "direct", job.ID)
		}

		slog.Info("cron job firing", "job", job.Name, "session", sessionKey)

		runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()

		result, err := rt.Loop.Run(runCtx, agent.RunRequest{
			SessionKey: sessionKey,
			Message:    job.Payload.Message,
			Channel:    "cron",
			ChatID:     job.ID,
			PeerKind:   "direct",
			RunID:      store.GenNewID().String(),
		})
		if err != nil {
			return "", err
		}

		if job.Payload.Announce {
			rt.Bus.PublishOutbound(bus.OutboundMessage{
				Channel: "cron",
				ChatID:  job.ID,
				Content: fmt.Sprintf("[cron:%s] %s", job.Name, result.Content),
			})
		}
		return result.Content, nil
	}
}
