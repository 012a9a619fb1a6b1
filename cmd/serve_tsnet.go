//go:build tsnet

package cmd

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"tailscale.com/tsnet"
)

// initTailscale starts an additional Tailscale listener sharing the
// serve handler. Only compiled with -tags tsnet. Hostname and auth key
// come from TATTY_TSNET_HOSTNAME / TATTY_TSNET_AUTHKEY.
func initTailscale(ctx context.Context, handler http.Handler) func() {
	hostname := os.Getenv("TATTY_TSNET_HOSTNAME")
	if hostname == "" {
		slog.Debug("tailscale available but not configured (set TATTY_TSNET_HOSTNAME to enable)")
		return nil
	}

	srv := &tsnet.Server{
		Hostname:  hostname,
		AuthKey:   os.Getenv("TATTY_TSNET_AUTHKEY"),
		Ephemeral: os.Getenv("TATTY_TSNET_EPHEMERAL") == "true",
	}
	if dir := os.Getenv("TATTY_TSNET_STATE_DIR"); dir != "" {
		srv.Dir = dir
	}

	var (
		ln  net.Listener
		err error
	)
	useTLS := os.Getenv("TATTY_TSNET_TLS") == "true"
	if useTLS {
		ln, err = srv.ListenTLS("tcp", ":443")
	} else {
		ln, err = srv.Listen("tcp", ":80")
	}
	if err != nil {
		slog.Warn("tailscale listener failed to start", "error", err)
		srv.Close()
		return nil
	}

	port := ":80"
	if useTLS {
		port = ":443 (TLS)"
	}
	slog.Info("tailscale listener started", "hostname", hostname, "port", port)

	httpSrv := &http.Server{Handler: handler}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Warn("tailscale HTTP server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	return func() {
		httpSrv.Close()
		ln.Close()
		srv.Close()
		slog.Info("tailscale listener stopped")
	}
}
