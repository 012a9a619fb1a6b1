//go:build !tsnet

package cmd

import (
	"context"
	"net/http"
)

// initTailscale is a no-op when built without the "tsnet" tag.
// Build with `go build -tags tsnet` to enable the Tailscale listener.
func initTailscale(_ context.Context, _ http.Handler) func() {
	return nil
}
