package agent

import "context"

// Confirmer asks the user to approve a dangerous tool call. It blocks
// until the surface answers; return false to reject. The CLI installs a
// terminal prompt, serve installs an approval round-trip, and background
// surfaces (cron, heartbeat) install none, which rejects by default.
type Confirmer func(toolName, argsJSON string) bool

type confirmerCtxKey struct{}

// WithConfirmer attaches a confirmation callback to the run context.
func WithConfirmer(ctx context.Context, c Confirmer) context.Context {
	return context.WithValue(ctx, confirmerCtxKey{}, c)
}

// ConfirmerFromContext returns the attached confirmer, or nil.
func ConfirmerFromContext(ctx context.Context) Confirmer {
	c, _ := ctx.Value(confirmerCtxKey{}).(Confirmer)
	return c
}
