package tools

import "context"

// Per-call values travel through the context instead of mutable tool fields,
// so one tool instance can serve concurrent executions.

type ctxKey int

const (
	ctxKeyChannel ctxKey = iota
	ctxKeyChatID
	ctxKeyPeerKind
	ctxKeySandboxKey
	ctxKeyAsyncCB
)

// WithToolChannel records the surface the call came from (cli, http, tui, cron).
func WithToolChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ctxKeyChannel, channel)
}

// ToolChannelFromCtx returns the calling surface, or "" when unset.
func ToolChannelFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyChannel).(string)
	return v
}

// WithToolChatID records the conversation identifier within the surface.
func WithToolChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, ctxKeyChatID, chatID)
}

func ToolChatIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyChatID).(string)
	return v
}

// WithToolPeerKind records "direct" or "group".
func WithToolPeerKind(ctx context.Context, peerKind string) context.Context {
	return context.WithValue(ctx, ctxKeyPeerKind, peerKind)
}

func ToolPeerKindFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyPeerKind).(string)
	return v
}

// WithToolSandboxKey records the session key used to scope sandboxed exec.
func WithToolSandboxKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxKeySandboxKey, key)
}

func ToolSandboxKeyFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeySandboxKey).(string)
	return v
}

// WithToolAsyncCB attaches the completion callback for async tools.
func WithToolAsyncCB(ctx context.Context, cb AsyncCallback) context.Context {
	return context.WithValue(ctx, ctxKeyAsyncCB, cb)
}

func ToolAsyncCBFromCtx(ctx context.Context) AsyncCallback {
	v, _ := ctx.Value(ctxKeyAsyncCB).(AsyncCallback)
	return v
}
