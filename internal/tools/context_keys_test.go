package tools

import (
	"context"
	"testing"
)

func TestToolContextKeys_Channel(t *testing.T) {
	ctx := context.Background()
	if v := ToolChannelFromCtx(ctx); v != "" {
		t.Errorf("expected empty, got %q", v)
	}

	ctx = WithToolChannel(ctx, "cli")
	if v := ToolChannelFromCtx(ctx); v != "cli" {
		t.Errorf("expected cli, got %q", v)
	}
}

func TestToolContextKeys_ChatID(t *testing.T) {
	ctx := context.Background()
	if v := ToolChatIDFromCtx(ctx); v != "" {
		t.Errorf("expected empty, got %q", v)
	}

	ctx = WithToolChatID(ctx, "chat-123")
	if v := ToolChatIDFromCtx(ctx); v != "chat-123" {
		t.Errorf("expected chat-123, got %q", v)
	}
}

func TestToolContextKeys_PeerKind(t *testing.T) {
	ctx := context.Background()
	ctx = WithToolPeerKind(ctx, "group")
	if v := ToolPeerKindFromCtx(ctx); v != "group" {
		t.Errorf("expected group, got %q", v)
	}
}

func TestToolContextKeys_SandboxKey(t *testing.T) {
	ctx := context.Background()
	ctx = WithToolSandboxKey(ctx, "main:cli:direct:local")
	if v := ToolSandboxKeyFromCtx(ctx); v != "main:cli:direct:local" {
		t.Errorf("expected sandbox key, got %q", v)
	}
}

func TestToolContextKeys_AsyncCB(t *testing.T) {
	ctx := context.Background()
	if v := ToolAsyncCBFromCtx(ctx); v != nil {
		t.Error("expected nil callback")
	}

	called := false
	cb := AsyncCallback(func(ctx context.Context, result *Result) {
		called = true
	})

	ctx = WithToolAsyncCB(ctx, cb)
	got := ToolAsyncCBFromCtx(ctx)
	if got == nil {
		t.Fatal("expected non-nil callback")
	}
	got(ctx, nil)
	if !called {
		t.Error("callback was not invoked")
	}
}

func TestToolContextKeys_MultipleValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithToolChannel(ctx, "http")
	ctx = WithToolChatID(ctx, "req-123")
	ctx = WithToolPeerKind(ctx, "direct")
	ctx = WithToolSandboxKey(ctx, "sandbox-1")

	if v := ToolChannelFromCtx(ctx); v != "http" {
		t.Errorf("channel: expected http, got %q", v)
	}
	if v := ToolChatIDFromCtx(ctx); v != "req-123" {
		t.Errorf("chatID: expected req-123, got %q", v)
	}
	if v := ToolPeerKindFromCtx(ctx); v != "direct" {
		t.Errorf("peerKind: expected direct, got %q", v)
	}
	if v := ToolSandboxKeyFromCtx(ctx); v != "sandbox-1" {
		t.Errorf("sandboxKey: expected sandbox-1, got %q", v)
	}
}
