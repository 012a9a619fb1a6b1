package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestInboundRoundTrip(t *testing.T) {
	mb := New()
	mb.PublishInbound(InboundMessage{Channel: "cli", Content: "hello"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.Channel != "cli" || msg.Content != "hello" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestConsumeInbound_ContextCancel(t *testing.T) {
	mb := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := mb.ConsumeInbound(ctx)
	if ok {
		t.Error("cancelled context should return ok=false")
	}
}

func TestOutboundRoundTrip(t *testing.T) {
	mb := New()
	mb.PublishOutbound(OutboundMessage{Channel: "ws", ChatID: "c1", Content: "reply", Error: true})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.ChatID != "c1" || !msg.Error {
		t.Errorf("msg = %+v", msg)
	}
}

func TestBroadcast_FansOutToAllSubscribers(t *testing.T) {
	mb := New()

	got := make(map[string]string)
	mb.Subscribe("a", func(evt Event) { got["a"] = evt.Name })
	mb.Subscribe("b", func(evt Event) { got["b"] = evt.Name })

	mb.Broadcast(Event{Name: "tick"})
	if got["a"] != "tick" || got["b"] != "tick" {
		t.Errorf("got = %v", got)
	}

	mb.Unsubscribe("b")
	mb.Broadcast(Event{Name: "tock"})
	if got["a"] != "tock" {
		t.Error("remaining subscriber should still receive events")
	}
	if got["b"] != "tick" {
		t.Error("unsubscribed handler must not receive further events")
	}
}

func TestHandlerRegistry(t *testing.T) {
	mb := New()
	if _, ok := mb.GetHandler("cli"); ok {
		t.Error("no handler registered yet")
	}

	mb.RegisterHandler("cli", func(msg OutboundMessage) error { return nil })
	if _, ok := mb.GetHandler("cli"); !ok {
		t.Error("handler should be registered")
	}
}

func TestInboundDebouncer_MergesBurst(t *testing.T) {
	var mu sync.Mutex
	var flushed []InboundMessage
	d := NewInboundDebouncer(30*time.Millisecond, func(msg InboundMessage) {
		mu.Lock()
		flushed = append(flushed, msg)
		mu.Unlock()
	})

	base := InboundMessage{Channel: "ws", ChatID: "c1", SenderID: "u1"}
	for _, line := range []string{"first", "second", "third"} {
		m := base
		m.Content = line
		d.Push(m)
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 1 {
		t.Fatalf("flushes = %d, want 1 merged message", len(flushed))
	}
	if flushed[0].Content != "first\nsecond\nthird" {
		t.Errorf("merged content = %q", flushed[0].Content)
	}
}

func TestInboundDebouncer_DistinctSendersKeptApart(t *testing.T) {
	var mu sync.Mutex
	byUser := map[string]string{}
	d := NewInboundDebouncer(20*time.Millisecond, func(msg InboundMessage) {
		mu.Lock()
		byUser[msg.SenderID] = msg.Content
		mu.Unlock()
	})

	d.Push(InboundMessage{Channel: "ws", ChatID: "c1", SenderID: "alice", Content: "hi"})
	d.Push(InboundMessage{Channel: "ws", ChatID: "c1", SenderID: "bob", Content: "yo"})
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	if byUser["alice"] != "hi" || byUser["bob"] != "yo" {
		t.Errorf("flushed = %v", byUser)
	}
}

func TestInboundDebouncer_DisabledPassesThrough(t *testing.T) {
	var flushed int
	d := NewInboundDebouncer(0, func(msg InboundMessage) { flushed++ })
	d.Push(InboundMessage{Content: "a"})
	d.Push(InboundMessage{Content: "b"})
	if flushed != 2 {
		t.Errorf("flushes = %d, want immediate passthrough", flushed)
	}
}
