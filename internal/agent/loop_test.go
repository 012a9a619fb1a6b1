package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/tatty/internal/providers"
	"github.com/nextlevelbuilder/tatty/internal/sessions"
	storefile "github.com/nextlevelbuilder/tatty/internal/store/file"
	"github.com/nextlevelbuilder/tatty/internal/tools"
)

// scriptedProvider replays canned responses in order, then repeats the
// last one.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*providers.ChatResponse
	calls     int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	return p.responses[idx], nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its input" }
func (echoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"text": map[string]interface{}{"type": "string"}},
	}
}
func (echoTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	text, _ := args["text"].(string)
	return tools.NewResult("echo: " + text)
}

func newTestLoop(t *testing.T, p providers.Provider, onEvent EventFunc) (*Loop, *storefile.FileSessionStore) {
	t.Helper()
	reg := tools.NewRegistry()
	reg.Register(echoTool{})
	sess := storefile.NewFileSessionStore(sessions.NewManager(t.TempDir()))
	loop := NewLoop(LoopConfig{
		ID:            "tester",
		Provider:      p,
		Model:         "test-model",
		MaxIterations: 5,
		Workspace:     t.TempDir(),
		Sessions:      sess,
		Tools:         reg,
		OnEvent:       onEvent,
	})
	return loop, sess
}

func TestLoop_Run_SimpleReply(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "hello there"},
	}}
	loop, sess := newTestLoop(t, p, nil)

	result, err := loop.Run(context.Background(), RunRequest{
		SessionKey: "s1", Message: "hi", Channel: "cli", ChatID: "direct",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content != "hello there" {
		t.Errorf("content = %q, want %q", result.Content, "hello there")
	}
	if result.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", result.Iterations)
	}

	history := sess.GetHistory("s1")
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Errorf("unexpected roles: %s, %s", history[0].Role, history[1].Role)
	}
}

func TestLoop_Run_ToolCallRoundTrip(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{
			{ID: "call-1", Name: "echo", Arguments: map[string]interface{}{"text": "ping"}},
		}},
		{Content: "the tool said ping"},
	}}
	loop, sess := newTestLoop(t, p, nil)

	result, err := loop.Run(context.Background(), RunRequest{
		SessionKey: "s1", Message: "use the tool", Channel: "cli", ChatID: "direct",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", result.Iterations)
	}
	if result.Content != "the tool said ping" {
		t.Errorf("content = %q", result.Content)
	}

	// History: user, assistant(tool call), tool result, assistant reply.
	var toolMsg *providers.Message
	for i, msg := range sess.GetHistory("s1") {
		if msg.Role == "tool" {
			m := sess.GetHistory("s1")[i]
			toolMsg = &m
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message in history")
	}
	if toolMsg.ToolCallID != "call-1" {
		t.Errorf("tool call id = %q, want call-1", toolMsg.ToolCallID)
	}
	if !strings.Contains(toolMsg.Content, "echo: ping") {
		t.Errorf("tool result = %q", toolMsg.Content)
	}
}

func TestLoop_Run_MaxIterations(t *testing.T) {
	// Provider that never stops calling tools.
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{
			{ID: "c", Name: "echo", Arguments: map[string]interface{}{"text": "again"}},
		}},
	}}
	loop, _ := newTestLoop(t, p, nil)
	loop.maxIterations = 2

	result, err := loop.Run(context.Background(), RunRequest{SessionKey: "s1", Message: "go"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", result.Iterations)
	}
	if result.Content != maxIterationsResult {
		t.Errorf("content = %q, want the max-iterations notice", result.Content)
	}
}

func TestLoop_Run_EmitsLifecycleEvents(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "ok"},
	}}

	var mu sync.Mutex
	seen := map[string]bool{}
	loop, _ := newTestLoop(t, p, func(evt AgentEvent) {
		mu.Lock()
		seen[evt.Type] = true
		mu.Unlock()
	})

	if _, err := loop.Run(context.Background(), RunRequest{SessionKey: "s1", Message: "hi"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, want := range []string{EventIterationStart, EventAgentReply, EventRunComplete} {
		if !seen[want] {
			t.Errorf("missing event %q (got %v)", want, seen)
		}
	}
}

func TestLoop_RequestInterrupt_Idle(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{{Content: "ok"}}}
	loop, _ := newTestLoop(t, p, nil)

	// Interrupt with no run in flight is a no-op.
	loop.RequestInterrupt()
	if loop.IsRunning() {
		t.Error("loop should not be running")
	}

	result, err := loop.Run(context.Background(), RunRequest{SessionKey: "s1", Message: "hi"})
	if err != nil {
		t.Fatalf("Run after idle interrupt: %v", err)
	}
	if result.Content != "ok" {
		t.Errorf("content = %q, want ok", result.Content)
	}
}

// trackingTool records overlap between executions so batch scheduling
// invariants can be asserted.
type trackingTool struct {
	name   string
	serial bool
	delay  time.Duration

	mu        *sync.Mutex
	active    *int
	maxActive *int
	doneOrder *[]string
}

func (t trackingTool) Name() string        { return t.name }
func (t trackingTool) Description() string { return "records execution overlap" }
func (t trackingTool) Serial() bool        { return t.serial }
func (t trackingTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t trackingTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	t.mu.Lock()
	*t.active++
	if *t.active > *t.maxActive {
		*t.maxActive = *t.active
	}
	t.mu.Unlock()

	time.Sleep(t.delay)

	t.mu.Lock()
	*t.active--
	*t.doneOrder = append(*t.doneOrder, t.name)
	t.mu.Unlock()
	return tools.NewResult("done: " + t.name)
}

func TestExecuteToolBatch_SerialAfterParallelInCallOrder(t *testing.T) {
	var mu sync.Mutex
	var parActive, parMax, serActive, serMax int
	var doneOrder []string

	reg := tools.NewRegistry()
	for _, name := range []string{"par_a", "par_b"} {
		reg.Register(trackingTool{name: name, delay: 40 * time.Millisecond,
			mu: &mu, active: &parActive, maxActive: &parMax, doneOrder: &doneOrder})
	}
	for _, name := range []string{"ser_a", "ser_b"} {
		reg.Register(trackingTool{name: name, serial: true, delay: 20 * time.Millisecond,
			mu: &mu, active: &serActive, maxActive: &serMax, doneOrder: &doneOrder})
	}

	sess := storefile.NewFileSessionStore(sessions.NewManager(t.TempDir()))
	loop := NewLoop(LoopConfig{
		ID:        "tester",
		Provider:  &scriptedProvider{responses: []*providers.ChatResponse{{Content: "ok"}}},
		Model:     "test-model",
		Workspace: t.TempDir(),
		Sessions:  sess,
		Tools:     reg,
	})

	calls := []providers.ToolCall{
		{ID: "c1", Name: "ser_a", Arguments: map[string]interface{}{}},
		{ID: "c2", Name: "par_a", Arguments: map[string]interface{}{}},
		{ID: "c3", Name: "ser_b", Arguments: map[string]interface{}{}},
		{ID: "c4", Name: "par_b", Arguments: map[string]interface{}{}},
	}
	msgs := loop.executeToolBatch(context.Background(), RunRequest{SessionKey: "s1", RunID: "r1"}, calls)

	if len(msgs) != len(calls) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(calls))
	}
	// Results line up with the call order regardless of execution order.
	for i, call := range calls {
		if msgs[i].ToolCallID != call.ID {
			t.Errorf("msgs[%d].ToolCallID = %q, want %q", i, msgs[i].ToolCallID, call.ID)
		}
		wantContent := "done: " + call.Name
		if msgs[i].Content != wantContent {
			t.Errorf("msgs[%d].Content = %q, want %q", i, msgs[i].Content, wantContent)
		}
		if msgs[i].Role != "tool" {
			t.Errorf("msgs[%d].Role = %q, want tool", i, msgs[i].Role)
		}
	}

	if parMax < 2 {
		t.Errorf("parallel tools max overlap = %d, want 2 (should run concurrently)", parMax)
	}
	if serMax > 1 {
		t.Errorf("serial tools max overlap = %d, want 1", serMax)
	}
	// Serial tools only start once the parallel group has drained.
	for i, name := range doneOrder {
		if strings.HasPrefix(name, "ser_") && i < 2 {
			t.Errorf("serial tool %s finished at position %d, before the parallel group drained (order %v)", name, i, doneOrder)
		}
	}
	// Serial tools preserve their relative call order.
	if len(doneOrder) == 4 && (doneOrder[2] != "ser_a" || doneOrder[3] != "ser_b") {
		t.Errorf("serial tools ran out of call order: %v", doneOrder)
	}
}
