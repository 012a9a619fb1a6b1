package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tatty/internal/providers"
	"github.com/nextlevelbuilder/tatty/internal/store"
	"github.com/nextlevelbuilder/tatty/internal/tracing"
)

const (
	// MaxSubagentDepth caps nested spawns. A subagent at max depth does
	// not get the subagent tool registered at all.
	MaxSubagentDepth = 3

	defaultSubagentIterations = 15
	defaultSubagentTimeout    = 10 * time.Minute
)

type depthKey struct{}

// WithSubagentDepth records the nesting depth for a child run.
func WithSubagentDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// SubagentDepthFromCtx returns the current nesting depth (0 = top-level run).
func SubagentDepthFromCtx(ctx context.Context) int {
	v, _ := ctx.Value(depthKey{}).(int)
	return v
}

// SubagentTask tracks one background child run.
type SubagentTask struct {
	ID         string
	Label      string
	Task       string
	Status     string // "running", "completed", "failed", "cancelled"
	Result     string
	StartedAt  time.Time
	FinishedAt time.Time
	Iterations int
	ParentID   string

	cancel context.CancelFunc
}

// SubagentManager spawns and tracks child agent runs. Each child runs
// its own provider round-trip loop against a scoped tool registry, so a
// misbehaving child cannot touch the parent's conversation state.
type SubagentManager struct {
	provider      providers.Provider
	model         string
	agentID       string
	workspace     string
	tools         *Registry
	announce      *AnnounceQueue
	maxIterations int

	mu    sync.Mutex
	tasks map[string]*SubagentTask
}

// NewSubagentManager builds a manager whose children use a clone of reg
// with the recursive and stateful tools stripped.
func NewSubagentManager(provider providers.Provider, model, agentID, workspace string, reg *Registry) *SubagentManager {
	scoped := reg.Clone()
	for _, name := range []string{"subagent", "todo_write", "todo_read", "plan", "memory_search", "memory_get"} {
		scoped.Unregister(name)
	}
	return &SubagentManager{
		provider:      provider,
		model:         model,
		agentID:       agentID,
		workspace:     workspace,
		tools:         scoped,
		maxIterations: defaultSubagentIterations,
		tasks:         make(map[string]*SubagentTask),
	}
}

// SetAnnounceQueue wires the per-session result batcher. Without one,
// completions are only visible through the list action.
func (sm *SubagentManager) SetAnnounceQueue(aq *AnnounceQueue) {
	sm.announce = aq
}

// CountActive returns running children of the given parent session.
func (sm *SubagentManager) CountActive(parentID string) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	n := 0
	for _, t := range sm.tasks {
		if t.ParentID == parentID && t.Status == "running" {
			n++
		}
	}
	return n
}

// Spawn starts a child run in the background and returns its ID.
func (sm *SubagentManager) Spawn(ctx context.Context, task, label string, meta AnnounceMetadata) (string, error) {
	depth := SubagentDepthFromCtx(ctx)
	if depth >= MaxSubagentDepth {
		return "", fmt.Errorf("subagent nesting limit reached (depth %d)", depth)
	}
	if strings.TrimSpace(task) == "" {
		return "", fmt.Errorf("task must not be empty")
	}
	if label == "" {
		label = headLine(task, 48)
	}

	id := store.GenNewID().String()
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultSubagentTimeout)
	runCtx = WithSubagentDepth(runCtx, depth+1)

	st := &SubagentTask{
		ID:        id,
		Label:     label,
		Task:      task,
		Status:    "running",
		StartedAt: time.Now().UTC(),
		ParentID:  meta.ParentAgent,
		cancel:    cancel,
	}
	sm.mu.Lock()
	sm.tasks[id] = st
	sm.mu.Unlock()

	go sm.run(runCtx, st, meta)
	return id, nil
}

func (sm *SubagentManager) run(ctx context.Context, st *SubagentTask, meta AnnounceMetadata) {
	defer st.cancel()
	start := time.Now()

	// Root span for this child; its ID parents all child LLM/tool spans.
	rootSpanID := store.GenNewID()
	childCtx := tracing.WithParentSpanID(ctx, rootSpanID)

	output, iters, err := sm.loop(childCtx, st)

	sm.mu.Lock()
	st.Iterations = iters
	st.FinishedAt = time.Now().UTC()
	switch {
	case err != nil && ctx.Err() == context.Canceled:
		st.Status = "cancelled"
		st.Result = "cancelled"
	case err != nil:
		st.Status = "failed"
		st.Result = err.Error()
	default:
		st.Status = "completed"
		st.Result = output
	}
	sm.mu.Unlock()

	sm.emitSubagentSpan(ctx, rootSpanID, start, st, sm.model, output)

	slog.Info("subagent finished",
		"id", st.ID, "label", st.Label, "status", st.Status,
		"iterations", iters, "runtime", time.Since(start).Round(time.Millisecond))

	if sm.announce != nil && meta.OriginChannel != "" {
		sessionKey := fmt.Sprintf("%s:%s:%s:%s", sm.agentID, meta.OriginChannel, meta.OriginPeerKind, meta.OriginChatID)
		sm.announce.Enqueue(sessionKey, AnnounceQueueItem{
			SubagentID: st.ID,
			Label:      st.Label,
			Status:     st.Status,
			Result:     st.Result,
			Runtime:    time.Since(start),
			Iterations: iters,
		}, meta)
	}
}

// loop is a stripped-down run loop: no session persistence, no
// compaction, tools executed one at a time.
func (sm *SubagentManager) loop(ctx context.Context, st *SubagentTask) (string, int, error) {
	messages := []providers.Message{
		{Role: "system", Content: sm.systemPrompt(st)},
		{Role: "user", Content: st.Task},
	}
	defs := sm.tools.ProviderDefs()

	for i := 0; i < sm.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return "", i, err
		}

		llmStart := time.Now()
		resp, err := sm.provider.Chat(ctx, providers.ChatRequest{
			Model:    sm.model,
			Messages: messages,
			Tools:    defs,
		})
		sm.emitLLMSpan(ctx, llmStart, i+1, sm.model, messages, resp, err)
		if err != nil {
			return "", i + 1, fmt.Errorf("subagent chat: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			return strings.TrimSpace(resp.Content), i + 1, nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			toolStart := time.Now()
			res := sm.tools.Execute(ctx, tc.Name, tc.Arguments)
			argsJSON, _ := json.Marshal(tc.Arguments)
			sm.emitToolSpan(ctx, toolStart, tc.Name, tc.ID, string(argsJSON), res.ForLLM, res.IsError)
			messages = append(messages, providers.Message{
				Role:       "tool",
				ToolCallID: tc.ID,
				Content:    res.ForLLM,
			})
		}
	}
	return "", sm.maxIterations, fmt.Errorf("subagent hit iteration limit (%d)", sm.maxIterations)
}

func (sm *SubagentManager) systemPrompt(st *SubagentTask) string {
	var b strings.Builder
	b.WriteString("You are a focused background worker for agent " + sm.agentID + ".\n")
	b.WriteString("Complete the assigned task and reply with a final result summary.\n")
	b.WriteString("Do not ask questions; make reasonable assumptions and state them.\n")
	if sm.workspace != "" {
		b.WriteString("Working directory: " + sm.workspace + "\n")
	}
	b.WriteString("Task label: " + st.Label + "\n")
	return b.String()
}

// Get returns a task snapshot by ID.
func (sm *SubagentManager) Get(id string) (*SubagentTask, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	t, ok := sm.tasks[id]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// List returns task snapshots, newest first.
func (sm *SubagentManager) List() []*SubagentTask {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]*SubagentTask, 0, len(sm.tasks))
	for _, t := range sm.tasks {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Cancel aborts a running task.
func (sm *SubagentManager) Cancel(id string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	t, ok := sm.tasks[id]
	if !ok {
		return fmt.Errorf("no subagent with id %s", id)
	}
	if t.Status != "running" {
		return fmt.Errorf("subagent %s already %s", id, t.Status)
	}
	t.cancel()
	return nil
}

// SubagentTool exposes spawn/list/cancel to the model.
type SubagentTool struct {
	manager  *SubagentManager
	channel  string
	chatID   string
	peerKind string
}

func NewSubagentTool(manager *SubagentManager) *SubagentTool {
	return &SubagentTool{manager: manager}
}

func (t *SubagentTool) Name() string { return "subagent" }

func (t *SubagentTool) Description() string {
	return "Spawn a background worker agent for a self-contained task. " +
		"Actions: spawn (requires task), list, cancel (requires id). " +
		"Results are announced back into the conversation when the worker finishes."
}

func (t *SubagentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"spawn", "list", "cancel"},
				"description": "Operation to perform (default spawn).",
			},
			"task": map[string]interface{}{
				"type":        "string",
				"description": "Full task description for the worker (spawn).",
			},
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Short display label (spawn, optional).",
			},
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Subagent ID (cancel).",
			},
		},
	}
}

func (t *SubagentTool) SetContext(channel, chatID string) {
	t.channel = channel
	t.chatID = chatID
}

func (t *SubagentTool) SetPeerKind(peerKind string) {
	t.peerKind = peerKind
}

func (t *SubagentTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)
	if action == "" {
		action = "spawn"
	}

	switch action {
	case "spawn":
		task, _ := args["task"].(string)
		label, _ := args["label"].(string)
		channel := ToolChannelFromCtx(ctx)
		if channel == "" {
			channel = t.channel
		}
		chatID := ToolChatIDFromCtx(ctx)
		if chatID == "" {
			chatID = t.chatID
		}
		peerKind := ToolPeerKindFromCtx(ctx)
		if peerKind == "" {
			peerKind = t.peerKind
		}
		meta := AnnounceMetadata{
			OriginChannel:  channel,
			OriginChatID:   chatID,
			OriginPeerKind: peerKind,
			ParentAgent:    t.manager.agentID,
		}
		if traceID := tracing.TraceIDFromContext(ctx); traceID != uuid.Nil {
			meta.OriginTraceID = traceID.String()
		}
		if spanID := tracing.ParentSpanIDFromContext(ctx); spanID != uuid.Nil {
			meta.OriginRootSpanID = spanID.String()
		}
		id, err := t.manager.Spawn(ctx, task, label, meta)
		if err != nil {
			return ErrorResult(err.Error())
		}
		return SilentResult(fmt.Sprintf("Spawned subagent %s (%s). You will be notified when it completes.", id, label))

	case "list":
		tasks := t.manager.List()
		if len(tasks) == 0 {
			return SilentResult("No subagents have been spawned in this process.")
		}
		var b strings.Builder
		for _, task := range tasks {
			fmt.Fprintf(&b, "- %s [%s] %s", task.ID, task.Status, task.Label)
			if task.Status == "running" {
				fmt.Fprintf(&b, " (running %s)", time.Since(task.StartedAt).Round(time.Second))
			} else if task.Result != "" {
				fmt.Fprintf(&b, ": %s", headLine(task.Result, 120))
			}
			b.WriteString("\n")
		}
		return SilentResult(b.String())

	case "cancel":
		id, _ := args["id"].(string)
		if id == "" {
			return ErrorResult("cancel requires an id")
		}
		if err := t.manager.Cancel(id); err != nil {
			return ErrorResult(err.Error())
		}
		return SilentResult("Cancellation requested for subagent " + id)

	default:
		return ErrorResult("unknown action: " + action)
	}
}

// truncate cuts s to at most n bytes on a rune boundary, appending an
// ellipsis marker when anything was removed.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut] + "…"
}

// headLine returns the first line of s, truncated to n.
func headLine(s string, n int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(strings.TrimSpace(s), n)
}
