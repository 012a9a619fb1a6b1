package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/nextlevelbuilder/tatty/internal/providers"
)

const (
	// DefaultReserveTokensFloor is kept free below the context window
	// for the reply and tool results of the next iteration.
	DefaultReserveTokensFloor = 20000
	// DefaultKeepRecentMessages survive compaction uncompacted.
	DefaultKeepRecentMessages = 8

	compactionSummaryPrompt = "Summarize the conversation so far for your own future reference. " +
		"Keep: user goals, decisions made, file paths touched, tool findings still relevant, open tasks. " +
		"Drop: greetings, dead ends, full tool outputs. Write compact prose, not a transcript."
)

var (
	encOnce sync.Once
	encoder *tiktoken.Tiktoken
)

// estimateTokens counts tokens with the cl100k_base encoding, falling
// back to a chars/4 heuristic when the encoding is unavailable (offline
// first run without the embedded BPE).
func estimateTokens(text string) int {
	encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Debug("tiktoken unavailable, using char heuristic", "error", err)
			return
		}
		encoder = enc
	})
	if encoder == nil {
		return len(text) / 4
	}
	return len(encoder.Encode(text, nil, nil))
}

func estimateHistoryTokens(msgs []providers.Message) int {
	total := 0
	for _, m := range msgs {
		total += estimateTokens(m.Content) + 4 // role/framing overhead
		for _, tc := range m.ToolCalls {
			total += estimateTokens(tc.Name) + 8
		}
	}
	return total
}

// maybeCompact summarizes the head of history into the session summary
// when the token estimate crosses the window minus the reserve floor.
// A memory flush turn runs first when memory is enabled, so durable
// findings reach disk before the raw history is folded away.
func (l *Loop) maybeCompact(ctx context.Context, sessionKey string) {
	history := l.sessions.GetHistory(sessionKey)
	if len(history) == 0 {
		return
	}

	totalTokens := estimateHistoryTokens(history) + estimateTokens(l.systemPrompt())

	if settings := ResolveMemoryFlushSettings(l.compactionCfg); settings != nil {
		if l.shouldRunMemoryFlush(sessionKey, totalTokens, settings) {
			l.runMemoryFlush(ctx, sessionKey, settings)
		}
	}

	reserveFloor := DefaultReserveTokensFloor
	keepRecent := DefaultKeepRecentMessages
	if l.compactionCfg != nil {
		if l.compactionCfg.ReserveTokensFloor > 0 {
			reserveFloor = l.compactionCfg.ReserveTokensFloor
		}
		if l.compactionCfg.KeepRecentMessages > 0 {
			keepRecent = l.compactionCfg.KeepRecentMessages
		}
	}

	threshold := l.contextWindow - reserveFloor
	if threshold <= 0 || totalTokens < threshold {
		return
	}
	if len(history) <= keepRecent {
		return
	}

	cut := len(history) - keepRecent
	// Never cut between an assistant tool call and its results.
	for cut > 0 && history[cut].Role == "tool" {
		cut--
	}
	if cut == 0 {
		return
	}

	head, tail := history[:cut], history[cut:]
	summary := l.summarize(ctx, sessionKey, head)
	if summary == "" {
		return
	}

	l.sessions.SetSummary(sessionKey, summary)
	l.sessions.SetHistory(sessionKey, tail)
	l.emit(EventStatus, map[string]interface{}{
		"status":    "compacted",
		"messages":  len(head),
		"kept":      len(tail),
		"tokensIn":  totalTokens,
	})
	slog.Info("session compacted",
		"session", sessionKey, "summarized", len(head), "kept", len(tail), "tokens", totalTokens)
}

// summarize folds messages (plus any existing summary) into a fresh
// summary using the fast model when one is configured.
func (l *Loop) summarize(ctx context.Context, sessionKey string, msgs []providers.Message) string {
	model := l.fastModel
	if model == "" {
		model = l.model
	}

	var b strings.Builder
	if prev := l.sessions.GetSummary(sessionKey); prev != "" {
		b.WriteString("[Existing summary]\n" + prev + "\n\n")
	}
	b.WriteString("[Conversation to fold in]\n")
	for _, m := range msgs {
		content := m.Content
		if m.Role == "tool" {
			content = headString(content, 400)
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, content)
	}

	sumCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	resp, err := l.provider.Chat(sumCtx, providers.ChatRequest{
		Model: model,
		Messages: []providers.Message{
			{Role: "system", Content: compactionSummaryPrompt},
			{Role: "user", Content: b.String()},
		},
		Options: map[string]interface{}{"max_tokens": 2048, "temperature": 0.2},
	})
	if err != nil {
		slog.Warn("compaction: summary call failed", "session", sessionKey, "error", err)
		return ""
	}
	return strings.TrimSpace(resp.Content)
}
