package agent

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nextlevelbuilder/tatty/internal/bootstrap"
	"github.com/nextlevelbuilder/tatty/internal/providers"
)

// PromptMode selects how much context the system prompt carries.
type PromptMode string

const (
	// PromptFull is the normal run prompt: identity, workspace, context
	// files, skills and tool guidance.
	PromptFull PromptMode = "full"
	// PromptMinimal is used for auxiliary turns (memory flush, compaction
	// summaries) where the full context would waste tokens.
	PromptMinimal PromptMode = "minimal"
)

// SilentReplyToken is what the model answers when it has nothing to say.
// Callers drop such replies instead of surfacing them.
const SilentReplyToken = "NO_REPLY"

// SystemPromptConfig carries everything BuildSystemPrompt needs.
type SystemPromptConfig struct {
	AgentID      string
	Model        string
	Workspace    string
	Mode         PromptMode
	ToolNames    []string
	HasMemory    bool
	ContextFiles []bootstrap.ContextFile
	SkillsIndex  string // XML skill summary, injected verbatim
}

// BuildSystemPrompt assembles the system message for a provider round-trip.
func BuildSystemPrompt(cfg SystemPromptConfig) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, an autonomous coding and data agent.\n", displayName(cfg.AgentID))
	fmt.Fprintf(&b, "Current time: %s\n", time.Now().Format("2006-01-02 15:04 MST"))
	if cfg.Workspace != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", cfg.Workspace)
	}

	if len(cfg.ToolNames) > 0 {
		names := append([]string(nil), cfg.ToolNames...)
		sort.Strings(names)
		b.WriteString("\nAvailable tools: " + strings.Join(names, ", ") + "\n")
		b.WriteString("Use tools to inspect and change the workspace instead of guessing. " +
			"Prefer several targeted calls over one broad one; independent calls may run in parallel.\n")
	}

	if cfg.HasMemory {
		b.WriteString("\nYou have workspace memory: MEMORY.md and memory/*.md are indexed. " +
			"Use memory_search before re-deriving prior decisions, and write durable findings to memory files.\n")
	}

	b.WriteString("\nWhen you have nothing of substance to reply, answer exactly " + SilentReplyToken + ".\n")

	if cfg.Mode == PromptMinimal {
		return b.String()
	}

	for _, cf := range cfg.ContextFiles {
		if cf.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", cf.Path, cf.Content)
	}

	if cfg.SkillsIndex != "" {
		b.WriteString("\n" + cfg.SkillsIndex + "\n")
		b.WriteString("To use a skill, read its SKILL.md with read_file, or find one with skill_search.\n")
	}

	return b.String()
}

func displayName(agentID string) string {
	if agentID == "" || agentID == "default" {
		return "tatty"
	}
	return "tatty (" + agentID + ")"
}

// SanitizeAssistantContent strips provider artifacts from a final reply:
// leading/trailing whitespace and dangling tool-call syntax some backends
// leak into content.
func SanitizeAssistantContent(content string) string {
	content = strings.TrimSpace(content)
	// Some OpenAI-compatible backends emit an empty XML function shim
	// alongside native tool calls.
	content = strings.TrimPrefix(content, "<function_call>")
	content = strings.TrimSuffix(content, "</function_call>")
	return strings.TrimSpace(content)
}

// IsSilentReply reports whether the reply is the NO_REPLY token (alone or
// with trivial decoration) and should be dropped.
func IsSilentReply(content string) bool {
	c := strings.TrimSpace(content)
	c = strings.Trim(c, `"'.`)
	return strings.EqualFold(c, SilentReplyToken)
}

// sanitizeHistory prepares persisted history for a provider request:
// assistant messages that requested tools must be followed by their tool
// results, and orphaned tool results are dropped.
func sanitizeHistory(msgs []providers.Message) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))
	pendingCalls := map[string]bool{}

	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			for _, tc := range m.ToolCalls {
				pendingCalls[tc.ID] = true
			}
			out = append(out, m)
		case "tool":
			if m.ToolCallID != "" && !pendingCalls[m.ToolCallID] {
				continue // orphaned result, provider would reject it
			}
			delete(pendingCalls, m.ToolCallID)
			out = append(out, m)
		default:
			out = append(out, m)
		}
	}

	// Drop trailing assistant tool-call messages whose results never
	// arrived (interrupted runs).
	for len(out) > 0 {
		last := out[len(out)-1]
		if last.Role == "assistant" && len(last.ToolCalls) > 0 {
			out = out[:len(out)-1]
			continue
		}
		break
	}

	return out
}
