package tools

import (
	"strings"
	"sync"
)

// toolGroups maps group names to member tool names. Specs reference them as
// "group:NAME". The builtin groups mirror how the tool files are organized;
// the MCP bridge registers one "mcp:<server>" group per connected server.
var toolGroups = map[string][]string{
	"files":     {"read_file", "write_file", "edit_file", "multi_edit"},
	"system":    {"exec", "list_files", "glob", "grep"},
	"web":       {"web_search", "web_fetch", "browser"},
	"utility":   {"todo", "plan"},
	"dev":       {"run_tests", "lint", "typecheck", "format_code", "deps", "git"},
	"artifacts": {"artifacts", "install_packages"},
	"memory":    {"memory_search", "memory_get"},
	"agents":    {"subagent", "skill_search", "js_eval"},
}

var toolGroupsMu sync.RWMutex

// RegisterToolGroup adds or replaces a dynamic tool group.
func RegisterToolGroup(name string, members []string) {
	toolGroupsMu.Lock()
	defer toolGroupsMu.Unlock()
	toolGroups[name] = members
}

// UnregisterToolGroup removes a dynamic tool group.
func UnregisterToolGroup(name string) {
	toolGroupsMu.Lock()
	defer toolGroupsMu.Unlock()
	delete(toolGroups, name)
}

// resolveSpecEntry returns the tool names one spec entry stands for:
// the group members for "group:NAME", otherwise the entry itself.
func resolveSpecEntry(entry string) []string {
	if name, ok := strings.CutPrefix(entry, "group:"); ok {
		toolGroupsMu.RLock()
		defer toolGroupsMu.RUnlock()
		return toolGroups[name]
	}
	return []string{entry}
}

// expandSpec resolves a tool spec (tool names and group:NAME entries) against
// the available tools, preserving spec order and dropping unknown names.
func expandSpec(available []string, spec []string) []string {
	avail := make(map[string]bool, len(available))
	for _, name := range available {
		avail[name] = true
	}

	var out []string
	seen := make(map[string]bool)
	for _, entry := range spec {
		for _, name := range resolveSpecEntry(entry) {
			if avail[name] && !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// subtractSpec returns available minus every tool the spec names,
// preserving the order of available.
func subtractSpec(available []string, spec []string) []string {
	drop := make(map[string]bool)
	for _, entry := range spec {
		for _, name := range resolveSpecEntry(entry) {
			drop[name] = true
		}
	}

	var out []string
	for _, name := range available {
		if !drop[name] {
			out = append(out, name)
		}
	}
	return out
}

// ResolveAllowed applies an agent's allow/deny tool spec to the available
// tool set. A nil allow list means every tool; an empty allow list means
// none. Deny entries are removed last, so deny wins over allow.
func ResolveAllowed(available, allow, deny []string) []string {
	var out []string
	if allow == nil {
		out = append(out, available...)
	} else {
		out = expandSpec(available, allow)
	}
	if len(deny) > 0 {
		out = subtractSpec(out, deny)
	}
	return out
}
