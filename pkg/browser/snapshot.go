package browser

import (
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/proto"
)

// axEntry is one accessibility node in document order with its tree
// depth.
type axEntry struct {
	node  *proto.AccessibilityAXNode
	depth int
}

// axValue reads an AXValue as text. Numbers and booleans come back in
// their raw JSON form.
func axValue(v *proto.AccessibilityAXValue) string {
	if v == nil {
		return ""
	}
	if s := v.Value.Str(); s != "" {
		return s
	}
	raw := v.Value.String()
	if raw == "" || raw == "null" || raw == `""` {
		return ""
	}
	return raw
}

// flattenAXTree orders the CDP node list depth-first from the root,
// visiting at most limit nodes. CDP returns the tree flat with child ID
// lists, so the root is the one node nobody lists as a child.
func flattenAXTree(nodes []*proto.AccessibilityAXNode, limit int) []axEntry {
	if len(nodes) == 0 {
		return nil
	}

	byID := make(map[proto.AccessibilityAXNodeID]*proto.AccessibilityAXNode, len(nodes))
	isChild := make(map[proto.AccessibilityAXNodeID]bool)
	for _, n := range nodes {
		if n.NodeID != "" {
			byID[n.NodeID] = n
		}
		for _, cid := range n.ChildIDs {
			isChild[cid] = true
		}
	}

	var root *proto.AccessibilityAXNode
	for _, n := range nodes {
		if n.NodeID != "" && !isChild[n.NodeID] {
			root = n
			break
		}
	}
	if root == nil {
		root = nodes[0]
	}
	if root.NodeID == "" {
		return nil
	}

	var out []axEntry
	var walk func(id proto.AccessibilityAXNodeID, depth int)
	walk = func(id proto.AccessibilityAXNodeID, depth int) {
		if len(out) >= limit {
			return
		}
		n, ok := byID[id]
		if !ok {
			return
		}
		out = append(out, axEntry{node: n, depth: depth})
		for _, cid := range n.ChildIDs {
			walk(cid, depth+1)
		}
	}
	walk(root.NodeID, 0)
	return out
}

// FormatSnapshot renders accessibility nodes as an indented text tree.
// Interactive elements and named content elements get refs ("e1",
// "e2", ...) that Click and Type resolve later; elements sharing a
// role and name additionally get an nth marker to tell them apart.
func FormatSnapshot(nodes []*proto.AccessibilityAXNode, opts SnapshotOptions) *SnapshotResult {
	if opts.MaxChars == 0 {
		opts.MaxChars = 8000
	}
	if opts.Limit == 0 {
		opts.Limit = 500
	}

	entries := flattenAXTree(nodes, opts.Limit)
	if len(entries) == 0 {
		return &SnapshotResult{
			Snapshot: "(empty page)",
			Refs:     map[string]RoleRef{},
			Stats:    SnapshotStats{Lines: 1, Chars: 12},
		}
	}

	refs := make(map[string]RoleRef)
	seen := make(map[string]int) // "role:name" occurrence counts
	interactive := 0

	var lines []string
	for _, e := range entries {
		role := strings.ToLower(axValue(e.node.Role))
		name := axValue(e.node.Name)

		// Unnamed invisible nodes and raw text fragments add nothing;
		// the text surfaces through the parent's name.
		if (role == "" || role == "none" || role == "unknown") && name == "" {
			continue
		}
		if role == "statictext" || role == "inlinetextbox" {
			continue
		}
		if opts.MaxDepth > 0 && e.depth > opts.MaxDepth {
			continue
		}
		if opts.Interactive && !IsInteractive(role) {
			continue
		}
		if opts.Compact && IsStructural(role) && name == "" {
			continue
		}

		line := strings.Repeat("  ", e.depth) + "- " + role
		if name != "" {
			line += fmt.Sprintf(" %q", name)
		}

		if IsInteractive(role) || (IsContent(role) && name != "") {
			ref := fmt.Sprintf("e%d", len(refs)+1)
			key := role + ":" + name
			nth := seen[key]
			seen[key]++

			refs[ref] = RoleRef{
				Role:          role,
				Name:          name,
				Nth:           nth,
				BackendNodeID: int(e.node.BackendDOMNodeID),
			}
			line += fmt.Sprintf(" [ref=%s]", ref)
			if nth > 0 {
				line += fmt.Sprintf(" [nth=%d]", nth)
			}
			if IsInteractive(role) {
				interactive++
			}
		}

		if v := axValue(e.node.Value); v != "" {
			line += fmt.Sprintf(": %q", v)
		}
		if d := axValue(e.node.Description); d != "" {
			line += fmt.Sprintf(" (%s)", d)
		}
		lines = append(lines, line)
	}

	// nth markers only matter when a role+name pair repeats.
	for ref, r := range refs {
		if seen[r.Role+":"+r.Name] <= 1 {
			r.Nth = 0
			refs[ref] = r
		}
	}

	snapshot := "(empty page)"
	if len(lines) > 0 {
		snapshot = strings.Join(lines, "\n")
		if opts.Compact {
			snapshot = pruneBareBranches(snapshot)
		}
	}

	truncated := false
	if opts.MaxChars > 0 && len(snapshot) > opts.MaxChars {
		snapshot = snapshot[:opts.MaxChars] + "\n[...TRUNCATED]"
		truncated = true
	}

	return &SnapshotResult{
		Snapshot:  snapshot,
		Refs:      refs,
		Truncated: truncated,
		Stats: SnapshotStats{
			Lines:       len(lines),
			Chars:       len(snapshot),
			Refs:        len(refs),
			Interactive: interactive,
		},
	}
}

// pruneBareBranches drops tree lines that neither carry a ref or value
// themselves nor have a ref anywhere beneath them.
func pruneBareBranches(tree string) string {
	lines := strings.Split(tree, "\n")
	kept := lines[:0:0]

	for i, line := range lines {
		if strings.Contains(line, "[ref=") {
			kept = append(kept, line)
			continue
		}
		trimmed := strings.TrimSpace(line)
		if strings.Contains(trimmed, ":") && !strings.HasSuffix(trimmed, ":") {
			kept = append(kept, line)
			continue
		}

		depth := indentDepth(line)
		for j := i + 1; j < len(lines); j++ {
			if indentDepth(lines[j]) <= depth {
				break
			}
			if strings.Contains(lines[j], "[ref=") {
				kept = append(kept, line)
				break
			}
		}
	}
	return strings.Join(kept, "\n")
}

func indentDepth(line string) int {
	n := 0
	for n < len(line) && line[n] == ' ' {
		n++
	}
	return n / 2
}
