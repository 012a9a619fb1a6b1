package browser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

func axNode(id string, role, name string, backendID int, childIDs ...string) *proto.AccessibilityAXNode {
	n := &proto.AccessibilityAXNode{
		NodeID:           proto.AccessibilityAXNodeID(id),
		BackendDOMNodeID: proto.DOMBackendNodeID(backendID),
	}
	if role != "" {
		n.Role = &proto.AccessibilityAXValue{Value: gson.New(role)}
	}
	if name != "" {
		n.Name = &proto.AccessibilityAXValue{Value: gson.New(name)}
	}
	for _, cid := range childIDs {
		n.ChildIDs = append(n.ChildIDs, proto.AccessibilityAXNodeID(cid))
	}
	return n
}

func TestFormatSnapshot_AssignsRefsToInteractiveElements(t *testing.T) {
	nodes := []*proto.AccessibilityAXNode{
		axNode("1", "RootWebArea", "Test Page", 10, "2", "3", "4"),
		axNode("2", "button", "Submit", 20),
		axNode("3", "link", "Home", 30),
		axNode("4", "generic", "", 40),
	}

	snap := FormatSnapshot(nodes, DefaultSnapshotOptions())

	if len(snap.Refs) != 2 {
		t.Fatalf("refs = %d, want 2: %v", len(snap.Refs), snap.Refs)
	}
	if snap.Stats.Interactive != 2 {
		t.Errorf("interactive = %d, want 2", snap.Stats.Interactive)
	}
	if !strings.Contains(snap.Snapshot, `button "Submit" [ref=`) {
		t.Errorf("button missing ref in:\n%s", snap.Snapshot)
	}
	for _, r := range snap.Refs {
		if r.BackendNodeID == 0 {
			t.Errorf("ref %+v has no backend node", r)
		}
	}
}

func TestFormatSnapshot_NthOnlyOnDuplicates(t *testing.T) {
	nodes := []*proto.AccessibilityAXNode{
		axNode("1", "RootWebArea", "", 10, "2", "3", "4"),
		axNode("2", "button", "More", 20),
		axNode("3", "button", "More", 30),
		axNode("4", "button", "Unique", 40),
	}

	snap := FormatSnapshot(nodes, DefaultSnapshotOptions())

	nths := map[int]int{}
	for _, r := range snap.Refs {
		if r.Name == "More" {
			nths[r.Nth]++
		}
		if r.Name == "Unique" && r.Nth != 0 {
			t.Errorf("unique element got nth=%d", r.Nth)
		}
	}
	if nths[0] != 1 || nths[1] != 1 {
		t.Errorf("duplicate buttons should have nth 0 and 1, got %v", nths)
	}
}

func TestFormatSnapshot_TruncatesAtMaxChars(t *testing.T) {
	nodes := []*proto.AccessibilityAXNode{axNode("1", "RootWebArea", "", 10)}
	for i := 2; i < 60; i++ {
		id := fmt.Sprintf("%d", i)
		nodes[0].ChildIDs = append(nodes[0].ChildIDs, proto.AccessibilityAXNodeID(id))
		nodes = append(nodes, axNode(id, "link", fmt.Sprintf("A fairly long link label number %d", i), i*10))
	}

	opts := DefaultSnapshotOptions()
	opts.MaxChars = 200
	snap := FormatSnapshot(nodes, opts)

	if !snap.Truncated {
		t.Fatal("expected truncation")
	}
	if !strings.HasSuffix(snap.Snapshot, "[...TRUNCATED]") {
		t.Errorf("missing truncation marker: %q", snap.Snapshot[len(snap.Snapshot)-30:])
	}
}

func TestFormatSnapshot_EmptyTree(t *testing.T) {
	snap := FormatSnapshot(nil, DefaultSnapshotOptions())
	if snap.Snapshot != "(empty page)" {
		t.Errorf("got %q", snap.Snapshot)
	}
	if len(snap.Refs) != 0 {
		t.Errorf("empty page produced refs: %v", snap.Refs)
	}
}

func TestNormalizeRef(t *testing.T) {
	cases := map[string]string{
		"e5":      "e5",
		"@e5":     "e5",
		"ref=e12": "e12",
		"  e3  ":  "e3",
	}
	for in, want := range cases {
		if got := NormalizeRef(in); got != want {
			t.Errorf("NormalizeRef(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRefStore_EvictsLeastRecentTab(t *testing.T) {
	rs := NewRefStore()
	for i := 0; i < refStoreCap+1; i++ {
		tid := fmt.Sprintf("tab%d", i)
		rs.Store(tid, map[string]RoleRef{"e1": {Role: "button", BackendNodeID: i + 1}})
	}

	if _, ok := rs.Resolve("tab0", "e1"); ok {
		t.Error("oldest tab should have been evicted")
	}
	if _, ok := rs.Resolve(fmt.Sprintf("tab%d", refStoreCap), "e1"); !ok {
		t.Error("newest tab missing")
	}
}

func TestRefStore_StoreRefreshesRecency(t *testing.T) {
	rs := NewRefStore()
	refs := map[string]RoleRef{"e1": {Role: "link", BackendNodeID: 7}}

	rs.Store("a", refs)
	for i := 0; i < refStoreCap-1; i++ {
		rs.Store(fmt.Sprintf("b%d", i), refs)
	}
	// Touch "a" again, then push one more tab past the cap.
	rs.Store("a", refs)
	rs.Store("final", refs)

	if _, ok := rs.Resolve("a", "@e1"); !ok {
		t.Error("recently stored tab was evicted")
	}
	if _, ok := rs.Resolve("b0", "e1"); ok {
		t.Error("least recent tab survived eviction")
	}
}
