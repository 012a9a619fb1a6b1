package sessions

import (
	"testing"

	"github.com/nextlevelbuilder/tatty/internal/providers"
)

func TestBuildSessionKey(t *testing.T) {
	cases := []struct {
		agent, surface, peerKind, peerID, want string
	}{
		{"default", "cli", PeerDirect, "local", "default:cli:direct:local"},
		{"Research", "CLI", PeerDirect, "", "research:cli:direct:-"},
		{"a:b", "cli", PeerDirect, "x", "a-b:cli:direct:x"},
	}
	for _, tc := range cases {
		got := BuildSessionKey(tc.agent, tc.surface, tc.peerKind, tc.peerID)
		if got != tc.want {
			t.Errorf("BuildSessionKey(%q,%q,%q,%q) = %q, want %q",
				tc.agent, tc.surface, tc.peerKind, tc.peerID, got, tc.want)
		}
	}
}

func TestAddMessageAndHistory(t *testing.T) {
	mgr := NewManager(t.TempDir())
	key := BuildSessionKey("default", "cli", PeerDirect, "local")

	mgr.AddMessage(key, providers.Message{Role: "user", Content: "hello"})
	mgr.AddMessage(key, providers.Message{Role: "assistant", Content: "hi"})

	history := mgr.GetHistory(key)
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != "user" || history[1].Content != "hi" {
		t.Errorf("unexpected history: %+v", history)
	}

	// Returned slice is a copy
	history[0].Content = "mutated"
	if mgr.GetHistory(key)[0].Content != "hello" {
		t.Error("GetHistory returned a live reference")
	}
}

func TestHistorySurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	key := BuildSessionKey("default", "cli", PeerDirect, "local")

	mgr := NewManager(dir)
	mgr.AddMessage(key, providers.Message{Role: "user", Content: "persist me"})
	mgr.SetSummary(key, "a summary")

	reloaded := NewManager(dir)
	if got := reloaded.GetHistory(key); len(got) != 1 || got[0].Content != "persist me" {
		t.Errorf("history not persisted: %+v", got)
	}
	if reloaded.GetSummary(key) != "a summary" {
		t.Error("summary not persisted")
	}
	if reloaded.GetCompactionCount(key) != 1 {
		t.Errorf("compaction count = %d, want 1", reloaded.GetCompactionCount(key))
	}
}

func TestMemoryFlushBookkeeping(t *testing.T) {
	mgr := NewManager(t.TempDir())
	key := "default:cli:direct:local"

	if got := mgr.GetMemoryFlushCompactionCount(key); got != -1 {
		t.Fatalf("fresh session flush count = %d, want -1", got)
	}

	mgr.SetMemoryFlushDone(key)
	if got := mgr.GetMemoryFlushCompactionCount(key); got != 0 {
		t.Errorf("flush count after flush = %d, want 0", got)
	}

	// Compaction bumps the count; the flush marker stays behind until the
	// next flush.
	mgr.SetSummary(key, "summary")
	if mgr.GetCompactionCount(key) != 1 {
		t.Fatal("compaction count not bumped")
	}
	if mgr.GetMemoryFlushCompactionCount(key) != 0 {
		t.Error("flush marker should not move on compaction")
	}
}

func TestResetKeepsSessionDeleteRemoves(t *testing.T) {
	mgr := NewManager(t.TempDir())
	key := "default:cli:direct:local"

	mgr.AddMessage(key, providers.Message{Role: "user", Content: "x"})
	mgr.SetSummary(key, "s")

	mgr.Reset(key)
	if len(mgr.GetHistory(key)) != 0 || mgr.GetSummary(key) != "" {
		t.Error("Reset did not clear history and summary")
	}
	if len(mgr.List("")) != 1 {
		t.Error("Reset removed the session entirely")
	}

	if err := mgr.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(mgr.List("")) != 0 {
		t.Error("Delete left the session listed")
	}
	if err := mgr.Delete(key); err != nil {
		t.Errorf("deleting a missing session should be nil, got %v", err)
	}
}

func TestListFiltersByAgent(t *testing.T) {
	mgr := NewManager(t.TempDir())
	mgr.AddMessage(BuildSessionKey("alpha", "cli", PeerDirect, "1"), providers.Message{Role: "user", Content: "a"})
	mgr.AddMessage(BuildSessionKey("beta", "cli", PeerDirect, "2"), providers.Message{Role: "user", Content: "b"})

	all := mgr.List("")
	if len(all) != 2 {
		t.Fatalf("List(\"\") = %d sessions, want 2", len(all))
	}
	alpha := mgr.List("alpha")
	if len(alpha) != 1 || alpha[0].AgentID != "alpha" {
		t.Errorf("List(alpha) = %+v", alpha)
	}
}
