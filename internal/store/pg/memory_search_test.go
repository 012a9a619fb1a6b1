package pg

import (
	"testing"

	"github.com/nextlevelbuilder/tatty/internal/store"
)

func strPtr(s string) *string { return &s }

func TestHybridMerge_SumsScoresForSharedChunks(t *testing.T) {
	text := []scoredChunk{
		{Path: "notes.md", StartLine: 1, Text: "alpha", Score: 0.8},
	}
	vec := []scoredChunk{
		{Path: "notes.md", StartLine: 1, Text: "alpha", Score: 0.6},
		{Path: "other.md", StartLine: 5, Text: "beta", Score: 0.9},
	}

	out := hybridMerge(text, vec, 0.5, 0.5)
	if len(out) != 2 {
		t.Fatalf("results = %d, want 2", len(out))
	}

	byPath := map[string]store.MemorySearchResult{}
	for _, r := range out {
		byPath[r.Path] = r
	}
	if got, want := byPath["notes.md"].Score, 0.8*0.5+0.6*0.5; got != want {
		t.Errorf("shared chunk score = %v, want %v", got, want)
	}
	if byPath["notes.md"].Scope != "global" {
		t.Errorf("scope = %q, want global", byPath["notes.md"].Scope)
	}
}

func TestHybridMerge_PersonalChunkBoostedAndWins(t *testing.T) {
	uid := strPtr("u1")
	text := []scoredChunk{
		{Path: "prefs.md", StartLine: 1, Text: "global copy", Score: 0.5},
	}
	vec := []scoredChunk{
		{Path: "prefs.md", StartLine: 1, Text: "personal copy", Score: 0.5, UserID: uid},
	}

	out := hybridMerge(text, vec, 1.0, 1.0)
	if len(out) != 1 {
		t.Fatalf("results = %d, want 1", len(out))
	}
	r := out[0]
	if r.Scope != "personal" {
		t.Errorf("scope = %q, want personal", r.Scope)
	}
	if r.Snippet != "personal copy" {
		t.Errorf("snippet = %q, want the personal text", r.Snippet)
	}
	if got, want := r.Score, 0.5+0.5*personalBoost; got != want {
		t.Errorf("score = %v, want %v", got, want)
	}
}

func TestHybridMerge_SortsByScoreDescending(t *testing.T) {
	text := []scoredChunk{
		{Path: "a.md", StartLine: 1, Score: 0.2},
		{Path: "b.md", StartLine: 1, Score: 0.9},
		{Path: "c.md", StartLine: 1, Score: 0.5},
	}

	out := hybridMerge(text, nil, 1.0, 0)
	want := []string{"b.md", "c.md", "a.md"}
	for i, r := range out {
		if r.Path != want[i] {
			t.Fatalf("position %d = %s, want %s (all: %+v)", i, r.Path, want[i], out)
		}
	}
}
