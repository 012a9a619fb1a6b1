package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPathScope_Jail(t *testing.T) {
	ws := t.TempDir()
	outside := t.TempDir()
	scope := newPathScope(ws)

	cases := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative_inside", "notes.md", false},
		{"nested_relative", "a/b/c.txt", false},
		{"absolute_inside", filepath.Join(ws, "x.txt"), false},
		{"dotdot_escape", "../escape.txt", true},
		{"deep_dotdot", "a/../../escape.txt", true},
		{"absolute_outside", filepath.Join(outside, "y.txt"), true},
		{"empty", "  ", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := scope.resolve(tc.path)
			if tc.wantErr && err == nil {
				t.Errorf("resolve(%q) = nil, want error", tc.path)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("resolve(%q) = %v, want nil", tc.path, err)
			}
		})
	}
}

func TestPathScope_AllowExtends(t *testing.T) {
	ws := t.TempDir()
	extra := t.TempDir()
	scope := newPathScope(ws)

	target := filepath.Join(extra, "shared.txt")
	if _, err := scope.resolve(target); err == nil {
		t.Fatal("path outside workspace should be rejected before allow")
	}
	scope.allow(extra)
	if _, err := scope.resolve(target); err != nil {
		t.Errorf("allowed prefix should admit %s: %v", target, err)
	}
	if _, err := scope.resolve(filepath.Join(extra, "..", "still-out.txt")); err == nil {
		t.Error("sibling of the allowed prefix should stay rejected")
	}
}

func TestWriteReadFileTools_StayInWorkspace(t *testing.T) {
	ws := t.TempDir()
	write := NewWriteFileTool(ws)
	read := NewReadFileTool(ws)
	ctx := context.Background()

	res := write.Execute(ctx, map[string]interface{}{"path": "dir/out.txt", "content": "hello"})
	if res.IsError {
		t.Fatalf("write failed: %s", res.ForLLM)
	}
	data, err := os.ReadFile(filepath.Join(ws, "dir/out.txt"))
	if err != nil || string(data) != "hello" {
		t.Fatalf("file content = %q, err %v", data, err)
	}

	res = write.Execute(ctx, map[string]interface{}{"path": "../evil.txt", "content": "x"})
	if !res.IsError || !strings.Contains(res.ForLLM, "outside the workspace") {
		t.Errorf("write outside workspace should fail, got %q", res.ForLLM)
	}

	res = read.Execute(ctx, map[string]interface{}{"path": "/etc/hostname"})
	if !res.IsError {
		t.Error("absolute read outside workspace should fail")
	}
}

func TestEditFileTool_SingleEdit(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "main.go")
	os.WriteFile(path, []byte("package main\n\nfunc main() {}\n"), 0o644)

	edit := NewEditFileTool(ws)
	res := edit.Execute(context.Background(), map[string]interface{}{
		"path":     "main.go",
		"old_text": "func main() {}",
		"new_text": "func main() { run() }",
	})
	if res.IsError {
		t.Fatalf("edit failed: %s", res.ForLLM)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "run()") {
		t.Errorf("edit not applied: %q", data)
	}
}

func TestEditFileTool_AllOrNothing(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "cfg.txt")
	original := "alpha\nbeta\ngamma\n"
	os.WriteFile(path, []byte(original), 0o644)

	edit := NewEditFileTool(ws)
	res := edit.Execute(context.Background(), map[string]interface{}{
		"path": "cfg.txt",
		"edits": []interface{}{
			map[string]interface{}{"old_text": "alpha", "new_text": "ALPHA"},
			map[string]interface{}{"old_text": "missing", "new_text": "nope"},
		},
	})
	if !res.IsError {
		t.Fatal("batch with a non-matching edit should fail")
	}
	data, _ := os.ReadFile(path)
	if string(data) != original {
		t.Errorf("failed batch must leave the file untouched, got %q", data)
	}
}

func TestEditFileTool_AmbiguousMatchRejected(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "dup.txt")
	os.WriteFile(path, []byte("x = 1\nx = 1\n"), 0o644)

	edit := NewEditFileTool(ws)
	res := edit.Execute(context.Background(), map[string]interface{}{
		"path":     "dup.txt",
		"old_text": "x = 1",
		"new_text": "x = 2",
	})
	if !res.IsError || !strings.Contains(res.ForLLM, "2 times") {
		t.Errorf("ambiguous match should be rejected, got %q", res.ForLLM)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "x = 1\nx = 1\n" {
		t.Errorf("file must be untouched, got %q", data)
	}
}
