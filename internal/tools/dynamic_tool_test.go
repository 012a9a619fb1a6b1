package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/tatty/internal/store"
)

func TestDynamicTool_ShellEscapesArgs(t *testing.T) {
	def := store.CustomToolDef{
		Name:    "greet",
		Command: "echo {{.name}}",
	}
	tool := NewDynamicTool(def, t.TempDir())

	res := tool.Execute(context.Background(), map[string]interface{}{
		"name": "world; rm -rf /tmp/x",
	})
	if res.IsError {
		t.Fatalf("execute: %s", res.ForLLM)
	}
	// The injected command must be echoed as data, not executed.
	if !strings.Contains(res.ForLLM, "world; rm -rf /tmp/x") {
		t.Errorf("output = %q", res.ForLLM)
	}
}

func TestDynamicTool_DenyPatterns(t *testing.T) {
	def := store.CustomToolDef{
		Name:    "wipe",
		Command: "mkfs /dev/sda1",
	}
	tool := NewDynamicTool(def, t.TempDir())

	res := tool.Execute(context.Background(), nil)
	if !res.IsError {
		t.Fatal("expected deny-pattern rejection")
	}
	if !strings.Contains(res.ForLLM, "denied by safety policy") {
		t.Errorf("error = %q", res.ForLLM)
	}
}

func TestDynamicTool_WorkingDirOverride(t *testing.T) {
	override := t.TempDir()
	def := store.CustomToolDef{
		Name:       "where",
		Command:    "pwd",
		WorkingDir: override,
	}
	tool := NewDynamicTool(def, t.TempDir())

	res := tool.Execute(context.Background(), nil)
	if res.IsError {
		t.Fatalf("execute: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, override) {
		t.Errorf("pwd = %q, want %q", strings.TrimSpace(res.ForLLM), override)
	}
}
