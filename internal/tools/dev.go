package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Ecosystem identifies the toolchain a workspace uses.
type Ecosystem string

const (
	EcosystemGo     Ecosystem = "go"
	EcosystemNode   Ecosystem = "node"
	EcosystemPython Ecosystem = "python"
)

// DetectEcosystem inspects workspace markers. First match wins in the
// order go, node, python; python is the fallback.
func DetectEcosystem(workspace string) Ecosystem {
	markers := []struct {
		file string
		eco  Ecosystem
	}{
		{"go.mod", EcosystemGo},
		{"package.json", EcosystemNode},
		{"pyproject.toml", EcosystemPython},
		{"requirements.txt", EcosystemPython},
		{"setup.py", EcosystemPython},
	}
	for _, m := range markers {
		if _, err := os.Stat(filepath.Join(workspace, m.file)); err == nil {
			return m.eco
		}
	}
	return EcosystemPython
}

// devPresets maps tool name -> ecosystem -> command line.
var devPresets = map[string]map[Ecosystem]string{
	"run_tests": {
		EcosystemGo:     "go test ./...",
		EcosystemNode:   "npm test",
		EcosystemPython: "python -m pytest -x -q",
	},
	"lint": {
		EcosystemGo:     "go vet ./...",
		EcosystemNode:   "npx eslint .",
		EcosystemPython: "python -m ruff check .",
	},
	"typecheck": {
		EcosystemGo:     "go build ./...",
		EcosystemNode:   "npx tsc --noEmit",
		EcosystemPython: "python -m mypy .",
	},
	"format_code": {
		EcosystemGo:     "gofmt -w .",
		EcosystemNode:   "npx prettier --write .",
		EcosystemPython: "python -m black .",
	},
}

var devDescriptions = map[string]string{
	"run_tests":   "Run the workspace test suite. The command is chosen from the detected ecosystem (go/node/python); pass args to narrow the run.",
	"lint":        "Run the workspace linter for the detected ecosystem.",
	"typecheck":   "Type-check the workspace for the detected ecosystem.",
	"format_code": "Format all code in the workspace with the ecosystem formatter.",
}

// DevTool is one of run_tests/lint/typecheck/format_code. All of them
// shell out through an ExecTool so timeout and output handling match.
type DevTool struct {
	name      string
	workspace string
	exec      *ExecTool
	overrides map[string]string // tool name -> command, from config
}

// NewDevTools builds the four dev tools sharing one exec backend.
// overrides maps tool name to a replacement command line.
func NewDevTools(workspace string, exec *ExecTool, overrides map[string]string) []*DevTool {
	out := make([]*DevTool, 0, len(devPresets))
	for name := range devPresets {
		out = append(out, &DevTool{
			name:      name,
			workspace: workspace,
			exec:      exec,
			overrides: overrides,
		})
	}
	return out
}

func (t *DevTool) Name() string { return t.name }

func (t *DevTool) Description() string { return devDescriptions[t.name] }

func (t *DevTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"args": map[string]interface{}{
				"type":        "string",
				"description": "Extra arguments appended to the command (e.g. a test path or package).",
			},
		},
	}
}

func (t *DevTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command := t.command()
	if command == "" {
		return ErrorResult(fmt.Sprintf("no %s command available for this workspace", t.name))
	}
	if extra, _ := args["args"].(string); strings.TrimSpace(extra) != "" {
		command += " " + extra
	}
	return t.exec.Execute(ctx, map[string]interface{}{"command": command})
}

func (t *DevTool) command() string {
	if t.overrides != nil {
		if cmd, ok := t.overrides[t.name]; ok && cmd != "" {
			return cmd
		}
	}
	return devPresets[t.name][DetectEcosystem(t.workspace)]
}

// InstallPackagesTool installs dependencies with the ecosystem package
// manager. Exec-family for policy purposes.
type InstallPackagesTool struct {
	workspace string
	exec      *ExecTool
}

func NewInstallPackagesTool(workspace string, exec *ExecTool) *InstallPackagesTool {
	return &InstallPackagesTool{workspace: workspace, exec: exec}
}

func (t *InstallPackagesTool) Serial() bool { return true }

func (t *InstallPackagesTool) Name() string { return "install_packages" }

func (t *InstallPackagesTool) Description() string {
	return "Install packages with the ecosystem package manager (pip/npm/go get). Provide bare package names; version pins like name==1.2 are allowed."
}

func (t *InstallPackagesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"packages": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Package names to install.",
			},
		},
		"required": []string{"packages"},
	}
}

var packageNameChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789._/@=<>~^-"

func (t *InstallPackagesTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	raw, ok := args["packages"].([]interface{})
	if !ok || len(raw) == 0 {
		return ErrorResult("packages parameter must be a non-empty array")
	}
	pkgs := make([]string, 0, len(raw))
	for i, item := range raw {
		name, _ := item.(string)
		name = strings.TrimSpace(name)
		if name == "" {
			return ErrorResult(fmt.Sprintf("packages[%d] is empty", i))
		}
		for _, r := range name {
			if !strings.ContainsRune(packageNameChars, r) {
				return ErrorResult(fmt.Sprintf("packages[%d] contains invalid character %q", i, r))
			}
		}
		pkgs = append(pkgs, name)
	}

	var command string
	switch DetectEcosystem(t.workspace) {
	case EcosystemGo:
		command = "go get " + strings.Join(pkgs, " ")
	case EcosystemNode:
		command = "npm install " + strings.Join(pkgs, " ")
	default:
		command = "python -m pip install " + strings.Join(pkgs, " ")
	}
	return t.exec.Execute(ctx, map[string]interface{}{"command": command})
}

// GitTool wraps a safe subset of git. Push and remote mutation are
// never exposed.
type GitTool struct {
	exec *ExecTool
}

func NewGitTool(exec *ExecTool) *GitTool {
	return &GitTool{exec: exec}
}

func (t *GitTool) Serial() bool { return true }

func (t *GitTool) Name() string { return "git" }

func (t *GitTool) Description() string {
	return "Run git in the workspace. Actions: status, diff, log, add, commit. Pushing and remote changes are not available."
}

func (t *GitTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"status", "diff", "log", "add", "commit"},
				"description": "Git operation.",
			},
			"args": map[string]interface{}{
				"type":        "string",
				"description": "Paths or flags for the action (e.g. \"--staged\", \"src/\").",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Commit message (commit only).",
			},
		},
		"required": []string{"action"},
	}
}

func (t *GitTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)
	extra, _ := args["args"].(string)

	var command string
	switch action {
	case "status":
		command = "git status --short --branch"
	case "diff":
		command = "git diff"
	case "log":
		command = "git log --oneline -20"
	case "add":
		if strings.TrimSpace(extra) == "" {
			return ErrorResult("add requires paths in args")
		}
		command = "git add"
	case "commit":
		message, _ := args["message"].(string)
		if strings.TrimSpace(message) == "" {
			return ErrorResult("commit requires a message")
		}
		quoted := "'" + strings.ReplaceAll(message, "'", `'\''`) + "'"
		command = "git commit -m " + quoted
	default:
		return ErrorResult("unknown git action: " + action)
	}

	if extra != "" {
		if strings.Contains(extra, "push") || strings.Contains(extra, "--exec") {
			return ErrorResult("git args contain a blocked token")
		}
		command += " " + extra
	}
	return t.exec.Execute(ctx, map[string]interface{}{"command": command})
}
