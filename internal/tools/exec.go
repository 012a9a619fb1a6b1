package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	shellwords "github.com/mattn/go-shellwords"
)

const (
	defaultExecTimeout = 120 * time.Second
	maxExecOutput      = 30000
)

// Commands rejected outright regardless of policy. These are raw
// substring/regex guards applied before argv parsing so obfuscation via
// quoting still has to get past the CEL policy layer.
var execDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*\s+)*(/|~|\$HOME)\s*$`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bdd\s+.*of=/dev/`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb
	regexp.MustCompile(`\bshutdown\b|\breboot\b`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
}

// ExecTool runs shell commands in the workspace.
type ExecTool struct {
	workspace  string
	timeout    time.Duration
	sandboxKey string
	deny       []*regexp.Regexp
}

func NewExecTool(workspace string, timeoutSeconds int) *ExecTool {
	timeout := defaultExecTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	return &ExecTool{
		workspace: workspace,
		timeout:   timeout,
		deny:      execDenyPatterns,
	}
}

func (t *ExecTool) Serial() bool { return true }

func (t *ExecTool) SetSandboxKey(key string) { t.sandboxKey = key }

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Run a shell command in the workspace. Output is captured and truncated. Long-running commands are killed at the timeout."
}

func (t *ExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to run.",
			},
			"workdir": map[string]interface{}{
				"type":        "string",
				"description": "Working directory relative to the workspace (default workspace root).",
			},
			"timeout_seconds": map[string]interface{}{
				"type":        "number",
				"description": "Override the default timeout for this call.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ErrorResult("command parameter is required")
	}

	if reason := t.checkDenied(command); reason != "" {
		return ErrorResult("command rejected: " + reason)
	}

	workdir := t.workspace
	if wd, _ := args["workdir"].(string); wd != "" {
		scope := newPathScope(t.workspace)
		abs, err := scope.resolve(wd)
		if err != nil {
			return ErrorResult(err.Error())
		}
		workdir = abs
	}

	timeout := t.timeout
	if ts, ok := args["timeout_seconds"].(float64); ok && ts > 0 {
		timeout = time.Duration(ts) * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = workdir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start).Round(time.Millisecond)

	out := formatExecOutput(stdout.String(), stderr.String())
	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		return ErrorResult(fmt.Sprintf("command timed out after %s\n%s", timeout, out))
	case err != nil:
		return ErrorResult(fmt.Sprintf("command failed (%v, %s)\n%s", err, elapsed, out))
	}
	if out == "" {
		out = "(no output)"
	}
	return SilentResult(out)
}

// checkDenied applies the raw-pattern guard, then parses argv with
// shellwords so policy-relevant verbs can be matched even when wrapped
// in quoting or env-var assignments.
func (t *ExecTool) checkDenied(command string) string {
	for _, re := range t.deny {
		if re.MatchString(command) {
			return "matches blocked pattern " + re.String()
		}
	}

	parser := shellwords.NewParser()
	parser.ParseEnv = false
	argv, err := parser.Parse(command)
	if err != nil || len(argv) == 0 {
		return "" // unparseable compound commands fall through to the raw guard only
	}
	verb := argv[0]
	for strings.Contains(verb, "=") && len(argv) > 1 { // skip FOO=bar prefixes
		argv = argv[1:]
		verb = argv[0]
	}
	if verb == "sudo" {
		return "sudo is not available"
	}
	return ""
}

// ParseCommandVerb extracts the leading program name from a shell
// command for CEL policy evaluation. Returns "" when unparseable.
func ParseCommandVerb(command string) string {
	parser := shellwords.NewParser()
	argv, err := parser.Parse(command)
	if err != nil || len(argv) == 0 {
		return ""
	}
	verb := argv[0]
	for strings.Contains(verb, "=") && len(argv) > 1 {
		argv = argv[1:]
		verb = argv[0]
	}
	return verb
}

func formatExecOutput(stdout, stderr string) string {
	var b strings.Builder
	if s := strings.TrimRight(stdout, "\n"); s != "" {
		b.WriteString(truncate(s, maxExecOutput))
	}
	if s := strings.TrimRight(stderr, "\n"); s != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[stderr]\n")
		b.WriteString(truncate(s, maxExecOutput/2))
	}
	return b.String()
}
