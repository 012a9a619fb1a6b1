package tools

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/nextlevelbuilder/tatty/internal/providers"
)

// Policy actions, in order of severity. First matching rule wins;
// no match means allow.
const (
	PolicyAllow   = "allow"
	PolicyDeny    = "deny"
	PolicyConfirm = "confirm"
)

// PolicyRule is one CEL expression evaluated before a tool call.
// The expression sees: tool (string), args (map), agent (string),
// provider (string), sandbox (bool), confirmed (bool).
type PolicyRule struct {
	Name   string
	Expr   string
	Action string
}

// PolicyDecision is the outcome of evaluating the rule chain.
type PolicyDecision struct {
	Action string // allow, deny, confirm
	Rule   string // name of the matching rule, "" for the default
}

type compiledRule struct {
	name    string
	action  string
	program cel.Program
}

// PolicyEngine evaluates tool-call policy rules and filters the tool set
// exposed to a provider.
type PolicyEngine struct {
	rules []compiledRule

	// requireConfirmation maps exec-family tools to "confirm" when no
	// explicit rule decided first.
	requireConfirmation bool
}

// ExecFamilyTools are treated as dangerous by require_confirmation.
var ExecFamilyTools = map[string]bool{
	"exec":             true,
	"install_packages": true,
	"git":              true,
}

// NewPolicyEngine compiles the configured rules. A rule that fails to
// compile is an error; an empty rule set is valid.
func NewPolicyEngine(rules []PolicyRule, requireConfirmation bool) (*PolicyEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("agent", cel.StringType),
		cel.Variable("provider", cel.StringType),
		cel.Variable("sandbox", cel.BoolType),
		cel.Variable("confirmed", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy env: %w", err)
	}

	pe := &PolicyEngine{requireConfirmation: requireConfirmation}
	for _, r := range rules {
		switch r.Action {
		case PolicyAllow, PolicyDeny, PolicyConfirm:
		default:
			return nil, fmt.Errorf("policy rule %q: unknown action %q", r.Name, r.Action)
		}
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("policy rule %q: %w", r.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("policy rule %q: expression must be boolean", r.Name)
		}
		prog, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("policy rule %q: %w", r.Name, err)
		}
		pe.rules = append(pe.rules, compiledRule{name: r.Name, action: r.Action, program: prog})
	}
	return pe, nil
}

// Evaluate runs the rule chain for one tool call.
func (pe *PolicyEngine) Evaluate(tool string, args map[string]interface{}, agent, provider string, sandbox, confirmed bool) PolicyDecision {
	if args == nil {
		args = map[string]interface{}{}
	}
	vars := map[string]interface{}{
		"tool":      tool,
		"args":      args,
		"agent":     agent,
		"provider":  provider,
		"sandbox":   sandbox,
		"confirmed": confirmed,
	}

	for _, r := range pe.rules {
		out, _, err := r.program.Eval(vars)
		if err != nil {
			// A rule that errors at runtime (e.g. missing arg key) does
			// not match; log and keep going.
			slog.Debug("policy rule eval failed", "rule", r.name, "error", err)
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return PolicyDecision{Action: r.action, Rule: r.name}
		}
	}

	if pe.requireConfirmation && !confirmed && ExecFamilyTools[tool] {
		return PolicyDecision{Action: PolicyConfirm, Rule: "require_confirmation"}
	}

	return PolicyDecision{Action: PolicyAllow}
}

// FilterTools returns provider-ready tool definitions for one request:
// allow/deny specs resolved against the registry, tools statically denied
// by policy removed, and schemas cleaned for the target provider.
func (pe *PolicyEngine) FilterTools(reg *Registry, agentID, providerName string, allow, deny []string, sandbox, confirmed bool) []providers.ToolDefinition {
	names := ResolveAllowed(reg.List(), allow, deny)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t, ok := reg.Get(name)
		if !ok {
			continue
		}
		decision := pe.Evaluate(name, nil, agentID, providerName, sandbox, confirmed)
		if decision.Action == PolicyDeny {
			continue
		}
		defs = append(defs, ToProviderDef(t))
	}

	return providers.CleanToolSchemas(providerName, defs)
}
