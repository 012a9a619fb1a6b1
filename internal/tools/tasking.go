package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/tatty/internal/store"
)

// TodoWriteTool replaces the session todo list. The list lives in the
// session record so it survives restarts and compaction.
type TodoWriteTool struct {
	sessions store.SessionStore
}

func NewTodoWriteTool(sessions store.SessionStore) *TodoWriteTool {
	return &TodoWriteTool{sessions: sessions}
}

func (t *TodoWriteTool) Name() string { return "todo_write" }

func (t *TodoWriteTool) Description() string {
	return "Replace the session todo list. Use for multi-step work so progress survives interruptions. Statuses: pending, in_progress, done."
}

func (t *TodoWriteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"todos": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"text":   map[string]interface{}{"type": "string"},
						"status": map[string]interface{}{"type": "string", "enum": []string{"pending", "in_progress", "done"}},
					},
					"required": []string{"text"},
				},
				"description": "Full todo list; replaces the previous one.",
			},
		},
		"required": []string{"todos"},
	}
}

func (t *TodoWriteTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	raw, ok := args["todos"].([]interface{})
	if !ok {
		return ErrorResult("todos parameter must be an array")
	}
	sessionKey := ToolSandboxKeyFromCtx(ctx)
	if sessionKey == "" {
		return ErrorResult("no session available for todos")
	}

	todos := make([]store.TodoItem, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			return ErrorResult(fmt.Sprintf("todos[%d] is not an object", i))
		}
		text, _ := m["text"].(string)
		if strings.TrimSpace(text) == "" {
			return ErrorResult(fmt.Sprintf("todos[%d].text is required", i))
		}
		status, _ := m["status"].(string)
		switch status {
		case "pending", "in_progress", "done":
		case "":
			status = "pending"
		default:
			return ErrorResult(fmt.Sprintf("todos[%d].status %q is not valid", i, status))
		}
		todos = append(todos, store.TodoItem{ID: i + 1, Text: text, Status: status})
	}

	t.sessions.SetTodos(sessionKey, todos)
	return SilentResult(fmt.Sprintf("Todo list updated (%d items):\n%s", len(todos), formatTodos(todos)))
}

// TodoReadTool reads the session todo list back.
type TodoReadTool struct {
	sessions store.SessionStore
}

func NewTodoReadTool(sessions store.SessionStore) *TodoReadTool {
	return &TodoReadTool{sessions: sessions}
}

func (t *TodoReadTool) Name() string { return "todo_read" }

func (t *TodoReadTool) Description() string {
	return "Read the current session todo list."
}

func (t *TodoReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *TodoReadTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	sessionKey := ToolSandboxKeyFromCtx(ctx)
	if sessionKey == "" {
		return ErrorResult("no session available for todos")
	}
	todos := t.sessions.GetTodos(sessionKey)
	if len(todos) == 0 {
		return SilentResult("Todo list is empty.")
	}
	return SilentResult(formatTodos(todos))
}

func formatTodos(todos []store.TodoItem) string {
	var b strings.Builder
	for _, td := range todos {
		mark := " "
		switch td.Status {
		case "done":
			mark = "x"
		case "in_progress":
			mark = ">"
		}
		fmt.Fprintf(&b, "[%s] %d. %s\n", mark, td.ID, td.Text)
	}
	return b.String()
}

// PlanTool records an execution plan on the session and surfaces it to
// the user through a status event raised by the runtime.
type PlanTool struct {
	sessions store.SessionStore
	onPlan   func(sessionKey, plan string)
}

func NewPlanTool(sessions store.SessionStore) *PlanTool {
	return &PlanTool{sessions: sessions}
}

// SetPlanCallback registers a hook fired whenever a plan is recorded.
func (t *PlanTool) SetPlanCallback(fn func(sessionKey, plan string)) {
	t.onPlan = fn
}

func (t *PlanTool) Name() string { return "plan" }

func (t *PlanTool) Description() string {
	return "Record an execution plan for the current task before carrying it out. The plan is shown to the user and stored with the session."
}

func (t *PlanTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"plan": map[string]interface{}{
				"type":        "string",
				"description": "Step-by-step plan in markdown.",
			},
		},
		"required": []string{"plan"},
	}
}

func (t *PlanTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	plan, _ := args["plan"].(string)
	if strings.TrimSpace(plan) == "" {
		return ErrorResult("plan parameter is required")
	}
	sessionKey := ToolSandboxKeyFromCtx(ctx)
	if sessionKey != "" {
		t.sessions.SetPlan(sessionKey, plan)
	}
	if t.onPlan != nil {
		t.onPlan(sessionKey, plan)
	}
	return SilentResult("Plan recorded:\n" + plan)
}
