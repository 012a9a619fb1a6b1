package agent

// AgentEvent is a progress notification emitted during a run. Every UI
// (CLI, TUI, serve) consumes these through LoopConfig.OnEvent; the loop
// never writes to a terminal itself.
type AgentEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Event types emitted by the loop.
const (
	EventIterationStart   = "iteration_start"
	EventToolStart        = "tool_start"
	EventToolResult       = "tool_result"
	EventAgentReply       = "agent_reply"
	EventStatus           = "status"
	EventSubagentStart    = "subagent_start"
	EventSubagentComplete = "subagent_complete"
	EventRunComplete      = "run_complete"
	EventError            = "error"
)

// EventFunc receives loop events. Implementations must be fast; slow
// consumers should hand off to their own goroutine.
type EventFunc func(evt AgentEvent)

func (l *Loop) emit(evtType string, payload interface{}) {
	if l.onEvent == nil {
		return
	}
	l.onEvent(AgentEvent{Type: evtType, Payload: payload})
}
