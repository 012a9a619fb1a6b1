package protocol

// WebSocket event names pushed from server to client.
const (
	EventAgent    = "agent"
	EventChat     = "chat"
	EventHealth   = "health"
	EventCron     = "cron"
	EventTick     = "tick"
	EventShutdown = "shutdown"
)

// Agent event subtypes (in payload.type). These mirror the loop's
// progress events one-to-one.
const (
	AgentEventRunStarted       = "run.started"
	AgentEventRunCompleted     = "run.completed"
	AgentEventRunFailed        = "run.failed"
	AgentEventIteration        = "iteration"
	AgentEventToolCall         = "tool.call"
	AgentEventToolResult       = "tool.result"
	AgentEventSubagentStarted  = "subagent.started"
	AgentEventSubagentFinished = "subagent.finished"
)

// Chat event subtypes (in payload.type)
const (
	ChatEventChunk    = "chunk"
	ChatEventMessage  = "message"
	ChatEventThinking = "thinking"
)

// RPC method names accepted over the WebSocket.
const (
	MethodConnect       = "connect"
	MethodPing          = "ping"
	MethodChatSend      = "chat.send"
	MethodChatInterrupt = "chat.interrupt"
	MethodChatHistory   = "chat.history"
	MethodSessionsList  = "sessions.list"
	MethodSessionsReset = "sessions.reset"
	MethodStatus        = "status"
)
