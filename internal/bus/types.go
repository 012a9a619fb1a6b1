package bus

import "time"

// InboundMessage is a user request entering the runtime from a surface
// (cli, tui, serve, cron, heartbeat).
type InboundMessage struct {
	Channel    string // surface the message arrived on
	ChatID     string // conversation identifier within that surface
	PeerKind   string // "direct" or "shared"
	SenderID   string
	Content    string
	SessionKey string
	ReceivedAt time.Time
}

// OutboundMessage is agent output headed back to a surface.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	// Error is set when the run failed and Content carries the message.
	Error bool
}

// Event is a broadcast notification fanned out to subscribers
// (WebSocket clients, the TUI, log sinks).
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// MessageHandler delivers an outbound message to a surface.
type MessageHandler func(msg OutboundMessage) error

// EventHandler receives broadcast events. Handlers must not block.
type EventHandler func(evt Event)
