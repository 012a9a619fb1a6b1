package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/tatty/internal/agent"
	"github.com/nextlevelbuilder/tatty/internal/bus"
	"github.com/nextlevelbuilder/tatty/internal/sessions"
	"github.com/nextlevelbuilder/tatty/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Token auth happens in the connect frame, not the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// maxWSMessageSize caps an incoming frame at 512KB.
const maxWSMessageSize = 512 * 1024

// wsHub tracks connected WebSocket clients for event fan-out.
type wsHub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
	seq     atomic.Int64
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[string]*wsClient)}
}

func (h *wsHub) add(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *wsHub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

func (h *wsHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast pushes an event frame to every authenticated client.
func (h *wsHub) broadcast(event string, payload interface{}) {
	frame := protocol.NewEvent(event, payload)
	frame.Seq = h.seq.Add(1)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.authenticated.Load() {
			c.sendEvent(frame)
		}
	}
}

func (h *wsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.sendEvent(protocol.NewEvent(protocol.EventShutdown, nil))
		c.conn.Close()
		delete(h.clients, id)
	}
}

// startEventPump fans loop events and queued outbound messages out to
// WebSocket clients.
func (s *Server) startEventPump(ctx context.Context) {
	s.bus.Subscribe("ws-hub", func(evt bus.Event) {
		s.hub.broadcast(evt.Name, evt.Payload)
	})
	go func() {
		for {
			msg, ok := s.bus.SubscribeOutbound(ctx)
			if !ok {
				return
			}
			s.hub.broadcast(protocol.EventChat, map[string]interface{}{
				"type":    protocol.ChatEventMessage,
				"channel": msg.Channel,
				"chatId":  msg.ChatID,
				"content": msg.Content,
				"isError": msg.Error,
			})
		}
	}()
}

// wsClient is a single WebSocket connection.
type wsClient struct {
	id            string
	conn          *websocket.Conn
	srv           *Server
	send          chan []byte
	authenticated atomic.Bool
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		srv:  s,
		send: make(chan []byte, 256),
	}
	s.hub.add(c)
	defer s.hub.remove(c.id)

	go c.writePump()
	c.readPump(r.Context())
}

func (c *wsClient) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxWSMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "client", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		c.handleFrame(ctx, data)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handleFrame(ctx context.Context, data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		c.sendResponse(protocol.NewErrorResponse("", protocol.ErrInvalidRequest, "invalid frame: "+err.Error()))
		return
	}
	if frameType != protocol.FrameTypeRequest {
		c.sendResponse(protocol.NewErrorResponse("", protocol.ErrInvalidRequest, "unexpected frame type: "+frameType))
		return
	}

	var req protocol.RequestFrame
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendResponse(protocol.NewErrorResponse("", protocol.ErrInvalidRequest, "malformed request: "+err.Error()))
		return
	}

	if !c.authenticated.Load() && req.Method != protocol.MethodConnect {
		c.sendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "first request must be 'connect'"))
		return
	}

	c.dispatch(ctx, &req)
}

func (c *wsClient) dispatch(ctx context.Context, req *protocol.RequestFrame) {
	switch req.Method {
	case protocol.MethodConnect:
		c.handleConnect(req)
	case protocol.MethodPing:
		c.sendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{"pong": true}))
	case protocol.MethodChatSend:
		c.handleChatSend(ctx, req)
	case protocol.MethodChatInterrupt:
		c.srv.loop.RequestInterrupt()
		c.sendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{"interrupted": true}))
	case protocol.MethodChatHistory:
		c.handleChatHistory(req)
	case protocol.MethodSessionsList:
		c.handleSessionsList(req)
	case protocol.MethodSessionsReset:
		c.handleSessionsReset(req)
	case protocol.MethodStatus:
		c.handleStatus(req)
	default:
		c.sendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "unknown method: "+req.Method))
	}
}

func (c *wsClient) handleConnect(req *protocol.RequestFrame) {
	var params struct {
		Token    string `json:"token"`
		Protocol int    `json:"protocol"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	if params.Protocol != 0 && params.Protocol != protocol.ProtocolVersion {
		c.sendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrFailedPrecondition, "protocol version mismatch"))
		return
	}

	token := c.srv.cfg.Token
	if token != "" && subtle.ConstantTimeCompare([]byte(params.Token), []byte(token)) != 1 {
		c.sendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "invalid token"))
		return
	}

	c.authenticated.Store(true)
	c.sendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"protocol": protocol.ProtocolVersion,
		"agent":    c.srv.cfg.AgentID,
		"model":    c.srv.cfg.Model,
	}))
}

func (c *wsClient) handleChatSend(ctx context.Context, req *protocol.RequestFrame) {
	var params struct {
		Message string `json:"message"`
		Session string `json:"session,omitempty"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Message == "" {
		c.sendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "message is required"))
		return
	}

	sessionKey := c.sessionKey(params.Session)
	runID := uuid.NewString()

	// Run async so the read pump keeps serving interrupts. Progress
	// arrives as agent events; the final reply rides the response.
	go func() {
		result, err := c.srv.schedule(ctx, "main", agent.RunRequest{
			SessionKey: sessionKey,
			Message:    params.Message,
			Channel:    "ws",
			ChatID:     c.id,
			PeerKind:   "direct",
			RunID:      runID,
		})
		if err != nil {
			c.sendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
			return
		}
		c.sendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
			"runId":      result.RunID,
			"content":    result.Content,
			"iterations": result.Iterations,
			"session":    sessionKey,
		}))
	}()
}

func (c *wsClient) handleChatHistory(req *protocol.RequestFrame) {
	var params struct {
		Session string `json:"session,omitempty"`
		Limit   int    `json:"limit,omitempty"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	history := c.srv.sessions.GetHistory(c.sessionKey(params.Session))
	if params.Limit > 0 && len(history) > params.Limit {
		history = history[len(history)-params.Limit:]
	}

	msgs := make([]map[string]interface{}, 0, len(history))
	for _, m := range history {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		msgs = append(msgs, map[string]interface{}{
			"role":    m.Role,
			"content": m.Content,
		})
	}
	c.sendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{"messages": msgs}))
}

func (c *wsClient) handleSessionsList(req *protocol.RequestFrame) {
	infos := c.srv.sessions.List(c.srv.cfg.AgentID)
	out := make([]map[string]interface{}, 0, len(infos))
	for _, info := range infos {
		out = append(out, map[string]interface{}{
			"key":          info.Key,
			"messageCount": info.MessageCount,
			"created":      info.Created,
			"updated":      info.Updated,
		})
	}
	c.sendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{"sessions": out}))
}

func (c *wsClient) handleSessionsReset(req *protocol.RequestFrame) {
	var params struct {
		Session string `json:"session,omitempty"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	key := c.sessionKey(params.Session)
	c.srv.sessions.Reset(key)
	c.sendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{"session": key, "reset": true}))
}

func (c *wsClient) handleStatus(req *protocol.RequestFrame) {
	c.sendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"agent":   c.srv.cfg.AgentID,
		"model":   c.srv.cfg.Model,
		"running": c.srv.loop.IsRunning(),
		"clients": c.srv.hub.count(),
		"lanes":   c.srv.scheduler.LaneStats(),
	}))
}

// sessionKey resolves an optional client-chosen session name to a full
// key. Unnamed sessions collapse onto a per-connection default.
func (c *wsClient) sessionKey(name string) string {
	if name == "" {
		name = c.id[:8]
	}
	return sessions.BuildSessionKey(c.srv.cfg.AgentID, "serve", "direct", name)
}

func (c *wsClient) sendResponse(resp *protocol.ResponseFrame) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal response failed", "error", err)
		return
	}
	c.enqueue(data)
}

func (c *wsClient) sendEvent(event *protocol.EventFrame) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal event failed", "error", err)
		return
	}
	c.enqueue(data)
}

func (c *wsClient) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		slog.Warn("client send buffer full, dropping message", "client", c.id)
	}
}
