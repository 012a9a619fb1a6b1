package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tatty/internal/agent"
	"github.com/nextlevelbuilder/tatty/internal/sessions"
)

// responsesHandler implements POST /v1/responses, the event-oriented
// alternative to chat completions.
type responsesHandler struct {
	srv *Server
}

func newResponsesHandler(s *Server) http.Handler {
	return &responsesHandler{srv: s}
}

type responsesRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	User     string        `json:"user,omitempty"`
}

func (h *responsesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req responsesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"invalid JSON: %s"}`, err), http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, `{"error":"messages is required"}`, http.StatusBadRequest)
		return
	}

	var lastMessage string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastMessage = req.Messages[i].Content
			break
		}
	}
	if lastMessage == "" {
		http.Error(w, `{"error":"no user message found"}`, http.StatusBadRequest)
		return
	}

	runID := uuid.NewString()
	responseID := "resp-" + runID[:8]
	peer := req.User
	if peer == "" {
		peer = "anon-" + runID[:8]
	}
	sessionKey := sessions.BuildSessionKey(h.srv.cfg.AgentID, "serve", "direct", peer)

	slog.Info("responses request", "session", sessionKey, "stream", req.Stream)

	runReq := agent.RunRequest{
		SessionKey: sessionKey,
		Message:    lastMessage,
		Channel:    "http",
		ChatID:     "api",
		PeerKind:   "direct",
		RunID:      runID,
	}

	if req.Stream {
		h.handleStream(w, r, runReq, responseID)
	} else {
		h.handleNonStream(w, r, runReq, responseID)
	}
}

func (h *responsesHandler) handleNonStream(w http.ResponseWriter, r *http.Request, runReq agent.RunRequest, responseID string) {
	result, err := h.srv.schedule(r.Context(), "main", runReq)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"agent error: %s"}`, err), http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{
		"id":     responseID,
		"status": "completed",
		"output": []map[string]interface{}{{
			"type":    "message",
			"role":    "assistant",
			"content": []map[string]string{{"type": "text", "text": result.Content}},
		}},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *responsesHandler) handleStream(w http.ResponseWriter, r *http.Request, runReq agent.RunRequest, responseID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeResponseEvent(w, flusher, map[string]interface{}{
		"type": "response.started",
		"response": map[string]interface{}{
			"id":         responseID,
			"status":     "in_progress",
			"created_at": time.Now().Unix(),
		},
	})

	result, err := h.srv.schedule(r.Context(), "main", runReq)
	if err != nil {
		writeResponseEvent(w, flusher, map[string]interface{}{
			"type": "response.done",
			"response": map[string]interface{}{
				"id":     responseID,
				"status": "failed",
				"error":  err.Error(),
			},
		})
		return
	}

	writeResponseEvent(w, flusher, map[string]interface{}{
		"type": "response.delta",
		"delta": map[string]interface{}{
			"type":    "content",
			"content": result.Content,
		},
	})

	writeResponseEvent(w, flusher, map[string]interface{}{
		"type": "response.done",
		"response": map[string]interface{}{
			"id":     responseID,
			"status": "completed",
		},
	})
}

func writeResponseEvent(w http.ResponseWriter, flusher http.Flusher, data interface{}) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}
