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

// chatCompletionsHandler implements POST /v1/chat/completions with the
// OpenAI wire shape. Each distinct `user` field maps to a stable
// session; anonymous requests get a throwaway per-run session.
type chatCompletionsHandler struct {
	srv *Server
}

func newChatCompletionsHandler(s *Server) http.Handler {
	return &chatCompletionsHandler{srv: s}
}

type chatCompletionsRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	User     string        `json:"user,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

const maxRequestBodySize = 1 << 20

func (h *chatCompletionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req chatCompletionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"message":"invalid JSON: %s"}}`, err), http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, `{"error":{"message":"messages is required"}}`, http.StatusBadRequest)
		return
	}

	// The conversation history lives server-side; only the last user
	// message is fed into the loop.
	var lastMessage string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastMessage = req.Messages[i].Content
			break
		}
	}
	if lastMessage == "" {
		http.Error(w, `{"error":{"message":"no user message found"}}`, http.StatusBadRequest)
		return
	}

	runID := uuid.NewString()
	peer := req.User
	if peer == "" {
		peer = "anon-" + runID[:8]
	}
	sessionKey := sessions.BuildSessionKey(h.srv.cfg.AgentID, "serve", "direct", peer)

	slog.Info("chat completions request", "session", sessionKey, "stream", req.Stream)

	runReq := agent.RunRequest{
		SessionKey: sessionKey,
		Message:    lastMessage,
		Channel:    "http",
		ChatID:     "api",
		PeerKind:   "direct",
		RunID:      runID,
	}

	if req.Stream {
		h.handleStream(w, r, runReq, req.Model)
	} else {
		h.handleNonStream(w, r, runReq, req.Model)
	}
}

func (h *chatCompletionsHandler) handleNonStream(w http.ResponseWriter, r *http.Request, runReq agent.RunRequest, model string) {
	result, err := h.srv.schedule(r.Context(), "main", runReq)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"message":"agent error: %s"}}`, err), http.StatusInternalServerError)
		return
	}

	resp := chatCompletionsResponse{
		ID:      "chatcmpl-" + runReq.RunID[:8],
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatChoice{{
			Index:        0,
			Message:      &chatMessage{Role: "assistant", Content: result.Content},
			FinishReason: "stop",
		}},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleStream runs the loop to completion and emits the reply as a
// single SSE chunk. The agent does not stream partial tokens, but
// OpenAI-client callers that set stream=true still get a valid stream.
func (h *chatCompletionsHandler) handleStream(w http.ResponseWriter, r *http.Request, runReq agent.RunRequest, model string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	completionID := "chatcmpl-" + runReq.RunID[:8]
	writeSSEChunk(w, flusher, completionID, model, &chatMessage{Role: "assistant"}, "")

	result, err := h.srv.schedule(r.Context(), "main", runReq)
	if err != nil {
		writeSSEChunk(w, flusher, completionID, model, &chatMessage{Content: "Error: " + err.Error()}, "stop")
	} else {
		writeSSEChunk(w, flusher, completionID, model, &chatMessage{Content: result.Content}, "stop")
	}

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeSSEChunk(w http.ResponseWriter, flusher http.Flusher, id, model string, delta *chatMessage, finishReason string) {
	chunk := map[string]interface{}{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]interface{}{{
			"index":         0,
			"delta":         delta,
			"finish_reason": nilIfEmpty(finishReason),
		}},
	}

	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
