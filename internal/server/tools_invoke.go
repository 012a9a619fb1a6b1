package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// toolsInvokeHandler implements POST /tools/invoke for direct tool
// execution without a model round trip. DryRun returns the tool's
// schema instead of running it.
type toolsInvokeHandler struct {
	srv *Server
}

func newToolsInvokeHandler(s *Server) http.Handler {
	return &toolsInvokeHandler{srv: s}
}

type toolsInvokeRequest struct {
	Tool       string                 `json:"tool"`
	Action     string                 `json:"action,omitempty"`
	Args       map[string]interface{} `json:"args"`
	SessionKey string                 `json:"sessionKey,omitempty"`
	DryRun     bool                   `json:"dryRun,omitempty"`
}

func (h *toolsInvokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req toolsInvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeToolError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if req.Tool == "" {
		writeToolError(w, http.StatusBadRequest, "BAD_REQUEST", "tool is required")
		return
	}

	slog.Info("tools invoke request", "tool", req.Tool, "dry_run", req.DryRun)

	if req.DryRun {
		tool, ok := h.srv.registry.Get(req.Tool)
		if !ok {
			writeToolError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("tool %q not found", req.Tool))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"tool":        req.Tool,
			"description": tool.Description(),
			"parameters":  tool.Parameters(),
			"dryRun":      true,
		})
		return
	}

	args := req.Args
	if args == nil {
		args = make(map[string]interface{})
	}
	if req.Action != "" {
		args["action"] = req.Action
	}

	result := h.srv.registry.ExecuteWithContext(r.Context(), req.Tool, args, "http", "api", "direct", req.SessionKey, nil)

	if result.IsError {
		writeToolError(w, http.StatusBadRequest, "TOOL_ERROR", result.ForLLM)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"result": map[string]interface{}{
			"output":  result.ForLLM,
			"forUser": result.ForUser,
		},
	})
}

func writeToolError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
