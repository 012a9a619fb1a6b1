// Package server exposes the agent as a service: an OpenAI-compatible
// HTTP surface, direct tool invocation, and a WebSocket event stream
// speaking pkg/protocol frames.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/tatty/internal/agent"
	"github.com/nextlevelbuilder/tatty/internal/bus"
	"github.com/nextlevelbuilder/tatty/internal/scheduler"
	"github.com/nextlevelbuilder/tatty/internal/store"
	"github.com/nextlevelbuilder/tatty/internal/tools"
)

// Config tunes the serve surface.
type Config struct {
	Host              string
	Port              int
	Token             string // bearer token, empty = no auth
	RequestsPerMinute int    // per token/IP, 0 = 60
	AgentID           string
	Model             string
}

// Server owns the HTTP listener and run scheduling for serve mode.
type Server struct {
	cfg       Config
	loop      *agent.Loop
	sessions  store.SessionStore
	registry  *tools.Registry
	bus       *bus.MessageBus
	scheduler *scheduler.Scheduler
	limiter   *RateLimiter
	hub       *wsHub
	pairing   store.PairingStore // nil = pairing disabled

	httpSrv *http.Server
}

func New(cfg Config, loop *agent.Loop, sess store.SessionStore, registry *tools.Registry, mb *bus.MessageBus) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8642
	}
	rpm := cfg.RequestsPerMinute
	if rpm == 0 {
		rpm = 60
	}
	s := &Server{
		cfg:      cfg,
		loop:     loop,
		sessions: sess,
		registry: registry,
		bus:      mb,
		limiter:  NewRateLimiter(rpm, 10),
		hub:      newWSHub(),
	}
	s.scheduler = scheduler.NewScheduler(scheduler.DefaultLanes(), scheduler.DefaultQueueConfig(), loop.Run)
	return s
}

// SetPairingStore enables device pairing: POST /pair/request hands out
// codes, and tokens issued on approval pass the bearer guard.
func (s *Server) SetPairingStore(ps store.PairingStore) {
	s.pairing = ps
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Handler builds the route table. Exposed so alternative listeners
// (tsnet) can reuse it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","model":%q}`, s.cfg.Model)
	})
	mux.Handle("/v1/chat/completions", s.guard(newChatCompletionsHandler(s)))
	mux.Handle("/v1/responses", s.guard(newResponsesHandler(s)))
	mux.Handle("/tools/invoke", s.guard(newToolsInvokeHandler(s)))
	mux.HandleFunc("/pair/request", s.handlePairRequest)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}

	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.startEventPump(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	slog.Info("serve listening", "addr", s.Addr(), "auth", s.cfg.Token != "")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.closeAll()
		s.scheduler.Stop()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// schedule funnels a chat request through the per-session queue so
// concurrent clients on one session never interleave runs.
func (s *Server) schedule(ctx context.Context, lane string, req agent.RunRequest) (*agent.RunResult, error) {
	outcomeCh := s.scheduler.Schedule(ctx, lane, req)
	select {
	case outcome := <-outcomeCh:
		return outcome.Result, outcome.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// guard wraps a handler with bearer auth and the per-key rate limit.
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":{"message":"invalid authentication","type":"invalid_request_error"}}`, http.StatusUnauthorized)
			return
		}
		if !s.limiter.Allow(s.limitKey(r)) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, `{"error":{"message":"rate limit exceeded","type":"rate_limit_error"}}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	token := bearerToken(r)
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) == 1 {
		return true
	}
	if s.pairing != nil && token != "" {
		if _, ok := s.pairing.ValidateToken(token); ok {
			return true
		}
	}
	return false
}

// handlePairRequest issues a pairing code for a new client. It runs
// outside the bearer guard (the client has no token yet) but under the
// rate limit; the code only becomes a token once approved server-side.
func (s *Server) handlePairRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":{"message":"method not allowed"}}`, http.StatusMethodNotAllowed)
		return
	}
	if s.pairing == nil {
		http.Error(w, `{"error":{"message":"pairing not enabled"}}`, http.StatusNotFound)
		return
	}
	if !s.limiter.Allow(s.limitKey(r)) {
		w.Header().Set("Retry-After", "60")
		http.Error(w, `{"error":{"message":"rate limit exceeded","type":"rate_limit_error"}}`, http.StatusTooManyRequests)
		return
	}
	var body struct {
		ClientName string `json:"client_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ClientName == "" {
		http.Error(w, `{"error":{"message":"client_name is required"}}`, http.StatusBadRequest)
		return
	}
	code, err := s.pairing.RequestPairing(body.ClientName, r.RemoteAddr)
	if err != nil {
		http.Error(w, `{"error":{"message":"pairing request rejected"}}`, http.StatusTooManyRequests)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"code": code})
}

func (s *Server) limitKey(r *http.Request) string {
	if t := bearerToken(r); t != "" {
		return "token:" + t
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}
