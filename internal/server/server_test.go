package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/tatty/internal/agent"
	"github.com/nextlevelbuilder/tatty/internal/bus"
	"github.com/nextlevelbuilder/tatty/internal/pairing"
	"github.com/nextlevelbuilder/tatty/internal/providers"
	"github.com/nextlevelbuilder/tatty/internal/sessions"
	storefile "github.com/nextlevelbuilder/tatty/internal/store/file"
	"github.com/nextlevelbuilder/tatty/internal/tools"
)

// cannedProvider always answers with the same content.
type cannedProvider struct {
	reply string
}

func (p *cannedProvider) Name() string { return "canned" }

func (p *cannedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: p.reply}, nil
}

func (p *cannedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}

type pingTool struct{}

func (pingTool) Name() string        { return "ping" }
func (pingTool) Description() string { return "replies pong" }
func (pingTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (pingTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	return tools.NewResult("pong")
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	reg := tools.NewRegistry()
	reg.Register(pingTool{})
	sess := storefile.NewFileSessionStore(sessions.NewManager(t.TempDir()))
	loop := agent.NewLoop(agent.LoopConfig{
		ID:        "tester",
		Provider:  &cannedProvider{reply: "hello from the agent"},
		Model:     "test-model",
		Workspace: t.TempDir(),
		Sessions:  sess,
		Tools:     reg,
	})
	if cfg.AgentID == "" {
		cfg.AgentID = "tester"
	}
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	srv := New(cfg, loop, sess, reg, bus.New())
	t.Cleanup(srv.scheduler.Stop)
	return srv
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["model"] != "test-model" {
		t.Errorf("body = %v", body)
	}
}

func TestGuard_RejectsBadToken(t *testing.T) {
	srv := newTestServer(t, Config{Token: "secret"})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no_token", "", http.StatusUnauthorized},
		{"wrong_token", "Bearer nope", http.StatusUnauthorized},
		{"right_token", "Bearer secret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := `{"tool":"ping","dryRun":true}`
			req, _ := http.NewRequest(http.MethodPost, ts.URL+"/tools/invoke", strings.NewReader(body))
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestChatCompletions_NonStreaming(t *testing.T) {
	srv := newTestServer(t, Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body := `{"model":"test-model","messages":[{"role":"user","content":"hi"}],"user":"alice"}`
	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Choices) != 1 {
		t.Fatalf("choices = %d, want 1", len(got.Choices))
	}
	if got.Choices[0].Message == nil || got.Choices[0].Message.Content != "hello from the agent" {
		t.Errorf("message = %+v", got.Choices[0].Message)
	}
	if got.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %q, want stop", got.Choices[0].FinishReason)
	}
	if !strings.HasPrefix(got.ID, "chatcmpl-") {
		t.Errorf("id = %q, want chatcmpl- prefix", got.ID)
	}
}

func TestChatCompletions_RejectsEmptyMessages(t *testing.T) {
	srv := newTestServer(t, Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json",
		bytes.NewReader([]byte(`{"model":"m","messages":[]}`)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestToolsInvoke_DryRun(t *testing.T) {
	srv := newTestServer(t, Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/tools/invoke", "application/json",
		strings.NewReader(`{"tool":"ping","dryRun":true}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var got map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["tool"] != "ping" || got["dryRun"] != true {
		t.Errorf("body = %v", got)
	}
	if got["parameters"] == nil {
		t.Error("expected parameters in dry-run response")
	}
}

func TestToolsInvoke_Execute(t *testing.T) {
	srv := newTestServer(t, Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/tools/invoke", "application/json",
		strings.NewReader(`{"tool":"ping","args":{}}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got struct {
		Result struct {
			Output string `json:"output"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Result.Output != "pong" {
		t.Errorf("output = %q, want pong", got.Result.Output)
	}
}

func TestToolsInvoke_UnknownTool(t *testing.T) {
	srv := newTestServer(t, Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/tools/invoke", "application/json",
		strings.NewReader(`{"tool":"vanish","dryRun":true}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	rl := NewRateLimiter(60, 3)
	for i := 0; i < 3; i++ {
		if !rl.Allow("k") {
			t.Fatalf("request %d should pass within burst", i+1)
		}
	}
	if rl.Allow("k") {
		t.Error("request past the burst should be denied")
	}
	if !rl.Allow("other") {
		t.Error("a different key has its own bucket")
	}
}

func TestRateLimiter_DisabledWhenZero(t *testing.T) {
	rl := NewRateLimiter(0, 5)
	if rl.Enabled() {
		t.Error("rpm 0 should disable limiting")
	}
	for i := 0; i < 100; i++ {
		if !rl.Allow("k") {
			t.Fatal("disabled limiter must always allow")
		}
	}
}

func TestPairing_RequestApproveThenAuthorized(t *testing.T) {
	svc := pairing.NewService(filepath.Join(t.TempDir(), "pairing.json"))
	srv := newTestServer(t, Config{Token: "secret"})
	srv.SetPairingStore(storefile.NewFilePairingStore(svc))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/pair/request", "application/json",
		strings.NewReader(`{"client_name":"phone"}`))
	if err != nil {
		t.Fatalf("pair request: %v", err)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || body["code"] == "" {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}

	// Before approval the code is not a token.
	invoke := func(token string) int {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/tools/invoke",
			strings.NewReader(`{"tool":"ping","dryRun":true}`))
		req.Header.Set("Authorization", "Bearer "+token)
		r, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("invoke: %v", err)
		}
		r.Body.Close()
		return r.StatusCode
	}
	if got := invoke(body["code"]); got != http.StatusUnauthorized {
		t.Errorf("unapproved code: status = %d, want 401", got)
	}

	dev, err := svc.ApprovePairing(body["code"], "test")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := invoke(dev.Token); got != http.StatusOK {
		t.Errorf("device token: status = %d, want 200", got)
	}
	if got := invoke("bogus"); got != http.StatusUnauthorized {
		t.Errorf("bogus token: status = %d, want 401", got)
	}
}

func TestPairing_RequestWithoutStore(t *testing.T) {
	srv := newTestServer(t, Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/pair/request", "application/json",
		strings.NewReader(`{"client_name":"phone"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
