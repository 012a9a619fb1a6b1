// Package tatty embeds the agent in another Go program. A Client wraps
// the same loop the CLI runs, wired against a working directory, with
// file, search, shell, and tasking tools enabled. Browser, MCP, and
// tracing surfaces stay off in embedded mode; run the CLI for those.
package tatty

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tatty/internal/agent"
	"github.com/nextlevelbuilder/tatty/internal/artifacts"
	"github.com/nextlevelbuilder/tatty/internal/bootstrap"
	"github.com/nextlevelbuilder/tatty/internal/bus"
	"github.com/nextlevelbuilder/tatty/internal/config"
	"github.com/nextlevelbuilder/tatty/internal/providers"
	"github.com/nextlevelbuilder/tatty/internal/sessions"
	"github.com/nextlevelbuilder/tatty/internal/skills"
	"github.com/nextlevelbuilder/tatty/internal/store"
	storefile "github.com/nextlevelbuilder/tatty/internal/store/file"
	"github.com/nextlevelbuilder/tatty/internal/tools"
)

// Options configures a Client. The zero value uses the same config file
// and defaults as the CLI.
type Options struct {
	ConfigPath    string // defaults to ~/.tatty/config.json5
	WorkingDir    string // defaults to the process working directory
	Provider      string // overrides agent.provider
	Model         string // overrides agent.model
	MaxIterations int    // overrides agent.max_iterations
	WebTools      bool   // enable web_fetch and web_search
}

// Reply is the outcome of one Run.
type Reply struct {
	Content    string
	RunID      string
	Iterations int
}

// Message is one transcript entry returned by History.
type Message struct {
	Role    string
	Content string
}

// Client is an in-process agent instance. Safe for concurrent use;
// runs on the same client execute one at a time.
type Client struct {
	mu       sync.Mutex
	cfg      *config.Config
	provider providers.Provider
	loop     *agent.Loop
	stores   *store.Stores
	workdir  string
	closed   bool
}

// New builds a Client from opts.
func New(opts Options) (*Client, error) {
	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	workdir := opts.WorkingDir
	if workdir == "" {
		workdir, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}
	workdir, err = filepath.Abs(workdir)
	if err != nil {
		return nil, err
	}
	cfg.Agent.Workspace = workdir
	config.LoadDotenv(workdir)

	if opts.Provider != "" {
		cfg.Agent.Provider = opts.Provider
	}
	if opts.Model != "" {
		cfg.Agent.Model = opts.Model
	}
	if opts.MaxIterations > 0 {
		cfg.Agent.MaxIterations = opts.MaxIterations
	}

	provider, err := providers.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	stores, err := storefile.NewFileStores(store.StoreConfig{
		Mode:        "standalone",
		SessionsDir: cfg.SessionsDir(),
		Workspace:   workdir,
	})
	if err != nil {
		return nil, fmt.Errorf("open stores: %w", err)
	}

	c := &Client{
		cfg:      cfg,
		provider: provider,
		stores:   stores,
		workdir:  workdir,
	}

	registry := c.buildTools(opts)
	loader := skills.NewLoader(workdir, filepath.Join(config.DataDir(), "skills"), "")

	files := bootstrap.LoadWorkspaceFiles(workdir)

	c.loop = agent.NewLoop(agent.LoopConfig{
		ID:            config.NormalizeAgentID("tatty"),
		Provider:      provider,
		Model:         cfg.Agent.Model,
		FastModel:     cfg.Agent.FastModel,
		ContextWindow: cfg.Agent.ContextWindow,
		MaxIterations: cfg.Agent.MaxIterations,
		Workspace:     workdir,
		Bus:           bus.New(),
		Sessions:      stores.Sessions,
		Tools:         registry,
		SkillsLoader:  loader,
		ContextFiles:  bootstrap.BuildContextFiles(files, bootstrap.DefaultTruncateConfig()),
	})
	return c, nil
}

func (c *Client) buildTools(opts Options) *tools.Registry {
	registry := tools.NewRegistry()
	registry.SetScrubbing(true)

	registry.Register(tools.NewReadFileTool(c.workdir))
	registry.Register(tools.NewWriteFileTool(c.workdir))
	registry.Register(tools.NewEditFileTool(c.workdir))
	registry.Register(tools.NewListFilesTool(c.workdir))
	registry.Register(tools.NewGlobTool(c.workdir))
	registry.Register(tools.NewGrepTool(c.workdir))

	exec := tools.NewExecTool(c.workdir, c.cfg.Tools.Exec.TimeoutSeconds)
	registry.Register(exec)
	for _, t := range tools.NewDevTools(c.workdir, exec, nil) {
		registry.Register(t)
	}
	registry.Register(tools.NewGitTool(exec))

	registry.Register(tools.NewTodoWriteTool(c.stores.Sessions))
	registry.Register(tools.NewTodoReadTool(c.stores.Sessions))
	registry.Register(tools.NewPlanTool(c.stores.Sessions))

	if opts.WebTools {
		registry.Register(tools.NewWebFetchTool(tools.WebFetchConfig{}))
		registry.Register(tools.NewWebSearchTool(tools.WebSearchConfig{
			BraveAPIKey:  c.cfg.Tools.Web.Brave.APIKey,
			BraveEnabled: c.cfg.Tools.Web.Brave.Enabled,
			DDGEnabled:   true,
		}))
	}
	return registry
}

// Run executes one agent turn against the client's session and returns
// the final reply. Tool calls happen inside the turn.
func (c *Client) Run(ctx context.Context, query string) (*Reply, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client is closed")
	}
	loop := c.loop
	key := c.sessionKey()
	c.mu.Unlock()

	result, err := loop.Run(ctx, agent.RunRequest{
		SessionKey: key,
		Message:    query,
		Channel:    "lib",
		ChatID:     "embedded",
		PeerKind:   "direct",
		RunID:      uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}
	return &Reply{Content: result.Content, RunID: result.RunID, Iterations: result.Iterations}, nil
}

// Ask answers a one-off question with no tools and no session history,
// using the fast model when one is configured.
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	model := c.cfg.Agent.FastModel
	if model == "" {
		model = c.cfg.Agent.Model
	}
	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Model: model,
		Messages: []providers.Message{
			{Role: "system", Content: "You are a concise assistant. Answer directly."},
			{Role: "user", Content: question},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// History returns the user/assistant transcript of the client's session.
func (c *Client) History(ctx context.Context) ([]Message, error) {
	raw := c.stores.Sessions.GetHistory(c.sessionKey())
	out := make([]Message, 0, len(raw))
	for _, m := range raw {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

// ClearHistory resets the client's session.
func (c *Client) ClearHistory(ctx context.Context) error {
	c.stores.Sessions.Reset(c.sessionKey())
	return nil
}

// WorkingDir returns the directory the agent operates in.
func (c *Client) WorkingDir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workdir
}

// SetWorkingDir rebuilds the client against dir. The session changes
// with the directory; history is kept per directory.
func (c *Client) SetWorkingDir(dir string) error {
	c.mu.Lock()
	if c.workdir == dir {
		c.mu.Unlock()
		return nil
	}
	opts := Options{
		WorkingDir:    dir,
		Provider:      c.cfg.Agent.Provider,
		Model:         c.cfg.Agent.Model,
		MaxIterations: c.cfg.Agent.MaxIterations,
	}
	c.mu.Unlock()

	next, err := New(opts)
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.stores
	c.cfg = next.cfg
	c.provider = next.provider
	c.loop = next.loop
	c.stores = next.stores
	c.workdir = next.workdir
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// InitProject creates the standard workspace folders and a starter
// TATTY.md in the working directory.
func (c *Client) InitProject(ctx context.Context) error {
	folders := c.cfg.Artifacts.Folders
	if len(folders) == 0 {
		folders = config.DefaultArtifactFolders
	}
	if err := artifacts.NewManager(c.workdir, folders).Init(); err != nil {
		return err
	}

	mdPath := filepath.Join(c.workdir, "TATTY.md")
	if _, err := os.Stat(mdPath); os.IsNotExist(err) {
		content := fmt.Sprintf("# %s\n\nProject notes for the agent. Describe the goal, conventions,\nand anything it should know before touching files.\n", filepath.Base(c.workdir))
		return os.WriteFile(mdPath, []byte(content), 0o644)
	}
	return nil
}

// Close releases stores and background resources.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.stores.Close()
}

func (c *Client) sessionKey() string {
	slug := filepath.Base(c.workdir)
	if slug == "/" || slug == "." || slug == "" {
		slug = "root"
	}
	return sessions.BuildSessionKey(config.NormalizeAgentID("tatty"), "lib", "direct", slug)
}
