package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nextlevelbuilder/tatty/internal/agent"
	"github.com/nextlevelbuilder/tatty/internal/artifacts"
	"github.com/nextlevelbuilder/tatty/internal/bootstrap"
	"github.com/nextlevelbuilder/tatty/internal/bus"
	"github.com/nextlevelbuilder/tatty/internal/config"
	"github.com/nextlevelbuilder/tatty/internal/mcp"
	"github.com/nextlevelbuilder/tatty/internal/memory"
	"github.com/nextlevelbuilder/tatty/internal/providers"
	"github.com/nextlevelbuilder/tatty/internal/sessions"
	"github.com/nextlevelbuilder/tatty/internal/skills"
	"github.com/nextlevelbuilder/tatty/internal/store"
	"github.com/nextlevelbuilder/tatty/internal/tools"
	"github.com/nextlevelbuilder/tatty/internal/tracing"
	"github.com/nextlevelbuilder/tatty/internal/tracing/otelexport"
)

// agentRuntime bundles everything a CLI surface needs to run the agent.
type agentRuntime struct {
	Cfg      *config.Config
	AgentID  string
	Provider providers.Provider
	Loop     *agent.Loop
	Tools    *tools.Registry
	Sessions store.SessionStore
	Stores   *store.Stores
	Memory   *memory.Manager
	Skills   *skills.Loader
	Bus      *bus.MessageBus
	Tracer   *tracing.Collector

	browser  *tools.BrowserTool
	mcpPool  *mcp.Pool
	cleanups []func()
}

// loadConfig reads the config file, applies .env and flag overrides, and
// validates the workspace.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flagDir != "" {
		abs, err := filepath.Abs(config.ExpandHome(flagDir))
		if err != nil {
			return nil, fmt.Errorf("resolve --dir: %w", err)
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("--dir %s is not a directory", flagDir)
		}
		cfg.Agent.Workspace = abs
	}
	if cfg.Agent.Workspace == "" {
		wd, _ := os.Getwd()
		cfg.Agent.Workspace = wd
	}
	config.LoadDotenv(cfg.Agent.Workspace)
	if flagModel != "" {
		cfg.Agent.Model = flagModel
	}
	if flagProvider != "" {
		cfg.Agent.Provider = flagProvider
	}
	if flagMaxIterations > 0 {
		cfg.Agent.MaxIterations = flagMaxIterations
	}
	for _, warning := range cfg.Validate() {
		slog.Warn("config", "warning", warning)
	}
	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if flagVerbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Logging.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// buildProvider constructs the configured chat backend. Every backend
// speaks the OpenAI chat-completions dialect; gemini goes through its
// compatibility endpoint.
func buildProvider(cfg *config.Config) (providers.Provider, error) {
	return providers.FromConfig(cfg)
}

// buildRuntime wires config, stores, tools, and the agent loop for one
// process. onEvent receives loop progress; pass nil for silent runs.
func buildRuntime(onEvent agent.EventFunc) (*agentRuntime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return buildRuntimeWith(cfg, onEvent)
}

func buildRuntimeWith(cfg *config.Config, onEvent agent.EventFunc) (*agentRuntime, error) {
	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	rt := &agentRuntime{Cfg: cfg, AgentID: config.NormalizeAgentID("tatty"), Provider: provider}
	workspace := cfg.Agent.Workspace

	// Stores: managed mode centralizes everything in Postgres; standalone
	// keeps sessions as JSON files and memory in workspace SQLite.
	stores, err := openStores(cfg)
	if err != nil {
		return nil, fmt.Errorf("open stores: %w", err)
	}
	rt.Stores = stores
	rt.Sessions = rt.Stores.Sessions
	rt.cleanups = append(rt.cleanups, func() { rt.Stores.Close() })

	// Workspace memory rides alongside either store mode.
	if cfg.MemoryEnabled() {
		memCfg := memory.DefaultManagerConfig(workspace)
		memCfg.DBPath = cfg.MemoryDBPath()
		mem, err := memory.NewManager(memCfg)
		if err != nil {
			slog.Warn("memory disabled", "error", err)
		} else {
			rt.Memory = mem
			rt.cleanups = append(rt.cleanups, func() { mem.Close() })
		}
	}

	rt.Skills = skills.NewLoader(workspace, filepath.Join(config.DataDir(), "skills"), "")
	if watcher, err := skills.NewWatcher(rt.Skills); err == nil {
		if err := watcher.Start(context.Background()); err == nil {
			rt.cleanups = append(rt.cleanups, watcher.Stop)
		}
	}

	rt.Bus = bus.New()

	if cfg.Tracing.Enabled {
		collector := tracing.NewCollector(rt.Stores.Tracing)
		if cfg.Tracing.OTLPEndpoint != "" {
			proto := "grpc"
			if cfg.Tracing.OTLPHTTP {
				proto = "http"
			}
			exp, err := otelexport.New(context.Background(), otelexport.Config{
				Endpoint: cfg.Tracing.OTLPEndpoint,
				Protocol: proto,
				Insecure: cfg.Tracing.OTLPInsecure,
			})
			if err != nil {
				slog.Warn("otlp export disabled", "error", err)
			} else {
				collector.SetExporter(exp)
				rt.cleanups = append(rt.cleanups, func() { exp.Shutdown(context.Background()) })
			}
		}
		collector.Start()
		rt.cleanups = append(rt.cleanups, collector.Stop)
		rt.Tracer = collector
	}

	registry, err := rt.buildTools()
	if err != nil {
		return nil, err
	}
	rt.Tools = registry

	policy, err := tools.NewPolicyEngine(policyRules(cfg), cfg.Tools.RequireConfirmation)
	if err != nil {
		return nil, fmt.Errorf("compile tool policy: %w", err)
	}

	files := bootstrap.LoadWorkspaceFiles(workspace)
	truncCfg := bootstrap.DefaultTruncateConfig()
	if cfg.Agent.BootstrapMaxChars > 0 {
		truncCfg.MaxCharsPerFile = cfg.Agent.BootstrapMaxChars
	}
	if cfg.Agent.BootstrapTotalMaxChars > 0 {
		truncCfg.TotalMaxChars = cfg.Agent.BootstrapTotalMaxChars
	}
	contextFiles := bootstrap.BuildContextFiles(files, truncCfg)

	// Managed mode: agent-level context files stored in the DB ride after
	// the workspace ones.
	if rt.Stores.Agents != nil {
		if rec, aerr := rt.Stores.Agents.GetByKey(context.Background(), rt.AgentID); aerr == nil && rec != nil {
			contextFiles = append(contextFiles, bootstrap.LoadFromStore(context.Background(), rt.Stores.Agents, rec.ID)...)
		}
	}

	rt.Loop = agent.NewLoop(agent.LoopConfig{
		ID:            rt.AgentID,
		Provider:      provider,
		Model:         cfg.Agent.Model,
		FastModel:     cfg.Agent.FastModel,
		ContextWindow: cfg.Agent.ContextWindow,
		MaxIterations: cfg.Agent.MaxIterations,

		Workspace: workspace,
		Bus:       rt.Bus,
		Sessions:  rt.Sessions,
		Tools:     registry,
		OnEvent:   onEvent,

		SkillsLoader: rt.Skills,
		HasMemory:    rt.Memory != nil,
		ContextFiles: contextFiles,

		CompactionCfg:     cfg.Agent.Compaction,
		ContextPruningCfg: cfg.Agent.ContextPruning,
		ToolPolicy:        policy,
		Tracing:           rt.Tracer,
	})
	return rt, nil
}

// buildTools registers the builtin tool suite per config toggles.
func (rt *agentRuntime) buildTools() (*tools.Registry, error) {
	cfg := rt.Cfg
	workspace := cfg.Agent.Workspace
	registry := tools.NewRegistry()
	registry.SetScrubbing(true)
	if cfg.Tools.RateLimitPerHour > 0 {
		registry.SetRateLimiter(tools.NewToolRateLimiter(cfg.Tools.RateLimitPerHour))
	}

	registry.Register(tools.NewReadFileTool(workspace))
	registry.Register(tools.NewWriteFileTool(workspace))
	registry.Register(tools.NewEditFileTool(workspace))
	registry.Register(tools.NewListFilesTool(workspace))
	registry.Register(tools.NewGlobTool(workspace))
	registry.Register(tools.NewGrepTool(workspace))

	execTool := tools.NewExecTool(workspace, cfg.Tools.Exec.TimeoutSeconds)
	registry.Register(execTool)
	for _, dev := range tools.NewDevTools(workspace, execTool, devOverrides(cfg)) {
		registry.Register(dev)
	}
	if cfg.Tools.Packages.On(true) {
		registry.Register(tools.NewInstallPackagesTool(workspace, execTool))
	}
	if cfg.Tools.Git.On(true) {
		registry.Register(tools.NewGitTool(execTool))
	}

	registry.Register(tools.NewTodoWriteTool(rt.Sessions))
	registry.Register(tools.NewTodoReadTool(rt.Sessions))
	registry.Register(tools.NewPlanTool(rt.Sessions))

	webOn := cfg.Tools.Web.Enabled == nil || *cfg.Tools.Web.Enabled
	if webOn {
		cacheTTL := time.Duration(cfg.Tools.Web.Cache.TTLSeconds) * time.Second
		fetch := tools.NewWebFetchTool(tools.WebFetchConfig{
			CacheTTL:  cacheTTL,
			CacheSize: cfg.Tools.Web.Cache.MaxEntries,
			RedisAddr: cfg.Tools.Web.Cache.RedisAddr,
		})
		registry.Register(fetch)
		registry.Register(tools.NewWebSearchTool(tools.WebSearchConfig{
			BraveAPIKey:  cfg.Tools.Web.Brave.APIKey,
			BraveEnabled: cfg.Tools.Web.Brave.Enabled,
			DDGEnabled:   cfg.Tools.Web.DuckDuckGo.On(true),
			CacheTTL:     cacheTTL,
			CacheSize:    cfg.Tools.Web.Cache.MaxEntries,
			RedisAddr:    cfg.Tools.Web.Cache.RedisAddr,
		}))
		if cfg.Tools.Browser.On(false) {
			browser := tools.NewBrowserTool()
			registry.Register(browser)
			fetch.SetRenderer(browser)
			rt.browser = browser
			rt.cleanups = append(rt.cleanups, browser.Stop)
		}
	}

	if rt.Memory != nil || (cfg.IsManaged() && rt.Stores.Memory != nil) {
		memSearch := tools.NewMemorySearchTool(rt.Memory)
		memGet := tools.NewMemoryGetTool(rt.Memory)
		if cfg.IsManaged() && rt.Stores.Memory != nil {
			memSearch.SetMemoryStore(rt.Stores.Memory)
			memGet.SetMemoryStore(rt.Stores.Memory)
		}
		registry.Register(memSearch)
		registry.Register(memGet)
	}
	registry.Register(tools.NewSkillSearchTool(rt.Skills))

	manifest := artifacts.NewManager(workspace, cfg.Artifacts.Folders)
	registry.Register(tools.NewArtifactsTool(manifest, artifacts.S3Config{
		Bucket: cfg.Artifacts.S3.Bucket,
		Prefix: cfg.Artifacts.S3.Prefix,
		Region: cfg.Artifacts.S3.Region,
	}))

	if dir := cfg.Tools.CustomToolsDir; dir != "" {
		for _, jsTool := range tools.LoadJSTools(config.ExpandHome(dir)) {
			registry.Register(jsTool)
		}
	}
	if rt.Stores.CustomTools != nil {
		loader := tools.NewDynamicToolLoader(rt.Stores.CustomTools, workspace)
		if err := loader.LoadGlobal(context.Background(), registry); err != nil {
			slog.Warn("custom tools load failed", "error", err)
		}
	}

	mcpServers := cfg.Tools.MCP
	if rt.Stores.MCP != nil {
		mcpServers = append(mcpServers, storeMCPServers(rt.Stores.MCP)...)
	}
	if len(mcpServers) > 0 {
		pool := mcp.NewPool(mcpServers)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pool.Connect(ctx, registry)
		cancel()
		rt.mcpPool = pool
		rt.cleanups = append(rt.cleanups, pool.Close)
	}

	// Subagents get a scoped clone of everything registered above.
	subMgr := tools.NewSubagentManager(rt.Provider, cfg.Agent.Model, rt.AgentID, workspace, registry)
	announce := tools.NewAnnounceQueue(0, 0, rt.announceDrain, subMgr.CountActive)
	subMgr.SetAnnounceQueue(announce)
	registry.Register(tools.NewSubagentTool(subMgr))

	return registry, nil
}

// announceDrain surfaces batched subagent completions on the bus so the
// active surface (chat, TUI, serve) can display them.
func (rt *agentRuntime) announceDrain(sessionKey string, items []tools.AnnounceQueueItem, meta tools.AnnounceMetadata) {
	var b strings.Builder
	fmt.Fprintf(&b, "%d subagent task(s) finished:\n", len(items))
	for _, item := range items {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", item.Status, item.Label, item.Result)
	}
	rt.Bus.PublishOutbound(bus.OutboundMessage{
		Channel: meta.OriginChannel,
		ChatID:  meta.OriginChatID,
		Content: b.String(),
	})
}

// storeMCPServers converts enabled DB-registered MCP servers into pool
// entries (managed mode).
func storeMCPServers(ms store.MCPServerStore) []config.MCPServer {
	servers, err := ms.ListServers(context.Background())
	if err != nil {
		slog.Warn("mcp servers load failed", "error", err)
		return nil
	}
	var out []config.MCPServer
	for _, s := range servers {
		if !s.Enabled {
			continue
		}
		var args []string
		if len(s.Args) > 0 {
			if err := json.Unmarshal(s.Args, &args); err != nil {
				slog.Warn("mcp server args malformed", "server", s.Name, "error", err)
				continue
			}
		}
		out = append(out, config.MCPServer{
			Name:      s.Name,
			Transport: s.Transport,
			Command:   s.Command,
			Args:      args,
			URL:       s.URL,
		})
	}
	return out
}

func devOverrides(cfg *config.Config) map[string]string {
	overrides := map[string]string{}
	if v := cfg.Tools.Dev.TestCommand; v != "" {
		overrides["test"] = v
	}
	if v := cfg.Tools.Dev.LintCommand; v != "" {
		overrides["lint"] = v
	}
	if v := cfg.Tools.Dev.TypecheckCommand; v != "" {
		overrides["typecheck"] = v
	}
	if v := cfg.Tools.Dev.FormatCommand; v != "" {
		overrides["format"] = v
	}
	return overrides
}

func policyRules(cfg *config.Config) []tools.PolicyRule {
	rules := make([]tools.PolicyRule, 0, len(cfg.Tools.Policy))
	for _, r := range cfg.Tools.Policy {
		rules = append(rules, tools.PolicyRule{Name: r.Name, Expr: r.Expr, Action: r.Action})
	}
	return rules
}

// Run executes one agent turn on the local CLI session.
func (rt *agentRuntime) Run(ctx context.Context, query string) (*agent.RunResult, error) {
	return rt.RunSession(ctx, rt.SessionKey(), query)
}

// RunSession executes one agent turn against an explicit session key.
func (rt *agentRuntime) RunSession(ctx context.Context, sessionKey, query string) (*agent.RunResult, error) {
	return rt.Loop.Run(ctx, agent.RunRequest{
		SessionKey: sessionKey,
		Message:    query,
		Channel:    "cli",
		ChatID:     "local",
		PeerKind:   "direct",
		RunID:      store.GenNewID().String(),
	})
}

// SessionKey returns the key for the local CLI session in this workspace.
func (rt *agentRuntime) SessionKey() string {
	return sessions.BuildSessionKey(rt.AgentID, "cli", "direct", workspaceSlug(rt.Cfg.Agent.Workspace))
}

// workspaceSlug keys CLI sessions per directory so parallel projects do
// not share history.
func workspaceSlug(workspace string) string {
	base := filepath.Base(workspace)
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "root"
	}
	return base
}

// Close releases runtime resources in reverse construction order.
func (rt *agentRuntime) Close() {
	for i := len(rt.cleanups) - 1; i >= 0; i-- {
		rt.cleanups[i]()
	}
}
