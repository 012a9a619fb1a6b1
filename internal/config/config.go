// Package config defines tatty's configuration: a JSON5 file under
// ~/.tatty/, overlaid by workspace .env entries and TATTY_* environment
// variables, with explicit flags taking final precedence in the CLI layer.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Config is the root configuration tree.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Providers ProvidersConfig `json:"providers"`
	Tools     ToolsConfig     `json:"tools"`
	Sessions  SessionsConfig  `json:"sessions"`
	Memory    MemoryConfig    `json:"memory"`
	Artifacts ArtifactsConfig `json:"artifacts"`
	Serve     ServeConfig     `json:"serve"`
	Cron      CronConfig      `json:"cron"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Tracing   TracingConfig   `json:"tracing"`
	Database  DatabaseConfig  `json:"database"`
	Logging   LoggingConfig   `json:"logging"`
}

// AgentConfig controls the runtime loop.
type AgentConfig struct {
	Provider            string `json:"provider"`
	Model               string `json:"model"`
	FastModel           string `json:"fast_model"`
	Workspace           string `json:"workspace"`
	MaxIterations       int    `json:"max_iterations"`
	TimeoutSeconds      int    `json:"timeout_seconds"`
	ContextWindow       int    `json:"context_window"`
	RestrictToWorkspace bool   `json:"restrict_to_workspace"`
	MaxSubagentDepth    int    `json:"max_subagent_depth"`

	BootstrapMaxChars      int `json:"bootstrap_max_chars,omitempty"`
	BootstrapTotalMaxChars int `json:"bootstrap_total_max_chars,omitempty"`

	Compaction     *CompactionConfig     `json:"compaction,omitempty"`
	ContextPruning *ContextPruningConfig `json:"context_pruning,omitempty"`
}

// ProvidersConfig holds backend credentials. Keys left empty here are
// resolved from the environment and the OS keyring at load time.
type ProvidersConfig struct {
	OpenAI   ProviderCredentials  `json:"openai"`
	Boundary ProviderCredentials  `json:"boundary"`
	Gemini   ProviderCredentials  `json:"gemini"`
	Custom   CustomProviderConfig `json:"custom"`

	// RequestsPerMinute caps outbound provider calls. 0 = unlimited.
	RequestsPerMinute int `json:"requests_per_minute,omitempty"`
}

type ProviderCredentials struct {
	APIKey  string `json:"api_key,omitempty"`
	APIBase string `json:"api_base,omitempty"`
}

type CustomProviderConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

// ToolsConfig gates and tunes the builtin tool suite.
type ToolsConfig struct {
	Web      WebToolsConfig  `json:"web"`
	Exec     ExecToolConfig  `json:"exec"`
	Git      ToggleConfig    `json:"git"`
	Packages ToggleConfig    `json:"packages"`
	Browser  ToggleConfig    `json:"browser"`
	Dev      DevToolsConfig  `json:"dev"`
	MCP      []MCPServer     `json:"mcp,omitempty"`
	Policy   []PolicyRule    `json:"policy,omitempty"`

	RequireConfirmation bool   `json:"require_confirmation"`
	SandboxMode         bool   `json:"sandbox_mode"`
	CustomToolsDir      string `json:"custom_tools_dir,omitempty"`
	RateLimitPerHour    int    `json:"rate_limit_per_hour,omitempty"`
}

// ToggleConfig is a feature switch whose nil means "use the default".
type ToggleConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
}

// On reports the effective state given a default.
func (t ToggleConfig) On(def bool) bool {
	if t.Enabled == nil {
		return def
	}
	return *t.Enabled
}

type WebToolsConfig struct {
	Enabled    *bool            `json:"enabled,omitempty"`
	Brave      BraveSearchCfg   `json:"brave"`
	DuckDuckGo ToggleConfig     `json:"duckduckgo"`
	Cache      WebCacheConfig   `json:"cache"`
}

type BraveSearchCfg struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"api_key,omitempty"`
}

// WebCacheConfig tunes the shared web response cache.
type WebCacheConfig struct {
	TTLSeconds int    `json:"ttl_seconds,omitempty"` // default 900
	MaxEntries int    `json:"max_entries,omitempty"` // default 128
	RedisAddr  string `json:"redis_addr,omitempty"`  // when set, cache is shared via Redis
}

type ExecToolConfig struct {
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"` // default 120
	DenyPatterns   []string `json:"deny_patterns,omitempty"`   // extra regexes on top of builtins
}

// DevToolsConfig overrides the per-ecosystem dev commands. Empty entries
// fall back to detection (pytest/ruff/mypy/black, go test/vet/gofmt, npm).
type DevToolsConfig struct {
	TestCommand      string `json:"test_command,omitempty"`
	LintCommand      string `json:"lint_command,omitempty"`
	TypecheckCommand string `json:"typecheck_command,omitempty"`
	FormatCommand    string `json:"format_command,omitempty"`
}

// MCPServer configures one Model Context Protocol server to bridge.
type MCPServer struct {
	Name      string   `json:"name"`
	Transport string   `json:"transport"` // "stdio" or "sse"
	Command   string   `json:"command,omitempty"`
	Args      []string `json:"args,omitempty"`
	URL       string   `json:"url,omitempty"`
}

// PolicyRule is a CEL expression evaluated before each tool call.
// Action is "allow", "deny" or "confirm"; first match wins.
type PolicyRule struct {
	Name   string `json:"name"`
	Expr   string `json:"expr"`
	Action string `json:"action"`
}

type SessionsConfig struct {
	Storage string `json:"storage,omitempty"` // directory, default ~/.tatty/sessions
}

type MemoryConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	DBPath  string `json:"db_path,omitempty"` // default <workspace>/.tatty/memory.db
}

// ArtifactsConfig controls the standard workspace folders and optional
// S3 sync for sharing results.
type ArtifactsConfig struct {
	Folders []string        `json:"folders,omitempty"` // default scripts,data,visualization,documents
	S3      ArtifactS3Cfg   `json:"s3"`
}

type ArtifactS3Cfg struct {
	Bucket string `json:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	Region string `json:"region,omitempty"`
}

// ServeConfig controls `tatty serve`.
type ServeConfig struct {
	Host      string `json:"host,omitempty"` // default 127.0.0.1
	Port      int    `json:"port,omitempty"` // default 8642
	Token     string `json:"token,omitempty"`
	Tailscale bool   `json:"tailscale,omitempty"` // serve over tsnet instead of a plain listener

	// RequestsPerMinute rate-limits serve clients per token/IP. 0 = default 60.
	RequestsPerMinute int `json:"requests_per_minute,omitempty"`
}

type CronConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	StorePath string `json:"store_path,omitempty"` // default ~/.tatty/cron.json
}

// HeartbeatConfig controls the periodic workspace check in serve mode.
type HeartbeatConfig struct {
	Enabled     bool               `json:"enabled,omitempty"`
	IntervalMin int                `json:"interval_min,omitempty"` // default 30
	ActiveHours *ActiveHoursConfig `json:"active_hours,omitempty"`
}

// ActiveHoursConfig restricts heartbeats to a daily window.
type ActiveHoursConfig struct {
	Start    string `json:"start,omitempty"` // "HH:MM"
	End      string `json:"end,omitempty"`   // "HH:MM"
	Timezone string `json:"timezone,omitempty"`
}

type TracingConfig struct {
	Enabled      bool   `json:"enabled,omitempty"`
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`
	OTLPInsecure bool   `json:"otlp_insecure,omitempty"`
	OTLPHTTP     bool   `json:"otlp_http,omitempty"` // use HTTP exporter instead of gRPC
}

// DatabaseConfig selects standalone (files + SQLite) or managed (Postgres).
type DatabaseConfig struct {
	Mode        string `json:"mode,omitempty"` // "standalone" (default) or "managed"
	PostgresDSN string `json:"postgres_dsn,omitempty"`
}

type LoggingConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // "text" (default) or "json"
}

// CompactionConfig tunes history summarization.
type CompactionConfig struct {
	ReserveTokensFloor int                `json:"reserve_tokens_floor,omitempty"` // default 20000
	KeepRecentMessages int                `json:"keep_recent_messages,omitempty"` // default 8
	MemoryFlush        *MemoryFlushConfig `json:"memory_flush,omitempty"`
}

// MemoryFlushConfig tunes the pre-compaction memory flush turn.
type MemoryFlushConfig struct {
	Enabled             *bool  `json:"enabled,omitempty"`
	SoftThresholdTokens int    `json:"soft_threshold_tokens,omitempty"`
	Prompt              string `json:"prompt,omitempty"`
	SystemPrompt        string `json:"system_prompt,omitempty"`
}

// ContextPruningConfig tunes old tool-result trimming.
type ContextPruningConfig struct {
	Mode                 string          `json:"mode,omitempty"` // "off" disables; anything else prunes
	KeepLastAssistants   int             `json:"keep_last_assistants,omitempty"`
	SoftTrimRatio        float64         `json:"soft_trim_ratio,omitempty"`
	HardClearRatio       float64         `json:"hard_clear_ratio,omitempty"`
	MinPrunableToolChars int             `json:"min_prunable_tool_chars,omitempty"`
	SoftTrim             *SoftTrimCfg    `json:"soft_trim,omitempty"`
	HardClear            *HardClearCfg   `json:"hard_clear,omitempty"`
}

type SoftTrimCfg struct {
	MaxChars  int `json:"max_chars,omitempty"`
	HeadChars int `json:"head_chars,omitempty"`
	TailChars int `json:"tail_chars,omitempty"`
}

type HardClearCfg struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

// Defaults applied by Load and by Validate.
const (
	DefaultModel          = "gpt-4"
	DefaultFastModel      = "gpt-3.5-turbo"
	DefaultProvider       = "openai"
	DefaultMaxIterations  = 20
	DefaultTimeoutSeconds = 120
	DefaultContextWindow  = 128000
	DefaultServePort      = 8642
	DefaultLogLevel       = "info"
)

// DefaultArtifactFolders are the standard workspace folders `tatty init`
// creates and the artifacts tool manages.
var DefaultArtifactFolders = []string{"scripts", "data", "visualization", "documents"}

// Default returns a fully-populated default configuration.
func Default() *Config {
	wd, _ := os.Getwd()
	return &Config{
		Agent: AgentConfig{
			Provider:            DefaultProvider,
			Model:               DefaultModel,
			FastModel:           DefaultFastModel,
			Workspace:           wd,
			MaxIterations:       DefaultMaxIterations,
			TimeoutSeconds:      DefaultTimeoutSeconds,
			ContextWindow:       DefaultContextWindow,
			RestrictToWorkspace: true,
			MaxSubagentDepth:    3,
		},
		Tools: ToolsConfig{
			RequireConfirmation: true,
			SandboxMode:         false,
		},
		Artifacts: ArtifactsConfig{Folders: append([]string(nil), DefaultArtifactFolders...)},
		Serve:     ServeConfig{Host: "127.0.0.1", Port: DefaultServePort},
		Database:  DatabaseConfig{Mode: "standalone"},
		Logging:   LoggingConfig{Level: DefaultLogLevel, Format: "text"},
	}
}

// DataDir returns ~/.tatty, creating nothing.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tatty"
	}
	return filepath.Join(home, ".tatty")
}

// ExpandHome replaces a leading ~ or ~/ with the user's home directory.
// Paths without the prefix come back unchanged.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// DefaultConfigPath returns ~/.tatty/config.json5.
func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "config.json5")
}

// SessionsDir resolves the configured session storage directory.
func (c *Config) SessionsDir() string {
	if c.Sessions.Storage != "" {
		return c.Sessions.Storage
	}
	return filepath.Join(DataDir(), "sessions")
}

// CronStorePath resolves the cron job persistence file.
func (c *Config) CronStorePath() string {
	if c.Cron.StorePath != "" {
		return c.Cron.StorePath
	}
	return filepath.Join(DataDir(), "cron.json")
}

// MemoryDBPath resolves the workspace memory database location.
func (c *Config) MemoryDBPath() string {
	if c.Memory.DBPath != "" {
		return c.Memory.DBPath
	}
	return filepath.Join(c.Agent.Workspace, ".tatty", "memory.db")
}

// MemoryEnabled reports whether workspace memory is on (default true).
func (c *Config) MemoryEnabled() bool {
	if c.Memory.Enabled == nil {
		return true
	}
	return *c.Memory.Enabled
}

// IsManaged reports whether Postgres-backed managed mode is active.
func (c *Config) IsManaged() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}
