package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Load reads the config file at path, overlays TATTY_* environment
// variables and keyring secrets, and normalizes the result. A missing
// file is not an error: the defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(cfg)
	fillFromKeyring(cfg)

	for _, warn := range cfg.Validate() {
		slog.Warn("config normalized", "issue", warn)
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON (valid JSON5). Provider and
// search API keys are stripped first; secrets live in the keyring or
// the environment, never on disk.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	clean := *cfg
	clean.Providers.OpenAI.APIKey = ""
	clean.Providers.Boundary.APIKey = ""
	clean.Providers.Gemini.APIKey = ""
	clean.Providers.Custom.APIKey = ""
	clean.Tools.Web.Brave.APIKey = ""

	data, err := json.MarshalIndent(&clean, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// LoadDotenv reads KEY=VALUE pairs from dir/.env into the process
// environment. Variables already set keep their values. Missing files
// are ignored.
func LoadDotenv(dir string) {
	data, err := os.ReadFile(filepath.Join(dir, ".env"))
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
}

// applyEnv overlays environment variables onto cfg. TATTY_-prefixed
// names win over the bare standard names.
func applyEnv(cfg *Config) {
	setStr := func(dst *string, names ...string) {
		for _, n := range names {
			if v := os.Getenv(n); v != "" {
				*dst = v
				return
			}
		}
	}
	setInt := func(dst *int, names ...string) {
		for _, n := range names {
			if v := os.Getenv(n); v != "" {
				if i, err := strconv.Atoi(v); err == nil {
					*dst = i
				}
				return
			}
		}
	}
	setBool := func(dst *bool, names ...string) {
		for _, n := range names {
			if v := os.Getenv(n); v != "" {
				*dst = envTruthy(v)
				return
			}
		}
	}

	setStr(&cfg.Providers.OpenAI.APIKey, "TATTY_OPENAI_API_KEY", "OPENAI_API_KEY")
	setStr(&cfg.Providers.OpenAI.APIBase, "TATTY_OPENAI_API_BASE", "OPENAI_API_BASE", "OPENAI_BASE_URL")
	setStr(&cfg.Providers.Boundary.APIKey, "TATTY_BOUNDARY_API_KEY", "BOUNDARY_API_KEY")
	setStr(&cfg.Providers.Gemini.APIKey, "TATTY_GEMINI_API_KEY", "GEMINI_API_KEY")
	setStr(&cfg.Providers.Custom.APIKey, "TATTY_CUSTOM_API_KEY")
	setStr(&cfg.Providers.Custom.APIBase, "TATTY_CUSTOM_API_BASE")
	setStr(&cfg.Providers.Custom.Model, "TATTY_CUSTOM_MODEL")
	setStr(&cfg.Tools.Web.Brave.APIKey, "TATTY_BRAVE_API_KEY", "BRAVE_API_KEY")
	if cfg.Tools.Web.Brave.APIKey != "" {
		cfg.Tools.Web.Brave.Enabled = true
	}

	setStr(&cfg.Agent.Provider, "TATTY_PROVIDER")
	setStr(&cfg.Agent.Model, "TATTY_DEFAULT_MODEL", "TATTY_MODEL")
	setStr(&cfg.Agent.FastModel, "TATTY_FAST_MODEL")
	setStr(&cfg.Agent.Workspace, "TATTY_WORKING_DIR", "TATTY_WORKSPACE")
	setInt(&cfg.Agent.MaxIterations, "TATTY_MAX_ITERATIONS")
	setInt(&cfg.Agent.TimeoutSeconds, "TATTY_TIMEOUT")
	setInt(&cfg.Agent.ContextWindow, "TATTY_CONTEXT_WINDOW")
	setBool(&cfg.Agent.RestrictToWorkspace, "TATTY_RESTRICT_TO_WORKSPACE")

	if v := os.Getenv("TATTY_ENABLE_WEB_TOOLS"); v != "" {
		cfg.Tools.Web.Enabled = boolPtr(envTruthy(v))
	}
	if v := os.Getenv("TATTY_ENABLE_GIT_TOOLS"); v != "" {
		cfg.Tools.Git.Enabled = boolPtr(envTruthy(v))
	}
	if v := os.Getenv("TATTY_ENABLE_PACKAGE_INSTALL"); v != "" {
		cfg.Tools.Packages.Enabled = boolPtr(envTruthy(v))
	}
	setBool(&cfg.Tools.RequireConfirmation, "TATTY_REQUIRE_CONFIRMATION")
	setBool(&cfg.Tools.SandboxMode, "TATTY_SANDBOX_MODE")
	setStr(&cfg.Tools.CustomToolsDir, "TATTY_CUSTOM_TOOLS_DIR")
	setStr(&cfg.Tools.Web.Cache.RedisAddr, "TATTY_REDIS_ADDR")

	setStr(&cfg.Logging.Level, "TATTY_LOG_LEVEL")
	if envTruthy(os.Getenv("TATTY_DEBUG")) || envTruthy(os.Getenv("TATTY_VERBOSE")) {
		cfg.Logging.Level = "debug"
	}

	setStr(&cfg.Database.PostgresDSN, "TATTY_POSTGRES_DSN", "DATABASE_URL")
	if cfg.Database.PostgresDSN != "" && os.Getenv("TATTY_DB_MODE") == "" {
		cfg.Database.Mode = "managed"
	}
	setStr(&cfg.Database.Mode, "TATTY_DB_MODE")

	setStr(&cfg.Serve.Token, "TATTY_SERVE_TOKEN")
	setStr(&cfg.Serve.Host, "TATTY_SERVE_HOST")
	setInt(&cfg.Serve.Port, "TATTY_SERVE_PORT")

	setBool(&cfg.Tracing.Enabled, "TATTY_TRACING_ENABLED")
	setStr(&cfg.Tracing.OTLPEndpoint, "TATTY_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")

	setStr(&cfg.Artifacts.S3.Bucket, "TATTY_ARTIFACTS_BUCKET")
	setStr(&cfg.Artifacts.S3.Region, "TATTY_ARTIFACTS_REGION", "AWS_REGION")
}

// fillFromKeyring resolves API keys still empty after file and env.
func fillFromKeyring(cfg *Config) {
	fill := func(dst *string, name string) {
		if *dst != "" {
			return
		}
		if v, err := GetSecret(name); err == nil && v != "" {
			*dst = v
		}
	}
	fill(&cfg.Providers.OpenAI.APIKey, "openai")
	fill(&cfg.Providers.Boundary.APIKey, "boundary")
	fill(&cfg.Providers.Gemini.APIKey, "gemini")
	fill(&cfg.Tools.Web.Brave.APIKey, "brave")
}

// Validate normalizes out-of-range values in place and returns a
// human-readable warning per adjustment.
func (c *Config) Validate() []string {
	var warns []string

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
		c.Logging.Level = strings.ToLower(c.Logging.Level)
	case "":
		c.Logging.Level = DefaultLogLevel
	default:
		warns = append(warns, fmt.Sprintf("unknown log level %q, using %q", c.Logging.Level, DefaultLogLevel))
		c.Logging.Level = DefaultLogLevel
	}

	if c.Logging.Format != "json" {
		c.Logging.Format = "text"
	}

	if strings.TrimSpace(c.Agent.Model) == "" {
		warns = append(warns, fmt.Sprintf("model not set, using %q", DefaultModel))
		c.Agent.Model = DefaultModel
	}
	if c.Agent.Provider == "" {
		c.Agent.Provider = DefaultProvider
	}
	if c.Agent.MaxIterations <= 0 {
		warns = append(warns, fmt.Sprintf("max_iterations must be positive, using %d", DefaultMaxIterations))
		c.Agent.MaxIterations = DefaultMaxIterations
	}
	if c.Agent.TimeoutSeconds <= 0 {
		warns = append(warns, fmt.Sprintf("timeout_seconds must be positive, using %d", DefaultTimeoutSeconds))
		c.Agent.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Agent.ContextWindow <= 0 {
		c.Agent.ContextWindow = DefaultContextWindow
	}
	if c.Agent.MaxSubagentDepth <= 0 {
		c.Agent.MaxSubagentDepth = 3
	}
	if c.Agent.Workspace == "" {
		wd, err := os.Getwd()
		if err == nil {
			c.Agent.Workspace = wd
		}
	}
	if abs, err := filepath.Abs(c.Agent.Workspace); err == nil {
		c.Agent.Workspace = abs
	}

	if c.Serve.Port <= 0 || c.Serve.Port > 65535 {
		if c.Serve.Port != 0 {
			warns = append(warns, fmt.Sprintf("serve port %d out of range, using %d", c.Serve.Port, DefaultServePort))
		}
		c.Serve.Port = DefaultServePort
	}
	if c.Serve.Host == "" {
		c.Serve.Host = "127.0.0.1"
	}

	if c.Database.Mode != "managed" {
		c.Database.Mode = "standalone"
	}
	if c.Database.Mode == "managed" && c.Database.PostgresDSN == "" {
		warns = append(warns, "managed mode requires postgres_dsn, falling back to standalone")
		c.Database.Mode = "standalone"
	}

	if len(c.Artifacts.Folders) == 0 {
		c.Artifacts.Folders = append([]string(nil), DefaultArtifactFolders...)
	}

	for i := range c.Tools.Policy {
		a := strings.ToLower(c.Tools.Policy[i].Action)
		switch a {
		case "allow", "deny", "confirm":
			c.Tools.Policy[i].Action = a
		default:
			warns = append(warns, fmt.Sprintf("policy rule %q: unknown action %q, treating as deny", c.Tools.Policy[i].Name, c.Tools.Policy[i].Action))
			c.Tools.Policy[i].Action = "deny"
		}
	}

	return warns
}

func envTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func boolPtr(b bool) *bool { return &b }
