package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("TATTY_DEFAULT_MODEL", "")
	t.Setenv("TATTY_MAX_ITERATIONS", "")
	t.Setenv("TATTY_PROVIDER", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Model != DefaultModel {
		t.Errorf("model = %q, want %q", cfg.Agent.Model, DefaultModel)
	}
	if cfg.Agent.MaxIterations != DefaultMaxIterations {
		t.Errorf("max_iterations = %d, want %d", cfg.Agent.MaxIterations, DefaultMaxIterations)
	}
	if cfg.Agent.Provider != DefaultProvider {
		t.Errorf("provider = %q, want %q", cfg.Agent.Provider, DefaultProvider)
	}
}

func TestLoadParsesJSON5(t *testing.T) {
	t.Setenv("TATTY_DEFAULT_MODEL", "")
	t.Setenv("TATTY_TIMEOUT", "")

	path := filepath.Join(t.TempDir(), "config.json5")
	content := `{
  // comments and trailing commas are allowed
  agent: {
    model: "gpt-4-turbo",
    timeout_seconds: 300,
  },
  tools: {
    sandbox_mode: true,
  },
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Model != "gpt-4-turbo" {
		t.Errorf("model = %q, want gpt-4-turbo", cfg.Agent.Model)
	}
	if cfg.Agent.TimeoutSeconds != 300 {
		t.Errorf("timeout = %d, want 300", cfg.Agent.TimeoutSeconds)
	}
	if !cfg.Tools.SandboxMode {
		t.Error("sandbox_mode not applied")
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte("{agent: "), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(`{agent: {model: "from-file"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TATTY_DEFAULT_MODEL", "from-env")
	t.Setenv("TATTY_MAX_ITERATIONS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Model != "from-env" {
		t.Errorf("model = %q, want from-env", cfg.Agent.Model)
	}
	if cfg.Agent.MaxIterations != 7 {
		t.Errorf("max_iterations = %d, want 7", cfg.Agent.MaxIterations)
	}
}

func TestTattyPrefixWinsOverBareName(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "bare")
	t.Setenv("TATTY_OPENAI_API_KEY", "prefixed")

	cfg := Default()
	applyEnv(cfg)
	if cfg.Providers.OpenAI.APIKey != "prefixed" {
		t.Errorf("api key = %q, want prefixed", cfg.Providers.OpenAI.APIKey)
	}
}

func TestValidateNormalizesBadValues(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "loud"
	cfg.Agent.Model = "  "
	cfg.Agent.MaxIterations = -1
	cfg.Agent.TimeoutSeconds = 0

	warns := cfg.Validate()

	if cfg.Logging.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Agent.Model != DefaultModel {
		t.Errorf("model = %q, want %q", cfg.Agent.Model, DefaultModel)
	}
	if cfg.Agent.MaxIterations != DefaultMaxIterations {
		t.Errorf("max_iterations = %d, want %d", cfg.Agent.MaxIterations, DefaultMaxIterations)
	}
	if cfg.Agent.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Errorf("timeout = %d, want %d", cfg.Agent.TimeoutSeconds, DefaultTimeoutSeconds)
	}
	if len(warns) != 4 {
		t.Errorf("got %d warnings, want 4: %v", len(warns), warns)
	}
}

func TestValidateManagedRequiresDSN(t *testing.T) {
	cfg := Default()
	cfg.Database.Mode = "managed"
	cfg.Validate()
	if cfg.Database.Mode != "standalone" {
		t.Errorf("mode = %q, want standalone fallback", cfg.Database.Mode)
	}
}

func TestSaveStripsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	cfg := Default()
	cfg.Providers.OpenAI.APIKey = "sk-secret"
	cfg.Tools.Web.Brave.APIKey = "brave-secret"
	cfg.Agent.Model = "gpt-4"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk-secret") || strings.Contains(string(data), "brave-secret") {
		t.Error("saved config contains secrets")
	}

	// Caller's copy must be untouched.
	if cfg.Providers.OpenAI.APIKey != "sk-secret" {
		t.Error("Save mutated the caller's config")
	}
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	content := "# comment\nexport NEW_KEY=hello\nQUOTED='with spaces'\nEXISTING_KEY=from-file\nbroken-line\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("EXISTING_KEY", "from-env")
	t.Setenv("NEW_KEY", "")
	os.Unsetenv("NEW_KEY")
	t.Setenv("QUOTED", "")
	os.Unsetenv("QUOTED")

	LoadDotenv(dir)

	if got := os.Getenv("NEW_KEY"); got != "hello" {
		t.Errorf("NEW_KEY = %q, want hello", got)
	}
	if got := os.Getenv("QUOTED"); got != "with spaces" {
		t.Errorf("QUOTED = %q, want unquoted value", got)
	}
	if got := os.Getenv("EXISTING_KEY"); got != "from-env" {
		t.Errorf("EXISTING_KEY = %q, existing env must win", got)
	}
}

func TestNormalizeAgentID(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "default"},
		{"  ", "default"},
		{"Research Bot!", "research-bot"},
		{"already-valid_1", "already-valid_1"},
		{"---", "default"},
	}
	for _, tc := range cases {
		if got := NormalizeAgentID(tc.in); got != tc.want {
			t.Errorf("NormalizeAgentID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
