package providers

import (
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/tatty/internal/config"
)

// FromConfig builds the provider named by cfg.Agent.Provider. Gemini and
// custom providers ride the OpenAI-compatible transport.
func FromConfig(cfg *config.Config) (Provider, error) {
	name := strings.ToLower(cfg.Agent.Provider)
	var p *OpenAIProvider
	switch name {
	case "", "openai":
		creds := cfg.Providers.OpenAI
		if creds.APIKey == "" {
			return nil, fmt.Errorf("no OpenAI API key; set OPENAI_API_KEY or run tatty init")
		}
		p = NewOpenAIProvider("openai", creds.APIKey, creds.APIBase, cfg.Agent.Model)
	case "boundary":
		creds := cfg.Providers.Boundary
		if creds.APIKey == "" {
			return nil, fmt.Errorf("no Boundary API key; set BOUNDARY_API_KEY")
		}
		bp := NewBoundaryProvider(creds.APIKey, creds.APIBase, cfg.Agent.Model)
		applyLimits(bp.OpenAIProvider, cfg)
		return bp, nil
	case "gemini":
		creds := cfg.Providers.Gemini
		if creds.APIKey == "" {
			return nil, fmt.Errorf("no Gemini API key; set GEMINI_API_KEY")
		}
		base := creds.APIBase
		if base == "" {
			base = geminiCompatBase
		}
		p = NewOpenAIProvider("gemini", creds.APIKey, base, cfg.Agent.Model)
	case "custom":
		custom := cfg.Providers.Custom
		if custom.APIBase == "" {
			return nil, fmt.Errorf("custom provider needs providers.custom.api_base")
		}
		model := cfg.Agent.Model
		if model == "" {
			model = custom.Model
		}
		p = NewOpenAIProvider("custom", custom.APIKey, custom.APIBase, model)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Agent.Provider)
	}
	applyLimits(p, cfg)
	return p, nil
}

func applyLimits(p *OpenAIProvider, cfg *config.Config) {
	if cfg.Agent.TimeoutSeconds > 0 {
		p.SetTimeout(time.Duration(cfg.Agent.TimeoutSeconds) * time.Second)
	}
	if cfg.Providers.RequestsPerMinute > 0 {
		p.SetRateLimit(cfg.Providers.RequestsPerMinute)
	}
}
