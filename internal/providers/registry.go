package providers

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// Registry holds constructed providers by name. NewRegistry seeds it from
// environment credentials; config-driven setup replaces entries via Put.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns a registry with every provider whose credentials are
// present in the environment.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]Provider)}

	if key := firstEnv("TATTY_OPENAI_API_KEY", "OPENAI_API_KEY"); key != "" {
		r.Put(NewOpenAIProvider("openai", key, os.Getenv("TATTY_OPENAI_API_BASE"), ""))
	}
	if key := firstEnv("TATTY_BOUNDARY_API_KEY", "BOUNDARY_API_KEY"); key != "" {
		r.Put(NewBoundaryProvider(key, os.Getenv("TATTY_BOUNDARY_API_BASE"), ""))
	}
	if key := firstEnv("TATTY_GEMINI_API_KEY", "GEMINI_API_KEY"); key != "" {
		r.Put(NewOpenAIProvider("gemini", key, geminiCompatBase, "gemini-2.0-flash"))
	}
	return r
}

// Google's OpenAI-compatible surface for Gemini models. Schema cleaning in
// CleanToolSchemas handles the keywords this backend rejects.
const geminiCompatBase = "https://generativelanguage.googleapis.com/v1beta/openai"

// Put adds or replaces a provider under its own name.
func (r *Registry) Put(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not configured: %s", name)
	}
	return p, nil
}

// List returns configured provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
