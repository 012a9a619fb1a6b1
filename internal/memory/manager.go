package memory

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// EmbeddingProvider generates vector embeddings for text.
type EmbeddingProvider interface {
	Name() string
	Model() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ManagerConfig configures the memory manager.
type ManagerConfig struct {
	// Workspace is the agent workspace root. MEMORY.md and memory/*.md
	// under it are indexed.
	Workspace string
	// DBPath is the SQLite database location.
	DBPath string
	// MaxChunkLen caps chunk size in characters.
	MaxChunkLen int
	// Hybrid controls FTS/vector score weighting.
	Hybrid HybridSearchConfig
}

// DefaultManagerConfig returns the standard config for a workspace:
// database under <workspace>/.tatty/memory.db, 1000-char chunks.
func DefaultManagerConfig(workspace string) ManagerConfig {
	return ManagerConfig{
		Workspace:   workspace,
		DBPath:      filepath.Join(workspace, ".tatty", "memory.db"),
		MaxChunkLen: 1000,
		Hybrid:      DefaultHybridConfig(),
	}
}

// Manager indexes memory files and serves search queries.
type Manager struct {
	cfg      ManagerConfig
	store    *SQLiteStore
	mu       sync.RWMutex
	embedder EmbeddingProvider
}

// NewManager opens the memory database and returns a manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.MaxChunkLen <= 0 {
		cfg.MaxChunkLen = 1000
	}
	if cfg.Hybrid.VectorWeight == 0 && cfg.Hybrid.TextWeight == 0 {
		cfg.Hybrid = DefaultHybridConfig()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	store, err := NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg, store: store}, nil
}

// SetEmbeddingProvider enables vector search. Chunks indexed afterwards
// are embedded; already-indexed chunks pick up embeddings on re-index.
func (m *Manager) SetEmbeddingProvider(p EmbeddingProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedder = p
}

// Workspace returns the workspace root this manager indexes.
func (m *Manager) Workspace() string { return m.cfg.Workspace }

func (m *Manager) embedderLocked() EmbeddingProvider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.embedder
}

// Search runs a hybrid (FTS + vector) search over indexed memory.
func (m *Manager) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	return HybridSearch(ctx, m.store, m.embedderLocked(), query, opts, m.cfg.Hybrid)
}

// GetFile reads a memory file, optionally returning only a line range.
// path may be relative to the workspace. startLine is 1-based;
// numLines 0 (with startLine 0) means the whole file.
func (m *Manager) GetFile(path string, startLine, numLines int) (string, error) {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(m.cfg.Workspace, path)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read memory file: %w", err)
	}
	text := string(data)

	if startLine <= 0 && numLines <= 0 {
		return text, nil
	}

	lines := strings.Split(text, "\n")
	if startLine < 1 {
		startLine = 1
	}
	if startLine > len(lines) {
		return "", nil
	}
	end := len(lines)
	if numLines > 0 && startLine-1+numLines < end {
		end = startLine - 1 + numLines
	}
	return strings.Join(lines[startLine-1:end], "\n"), nil
}

// IndexFile (re)indexes a single memory file. Unchanged files are
// skipped via content hash comparison.
func (m *Manager) IndexFile(ctx context.Context, path string) error {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(m.cfg.Workspace, path)
	}
	rel, err := filepath.Rel(m.cfg.Workspace, abs)
	if err != nil {
		rel = path
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			// File removed: drop its chunks
			m.store.DeleteByPath(rel)
			m.store.DeleteFile(rel)
			return nil
		}
		return err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return err
	}
	hash := ContentHash(string(data))

	if stored, ok := m.store.GetFileHash(rel); ok && stored == hash {
		return nil // unchanged
	}

	chunks := ChunkText(string(data), m.cfg.MaxChunkLen)

	embeddings := m.embedChunks(ctx, chunks)

	if err := m.store.DeleteByPath(rel); err != nil {
		return err
	}
	for i, tc := range chunks {
		c := Chunk{
			ID:        fmt.Sprintf("%s#%d", rel, i),
			Path:      rel,
			Source:    "memory",
			StartLine: tc.StartLine,
			EndLine:   tc.EndLine,
			Hash:      ContentHash(tc.Text),
			Text:      tc.Text,
		}
		if embeddings != nil {
			c.Embedding = embeddings[i]
			if p := m.embedderLocked(); p != nil {
				c.Model = p.Model()
			}
		}
		if err := m.store.UpsertChunk(c); err != nil {
			return err
		}
	}

	if err := m.store.UpsertFile(rel, "memory", hash, info.ModTime().Unix(), info.Size()); err != nil {
		return err
	}

	slog.Debug("memory indexed", "path", rel, "chunks", len(chunks))
	return nil
}

// IndexAll walks MEMORY.md and memory/**/*.md under the workspace and
// indexes everything that changed.
func (m *Manager) IndexAll(ctx context.Context) error {
	var firstErr error
	for _, path := range m.discoverFiles() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.IndexFile(ctx, path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ChunkCount returns the number of indexed chunks.
func (m *Manager) ChunkCount() int { return m.store.ChunkCount() }

// Close closes the underlying database.
func (m *Manager) Close() error { return m.store.Close() }

// --- Internal ---

// embedChunks returns one embedding per chunk, or nil when no provider
// is configured or embedding fails (search degrades to FTS-only).
func (m *Manager) embedChunks(ctx context.Context, chunks []TextChunk) [][]float32 {
	provider := m.embedderLocked()
	if provider == nil || len(chunks) == 0 {
		return nil
	}

	out := make([][]float32, len(chunks))
	var missing []int
	var texts []string
	for i, tc := range chunks {
		hash := ContentHash(tc.Text)
		if emb, ok := m.store.GetCachedEmbedding(hash, provider.Name(), provider.Model()); ok {
			out[i] = emb
			continue
		}
		missing = append(missing, i)
		texts = append(texts, tc.Text)
	}

	if len(missing) > 0 {
		embs, err := provider.Embed(ctx, texts)
		if err != nil || len(embs) != len(missing) {
			slog.Warn("memory: embedding failed, indexing without vectors", "error", err)
			return nil
		}
		for j, i := range missing {
			out[i] = embs[j]
			m.store.CacheEmbedding(ContentHash(chunks[i].Text), provider.Name(), provider.Model(), embs[j])
		}
	}
	return out
}

func (m *Manager) discoverFiles() []string {
	var files []string

	if _, err := os.Stat(filepath.Join(m.cfg.Workspace, "MEMORY.md")); err == nil {
		files = append(files, "MEMORY.md")
	}

	memDir := filepath.Join(m.cfg.Workspace, "memory")
	filepath.WalkDir(memDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			if rel, err := filepath.Rel(m.cfg.Workspace, path); err == nil {
				files = append(files, rel)
			}
		}
		return nil
	})

	return files
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched or zero-length vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
