package memory

import (
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// schema holds the chunk table, its FTS5 shadow, the embedding cache,
// and per-file metadata for change detection. Statements are separated
// by the ";--" marker so the FTS tokenizer options can contain
// semicolons-free commas safely.
const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT 'memory',
	start_line INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	hash TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL,
	embedding TEXT NOT NULL DEFAULT '[]',
	updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);--
CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);--
CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);--
CREATE INDEX IF NOT EXISTS idx_chunks_hash ON chunks(hash);--
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	text,
	id UNINDEXED,
	path UNINDEXED,
	source UNINDEXED,
	start_line UNINDEXED,
	end_line UNINDEXED,
	tokenize='porter unicode61'
);--
CREATE TABLE IF NOT EXISTS embedding_cache (
	hash TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	embedding TEXT NOT NULL,
	dims INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);--
CREATE TABLE IF NOT EXISTS files (
	path TEXT PRIMARY KEY,
	source TEXT NOT NULL DEFAULT 'memory',
	hash TEXT NOT NULL,
	mtime INTEGER NOT NULL DEFAULT 0,
	size INTEGER NOT NULL DEFAULT 0
);`

// SQLiteStore persists memory chunks with an FTS5 index for keyword
// search. Embeddings are stored as JSON arrays; vector scoring happens
// in process after GetAllChunks.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens or creates the database at dbPath and applies
// the schema. WAL mode keeps readers unblocked during index updates.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	for _, stmt := range strings.Split(schema, ";--") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	slog.Info("memory store opened", "path", dbPath)
	return &SQLiteStore{db: db}, nil
}

// UpsertChunk writes a chunk and refreshes its FTS row in one
// transaction.
func (s *SQLiteStore) UpsertChunk(c Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	embJSON, err := json.Marshal(c.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// The FTS table has no primary key, so replace means delete+insert.
	tx.Exec("DELETE FROM chunks_fts WHERE id = ?", c.ID)

	if _, err := tx.Exec(`INSERT OR REPLACE INTO chunks (id, path, source, start_line, end_line, hash, model, text, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%s','now'))`,
		c.ID, c.Path, c.Source, c.StartLine, c.EndLine, c.Hash, c.Model, c.Text, string(embJSON)); err != nil {
		return fmt.Errorf("upsert chunk: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO chunks_fts (text, id, path, source, start_line, end_line)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.Text, c.ID, c.Path, c.Source, c.StartLine, c.EndLine); err != nil {
		return fmt.Errorf("insert fts: %w", err)
	}
	return tx.Commit()
}

// DeleteByPath drops every chunk of one file from both tables.
func (s *SQLiteStore) DeleteByPath(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tx.Exec("DELETE FROM chunks_fts WHERE path = ?", path)
	tx.Exec("DELETE FROM chunks WHERE path = ?", path)
	return tx.Commit()
}

// SearchFTS runs a BM25-ranked keyword query, best match first. The raw
// rank is folded into a [0,1] score with 1/(1+|rank|) so it can be
// merged with cosine similarities.
func (s *SQLiteStore) SearchFTS(query string, opts SearchOptions) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.MaxResults
	if limit <= 0 {
		limit = 10
	}

	var filters strings.Builder
	args := []interface{}{query}
	if opts.Source != "" {
		filters.WriteString(" AND source = ?")
		args = append(args, opts.Source)
	}
	if opts.PathPrefix != "" {
		filters.WriteString(" AND path LIKE ?")
		args = append(args, opts.PathPrefix+"%")
	}
	args = append(args, limit)

	rows, err := s.db.Query(`SELECT id, path, source, start_line, end_line, text,
		1.0 / (1.0 + abs(rank)) as score
		FROM chunks_fts
		WHERE chunks_fts MATCH ?`+filters.String()+`
		ORDER BY rank
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var id, path, source, text string
		var startLine, endLine int
		var score float64
		if err := rows.Scan(&id, &path, &source, &startLine, &endLine, &text, &score); err != nil {
			continue
		}
		results = append(results, SearchResult{
			Path:      path,
			StartLine: startLine,
			EndLine:   endLine,
			Score:     score,
			Snippet:   truncateSnippet(text, 700),
			Source:    source,
		})
	}
	return results, nil
}

// GetAllChunks loads every chunk with its embedding, for in-process
// vector scoring.
func (s *SQLiteStore) GetAllChunks() ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT id, path, source, start_line, end_line, hash, model, text, embedding FROM chunks")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var embJSON string
		if err := rows.Scan(&c.ID, &c.Path, &c.Source, &c.StartLine, &c.EndLine, &c.Hash, &c.Model, &c.Text, &embJSON); err != nil {
			continue
		}
		json.Unmarshal([]byte(embJSON), &c.Embedding)
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// GetChunksByPath lists one file's chunks in line order. Embeddings are
// skipped; callers on this path only need the text.
func (s *SQLiteStore) GetChunksByPath(path string) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT id, path, source, start_line, end_line, hash, model, text FROM chunks WHERE path = ? ORDER BY start_line", path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.Path, &c.Source, &c.StartLine, &c.EndLine, &c.Hash, &c.Model, &c.Text); err != nil {
			continue
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// GetCachedEmbedding looks up a previously computed embedding by
// content hash. The provider and model are part of the key since
// vectors from different models are not comparable.
func (s *SQLiteStore) GetCachedEmbedding(contentHash, provider, model string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var embJSON string
	err := s.db.QueryRow("SELECT embedding FROM embedding_cache WHERE hash = ? AND provider = ? AND model = ?",
		contentHash, provider, model).Scan(&embJSON)
	if err != nil {
		return nil, false
	}
	var emb []float32
	if err := json.Unmarshal([]byte(embJSON), &emb); err != nil {
		return nil, false
	}
	return emb, true
}

// CacheEmbedding records a computed embedding for reuse.
func (s *SQLiteStore) CacheEmbedding(contentHash, provider, model string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	embJSON, _ := json.Marshal(embedding)
	_, err := s.db.Exec(`INSERT OR REPLACE INTO embedding_cache (hash, provider, model, embedding, dims, updated_at)
		VALUES (?, ?, ?, ?, ?, strftime('%s','now'))`,
		contentHash, provider, model, string(embJSON), len(embedding))
	return err
}

// GetFileHash returns the hash recorded for path at last index time.
func (s *SQLiteStore) GetFileHash(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hash string
	if err := s.db.QueryRow("SELECT hash FROM files WHERE path = ?", path).Scan(&hash); err != nil {
		return "", false
	}
	return hash, true
}

// UpsertFile records file metadata so unchanged files can be skipped on
// the next index pass.
func (s *SQLiteStore) UpsertFile(path, source, hash string, mtime, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT OR REPLACE INTO files (path, source, hash, mtime, size) VALUES (?, ?, ?, ?, ?)`,
		path, source, hash, mtime, size)
	return err
}

// DeleteFile forgets a file's metadata.
func (s *SQLiteStore) DeleteFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM files WHERE path = ?", path)
	return err
}

// ChunkCount reports how many chunks are indexed.
func (s *SQLiteStore) ChunkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	s.db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&count)
	return count
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ContentHash fingerprints text for embedding dedup; 128 bits of
// SHA-256 is plenty for cache keys.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h[:16])
}

func truncateSnippet(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
