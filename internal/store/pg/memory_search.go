package pg

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/tatty/internal/store"
)

// personalBoost favors a user's own chunks over global ones when both
// match.
const personalBoost = 1.2

// Search runs hybrid retrieval over memory_chunks: Postgres full-text
// search plus pgvector cosine similarity, merged by weighted score.
// Global chunks (user_id IS NULL) and the caller's own chunks are both
// in scope. When FTS finds nothing, a keyword ILIKE pass fills in so
// cross-language queries still surface something.
func (s *PGMemoryStore) Search(ctx context.Context, query string, agentID, userID string, opts store.MemorySearchOptions) ([]store.MemorySearchResult, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = s.cfg.MaxResults
	}

	aid := mustParseUUID(agentID)
	fetchN := maxResults * 2

	textHits, err := s.ftsSearch(ctx, query, aid, userID, fetchN)
	if err != nil {
		return nil, err
	}
	if len(textHits) == 0 {
		textHits, _ = s.likeSearch(ctx, query, aid, userID, fetchN)
	}

	var vecHits []scoredChunk
	if s.provider != nil {
		if embeddings, err := s.provider.Embed(ctx, []string{query}); err == nil && len(embeddings) > 0 {
			vecHits, _ = s.vectorSearch(ctx, embeddings[0], aid, userID, fetchN)
		}
	}

	// A channel that found nothing should not drag the other's scores
	// down, so shift its weight over.
	textW, vecW := s.cfg.TextWeight, s.cfg.VectorWeight
	switch {
	case len(textHits) == 0 && len(vecHits) > 0:
		textW, vecW = 0, 1.0
	case len(vecHits) == 0 && len(textHits) > 0:
		textW, vecW = 1.0, 0
	}

	var out []store.MemorySearchResult
	for _, m := range hybridMerge(textHits, vecHits, textW, vecW) {
		if opts.MinScore > 0 && m.Score < opts.MinScore {
			continue
		}
		if opts.PathPrefix != "" && len(m.Path) < len(opts.PathPrefix) {
			continue
		}
		out = append(out, m)
		if len(out) >= maxResults {
			break
		}
	}
	return out, nil
}

type scoredChunk struct {
	Path      string
	StartLine int
	EndLine   int
	Text      string
	Score     float64
	UserID    *string
}

// userFilter appends the visibility clause: global rows always, plus
// the caller's own rows when a user is known. Returns the updated args.
func userFilter(q string, args []interface{}, userID string) (string, []interface{}) {
	if userID == "" {
		return q + " AND user_id IS NULL", args
	}
	args = append(args, userID)
	return q + fmt.Sprintf(" AND (user_id IS NULL OR user_id = $%d)", len(args)), args
}

func (s *PGMemoryStore) scanChunks(ctx context.Context, q string, args ...interface{}) ([]scoredChunk, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []scoredChunk
	for rows.Next() {
		var c scoredChunk
		if err := rows.Scan(&c.Path, &c.StartLine, &c.EndLine, &c.Text, &c.UserID, &c.Score); err != nil {
			continue
		}
		hits = append(hits, c)
	}
	return hits, nil
}

func (s *PGMemoryStore) ftsSearch(ctx context.Context, query string, agentID interface{}, userID string, limit int) ([]scoredChunk, error) {
	q := `SELECT path, start_line, end_line, text, user_id,
			ts_rank(tsv, plainto_tsquery('simple', $1)) AS score
		FROM memory_chunks
		WHERE agent_id = $2 AND tsv @@ plainto_tsquery('simple', $1)`
	args := []interface{}{query, agentID}
	q, args = userFilter(q, args, userID)
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY score DESC LIMIT $%d", len(args))

	return s.scanChunks(ctx, q, args...)
}

func (s *PGMemoryStore) vectorSearch(ctx context.Context, embedding []float32, agentID interface{}, userID string, limit int) ([]scoredChunk, error) {
	q := `SELECT path, start_line, end_line, text, user_id,
			1 - (embedding <=> $1::vector) AS score
		FROM memory_chunks
		WHERE agent_id = $2 AND embedding IS NOT NULL`
	args := []interface{}{vectorToString(embedding), agentID}
	q, args = userFilter(q, args, userID)
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY embedding <=> $1::vector LIMIT $%d", len(args))

	return s.scanChunks(ctx, q, args...)
}

// likeSearch matches the query's keywords with ILIKE. Used only when
// FTS comes up empty, e.g. the query language does not stem. The scan
// stays bounded by the agent_id index and a cap of five keywords.
func (s *PGMemoryStore) likeSearch(ctx context.Context, query string, agentID interface{}, userID string, limit int) ([]scoredChunk, error) {
	const maxKeywords = 5
	const minKeywordLen = 3

	var words []string
	for _, w := range strings.Fields(query) {
		if len(w) >= minKeywordLen {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return nil, nil
	}
	// Longer keywords are more selective; try those first.
	sort.Slice(words, func(i, j int) bool { return len(words[i]) > len(words[j]) })
	if len(words) > maxKeywords {
		words = words[:maxKeywords]
	}

	args := []interface{}{agentID}
	conds := make([]string, 0, len(words))
	for _, w := range words {
		args = append(args, "%"+w+"%")
		conds = append(conds, fmt.Sprintf("text ILIKE $%d", len(args)))
	}

	q := fmt.Sprintf(`SELECT path, start_line, end_line, text, user_id, 0.5 AS score
		FROM memory_chunks
		WHERE agent_id = $1 AND (%s)`, strings.Join(conds, " OR "))
	q, args = userFilter(q, args, userID)
	args = append(args, limit)
	q += fmt.Sprintf(" LIMIT $%d", len(args))

	return s.scanChunks(ctx, q, args...)
}

// hybridMerge folds both result channels into one ranked list. Chunks
// found by both channels sum their weighted scores; when a global and a
// personal copy of the same chunk collide, the personal one wins.
func hybridMerge(text, vec []scoredChunk, textWeight, vectorWeight float64) []store.MemorySearchResult {
	type key struct {
		path string
		line int
	}
	merged := make(map[key]*store.MemorySearchResult)

	fold := func(hits []scoredChunk, weight float64) {
		for _, c := range hits {
			scope := "global"
			boost := 1.0
			if c.UserID != nil && *c.UserID != "" {
				scope = "personal"
				boost = personalBoost
			}
			score := c.Score * weight * boost

			k := key{c.Path, c.StartLine}
			if prev, ok := merged[k]; ok {
				prev.Score += score
				if scope == "personal" {
					prev.Scope = "personal"
					prev.Snippet = c.Text
				}
				continue
			}
			merged[k] = &store.MemorySearchResult{
				Path:      c.Path,
				StartLine: c.StartLine,
				EndLine:   c.EndLine,
				Score:     score,
				Snippet:   c.Text,
				Source:    "memory",
				Scope:     scope,
			}
		}
	}
	fold(text, textWeight)
	fold(vec, vectorWeight)

	out := make([]store.MemorySearchResult, 0, len(merged))
	for _, r := range merged {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
