package sessions

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/tatty/internal/providers"
	"github.com/nextlevelbuilder/tatty/internal/store"
)

// Info summarizes one persisted session.
type Info struct {
	Key          string    `json:"key"`
	AgentID      string    `json:"agentId,omitempty"`
	MessageCount int       `json:"messageCount"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// session is the on-disk and in-memory state for one key.
type session struct {
	Key                   string              `json:"key"`
	Messages              []providers.Message `json:"messages"`
	Summary               string              `json:"summary,omitempty"`
	Todos                 []store.TodoItem    `json:"todos,omitempty"`
	Plan                  string              `json:"plan,omitempty"`
	CompactionCount       int                 `json:"compactionCount,omitempty"`
	MemoryFlushCompaction int                 `json:"memoryFlushCompaction"` // -1 = never flushed
	Created               time.Time           `json:"created"`
	Updated               time.Time           `json:"updated"`
}

// Manager loads, mutates and persists sessions. All mutations are
// written through to disk immediately; Save exists for callers that
// mutate history in bulk.
type Manager struct {
	dir      string
	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager creates a session manager rooted at dir. The directory is
// created on first write.
func NewManager(dir string) *Manager {
	return &Manager{
		dir:      dir,
		sessions: make(map[string]*session),
	}
}

// Dir returns the storage directory.
func (m *Manager) Dir() string { return m.dir }

// GetHistory returns a copy of the message history for a session.
func (m *Manager) GetHistory(key string) []providers.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.loadLocked(key)
	out := make([]providers.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// SetHistory replaces the message history (used by compaction and pruning).
func (m *Manager) SetHistory(key string, msgs []providers.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.loadLocked(key)
	s.Messages = make([]providers.Message, len(msgs))
	copy(s.Messages, msgs)
	s.Updated = time.Now().UTC()
	m.saveLocked(s)
}

// AddMessage appends one message to a session's history.
func (m *Manager) AddMessage(key string, msg providers.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.loadLocked(key)
	s.Messages = append(s.Messages, msg)
	s.Updated = time.Now().UTC()
	m.saveLocked(s)
}

// GetSummary returns the compaction summary for a session.
func (m *Manager) GetSummary(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(key).Summary
}

// SetSummary stores the compaction summary and bumps the compaction count.
func (m *Manager) SetSummary(key, summary string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.loadLocked(key)
	s.Summary = summary
	s.CompactionCount++
	s.Updated = time.Now().UTC()
	m.saveLocked(s)
}

// GetCompactionCount returns how many times the session was compacted.
func (m *Manager) GetCompactionCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(key).CompactionCount
}

// GetMemoryFlushCompactionCount returns the compaction count at the
// last memory flush, or -1 if the session never flushed.
func (m *Manager) GetMemoryFlushCompactionCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(key).MemoryFlushCompaction
}

// SetMemoryFlushDone records that a memory flush ran in the current
// compaction cycle.
func (m *Manager) SetMemoryFlushDone(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.loadLocked(key)
	s.MemoryFlushCompaction = s.CompactionCount
	m.saveLocked(s)
}

// GetTodos returns a copy of the session's todo list.
func (m *Manager) GetTodos(key string) []store.TodoItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.loadLocked(key)
	out := make([]store.TodoItem, len(s.Todos))
	copy(out, s.Todos)
	return out
}

// SetTodos replaces the session's todo list.
func (m *Manager) SetTodos(key string, todos []store.TodoItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.loadLocked(key)
	s.Todos = make([]store.TodoItem, len(todos))
	copy(s.Todos, todos)
	s.Updated = time.Now().UTC()
	m.saveLocked(s)
}

// GetPlan returns the recorded execution plan, if any.
func (m *Manager) GetPlan(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(key).Plan
}

// SetPlan stores the execution plan.
func (m *Manager) SetPlan(key, plan string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.loadLocked(key)
	s.Plan = plan
	s.Updated = time.Now().UTC()
	m.saveLocked(s)
}

// Save persists a session to disk.
func (m *Manager) Save(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveLocked(m.loadLocked(key))
}

// Reset clears a session's history and summary but keeps the session.
func (m *Manager) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.loadLocked(key)
	s.Messages = nil
	s.Summary = ""
	s.Todos = nil
	s.Plan = ""
	s.CompactionCount = 0
	s.MemoryFlushCompaction = -1
	s.Updated = time.Now().UTC()
	m.saveLocked(s)
}

// Delete removes a session from memory and disk.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
	err := os.Remove(m.pathFor(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// List returns summaries of all persisted sessions, newest first.
// agentFilter restricts results to one agent when non-empty.
func (m *Manager) List(agentFilter string) []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		s, err := m.readFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			slog.Warn("sessions: skipping unreadable file", "file", e.Name(), "error", err)
			continue
		}
		agentID := AgentFromKey(s.Key)
		if agentFilter != "" && agentID != agentFilter {
			continue
		}
		infos = append(infos, Info{
			Key:          s.Key,
			AgentID:      agentID,
			MessageCount: len(s.Messages),
			Created:      s.Created,
			Updated:      s.Updated,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Updated.After(infos[j].Updated) })
	return infos
}

// --- Internal ---

func (m *Manager) loadLocked(key string) *session {
	if s, ok := m.sessions[key]; ok {
		return s
	}
	if s, err := m.readFile(m.pathFor(key)); err == nil && s.Key == key {
		m.sessions[key] = s
		return s
	}
	now := time.Now().UTC()
	s := &session{
		Key:                   key,
		MemoryFlushCompaction: -1,
		Created:               now,
		Updated:               now,
	}
	m.sessions[key] = s
	return s
}

func (m *Manager) readFile(path string) (*session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := &session{MemoryFlushCompaction: -1}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) saveLocked(s *session) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		slog.Error("sessions: create dir failed", "dir", m.dir, "error", err)
		return
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		slog.Error("sessions: marshal failed", "key", s.Key, "error", err)
		return
	}
	if err := os.WriteFile(m.pathFor(s.Key), data, 0o600); err != nil {
		slog.Error("sessions: write failed", "key", s.Key, "error", err)
	}
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func (m *Manager) pathFor(key string) string {
	name := unsafeKeyChars.ReplaceAllString(key, "_")
	return filepath.Join(m.dir, name+".json")
}
