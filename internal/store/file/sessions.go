package file

import (
	"github.com/nextlevelbuilder/tatty/internal/providers"
	"github.com/nextlevelbuilder/tatty/internal/sessions"
	"github.com/nextlevelbuilder/tatty/internal/store"
)

// FileSessionStore wraps sessions.Manager to implement store.SessionStore.
type FileSessionStore struct {
	mgr *sessions.Manager
}

func NewFileSessionStore(mgr *sessions.Manager) *FileSessionStore {
	return &FileSessionStore{mgr: mgr}
}

// Manager returns the underlying sessions.Manager for direct access.
func (f *FileSessionStore) Manager() *sessions.Manager { return f.mgr }

func (f *FileSessionStore) GetHistory(key string) []providers.Message {
	return f.mgr.GetHistory(key)
}

func (f *FileSessionStore) AddMessage(key string, msg providers.Message) {
	f.mgr.AddMessage(key, msg)
}

func (f *FileSessionStore) SetHistory(key string, msgs []providers.Message) {
	f.mgr.SetHistory(key, msgs)
}

func (f *FileSessionStore) GetSummary(key string) string { return f.mgr.GetSummary(key) }

func (f *FileSessionStore) SetSummary(key, summary string) { f.mgr.SetSummary(key, summary) }

func (f *FileSessionStore) GetCompactionCount(key string) int {
	return f.mgr.GetCompactionCount(key)
}

func (f *FileSessionStore) GetMemoryFlushCompactionCount(key string) int {
	return f.mgr.GetMemoryFlushCompactionCount(key)
}

func (f *FileSessionStore) SetMemoryFlushDone(key string) { f.mgr.SetMemoryFlushDone(key) }

func (f *FileSessionStore) GetTodos(key string) []store.TodoItem { return f.mgr.GetTodos(key) }

func (f *FileSessionStore) SetTodos(key string, todos []store.TodoItem) {
	f.mgr.SetTodos(key, todos)
}

func (f *FileSessionStore) GetPlan(key string) string { return f.mgr.GetPlan(key) }

func (f *FileSessionStore) SetPlan(key, plan string) { f.mgr.SetPlan(key, plan) }

func (f *FileSessionStore) Save(key string) { f.mgr.Save(key) }

func (f *FileSessionStore) List(agentFilter string) []store.SessionInfo {
	items := f.mgr.List(agentFilter)
	result := make([]store.SessionInfo, len(items))
	for i, item := range items {
		result[i] = store.SessionInfo{
			Key:          item.Key,
			AgentID:      item.AgentID,
			MessageCount: item.MessageCount,
			Created:      item.Created,
			Updated:      item.Updated,
		}
	}
	return result
}

func (f *FileSessionStore) Delete(key string) error {
	return f.mgr.Delete(key)
}

func (f *FileSessionStore) Reset(key string) {
	f.mgr.Reset(key)
}
