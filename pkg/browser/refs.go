package browser

import (
	"strings"
	"sync"
)

// refStoreCap bounds how many tabs keep a cached ref table.
const refStoreCap = 50

// RefStore remembers, per tab, the ref table of that tab's most recent
// snapshot. Tables for the least recently snapshotted tabs fall off
// once the cap is reached.
type RefStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]RoleRef
	recent []string // oldest first
}

func NewRefStore() *RefStore {
	return &RefStore{tables: make(map[string]map[string]RoleRef)}
}

// Store replaces the ref table for a tab.
func (rs *RefStore) Store(targetID string, refs map[string]RoleRef) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for i, id := range rs.recent {
		if id == targetID {
			rs.recent = append(rs.recent[:i], rs.recent[i+1:]...)
			break
		}
	}
	rs.recent = append(rs.recent, targetID)
	rs.tables[targetID] = refs

	for len(rs.recent) > refStoreCap {
		delete(rs.tables, rs.recent[0])
		rs.recent = rs.recent[1:]
	}
}

// Resolve looks a ref up in a tab's table. The ref may carry an "@" or
// "ref=" prefix as models sometimes echo it back that way.
func (rs *RefStore) Resolve(targetID, ref string) (*RoleRef, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	table, ok := rs.tables[targetID]
	if !ok {
		return nil, false
	}
	r, ok := table[NormalizeRef(ref)]
	if !ok {
		return nil, false
	}
	return &r, true
}

// NormalizeRef strips the prefixes "@e5" and "ref=e5" down to "e5".
func NormalizeRef(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "@")
	return strings.TrimPrefix(s, "ref=")
}
