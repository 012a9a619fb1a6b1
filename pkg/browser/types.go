package browser

// TabInfo identifies an open tab.
type TabInfo struct {
	TargetID string `json:"targetId"`
	URL      string `json:"url"`
	Title    string `json:"title"`
}

// RoleRef is what a snapshot ref like "e5" resolves to: an accessible
// element addressed by its backend DOM node.
type RoleRef struct {
	Role          string `json:"role"`
	Name          string `json:"name,omitempty"`
	Nth           int    `json:"nth,omitempty"`
	BackendNodeID int    `json:"backendNodeId,omitempty"`
}

// SnapshotOptions tunes how much of the accessibility tree a snapshot
// keeps.
type SnapshotOptions struct {
	Interactive bool // drop everything that is not clickable or typeable
	Compact     bool // drop unnamed layout elements
	MaxDepth    int  // 0 means no depth cut
	MaxChars    int  // output cap, default 8000
	Limit       int  // accessibility node cap, default 500
}

func DefaultSnapshotOptions() SnapshotOptions {
	return SnapshotOptions{MaxChars: 8000, Limit: 500}
}

// SnapshotResult is a rendered accessibility tree plus the ref table
// that later click/type calls resolve against.
type SnapshotResult struct {
	Snapshot  string             `json:"snapshot"`
	Refs      map[string]RoleRef `json:"refs"`
	URL       string             `json:"url"`
	Title     string             `json:"title"`
	TargetID  string             `json:"targetId"`
	Stats     SnapshotStats      `json:"stats"`
	Truncated bool               `json:"truncated,omitempty"`
}

// SnapshotStats summarizes a snapshot's size.
type SnapshotStats struct {
	Lines       int `json:"lines"`
	Chars       int `json:"chars"`
	Refs        int `json:"refs"`
	Interactive int `json:"interactive"`
}

// ClickOpts selects the mouse button and click count.
type ClickOpts struct {
	DoubleClick bool
	Button      string // "left" (default), "right", "middle"
}

// TypeOpts controls text entry.
type TypeOpts struct {
	Submit bool // press Enter after typing
	Slowly bool // one keystroke at a time
}
