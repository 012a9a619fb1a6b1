// Package artifacts manages the standard output folders an agent writes
// into (scripts, data, visualization, documents) and their optional S3
// mirror.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// StandardFolders are created under the workspace by Init and checked
// by Verify. Order is the display order.
var StandardFolders = []string{"scripts", "data", "visualization", "documents"}

// Entry is one file in the artifact manifest.
type Entry struct {
	Path    string    `json:"path"` // relative to the workspace
	Folder  string    `json:"folder"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Manager operates on the artifact folders of one workspace.
type Manager struct {
	workspace string
	folders   []string
}

// NewManager uses the standard folders unless overridden in config.
func NewManager(workspace string, folders []string) *Manager {
	if len(folders) == 0 {
		folders = StandardFolders
	}
	return &Manager{workspace: workspace, folders: folders}
}

func (m *Manager) Folders() []string { return m.folders }

// Init creates any missing artifact folders.
func (m *Manager) Init() error {
	for _, f := range m.folders {
		dir := filepath.Join(m.workspace, f)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", f, err)
		}
	}
	return nil
}

// Verify reports which artifact folders are missing.
func (m *Manager) Verify() (missing []string) {
	for _, f := range m.folders {
		info, err := os.Stat(filepath.Join(m.workspace, f))
		if err != nil || !info.IsDir() {
			missing = append(missing, f)
		}
	}
	return missing
}

// Manifest lists every file under the artifact folders, sorted by path.
func (m *Manager) Manifest() ([]Entry, error) {
	var entries []Entry
	for _, folder := range m.folders {
		root := filepath.Join(m.workspace, folder)
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
				return nil
			}
			rel, err := filepath.Rel(m.workspace, path)
			if err != nil {
				return err
			}
			entries = append(entries, Entry{
				Path:    filepath.ToSlash(rel),
				Folder:  folder,
				Size:    info.Size(),
				ModTime: info.ModTime(),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", folder, err)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Clean removes empty artifact folders and temp files (*.tmp, *~).
func (m *Manager) Clean() (removed int, err error) {
	entries, err := m.Manifest()
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Path, ".tmp") || strings.HasSuffix(e.Path, "~") {
			if rmErr := os.Remove(filepath.Join(m.workspace, e.Path)); rmErr == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// FormatManifest renders entries grouped by folder for display.
func FormatManifest(entries []Entry) string {
	if len(entries) == 0 {
		return "No artifacts."
	}
	var b strings.Builder
	current := ""
	for _, e := range entries {
		if e.Folder != current {
			if current != "" {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%s/\n", e.Folder)
			current = e.Folder
		}
		fmt.Fprintf(&b, "  %s  %s  %s\n",
			strings.TrimPrefix(e.Path, e.Folder+"/"),
			humanSize(e.Size),
			e.ModTime.Format("2006-01-02 15:04"))
	}
	return b.String()
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
