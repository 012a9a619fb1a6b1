// Package bootstrap loads workspace context files (TATTY.md, AGENTS.md,
// MEMORY.md) and trims them to a character budget before system prompt
// injection.
package bootstrap

import (
	"os"
	"path/filepath"
)

// WorkspaceFileNames are the context files looked up in the workspace
// root, in injection order. The first ones get budget priority.
var WorkspaceFileNames = []string{"TATTY.md", "AGENTS.md", "MEMORY.md"}

// File is one candidate context file as read from disk.
type File struct {
	Name    string
	Content string
	Missing bool
}

// ContextFile is a trimmed file ready for prompt injection.
type ContextFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// LoadWorkspaceFiles reads the standard context files from the workspace
// root. Missing files are returned with Missing set so BuildContextFiles
// can skip them without error.
func LoadWorkspaceFiles(workspace string) []File {
	files := make([]File, 0, len(WorkspaceFileNames))
	for _, name := range WorkspaceFileNames {
		data, err := os.ReadFile(filepath.Join(workspace, name))
		if err != nil {
			files = append(files, File{Name: name, Missing: true})
			continue
		}
		files = append(files, File{Name: name, Content: string(data)})
	}
	return files
}
