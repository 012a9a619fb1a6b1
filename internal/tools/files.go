package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	defaultReadLimit  = 2000
	maxLineChars      = 2000
	maxReadBytes      = 256 * 1024
	maxImageBytes     = 4 * 1024 * 1024
	readTruncatedNote = "\n[truncated; use offset/limit to read more]"
)

var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// pathScope resolves tool paths against a workspace root and rejects
// escapes. Extra prefixes (artifact folders, temp dirs) can be allowed.
type pathScope struct {
	workspace string
	extra     []string
}

func newPathScope(workspace string) *pathScope {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		abs = workspace
	}
	return &pathScope{workspace: abs}
}

func (s *pathScope) allow(prefixes ...string) {
	for _, p := range prefixes {
		if abs, err := filepath.Abs(p); err == nil {
			s.extra = append(s.extra, abs)
		}
	}
}

// resolve turns a possibly-relative path into an absolute one inside the
// scope. Absolute paths are accepted when they fall under the workspace
// or an allowed prefix.
func (s *pathScope) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.workspace, path)
	}
	abs = filepath.Clean(abs)

	if within(abs, s.workspace) {
		return abs, nil
	}
	for _, p := range s.extra {
		if within(abs, p) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("path %s is outside the workspace", path)
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// ReadFileTool reads workspace files with pagination. Images are
// returned base64-encoded for vision-capable models.
type ReadFileTool struct {
	scope *pathScope
}

func NewReadFileTool(workspace string) *ReadFileTool {
	return &ReadFileTool{scope: newPathScope(workspace)}
}

func (t *ReadFileTool) AllowPaths(prefixes ...string) { t.scope.allow(prefixes...) }

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file from the workspace. Supports offset/limit pagination for large files. Images (png/jpg/gif/webp) are returned as base64 for vision."
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path, relative to the workspace.",
			},
			"offset": map[string]interface{}{
				"type":        "number",
				"description": "1-based line number to start from (default 1).",
			},
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Maximum lines to return (default 2000).",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	abs, err := t.scope.resolve(path)
	if err != nil {
		return ErrorResult(err.Error())
	}

	info, err := os.Stat(abs)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot read %s: %v", path, err))
	}
	if info.IsDir() {
		return ErrorResult(fmt.Sprintf("%s is a directory; use list_files", path))
	}

	if mime, ok := imageExtensions[strings.ToLower(filepath.Ext(abs))]; ok {
		return t.readImage(abs, path, mime, info.Size())
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot read %s: %v", path, err))
	}

	offset := 1
	if v, ok := args["offset"].(float64); ok && int(v) > 1 {
		offset = int(v)
	}
	limit := defaultReadLimit
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}

	lines := strings.Split(string(data), "\n")
	if offset > len(lines) {
		return ErrorResult(fmt.Sprintf("offset %d beyond end of file (%d lines)", offset, len(lines)))
	}
	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	bytesOut := 0
	truncated := end < len(lines)
	for i := offset - 1; i < end; i++ {
		line := lines[i]
		if len(line) > maxLineChars {
			line = truncate(line, maxLineChars)
		}
		if bytesOut+len(line) > maxReadBytes {
			truncated = true
			break
		}
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, line)
		bytesOut += len(line)
	}
	out := b.String()
	if truncated {
		out += readTruncatedNote
	}
	return SilentResult(out)
}

func (t *ReadFileTool) readImage(abs, path, mime string, size int64) *Result {
	if size > maxImageBytes {
		return ErrorResult(fmt.Sprintf("image %s is %d bytes, above the %d byte cap", path, size, maxImageBytes))
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot read %s: %v", path, err))
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	return SilentResult(fmt.Sprintf("data:%s;base64,%s", mime, encoded))
}

// WriteFileTool creates or overwrites workspace files. Serial: it never
// runs concurrently with other tools in a batch.
type WriteFileTool struct {
	scope *pathScope
}

func NewWriteFileTool(workspace string) *WriteFileTool {
	return &WriteFileTool{scope: newPathScope(workspace)}
}

func (t *WriteFileTool) AllowPaths(prefixes ...string) { t.scope.allow(prefixes...) }

func (t *WriteFileTool) Serial() bool { return true }

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file in the workspace, creating parent directories as needed. Overwrites existing files."
}

func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path, relative to the workspace.",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Full file content to write.",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	content, ok := args["content"].(string)
	if !ok {
		return ErrorResult("content parameter is required")
	}
	abs, err := t.scope.resolve(path)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("cannot create directory for %s: %v", path, err))
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("cannot write %s: %v", path, err))
	}
	return NewResult(fmt.Sprintf("Wrote %d bytes to %s", len(content), path))
}

// EditFileTool replaces exact text in a file. Single old/new pair, or
// an edits array applied all-or-nothing.
type EditFileTool struct {
	scope *pathScope
}

func NewEditFileTool(workspace string) *EditFileTool {
	return &EditFileTool{scope: newPathScope(workspace)}
}

func (t *EditFileTool) AllowPaths(prefixes ...string) { t.scope.allow(prefixes...) }

func (t *EditFileTool) Serial() bool { return true }

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Edit a file by exact text replacement. Provide old_text/new_text, or an edits array of {old_text, new_text} applied in order; if any edit fails to match, no changes are written."
}

func (t *EditFileTool) Parameters() map[string]interface{} {
	editSchema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"old_text": map[string]interface{}{"type": "string"},
			"new_text": map[string]interface{}{"type": "string"},
		},
		"required": []string{"old_text", "new_text"},
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path, relative to the workspace.",
			},
			"old_text": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to find. Must appear exactly once.",
			},
			"new_text": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text.",
			},
			"edits": map[string]interface{}{
				"type":        "array",
				"items":       editSchema,
				"description": "Multiple edits applied in order, all-or-nothing.",
			},
		},
		"required": []string{"path"},
	}
}

type textEdit struct {
	oldText string
	newText string
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	abs, err := t.scope.resolve(path)
	if err != nil {
		return ErrorResult(err.Error())
	}

	edits, errRes := collectEdits(args)
	if errRes != nil {
		return errRes
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot read %s: %v", path, err))
	}
	content := string(data)

	for i, e := range edits {
		n := strings.Count(content, e.oldText)
		switch n {
		case 0:
			return ErrorResult(fmt.Sprintf("edit %d: old_text not found in %s; no changes written", i+1, path))
		case 1:
			content = strings.Replace(content, e.oldText, e.newText, 1)
		default:
			return ErrorResult(fmt.Sprintf("edit %d: old_text appears %d times in %s; include more surrounding context", i+1, n, path))
		}
	}

	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("cannot write %s: %v", path, err))
	}
	return NewResult(fmt.Sprintf("Applied %d edit(s) to %s", len(edits), path))
}

func collectEdits(args map[string]interface{}) ([]textEdit, *Result) {
	if raw, ok := args["edits"].([]interface{}); ok && len(raw) > 0 {
		out := make([]textEdit, 0, len(raw))
		for i, item := range raw {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, ErrorResult(fmt.Sprintf("edits[%d] is not an object", i))
			}
			oldText, _ := m["old_text"].(string)
			newText, _ := m["new_text"].(string)
			if oldText == "" {
				return nil, ErrorResult(fmt.Sprintf("edits[%d].old_text is required", i))
			}
			if oldText == newText {
				return nil, ErrorResult(fmt.Sprintf("edits[%d]: old_text and new_text are identical", i))
			}
			out = append(out, textEdit{oldText: oldText, newText: newText})
		}
		return out, nil
	}

	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	if oldText == "" {
		return nil, ErrorResult("old_text (or edits array) is required")
	}
	if oldText == newText {
		return nil, ErrorResult("old_text and new_text are identical")
	}
	return []textEdit{{oldText: oldText, newText: newText}}, nil
}

// ListFilesTool lists a directory, directories first.
type ListFilesTool struct {
	scope *pathScope
}

func NewListFilesTool(workspace string) *ListFilesTool {
	return &ListFilesTool{scope: newPathScope(workspace)}
}

func (t *ListFilesTool) AllowPaths(prefixes ...string) { t.scope.allow(prefixes...) }

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List files and directories at a path in the workspace (default: workspace root)."
}

func (t *ListFilesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory path, relative to the workspace (default \".\").",
			},
		},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	abs, err := t.scope.resolve(path)
	if err != nil {
		return ErrorResult(err.Error())
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot list %s: %v", path, err))
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&b, "%s/\n", e.Name())
			continue
		}
		info, err := e.Info()
		if err != nil {
			fmt.Fprintf(&b, "%s\n", e.Name())
			continue
		}
		fmt.Fprintf(&b, "%s (%d bytes)\n", e.Name(), info.Size())
	}
	if b.Len() == 0 {
		return SilentResult(fmt.Sprintf("%s is empty", path))
	}
	return SilentResult(b.String())
}
