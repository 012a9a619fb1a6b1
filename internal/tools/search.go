package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	maxGlobResults  = 200
	maxGrepMatches  = 100
	maxGrepFileSize = 2 * 1024 * 1024
)

// Directories never descended into during glob/grep walks.
var skipDirNames = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	".tatty":       true,
}

// GlobTool matches files by pattern, newest first. Patterns with "**"
// match across directory levels.
type GlobTool struct {
	scope *pathScope
}

func NewGlobTool(workspace string) *GlobTool {
	return &GlobTool{scope: newPathScope(workspace)}
}

func (t *GlobTool) AllowPaths(prefixes ...string) { t.scope.allow(prefixes...) }

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern (e.g. \"*.py\", \"src/**/*.go\"). Results are sorted by modification time, newest first."
}

func (t *GlobTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern. ** matches across directories.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to search in (default workspace root).",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern parameter is required")
	}
	base, _ := args["path"].(string)
	if base == "" {
		base = "."
	}
	root, err := t.scope.resolve(base)
	if err != nil {
		return ErrorResult(err.Error())
	}

	type hit struct {
		rel string
		mod int64
	}
	var hits []hit

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirNames[d.Name()] && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		ok, err := matchGlob(pattern, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		hits = append(hits, hit{rel: rel, mod: info.ModTime().UnixNano()})
		return nil
	})
	if walkErr != nil && walkErr != ctx.Err() {
		return ErrorResult(fmt.Sprintf("glob failed: %v", walkErr))
	}

	if len(hits) == 0 {
		return SilentResult("No files match " + pattern)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].mod > hits[j].mod })
	capped := false
	if len(hits) > maxGlobResults {
		hits = hits[:maxGlobResults]
		capped = true
	}
	var b strings.Builder
	for _, h := range hits {
		b.WriteString(h.rel + "\n")
	}
	if capped {
		fmt.Fprintf(&b, "[capped at %d results]\n", maxGlobResults)
	}
	return SilentResult(b.String())
}

// matchGlob extends path.Match with "**" spanning directory levels.
func matchGlob(pattern, name string) (bool, error) {
	if !strings.Contains(pattern, "**") {
		if !strings.Contains(pattern, "/") {
			// Bare file pattern matches at any depth.
			return filepath.Match(pattern, filepath.Base(name))
		}
		return filepath.Match(pattern, name)
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pat, parts []string) (bool, error) {
	for len(pat) > 0 {
		if pat[0] == "**" {
			rest := pat[1:]
			if len(rest) == 0 {
				return true, nil
			}
			for i := 0; i <= len(parts); i++ {
				ok, err := matchSegments(rest, parts[i:])
				if err != nil || ok {
					return ok, err
				}
			}
			return false, nil
		}
		if len(parts) == 0 {
			return false, nil
		}
		ok, err := filepath.Match(pat[0], parts[0])
		if err != nil || !ok {
			return false, err
		}
		pat, parts = pat[1:], parts[1:]
	}
	return len(parts) == 0, nil
}

// GrepTool searches file contents with a regular expression.
type GrepTool struct {
	scope *pathScope
}

func NewGrepTool(workspace string) *GrepTool {
	return &GrepTool{scope: newPathScope(workspace)}
}

func (t *GrepTool) AllowPaths(prefixes ...string) { t.scope.allow(prefixes...) }

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return "Search file contents with a Go regular expression. Returns path:line:text matches. Binary files and common dependency directories are skipped."
}

func (t *GrepTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regular expression to search for.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory or file to search (default workspace root).",
			},
			"include": map[string]interface{}{
				"type":        "string",
				"description": "Only search files whose name matches this glob (e.g. \"*.go\").",
			},
			"ignore_case": map[string]interface{}{
				"type":        "boolean",
				"description": "Case-insensitive search.",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern parameter is required")
	}
	if ic, _ := args["ignore_case"].(bool); ic {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid pattern: %v", err))
	}

	base, _ := args["path"].(string)
	if base == "" {
		base = "."
	}
	root, err := t.scope.resolve(base)
	if err != nil {
		return ErrorResult(err.Error())
	}
	include, _ := args["include"].(string)

	var b strings.Builder
	matches := 0

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || matches >= maxGrepMatches {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if skipDirNames[d.Name()] && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if include != "" {
			if ok, _ := filepath.Match(include, d.Name()); !ok {
				return nil
			}
		}
		if info, err := d.Info(); err != nil || info.Size() > maxGrepFileSize {
			return nil
		}
		rel, _ := filepath.Rel(t.scope.workspace, path)
		matches += grepFile(path, rel, re, maxGrepMatches-matches, &b)
		return nil
	})
	if walkErr != nil && walkErr != filepath.SkipAll && walkErr != ctx.Err() {
		return ErrorResult(fmt.Sprintf("grep failed: %v", walkErr))
	}

	if matches == 0 {
		return SilentResult("No matches for " + pattern)
	}
	if matches >= maxGrepMatches {
		fmt.Fprintf(&b, "[capped at %d matches]\n", maxGrepMatches)
	}
	return SilentResult(b.String())
}

func grepFile(path, rel string, re *regexp.Regexp, budget int, out *strings.Builder) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	found := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() && found < budget {
		lineNo++
		line := scanner.Text()
		if lineNo == 1 && strings.ContainsRune(line, '\x00') {
			return 0 // binary
		}
		if re.MatchString(line) {
			fmt.Fprintf(out, "%s:%d:%s\n", rel, lineNo, truncate(line, 300))
			found++
		}
	}
	return found
}
