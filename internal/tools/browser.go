package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/tatty/pkg/browser"
)

// BrowserTool drives a headless browser for pages that need JS. The
// browser starts lazily on first use and one instance is shared across
// calls; the snapshot action returns an accessibility-tree rendering
// with element refs usable by click/type.
type BrowserTool struct {
	mu       sync.Mutex
	manager  *browser.Manager
	started  bool
	lastTab  string
}

func NewBrowserTool() *BrowserTool {
	return &BrowserTool{manager: browser.New(browser.WithHeadless(true))}
}

func (t *BrowserTool) Name() string { return "browser" }

func (t *BrowserTool) Description() string {
	return "Control a headless browser. Actions: open (url), snapshot (accessibility tree with refs), click (ref), type (ref, text), screenshot, close. Use for JS-heavy pages web_fetch cannot read."
}

func (t *BrowserTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"open", "snapshot", "click", "type", "screenshot", "close"},
				"description": "Browser operation.",
			},
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL for the open action.",
			},
			"ref": map[string]interface{}{
				"type":        "string",
				"description": "Element ref from a snapshot (click/type).",
			},
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Text to type (type action).",
			},
		},
		"required": []string{"action"},
	}
}

func (t *BrowserTool) ensureStarted(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil
	}
	if err := t.manager.Start(ctx); err != nil {
		return err
	}
	t.started = true
	return nil
}

// Stop shuts the browser down. Called by the runtime on exit.
func (t *BrowserTool) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		t.manager.Close()
		t.started = false
		t.lastTab = ""
	}
}

func (t *BrowserTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)
	if action == "close" {
		t.Stop()
		return SilentResult("Browser closed.")
	}

	if err := t.ensureStarted(ctx); err != nil {
		return ErrorResult(fmt.Sprintf("browser start failed: %v", err))
	}

	switch action {
	case "open":
		url, _ := args["url"].(string)
		if url == "" {
			return ErrorResult("open requires a url")
		}
		if err := checkSSRF(url); err != nil {
			return ErrorResult(fmt.Sprintf("SSRF protection: %v", err))
		}
		tab, err := t.manager.OpenTab(ctx, url)
		if err != nil {
			return ErrorResult(fmt.Sprintf("open failed: %v", err))
		}
		t.mu.Lock()
		t.lastTab = tab.TargetID
		t.mu.Unlock()
		return t.snapshot(ctx)

	case "snapshot":
		return t.snapshot(ctx)

	case "click":
		ref, _ := args["ref"].(string)
		if ref == "" {
			return ErrorResult("click requires a ref from a snapshot")
		}
		if err := t.manager.Click(ctx, t.currentTab(), ref, browser.ClickOpts{}); err != nil {
			return ErrorResult(fmt.Sprintf("click failed: %v", err))
		}
		return t.snapshot(ctx)

	case "type":
		ref, _ := args["ref"].(string)
		text, _ := args["text"].(string)
		if ref == "" || text == "" {
			return ErrorResult("type requires ref and text")
		}
		if err := t.manager.Type(ctx, t.currentTab(), ref, text, browser.TypeOpts{}); err != nil {
			return ErrorResult(fmt.Sprintf("type failed: %v", err))
		}
		return t.snapshot(ctx)

	case "screenshot":
		png, err := t.manager.Screenshot(ctx, t.currentTab(), false)
		if err != nil {
			return ErrorResult(fmt.Sprintf("screenshot failed: %v", err))
		}
		return SilentResult("data:image/png;base64," + base64.StdEncoding.EncodeToString(png))

	default:
		return ErrorResult("unknown action: " + action)
	}
}

func (t *BrowserTool) currentTab() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTab
}

func (t *BrowserTool) snapshot(ctx context.Context) *Result {
	tab := t.currentTab()
	if tab == "" {
		return ErrorResult("no open tab; use the open action first")
	}
	snap, err := t.manager.Snapshot(ctx, tab, browser.DefaultSnapshotOptions())
	if err != nil {
		return ErrorResult(fmt.Sprintf("snapshot failed: %v", err))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Page: %s\nURL: %s\n\n", snap.Title, snap.URL)
	b.WriteString(snap.Snapshot)
	if snap.Truncated {
		b.WriteString("\n[snapshot truncated]")
	}
	return SilentResult(wrapExternalContent(b.String(), "Browser", false))
}

// RenderPage loads a URL and returns the post-JS DOM HTML, satisfying
// the web_fetch renderer hook.
func (t *BrowserTool) RenderPage(ctx context.Context, url string) (string, error) {
	if err := t.ensureStarted(ctx); err != nil {
		return "", err
	}
	tab, err := t.manager.OpenTab(ctx, url)
	if err != nil {
		return "", err
	}
	defer t.manager.CloseTab(ctx, tab.TargetID)
	return t.manager.Evaluate(ctx, tab.TargetID, "document.documentElement.outerHTML")
}
