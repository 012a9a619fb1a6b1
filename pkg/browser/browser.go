package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// settleWait bounds how long navigation waits for the page to go quiet.
const settleWait = 300 * time.Millisecond

// Manager launches a Chrome instance on demand and addresses its tabs
// by CDP target ID. All methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	chrome   *rod.Browser
	tabs     map[string]*rod.Page
	refs     *RefStore
	headless bool
	logger   *slog.Logger
}

type Option func(*Manager)

func WithHeadless(h bool) Option {
	return func(m *Manager) { m.headless = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func New(opts ...Option) *Manager {
	m := &Manager{
		tabs:   make(map[string]*rod.Page),
		refs:   NewRefStore(),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start launches Chrome and connects over CDP. Calling Start on a
// running Manager is an error.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.chrome != nil {
		return fmt.Errorf("browser already running")
	}

	cdpURL, err := launcher.New().
		Headless(m.headless).
		Set("disable-gpu").
		Set("no-first-run").
		Set("no-default-browser-check").
		Launch()
	if err != nil {
		return fmt.Errorf("launch Chrome: %w", err)
	}

	b := rod.New().ControlURL(cdpURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect to Chrome: %w", err)
	}

	m.logger.Info("Chrome launched", "cdp", cdpURL, "headless", m.headless)
	m.chrome = b
	return nil
}

// Close shuts Chrome down and forgets all tabs. A no-op when the
// browser is not running.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.chrome == nil {
		return nil
	}
	err := m.chrome.Close()
	m.chrome = nil
	m.tabs = make(map[string]*rod.Page)
	return err
}

// OpenTab opens url in a new tab and waits for it to settle.
func (m *Manager) OpenTab(ctx context.Context, url string) (*TabInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.chrome == nil {
		return nil, fmt.Errorf("browser not running")
	}

	page, err := m.chrome.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	if err := page.WaitStable(settleWait); err != nil {
		return nil, fmt.Errorf("wait stable: %w", err)
	}

	tid := string(page.TargetID)
	m.tabs[tid] = page

	tab := &TabInfo{TargetID: tid, URL: url}
	if info, err := page.Info(); err == nil && info != nil {
		tab.URL = info.URL
		tab.Title = info.Title
	}
	return tab, nil
}

// CloseTab closes one tab and drops its cached refs.
func (m *Manager) CloseTab(ctx context.Context, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	page, err := m.page(targetID)
	if err != nil {
		return err
	}
	delete(m.tabs, targetID)
	return page.Close()
}

// Snapshot renders a tab's accessibility tree and remembers the ref
// table so click/type can resolve refs from this snapshot later.
func (m *Manager) Snapshot(ctx context.Context, targetID string, opts SnapshotOptions) (*SnapshotResult, error) {
	page, err := m.lookupPage(targetID)
	if err != nil {
		return nil, err
	}

	ax, err := proto.AccessibilityGetFullAXTree{}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("get AX tree: %w", err)
	}

	snap := FormatSnapshot(ax.Nodes, opts)
	snap.TargetID = targetID
	if info, err := page.Info(); err == nil && info != nil {
		snap.URL = info.URL
		snap.Title = info.Title
	}
	m.refs.Store(targetID, snap.Refs)
	return snap, nil
}

// Screenshot captures a tab as PNG.
func (m *Manager) Screenshot(ctx context.Context, targetID string, fullPage bool) ([]byte, error) {
	page, err := m.lookupPage(targetID)
	if err != nil {
		return nil, err
	}
	if fullPage {
		return page.Screenshot(true, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
		})
	}
	return page.Screenshot(false, nil)
}

// lookupPage is the lock-acquiring wrapper around page.
func (m *Manager) lookupPage(targetID string) (*rod.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.page(targetID)
}

// page resolves a target ID to its rod page, refreshing the tab cache
// from the browser when the ID is unknown. An empty ID means the first
// open tab. Callers hold m.mu.
func (m *Manager) page(targetID string) (*rod.Page, error) {
	if m.chrome == nil {
		return nil, fmt.Errorf("browser not running")
	}

	if p, ok := m.tabs[targetID]; ok && targetID != "" {
		return p, nil
	}

	pages, err := m.chrome.Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	for _, p := range pages {
		m.tabs[string(p.TargetID)] = p
	}

	if targetID != "" {
		if p, ok := m.tabs[targetID]; ok {
			return p, nil
		}
		return nil, fmt.Errorf("tab not found: %s", targetID)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no tabs open")
	}
	return pages[0], nil
}

// element resolves a snapshot ref to a live DOM element in a tab.
func (m *Manager) element(targetID, ref string) (*rod.Page, *rod.Element, error) {
	page, err := m.lookupPage(targetID)
	if err != nil {
		return nil, nil, err
	}
	// DOM domain must be enabled before resolving backend node IDs.
	_ = proto.DOMEnable{}.Call(page)

	rr, ok := m.refs.Resolve(targetID, ref)
	if !ok {
		return nil, nil, fmt.Errorf("unknown ref %q; take a new snapshot first", ref)
	}
	if rr.BackendNodeID == 0 {
		return nil, nil, fmt.Errorf("ref %q has no DOM node", ref)
	}

	resolved, err := proto.DOMResolveNode{
		BackendNodeID: proto.DOMBackendNodeID(rr.BackendNodeID),
	}.Call(page)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve node for %q: %w", ref, err)
	}
	el, err := page.ElementFromObject(resolved.Object)
	if err != nil {
		return nil, nil, fmt.Errorf("element for %q: %w", ref, err)
	}
	return page, el, nil
}
