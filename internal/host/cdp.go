package host

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

type tabContext struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// CDP drives a running Chromium over the DevTools protocol.
type CDP struct {
	cdpURL string
	tabs   *TabRegistry

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	// self is the blank target the connection itself opened.
	self target.ID

	mu      sync.Mutex
	tabCtxs map[target.ID]tabContext
}

func NewCDP(cdpURL string) *CDP {
	return &CDP{
		cdpURL:  cdpURL,
		tabs:    NewTabRegistry(),
		tabCtxs: make(map[target.ID]tabContext),
	}
}

// Connect attaches to the browser behind the CDP HTTP endpoint.
func (c *CDP) Connect(ctx context.Context) error {
	slog.Info("connecting to browser", "cdp_url", c.cdpURL)

	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), c.cdpURL)
	c.browserCtx, c.browserCancel = chromedp.NewContext(c.allocCtx)

	// The first Run allocates the browser connection and ties it to the
	// context it is given, so it must be the long-lived browser context.
	if err := chromedp.Run(c.browserCtx); err != nil {
		c.Close()
		return fmt.Errorf("host: connect to browser: %w", err)
	}
	if t := chromedp.FromContext(c.browserCtx).Target; t != nil {
		c.self = t.TargetID
	}

	tabs, err := c.Tabs(ctx)
	if err != nil {
		c.Close()
		return err
	}
	slog.Info("connected to browser", "cdp_url", c.cdpURL, "tabs", len(tabs))
	return nil
}

func (c *CDP) Close() error {
	c.mu.Lock()
	for tid, tc := range c.tabCtxs {
		tc.cancel()
		delete(c.tabCtxs, tid)
	}
	c.mu.Unlock()

	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	slog.Info("browser connection closed")
	return nil
}

// bind derives a context from a chromedp context that is also cancelled
// when ctx is done.
func (c *CDP) bind(ctx, chromeCtx context.Context) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(chromeCtx)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// Tabs lists page targets with their tab ids.
func (c *CDP) Tabs(ctx context.Context) ([]Tab, error) {
	if c.browserCtx == nil {
		return nil, fmt.Errorf("host: not connected")
	}
	runCtx, stop := c.bind(ctx, c.browserCtx)
	defer stop()

	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		return nil, fmt.Errorf("host: list targets: %w", err)
	}

	pages := pageTargets(infos, c.self)
	tabs := make([]Tab, 0, len(pages))
	live := make([]target.ID, 0, len(pages))
	for _, info := range pages {
		live = append(live, info.TargetID)
		tabs = append(tabs, Tab{
			ID:       c.tabs.Assign(info.TargetID),
			TargetID: string(info.TargetID),
			URL:      info.URL,
			Title:    info.Title,
		})
	}
	for _, tid := range c.tabs.Retain(live) {
		c.dropTabContext(tid)
	}

	sort.Slice(tabs, func(i, j int) bool { return tabs[i].ID < tabs[j].ID })
	return tabs, nil
}

// pageTargets keeps user pages, dropping other target types and the
// connection's own target.
func pageTargets(infos []*target.Info, self target.ID) []*target.Info {
	out := make([]*target.Info, 0, len(infos))
	for _, info := range infos {
		if info.Type != "page" || (self != "" && info.TargetID == self) {
			continue
		}
		out = append(out, info)
	}
	return out
}

// Tab resolves one tab by id, refreshing from the browser.
func (c *CDP) Tab(ctx context.Context, id int) (Tab, error) {
	tabs, err := c.Tabs(ctx)
	if err != nil {
		return Tab{}, err
	}
	for _, t := range tabs {
		if t.ID == id {
			return t, nil
		}
	}
	return Tab{}, fmt.Errorf("%w: %d", ErrTabNotFound, id)
}

func (c *CDP) tabContext(id int) (context.Context, error) {
	tid, ok := c.tabs.Target(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTabNotFound, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if tc, ok := c.tabCtxs[tid]; ok {
		return tc.ctx, nil
	}
	ctx, cancel := chromedp.NewContext(c.browserCtx, chromedp.WithTargetID(tid))
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("host: attach tab %d: %w", id, err)
	}
	c.tabCtxs[tid] = tabContext{ctx: ctx, cancel: cancel}
	return ctx, nil
}

func (c *CDP) dropTabContext(tid target.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tc, ok := c.tabCtxs[tid]; ok {
		tc.cancel()
		delete(c.tabCtxs, tid)
	}
}

func (c *CDP) CaptureVisible(ctx context.Context, id int) ([]byte, error) {
	tabCtx, err := c.tabContext(id)
	if err != nil {
		return nil, err
	}
	runCtx, stop := c.bind(ctx, tabCtx)
	defer stop()

	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("host: capture tab %d: %w", id, err)
	}
	if len(buf) == 0 {
		return nil, nil
	}
	return buf, nil
}

func (c *CDP) OpenView(ctx context.Context, url string) error {
	if c.browserCtx == nil {
		return fmt.Errorf("host: not connected")
	}
	runCtx, stop := c.bind(ctx, c.browserCtx)
	defer stop()

	browser := chromedp.FromContext(runCtx).Browser
	if browser == nil {
		return fmt.Errorf("host: not connected")
	}
	tid, err := target.CreateTarget(url).Do(cdp.WithExecutor(runCtx, browser))
	if err != nil {
		return fmt.Errorf("host: open %s: %w", url, err)
	}
	slog.Debug("view opened", "url", url, "target_id", tid, "tab_id", c.tabs.Assign(tid))
	return nil
}

// Cookies returns the browser's cookies for rawURL.
func (c *CDP) Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error) {
	if c.browserCtx == nil {
		return nil, fmt.Errorf("host: not connected")
	}
	runCtx, stop := c.bind(ctx, c.browserCtx)
	defer stop()

	var cookies []*network.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs([]string{rawURL}).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("host: cookies for %s: %w", rawURL, err)
	}
	return toHTTPCookies(cookies), nil
}

func toHTTPCookies(in []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, ck := range in {
		if ck == nil {
			continue
		}
		out = append(out, &http.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Path:     ck.Path,
			Domain:   ck.Domain,
			Secure:   ck.Secure,
			HttpOnly: ck.HTTPOnly,
		})
	}
	return out
}
