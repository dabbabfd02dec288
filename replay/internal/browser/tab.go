package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab is one page being replayed. It pins the browser until closed.
type Tab struct {
	Page    *rod.Page
	PageURL string
	PageID  string
	Stealth StealthLevel

	manager *Manager
	router  *rod.HijackRouter
}

// OpenTab creates a tab, navigates to pageURL and waits for the load event,
// so every script in the initial document has already run once.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, pageID string, level StealthLevel) (*Tab, error) {
	b, err := mgr.acquire()
	if err != nil {
		return nil, err
	}

	var page *rod.Page
	if level >= LevelHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		mgr.release()
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{
		Page:    page,
		PageURL: pageURL,
		PageID:  pageID,
		Stealth: level,
		manager: mgr,
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		t.router = applyResourceBlocking(page, mgr.cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return t, nil
}

// URL is the document URL after redirects, used to resolve script sources.
func (t *Tab) URL(ctx context.Context) string {
	info, err := t.Page.Context(ctx).Info()
	if err != nil || info.URL == "" {
		return t.PageURL
	}
	return info.URL
}

// Close closes the tab and releases its hold on the browser.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
		t.router = nil
	}
	var err error
	if t.Page != nil {
		err = t.Page.Close()
		t.Page = nil
	}
	if t.manager != nil {
		t.manager.release()
		t.manager = nil
	}
	return err
}
