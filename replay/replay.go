// Package replay orchestrates script replays. It owns the browser, opens a
// session per page, drives it script by script and routes every step to the
// configured sinks.
//
// A page is either replayed in Chrome (stealth levels 1 and 2), where each
// activated script really executes, or as a static dry run (level 0) over
// the fetched HTML, which reports the activation order and the marker
// stamping without executing anything.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/domreplay/event"
	"github.com/hazyhaar/domreplay/htmldoc"
	"github.com/hazyhaar/domreplay/idgen"
	"github.com/hazyhaar/domreplay/replay/internal/browser"
	"github.com/hazyhaar/domreplay/replay/internal/cdpdoc"
	"github.com/hazyhaar/domreplay/replay/internal/config"
	"github.com/hazyhaar/domreplay/replay/internal/driver"
	"github.com/hazyhaar/domreplay/replay/internal/fetcher"
	"github.com/hazyhaar/domreplay/replay/internal/sink"
	"github.com/hazyhaar/domreplay/schedule"
	"github.com/hazyhaar/domreplay/session"
)

// Replayer is the top-level orchestrator. Create one per process.
type Replayer struct {
	cfg    *Config
	mgr    *browser.Manager
	fetch  *fetcher.Fetcher
	out    *sink.Router
	ids    idgen.Generator
	logger *slog.Logger

	mu      sync.Mutex
	started bool
}

// New creates a Replayer from configuration. A nil cfg uses the defaults.
// Chrome is launched on the first page that needs it.
func New(cfg *Config, logger *slog.Logger, sinks ...Sink) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()

	stealth := browser.LevelHeadless
	if cfg.Browser.Stealth == "headful" {
		stealth = browser.LevelHeadful
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Stealth:          stealth,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})

	return &Replayer{
		cfg:    cfg,
		mgr:    mgr,
		fetch:  fetcher.New(fetcher.WithLogger(logger)),
		out:    sink.NewRouter(logger, sinks...),
		ids:    idgen.Default,
		logger: logger,
	}
}

// AddSink attaches one more sink. Call before any replay starts.
func (r *Replayer) AddSink(s Sink) { r.out.Add(s) }

// Marker is the attribute stamped on every managed script.
func (r *Replayer) Marker() string {
	if r.cfg.Marker != "" {
		return r.cfg.Marker
	}
	return schedule.DefaultMarker
}

// ReplayAll replays every configured page in order. A failing page is
// logged and does not stop the others.
func (r *Replayer) ReplayAll(ctx context.Context) ([]event.Run, error) {
	var (
		runs []event.Run
		errs []error
	)
	for _, p := range r.cfg.Pages {
		run, err := r.ReplayPage(ctx, p)
		if err != nil {
			r.logger.Error("replay: page failed", "url", p.URL, "id", p.ID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.ID, err))
		}
		if run.ID != "" {
			runs = append(runs, run)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return runs, errors.Join(errs...)
}

// ReplayPage opens a page, replays all of its scripts and closes it.
func (r *Replayer) ReplayPage(ctx context.Context, p PageConfig) (event.Run, error) {
	p = r.pageDefaults(p)
	t, err := r.open(ctx, p)
	if err != nil {
		return event.Run{}, err
	}
	defer t.close()

	r.logger.Info("replay: replaying page", "url", t.url, "id", p.ID, "stealth", t.level)
	return r.replay(ctx, t, p)
}

// ReplayDocument runs a static dry run over an already-parsed document.
func (r *Replayer) ReplayDocument(ctx context.Context, doc *htmldoc.Document, pageID, pageURL string) (event.Run, error) {
	p := r.pageDefaults(PageConfig{ID: pageID, URL: pageURL, StealthLevel: "0"})
	t := staticTarget(doc, pageURL)
	return r.replay(ctx, t, p)
}

// Stop closes the sinks and shuts the browser down.
func (r *Replayer) Stop() {
	if err := r.out.Close(); err != nil {
		r.logger.Warn("replay: close sinks", "error", err)
	}
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		if err := r.mgr.Close(); err != nil {
			r.logger.Warn("replay: close browser", "error", err)
		}
	}
}

func (r *Replayer) replay(ctx context.Context, t *target, p PageConfig) (event.Run, error) {
	sess, err := session.Open(t.doc,
		session.WithLogger(r.logger),
		session.WithMarker(r.Marker()))
	if err != nil {
		return event.Run{}, fmt.Errorf("replay: %w", err)
	}
	d := driver.New(sess, t.wait, t.feed, r.out, driver.Config{
		PageID:   p.ID,
		PageURL:  t.url,
		MaxSteps: p.MaxSteps,
		IDs:      r.ids,
		Logger:   r.logger,
	})
	return d.Run(ctx)
}

// pageDefaults fills a page that did not come through config.Parse.
func (r *Replayer) pageDefaults(p PageConfig) PageConfig {
	if p.ID == "" {
		p.ID = r.ids()
	}
	if p.StealthLevel == "" {
		p.StealthLevel = "auto"
	}
	if p.Settle <= 0 {
		p.Settle = r.cfg.Settle.Window
	}
	if p.MaxWait <= 0 {
		p.MaxWait = r.cfg.Settle.MaxWait
	}
	if p.MaxSteps <= 0 {
		p.MaxSteps = config.DefaultMaxSteps
	}
	return p
}

// target is an opened page, ready for a session.
type target struct {
	doc   session.Document
	url   string
	level browser.StealthLevel
	wait  driver.Waiter
	feed  driver.Feed // nil when nothing executes
	close func()
}

func staticTarget(doc *htmldoc.Document, pageURL string) *target {
	return &target{
		doc:   doc,
		url:   pageURL,
		level: browser.LevelStatic,
		wait:  driver.Immediate{},
		close: func() {},
	}
}

// open acquires a page at the resolved stealth level. Browser targets keep
// their tab and DOM listener alive until close is called.
func (r *Replayer) open(ctx context.Context, p PageConfig) (*target, error) {
	level, doc, finalURL := r.resolveStealthLevel(ctx, p)

	if level == browser.LevelStatic {
		if doc == nil {
			d, res, err := r.fetch.Document(ctx, p.URL)
			if err != nil {
				return nil, fmt.Errorf("replay: %w", err)
			}
			doc, finalURL = d, res.FinalURL
		}
		return staticTarget(doc, finalURL), nil
	}

	if err := r.ensureBrowser(ctx); err != nil {
		return nil, err
	}
	tab, err := browser.OpenTab(ctx, r.mgr, p.URL, p.ID, level)
	if err != nil {
		return nil, fmt.Errorf("replay: open tab: %w", err)
	}

	wctx, cancel := context.WithCancel(ctx)
	cd, err := cdpdoc.New(wctx, tab.Page, cdpdoc.WithLogger(r.logger))
	if err != nil {
		cancel()
		tab.Close()
		return nil, fmt.Errorf("replay: %w", err)
	}

	settler := driver.NewSettler(p.Settle, p.MaxWait)
	feed := cdpdoc.NewFeed(cd, r.Marker(), settler.Touch)
	go cd.Watch(wctx, r.Marker(), feed)

	return &target{
		doc:   cd,
		url:   tab.URL(ctx),
		level: level,
		wait:  settler,
		feed:  feed,
		close: func() {
			cancel()
			if err := tab.Close(); err != nil {
				r.logger.Warn("replay: close tab", "url", p.URL, "error", err)
			}
		},
	}, nil
}

// resolveStealthLevel maps the configured level. "auto" fetches the page
// first: static HTML that is sufficient and carries no script needs no
// browser, and the fetched document is reused for the dry run.
func (r *Replayer) resolveStealthLevel(ctx context.Context, p PageConfig) (browser.StealthLevel, *htmldoc.Document, string) {
	if level, ok := browser.ParseLevel(p.StealthLevel); ok {
		return level, nil, p.URL
	}

	doc, res, err := r.fetch.Document(ctx, p.URL)
	if err != nil {
		r.logger.Warn("replay: auto-detect fetch failed, escalating to headless",
			"url", p.URL, "error", err)
		return browser.LevelHeadless, nil, p.URL
	}
	if !fetcher.NeedsBrowser(doc, res) {
		r.logger.Info("replay: static page without scripts, no browser needed", "url", p.URL)
		return browser.LevelStatic, doc, res.FinalURL
	}
	return browser.LevelHeadless, nil, p.URL
}

// ensureBrowser launches Chrome once.
func (r *Replayer) ensureBrowser(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	// The monitor outlives the request that triggered the launch.
	if _, err := r.mgr.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("replay: start browser: %w", err)
	}
	r.started = true
	return nil
}
