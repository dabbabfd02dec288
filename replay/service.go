package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/domreplay/event"
	"github.com/hazyhaar/domreplay/htmldoc"
	"github.com/hazyhaar/domreplay/replay/internal/driver"
	"github.com/hazyhaar/domreplay/schedule"
	"github.com/hazyhaar/domreplay/session"
	"github.com/hazyhaar/domreplay/tree"
	"github.com/hazyhaar/domreplay/urlguard"
)

// ErrSessionNotFound is returned for an unknown or closed session ID.
var ErrSessionNotFound = errors.New("replay: session not found")

// ErrNodeNotFound is returned when no snapshot node sits at a path.
var ErrNodeNotFound = errors.New("replay: node not found")

// ErrBadRequest wraps caller mistakes: missing fields, malformed paths.
var ErrBadRequest = errors.New("replay: bad request")

// OpenRequest opens an interactive session. With HTML set, the document is
// parsed in memory (URL only resolves script sources); otherwise URL is
// acquired at StealthLevel.
type OpenRequest struct {
	URL          string `json:"url"`
	HTML         string `json:"html,omitempty"`
	PageID       string `json:"page_id,omitempty"`
	StealthLevel string `json:"stealth_level,omitempty"`
	MaxSteps     int    `json:"max_steps,omitempty"`
}

// SessionInfo describes an open session.
type SessionInfo struct {
	ID      string `json:"id"`
	PageID  string `json:"page_id"`
	PageURL string `json:"page_url"`
	Stealth string `json:"stealth"`
	Nodes   int    `json:"nodes"`
	Scripts int    `json:"scripts"`
	Pending int    `json:"pending"`
	State   string `json:"state"`
	Rounds  int    `json:"rounds"`
}

// AdvanceResult is the outcome of one interactive advance. Detached means
// the page removed the next script before its turn; nothing was activated
// and the caller advances again while HasMore holds.
type AdvanceResult struct {
	Type       string `json:"type"`
	Payload    string `json:"payload"`
	HasMore    bool   `json:"has_more"`
	Detached   bool   `json:"detached,omitempty"`
	Discovered int    `json:"discovered"`
}

// NodeInfo describes the node found at a snapshot path.
type NodeInfo struct {
	Path       tree.Path         `json:"path"`
	Kind       string            `json:"kind"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Service keeps interactive sessions: the caller advances and diffs at its
// own pace instead of the driver's. Sessions are independent; each one is
// serialised by its own lock.
type Service struct {
	rep    *Replayer
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*live
}

type live struct {
	mu     sync.Mutex
	info   SessionInfo
	target *target
	sess   *session.Session
	found  int // discovered scripts not yet reported by Advance
}

// drain marks and queues the scripts the page inserted since the last drain.
func (l *live) drain(log *slog.Logger) {
	l.found += driver.EnqueueDiscovered(l.sess, l.target.feed, log)
}

// NewService creates a Service backed by rep.
func NewService(rep *Replayer) *Service {
	return &Service{
		rep:      rep,
		logger:   rep.logger,
		sessions: make(map[string]*live),
	}
}

// Replayer returns the backing Replayer.
func (s *Service) Replayer() *Replayer { return s.rep }

// Open acquires a document and builds its initial snapshot.
func (s *Service) Open(ctx context.Context, req OpenRequest) (SessionInfo, error) {
	if req.URL == "" && req.HTML == "" {
		return SessionInfo{}, fmt.Errorf("%w: url or html is required", ErrBadRequest)
	}
	p := s.rep.pageDefaults(PageConfig{
		ID:           req.PageID,
		URL:          req.URL,
		StealthLevel: req.StealthLevel,
		MaxSteps:     req.MaxSteps,
	})

	var (
		t   *target
		err error
	)
	if req.HTML != "" {
		t, err = s.parse(req)
	} else {
		t, err = s.fetch(ctx, p)
	}
	if err != nil {
		return SessionInfo{}, err
	}

	sess, err := session.Open(t.doc,
		session.WithLogger(s.logger),
		session.WithMarker(s.rep.Marker()))
	if err != nil {
		t.close()
		return SessionInfo{}, fmt.Errorf("replay: %w", err)
	}

	l := &live{
		info: SessionInfo{
			ID:      s.rep.ids(),
			PageID:  p.ID,
			PageURL: t.url,
			Stealth: t.level.String(),
		},
		target: t,
		sess:   sess,
	}
	s.mu.Lock()
	s.sessions[l.info.ID] = l
	s.mu.Unlock()

	s.logger.Info("replay: session opened", "session", l.info.ID, "url", t.url, "stealth", l.info.Stealth)
	return l.snapshot(), nil
}

func (s *Service) fetch(ctx context.Context, p PageConfig) (*target, error) {
	if err := s.checkURL(p.URL); err != nil {
		return nil, err
	}
	// The tab and its listener outlive the opening request.
	return s.rep.open(context.WithoutCancel(ctx), p)
}

func (s *Service) parse(req OpenRequest) (*target, error) {
	var opts []htmldoc.Option
	if req.URL != "" {
		opts = append(opts, htmldoc.WithBaseURL(req.URL))
	}
	opts = append(opts, htmldoc.WithLogger(s.logger))
	doc, err := htmldoc.ParseString(req.HTML, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return staticTarget(doc, req.URL), nil
}

// checkURL vets a URL the service is about to fetch on a caller's behalf.
func (s *Service) checkURL(pageURL string) error {
	if s.rep.cfg.API.AllowPrivate {
		return nil
	}
	if err := urlguard.Check(pageURL); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

func (s *Service) get(id string) (*live, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return l, nil
}

// Info reports the state of a session.
func (s *Service) Info(id string) (SessionInfo, error) {
	l, err := s.get(id)
	if err != nil {
		return SessionInfo{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot(), nil
}

// Advance queues the scripts discovered since the last call, then activates
// the next script. The caller diffs once the script has had time to run.
func (s *Service) Advance(_ context.Context, id string) (AdvanceResult, error) {
	l, err := s.get(id)
	if err != nil {
		return AdvanceResult{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	log := s.logger.With("session", id)
	l.drain(log)
	found := l.found
	l.found = 0

	res, err := l.sess.AdvanceScript()
	if errors.Is(err, schedule.ErrDetached) {
		log.Warn("replay: script detached before activation", "error", err)
		return AdvanceResult{
			HasMore:    l.sess.Pending() > 0,
			Detached:   true,
			Discovered: found,
		}, nil
	}
	if err != nil {
		return AdvanceResult{Discovered: found}, fmt.Errorf("replay: advance: %w", err)
	}
	return AdvanceResult{
		Type:       string(res.Type),
		Payload:    res.Payload,
		HasMore:    res.HasMore,
		Discovered: found,
	}, nil
}

// Diff runs one diff round and returns its events in wire form.
func (s *Service) Diff(_ context.Context, id string) ([]event.Change, error) {
	l, err := s.get(id)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	// Marking inserted scripts first keeps the marker inside their create event.
	l.drain(s.logger.With("session", id))
	events, err := l.sess.Diff()
	if err != nil {
		return nil, fmt.Errorf("replay: diff: %w", err)
	}
	changes := event.FromDiff(events)
	if changes == nil {
		changes = []event.Change{}
	}
	return changes, nil
}

// FindPaths returns the snapshot paths of the nodes matching a CSS selector
// or, when xpath is set, an XPath expression.
func (s *Service) FindPaths(_ context.Context, id, selector, xpath string) ([]tree.Path, error) {
	if (selector == "") == (xpath == "") {
		return nil, fmt.Errorf("%w: exactly one of selector or xpath is required", ErrBadRequest)
	}
	l, err := s.get(id)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if xpath != "" {
		return l.sess.FindPathsMatchingXPath(xpath), nil
	}
	return l.sess.FindPathsMatchingSelector(selector), nil
}

// Node looks up the node at a snapshot path.
func (s *Service) Node(_ context.Context, id string, path tree.Path) (NodeInfo, error) {
	if path == "" {
		return NodeInfo{}, fmt.Errorf("%w: path is required", ErrBadRequest)
	}
	l, err := s.get(id)
	if err != nil {
		return NodeInfo{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.sess.FindNodeByPath(path)
	if !ok {
		return NodeInfo{}, fmt.Errorf("%w: %s", ErrNodeNotFound, path)
	}
	info := NodeInfo{Path: path, Kind: n.Kind().String()}
	if attrs, ok := l.sess.Attributes(n); ok && len(attrs) > 0 {
		info.Attributes = attrs
	}
	return info, nil
}

// Close discards a session and releases its page.
func (s *Service) Close(id string) error {
	s.mu.Lock()
	l, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.target.close()
	s.logger.Info("replay: session closed", "session", id, "rounds", l.sess.Rounds())
	return nil
}

// CloseAll discards every session.
func (s *Service) CloseAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		_ = s.Close(id)
	}
}

// Replay runs a full replay. HTML requests are dry-run in memory.
func (s *Service) Replay(ctx context.Context, req OpenRequest) (event.Run, error) {
	if req.URL == "" && req.HTML == "" {
		return event.Run{}, fmt.Errorf("%w: url or html is required", ErrBadRequest)
	}
	if req.HTML != "" {
		t, err := s.parse(req)
		if err != nil {
			return event.Run{}, err
		}
		p := s.rep.pageDefaults(PageConfig{ID: req.PageID, URL: req.URL, StealthLevel: "0", MaxSteps: req.MaxSteps})
		return s.rep.replay(ctx, t, p)
	}
	if err := s.checkURL(req.URL); err != nil {
		return event.Run{}, err
	}
	return s.rep.ReplayPage(ctx, PageConfig{
		ID:           req.PageID,
		URL:          req.URL,
		StealthLevel: req.StealthLevel,
		MaxSteps:     req.MaxSteps,
	})
}

func (l *live) snapshot() SessionInfo {
	info := l.info
	info.Nodes = l.sess.NodeCount()
	info.Scripts = l.sess.Scripts()
	info.Pending = l.sess.Pending()
	info.State = l.sess.State().String()
	info.Rounds = l.sess.Rounds()
	return info
}
