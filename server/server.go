// Package server exposes the overlays of open pages and the exporter over a
// JSON HTTP control API.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/robertmeta/podcatch/bus"
	"github.com/robertmeta/podcatch/detector"
	"github.com/robertmeta/podcatch/export"
	"github.com/robertmeta/podcatch/overlay"
	"github.com/robertmeta/podcatch/store"
	"github.com/robertmeta/podcatch/titles"
)

// ErrPageNotFound is returned for an unknown page id.
var ErrPageNotFound = errors.New("page not found")

// maxPageSize caps page HTML fetched by the server.
const maxPageSize = 8 << 20

// Deps are the shared components every page talks to.
type Deps struct {
	Records  store.Records
	Flags    store.Flags
	Bus      *bus.Bus
	Detector *detector.Detector
	Exporter *export.Exporter
}

// Options tune the pages opened by the server.
type Options struct {
	Overlay overlay.Config
	Rules   *titles.Table
	View    overlay.View
	// ExportDir is used when an export request names no directory.
	ExportDir string
	// Client fetches page HTML when a page is opened without it.
	Client *http.Client
}

type page struct {
	overlay *overlay.Overlay
	cancel  context.CancelFunc
}

// Server owns the open pages. Each page runs its overlay in its own
// goroutine until it is closed or the server context ends.
type Server struct {
	deps   Deps
	opts   Options
	ctx    context.Context
	logger *slog.Logger

	mu    sync.Mutex
	pages map[string]*page
}

// New creates a Server. Page overlays stop when ctx is canceled.
func New(ctx context.Context, deps Deps, opts Options, logger *slog.Logger) (*Server, error) {
	if deps.Records == nil || deps.Flags == nil {
		return nil, errors.New("server requires a record and flag store")
	}
	if deps.Bus == nil {
		return nil, errors.New("server requires a bus")
	}
	if opts.Rules == nil {
		opts.Rules = titles.NewTable(titles.DefaultRules)
	}
	if opts.ExportDir == "" {
		opts.ExportDir = export.CreatorDir
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Server{
		deps:   deps,
		opts:   opts,
		ctx:    ctx,
		logger: logger.With(slog.String("component", "server")),
		pages:  make(map[string]*page),
	}, nil
}

// OpenPage starts an overlay for the page, registers it on the bus and
// focuses it. Empty html is fetched from pageURL. It returns once the
// overlay has restored its state.
func (s *Server) OpenPage(ctx context.Context, pageURL, html string) (string, overlay.State, error) {
	if pageURL == "" {
		return "", overlay.State{}, errors.New("page url is required")
	}
	if html == "" {
		fetched, err := s.fetchPage(ctx, pageURL)
		if err != nil {
			return "", overlay.State{}, err
		}
		html = fetched
	}

	id := uuid.NewString()
	ov, err := overlay.New(id, pageURL, html, overlay.Deps{
		Records: s.deps.Records,
		Flags:   s.deps.Flags,
		Rules:   s.opts.Rules,
		View:    s.opts.View,
		Logger:  s.logger,
	}, s.opts.Overlay)
	if err != nil {
		return "", overlay.State{}, err
	}

	pctx, cancel := context.WithCancel(s.ctx)
	go ov.Run(pctx)

	// The first task only runs once Run has initialized the overlay.
	state, err := ov.Snapshot(ctx)
	if err != nil {
		cancel()
		return "", overlay.State{}, fmt.Errorf("failed to start overlay: %w", err)
	}

	s.mu.Lock()
	s.pages[id] = &page{overlay: ov, cancel: cancel}
	s.mu.Unlock()

	s.deps.Bus.Register(id, ov)
	s.deps.Bus.Focus(id)

	s.logger.Info("page opened", slog.String("page", id), slog.String("url", pageURL))
	return id, state, nil
}

// Page returns the overlay of an open page.
func (s *Server) Page(id string) (*overlay.Overlay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pages[id]
	if !ok {
		return nil, ErrPageNotFound
	}
	return p.overlay, nil
}

// Focus makes the page the target of detections.
func (s *Server) Focus(id string) error {
	if !s.deps.Bus.Focus(id) {
		return ErrPageNotFound
	}
	return nil
}

// ClosePage stops the page's overlay and removes it from the bus.
func (s *Server) ClosePage(id string) error {
	s.mu.Lock()
	p, ok := s.pages[id]
	delete(s.pages, id)
	s.mu.Unlock()

	if !ok {
		return ErrPageNotFound
	}

	s.deps.Bus.Unregister(id)
	p.cancel()
	<-p.overlay.Done()

	s.logger.Info("page closed", slog.String("page", id))
	return nil
}

// Close stops every open page.
func (s *Server) Close() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pages))
	for id := range s.pages {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.ClosePage(id)
	}
}

func (s *Server) fetchPage(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.opts.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", fmt.Errorf("failed to read page: %w", err)
	}
	return string(body), nil
}
