// Package download is the host download capability: a small worker pool
// that saves files under a base directory.
//
// Requests are fire-and-forget. Enqueue never reports how a download ends;
// failures are logged and otherwise ignored.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
)

// Request asks for one file. SourceURL is fetched over HTTP unless Body is
// set, in which case Body is written as is. Destination is relative to the
// manager's base directory and uses forward slashes.
type Request struct {
	SourceURL   string
	Body        []byte
	Destination string
}

// Enqueuer accepts download requests.
type Enqueuer interface {
	Enqueue(r Request) bool
}

// Manager downloads requests with a fixed number of workers.
type Manager struct {
	baseDir string
	client  *http.Client
	queue   chan Request
	pending sync.WaitGroup
	workers int
	logger  *slog.Logger
}

// NewManager creates a manager saving under baseDir. A nil client uses
// http.DefaultClient.
func NewManager(baseDir string, workers, queueSize int, client *http.Client, logger *slog.Logger) *Manager {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		baseDir: baseDir,
		client:  client,
		queue:   make(chan Request, queueSize),
		workers: workers,
		logger:  logger.With(slog.String("component", "download")),
	}
}

// Start launches the workers. They stop when ctx is canceled.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.workers; i++ {
		go m.work(ctx)
	}
}

// Enqueue queues r without blocking. It returns false if the queue is full
// and the request was dropped.
func (m *Manager) Enqueue(r Request) bool {
	m.pending.Add(1)
	select {
	case m.queue <- r:
		return true
	default:
		m.pending.Done()
		m.logger.Warn("download queue full, request dropped",
			slog.String("destination", r.Destination))
		return false
	}
}

// EnqueueWait queues r, blocking while the queue is full. It returns false
// if ctx ends first.
func (m *Manager) EnqueueWait(ctx context.Context, r Request) bool {
	m.pending.Add(1)
	select {
	case m.queue <- r:
		return true
	case <-ctx.Done():
		m.pending.Done()
		m.logger.Warn("download canceled before queueing",
			slog.String("destination", r.Destination))
		return false
	}
}

// Blocking adapts the manager to Enqueuer with back-pressure: every Enqueue
// waits for room in the queue until ctx ends.
func (m *Manager) Blocking(ctx context.Context) Enqueuer {
	return blockingEnqueuer{m: m, ctx: ctx}
}

type blockingEnqueuer struct {
	m   *Manager
	ctx context.Context
}

func (b blockingEnqueuer) Enqueue(r Request) bool {
	return b.m.EnqueueWait(b.ctx, r)
}

// Wait blocks until every queued request has been processed.
func (m *Manager) Wait() {
	m.pending.Wait()
}

func (m *Manager) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-m.queue:
			if err := m.fetch(ctx, r); err != nil {
				m.logger.Warn("download failed",
					slog.String("url", r.SourceURL),
					slog.String("destination", r.Destination),
					slog.Any("error", err))
			}
			m.pending.Done()
		}
	}
}

func (m *Manager) fetch(ctx context.Context, r Request) error {
	dest, err := m.resolve(r.Destination)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	if r.Body != nil {
		if err := os.WriteFile(dest, r.Body, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", dest, err)
		}
		m.logger.Info("file saved",
			slog.String("destination", r.Destination),
			slog.String("size", humanize.Bytes(uint64(len(r.Body)))))
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.SourceURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// Each download gets its own partial file; records may share a name.
	out, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create partial file for %s: %w", dest, err)
	}
	part := out.Name()
	written, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(part)
		return fmt.Errorf("failed to save %s: %w", dest, err)
	}
	if err := os.Chmod(part, 0644); err != nil {
		os.Remove(part)
		return fmt.Errorf("failed to set mode of %s: %w", dest, err)
	}
	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return fmt.Errorf("failed to move %s into place: %w", dest, err)
	}

	m.logger.Info("download complete",
		slog.String("url", r.SourceURL),
		slog.String("destination", r.Destination),
		slog.String("size", humanize.Bytes(uint64(written))))
	return nil
}

// resolve maps a destination onto the base directory, refusing paths that
// would leave it.
func (m *Manager) resolve(destination string) (string, error) {
	if destination == "" {
		return "", errors.New("empty destination")
	}
	rel := filepath.Clean(filepath.FromSlash(destination))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("destination escapes download directory: %s", destination)
	}
	return filepath.Join(m.baseDir, rel), nil
}
