// Package export turns the curated list into download requests and a feed
// sample.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/robertmeta/podcatch/download"
	"github.com/robertmeta/podcatch/feed"
	"github.com/robertmeta/podcatch/model"
	"github.com/robertmeta/podcatch/naming"
	"github.com/robertmeta/podcatch/store"
)

// Export directories offered by the control surface.
const (
	CreatorDir = "podcast_creator"
	CutDir     = "podcasts_to_cut"
)

// Sender delivers a notification to the focused overlay.
type Sender interface {
	Send(n model.Notification) (<-chan int, bool)
}

// Plan describes the requests issued by one export.
type Plan struct {
	Dir     string   `json:"dir"`
	Files   []string `json:"files"`
	Sample  string   `json:"sample"`
	Dropped int      `json:"dropped"` // requests refused by a full download queue
}

// Exporter reads the record list and hands every file to the downloader.
type Exporter struct {
	records   store.Records
	downloads download.Enqueuer
	sender    Sender
	opts      feed.SampleOptions
	logger    *slog.Logger
}

// New creates an Exporter.
func New(records store.Records, downloads download.Enqueuer, sender Sender, opts feed.SampleOptions, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Exporter{
		records:   records,
		downloads: downloads,
		sender:    sender,
		opts:      opts,
		logger:    logger.With(slog.String("component", "export")),
	}
}

// ExportAll requests one download per record into targetDir, then the feed
// sample. Requests are fire-and-forget; only reading the list can fail.
func (e *Exporter) ExportAll(ctx context.Context, targetDir string) (Plan, error) {
	targetDir = strings.TrimRight(strings.TrimSpace(targetDir), "/")
	if targetDir == "" {
		return Plan{}, errors.New("target directory is required")
	}

	list, err := e.records.Load(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to load record list: %w", err)
	}

	plan := Plan{Dir: targetDir, Files: []string{}}
	for _, r := range list {
		dest := naming.File(targetDir, r.Title, r.URL)
		if !e.downloads.Enqueue(download.Request{SourceURL: r.URL, Destination: dest}) {
			plan.Dropped++
		}
		plan.Files = append(plan.Files, dest)
	}

	var sample bytes.Buffer
	if err := feed.GenerateSample(&sample, list, e.opts); err != nil {
		return plan, err
	}
	plan.Sample = targetDir + "/" + feed.SampleFile
	// A nil body would be read as a URL download.
	body := append([]byte{}, sample.Bytes()...)
	if !e.downloads.Enqueue(download.Request{Body: body, Destination: plan.Sample}) {
		plan.Dropped++
	}

	e.logger.Info("export requested",
		slog.String("dir", targetDir),
		slog.Int("records", len(list)),
		slog.Int("dropped", plan.Dropped))
	return plan, nil
}

// RequestToggleOverlay asks the focused overlay to show or hide itself.
// It reports whether the notification was delivered.
func (e *Exporter) RequestToggleOverlay() bool {
	n := model.NewToggleVisibility()
	_, ok := e.sender.Send(n)
	if !ok {
		e.logger.Debug("no overlay to toggle", slog.String("notification_id", n.ID))
	}
	return ok
}
