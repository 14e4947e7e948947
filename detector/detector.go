// Package detector watches network exchanges for podcast media files.
package detector

import (
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/robertmeta/podcatch/model"
)

// mediaExtensions are the file extensions that mark an audio stream.
var mediaExtensions = []string{".mp3", ".m4a"}

// Sender delivers a notification to the focused overlay.
type Sender interface {
	Send(n model.Notification) (<-chan int, bool)
}

// Detector turns matching URLs into MediaDetected notifications.
// It keeps no state; every match produces a new notification.
type Detector struct {
	sender Sender
	logger *slog.Logger
}

// New creates a Detector sending through sender.
func New(sender Sender, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Detector{
		sender: sender,
		logger: logger.With(slog.String("component", "detector")),
	}
}

// Match reports whether rawURL points at a media file: an http(s) URL whose
// path contains .mp3 or .m4a, in any case, optionally followed by more path
// or a query string.
func Match(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return false
	}

	path := strings.ToLower(u.Path)
	for _, ext := range mediaExtensions {
		if strings.Contains(path, ext) {
			return true
		}
	}
	return false
}

// Observe checks one exchange. On a match it emits exactly one
// MediaDetected notification and reports true. Notifications nobody
// receives are dropped.
func (d *Detector) Observe(rawURL string) bool {
	if !Match(rawURL) {
		return false
	}

	n := model.NewMediaDetected(rawURL)
	if _, ok := d.sender.Send(n); !ok {
		d.logger.Debug("media detected but no overlay listening",
			slog.String("url", rawURL),
			slog.String("notification_id", n.ID))
		return true
	}

	d.logger.Info("media detected",
		slog.String("url", rawURL),
		slog.String("notification_id", n.ID))
	return true
}
