// Package tagger reconciles exported mp3s with the feed sample of their
// directory: titles go from the sample into the ID3 tags, durations go from
// the ID3 tags back into the sample.
package tagger

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bogem/id3v2"
	"github.com/robertmeta/podcatch/feed"
)

// Result lists the files that were tagged and the ones with no sample item.
type Result struct {
	Tagged  []string `json:"tagged"`
	Skipped []string `json:"skipped"`
}

// ApplyTitles sets the ID3 title of every mp3 in dir whose name matches an
// enclosure of dir/feed.sample.xml.
func ApplyTitles(dir string, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With(slog.String("component", "tagger"))

	entries, err := feed.NewReader().ReadSampleFile(filepath.Join(dir, feed.SampleFile))
	if err != nil {
		return Result{}, err
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.mp3"))
	if err != nil {
		return Result{}, fmt.Errorf("failed to list mp3 files: %w", err)
	}
	sort.Strings(files)

	result := Result{Tagged: []string{}, Skipped: []string{}}
	for _, path := range files {
		name := filepath.Base(path)
		title, ok := feed.TitleFor(entries, name)
		if !ok {
			logger.Debug("no feed item for file", slog.String("file", name))
			result.Skipped = append(result.Skipped, name)
			continue
		}

		if err := setTitle(path, title); err != nil {
			return result, err
		}
		logger.Info("title tagged", slog.String("file", name), slog.String("title", title))
		result.Tagged = append(result.Tagged, name)
	}

	return result, nil
}

// DurationResult lists the sample items whose duration was filled in and the
// backup the previous sample was moved to.
type DurationResult struct {
	Filled  []string `json:"filled"`
	Skipped []string `json:"skipped"`
	Backup  string   `json:"backup,omitempty"`
}

// backupLayout is the timestamp suffix of a replaced sample.
const backupLayout = "060102_150405"

// FillDurations writes the length of every mp3 in dir into the
// itunes:duration of its item in dir/feed.sample.xml. The length comes from
// the ID3 TLEN frame; files without one are skipped. When anything changes,
// the previous sample is kept as feed.sample_<now>.xml.
func FillDurations(dir string, now time.Time, logger *slog.Logger) (DurationResult, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With(slog.String("component", "tagger"))

	samplePath := filepath.Join(dir, feed.SampleFile)
	content, err := os.ReadFile(samplePath)
	if err != nil {
		return DurationResult{}, fmt.Errorf("failed to read feed sample: %w", err)
	}
	items, err := feed.NewReader().ParseItems(string(content))
	if err != nil {
		return DurationResult{}, err
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.mp3"))
	if err != nil {
		return DurationResult{}, fmt.Errorf("failed to list mp3 files: %w", err)
	}
	sort.Strings(files)

	result := DurationResult{Filled: []string{}, Skipped: []string{}}
	for _, path := range files {
		name := filepath.Base(path)
		i := itemFor(items, name)
		if i < 0 {
			result.Skipped = append(result.Skipped, name)
			continue
		}

		length, ok, err := readLength(path)
		if err != nil {
			return result, err
		}
		if !ok {
			logger.Debug("no length tag", slog.String("file", name))
			result.Skipped = append(result.Skipped, name)
			continue
		}

		items[i].Duration = FormatDuration(length)
		logger.Info("duration filled", slog.String("file", name), slog.String("duration", items[i].Duration))
		result.Filled = append(result.Filled, name)
	}

	if len(result.Filled) == 0 {
		return result, nil
	}

	var out bytes.Buffer
	if err := feed.WriteItems(&out, items); err != nil {
		return result, err
	}

	ext := filepath.Ext(feed.SampleFile)
	backup := strings.TrimSuffix(feed.SampleFile, ext) + "_" + now.Format(backupLayout) + ext
	if err := os.Rename(samplePath, filepath.Join(dir, backup)); err != nil {
		return result, fmt.Errorf("failed to back up feed sample: %w", err)
	}
	result.Backup = backup

	if err := os.WriteFile(samplePath, out.Bytes(), 0644); err != nil {
		return result, fmt.Errorf("failed to write feed sample: %w", err)
	}
	return result, nil
}

// FormatDuration renders d as hh:mm:ss, dropping fractions of a second.
func FormatDuration(d time.Duration) string {
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total%3600/60, total%60)
}

func itemFor(items []feed.Item, filename string) int {
	for i, item := range items {
		if item.Enclosure.URL != "" && path.Base(item.Enclosure.URL) == filename {
			return i
		}
	}
	return -1
}

// readLength reads the TLEN frame, the audio length in milliseconds.
func readLength(path string) (time.Duration, bool, error) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return 0, false, fmt.Errorf("id3 open error: %w", err)
	}
	defer tag.Close()

	text := strings.TrimSpace(tag.GetTextFrame("TLEN").Text)
	if text == "" {
		return 0, false, nil
	}
	ms, err := strconv.ParseInt(text, 10, 64)
	if err != nil || ms <= 0 {
		return 0, false, nil
	}
	return time.Duration(ms) * time.Millisecond, true, nil
}

func setTitle(path, title string) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("id3 open error: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(3)
	tag.SetTitle(title)

	if err := tag.Save(); err != nil {
		return fmt.Errorf("failed to save id3 tag of %s: %w", filepath.Base(path), err)
	}
	return nil
}
