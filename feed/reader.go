package feed

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/mmcdole/gofeed"
)

// envelope wraps a sample fragment into a parseable RSS document.
const (
	envelopeStart = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd"><channel><title>feed sample</title>
`
	envelopeEnd = "\n</channel></rss>\n"
)

// Entry is an item read back from a feed sample.
type Entry struct {
	Title    string
	Filename string // last path segment of the enclosure url
	Duration string
}

// Reader parses feed samples.
type Reader struct {
	parser *gofeed.Parser
}

// NewReader creates a new Reader.
func NewReader() *Reader {
	return &Reader{
		parser: gofeed.NewParser(),
	}
}

// ParseSample parses a sample fragment.
func (r *Reader) ParseSample(content string) ([]Entry, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("feed sample is empty")
	}

	parsed, err := r.parser.ParseString(envelopeStart + content + envelopeEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed sample: %w", err)
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		entries = append(entries, convertItem(item))
	}
	return entries, nil
}

// ParseItems parses a sample fragment back into items that WriteItems can
// write again.
func (r *Reader) ParseItems(content string) ([]Item, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("feed sample is empty")
	}

	parsed, err := r.parser.ParseString(envelopeStart + content + envelopeEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed sample: %w", err)
	}

	items := make([]Item, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		item := Item{Title: it.Title, PubDate: it.Published}
		if len(it.Enclosures) > 0 {
			item.Enclosure = Enclosure{URL: it.Enclosures[0].URL, Type: it.Enclosures[0].Type}
		}
		if it.ITunesExt != nil {
			item.Duration = it.ITunesExt.Duration
		}
		items = append(items, item)
	}
	return items, nil
}

// ReadSampleFile parses the sample stored at path.
func (r *Reader) ReadSampleFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed sample: %w", err)
	}
	return r.ParseSample(string(data))
}

func convertItem(item *gofeed.Item) Entry {
	entry := Entry{Title: item.Title}

	if len(item.Enclosures) > 0 {
		entry.Filename = path.Base(item.Enclosures[0].URL)
	}
	if item.ITunesExt != nil {
		entry.Duration = item.ITunesExt.Duration
	}

	return entry
}

// TitleFor returns the title of the entry whose enclosure is filename.
func TitleFor(entries []Entry, filename string) (string, bool) {
	for _, e := range entries {
		if e.Filename == filename {
			return e.Title, true
		}
	}
	return "", false
}
