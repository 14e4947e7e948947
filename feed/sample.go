// Package feed writes and reads the feed sample that accompanies an export.
//
// The sample is an XML fragment of RSS <item> elements, one per record, meant
// to be pasted into the channel of a hosted podcast feed.
package feed

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/robertmeta/podcatch/model"
	"github.com/robertmeta/podcatch/naming"
)

// SampleFile is the name of the feed sample in an export directory.
const SampleFile = "feed.sample.xml"

// DefaultPubDate is the publication date written on every sample item.
const DefaultPubDate = "Thu, 04 Jan 2024"

// SampleOptions control the generated items.
type SampleOptions struct {
	Host    string // host serving the converted mp3 files
	PubDate string // omitted when empty
}

// Item is one <item> of the sample.
type Item struct {
	XMLName   xml.Name  `xml:"item"`
	Title     string    `xml:"title"`
	Enclosure Enclosure `xml:"enclosure"`
	Duration  string    `xml:"itunes:duration"`
	PubDate   string    `xml:"pubDate,omitempty"`
}

// Enclosure points at the hosted media file.
type Enclosure struct {
	URL  string `xml:"url,attr"`
	Type string `xml:"type,attr"`
}

// SampleItem builds the item for r.
func SampleItem(r model.Record, opts SampleOptions) Item {
	return Item{
		Title: naming.FeedTitle(r.Title),
		Enclosure: Enclosure{
			URL:  fmt.Sprintf("https://%s/%s.mp3", opts.Host, naming.Filename(r.Title)),
			Type: "audio/mpeg",
		},
		Duration: r.Duration,
		PubDate:  opts.PubDate,
	}
}

// GenerateSample writes one <item> per record to w, in list order.
func GenerateSample(w io.Writer, list model.List, opts SampleOptions) error {
	items := make([]Item, 0, len(list))
	for _, r := range list {
		items = append(items, SampleItem(r, opts))
	}
	return WriteItems(w, items)
}

// WriteItems writes items as a sample fragment, one <item> after another.
func WriteItems(w io.Writer, items []Item) error {
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")

	// The indenting encoder separates top-level items with one newline.
	for _, item := range items {
		if err := encoder.Encode(item); err != nil {
			return fmt.Errorf("failed to encode feed item: %w", err)
		}
	}
	if err := encoder.Close(); err != nil {
		return err
	}

	if len(items) > 0 {
		if _, err := io.WriteString(w, "\n"); err != nil {
			return fmt.Errorf("failed to write feed sample: %w", err)
		}
	}
	return nil
}
