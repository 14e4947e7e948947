// Package model defines the core data structures for podcatch.
package model

import (
	"errors"

	"github.com/google/uuid"
)

// Record represents one curated podcast episode.
type Record struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Duration string `json:"duration,omitempty"`
}

// Validate checks if the record has required fields.
func (r *Record) Validate() error {
	if r.URL == "" {
		return errors.New("record URL is required")
	}
	return nil
}

// List is the ordered curated list of records.
// Records are identified by URL; the list itself does not enforce uniqueness.
type List []Record

// Append returns a new list with r added at the end.
func (l List) Append(r Record) List {
	out := make(List, 0, len(l)+1)
	out = append(out, l...)
	return append(out, r)
}

// Without returns a new list with every record matching url dropped.
func (l List) Without(url string) List {
	out := make(List, 0, len(l))
	for _, r := range l {
		if r.URL != url {
			out = append(out, r)
		}
	}
	return out
}

// Contains checks if a record with the given url is in the list.
func (l List) Contains(url string) bool {
	for _, r := range l {
		if r.URL == url {
			return true
		}
	}
	return false
}

// Field names the draft field the next page click fills.
type Field string

const (
	FieldTitle    Field = "title"
	FieldDuration Field = "duration"
)

// ParseField converts a field name into a Field.
func ParseField(s string) (Field, error) {
	switch Field(s) {
	case FieldTitle, FieldDuration:
		return Field(s), nil
	}
	return "", errors.New("unknown field: " + s)
}

// NotificationType identifies a cross-context message.
type NotificationType string

const (
	MediaDetected    NotificationType = "media_detected"
	ToggleVisibility NotificationType = "toggle_visibility"
)

// Notification is an at-most-once message between the detector, the
// exporter and an overlay.
type Notification struct {
	ID   string           `json:"id"`
	Type NotificationType `json:"type"`
	URL  string           `json:"url,omitempty"`
}

// NewMediaDetected builds a MediaDetected notification for url.
func NewMediaDetected(url string) Notification {
	return Notification{ID: uuid.NewString(), Type: MediaDetected, URL: url}
}

// NewToggleVisibility builds a ToggleVisibility notification.
func NewToggleVisibility() Notification {
	return Notification{ID: uuid.NewString(), Type: ToggleVisibility}
}
