// Package overlay holds the per-page state machine: the draft record being
// built, the selection cursor and the overlay visibility.
//
// One goroutine (Run) owns all of that state. Bus notifications, user
// actions and the delayed title inference are all posted to its task queue,
// so transitions never run concurrently. Every list change is a full
// load-modify-save round trip against the store; nothing is cached.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/robertmeta/podcatch/model"
	"github.com/robertmeta/podcatch/store"
	"github.com/robertmeta/podcatch/titles"
)

// VisibleFlag is the session flag that remembers whether the overlay is shown.
const VisibleFlag = "podcast-window-visible"

// Ack is the acknowledgement sent for every bus notification.
const Ack = 0

// ErrClosed is returned for actions sent to an overlay that has stopped.
var ErrClosed = errors.New("overlay is closed")

// Config tunes overlay behavior.
type Config struct {
	// InferDelay is how long to wait after a detection before reading the
	// title from the page, so the page can finish rendering it.
	InferDelay time.Duration
	// AdvanceCursor moves the cursor from title to duration (and back) after
	// each click. When false the cursor stays where it was put.
	AdvanceCursor bool
	// DefaultVisible applies when no visibility flag was saved yet.
	DefaultVisible bool
	// Session scopes the visibility flag to one browsing session.
	Session string
}

// DefaultConfig returns the default overlay configuration.
func DefaultConfig() Config {
	return Config{
		InferDelay:     800 * time.Millisecond,
		AdvanceCursor:  true,
		DefaultVisible: true,
	}
}

// Deps are the collaborators of an overlay.
type Deps struct {
	Records store.Records
	Flags   store.Flags
	Rules   *titles.Table
	View    View
	Logger  *slog.Logger
}

// State is a copy of the overlay state.
type State struct {
	Page    string       `json:"page"`
	Visible bool         `json:"visible"`
	Draft   model.Record `json:"draft"`
	Cursor  model.Field  `json:"cursor"`
	List    model.List   `json:"list"`
}

type task struct {
	fn   func() error
	done chan error
}

// Overlay is the state machine attached to one page.
type Overlay struct {
	id      string
	pageURL string
	origin  string

	records store.Records
	flags   store.Flags
	rules   *titles.Table
	view    View
	cfg     Config
	logger  *slog.Logger

	tasks   chan task
	done    chan struct{}
	started atomic.Bool
	ctx     context.Context

	// Owned by the Run goroutine.
	doc     *goquery.Document
	draft   model.Record
	cursor  model.Field
	visible bool
	list    model.List
}

// New creates an overlay for the page at pageURL with the given HTML.
func New(id, pageURL, html string, deps Deps, cfg Config) (*Overlay, error) {
	if deps.Records == nil {
		return nil, errors.New("overlay requires a record store")
	}
	if deps.Flags == nil {
		return nil, errors.New("overlay requires a flag store")
	}
	if deps.Rules == nil {
		deps.Rules = titles.NewTable()
	}
	if deps.View == nil {
		deps.View = NopView{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	doc, err := parseHTML(html)
	if err != nil {
		return nil, err
	}

	return &Overlay{
		id:      id,
		pageURL: pageURL,
		origin:  originOf(pageURL),
		records: deps.Records,
		flags:   deps.Flags,
		rules:   deps.Rules,
		view:    deps.View,
		cfg:     cfg,
		logger:  deps.Logger.With(slog.String("component", "overlay"), slog.String("page", id)),
		tasks:   make(chan task, 16),
		done:    make(chan struct{}),
		ctx:     context.Background(),
		doc:     doc,
		cursor:  model.FieldTitle,
		list:    model.List{},
	}, nil
}

// ID returns the page id of the overlay.
func (o *Overlay) ID() string {
	return o.id
}

// Done is closed once Run has returned.
func (o *Overlay) Done() <-chan struct{} {
	return o.done
}

// Run restores the saved visibility, draws the list and then processes
// tasks until ctx is canceled.
func (o *Overlay) Run(ctx context.Context) {
	defer close(o.done)
	o.ctx = ctx

	o.restoreVisibility()
	if list, err := o.records.Load(ctx); err != nil {
		o.logger.Warn("failed to load record list", slog.Any("error", err))
	} else {
		o.list = list
	}
	o.render()
	o.started.Store(true)

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-o.tasks:
			err := t.fn()
			if t.done != nil {
				t.done <- err
			}
		}
	}
}

// Deliver accepts a bus notification without blocking. Notifications that
// arrive before Run has initialized the overlay, after it stopped, or while
// the queue is full are refused.
func (o *Overlay) Deliver(n model.Notification) (<-chan int, bool) {
	if !o.started.Load() {
		return nil, false
	}
	select {
	case <-o.done:
		return nil, false
	default:
	}

	reply := make(chan int, 1)
	t := task{fn: func() error {
		o.handle(n)
		reply <- Ack
		return nil
	}}

	select {
	case o.tasks <- t:
		return reply, true
	default:
		return nil, false
	}
}

// Click fills the field under the cursor with text clicked on the page.
func (o *Overlay) Click(ctx context.Context, text string) error {
	return o.call(ctx, func() error {
		o.click(text)
		return nil
	})
}

// FocusField moves the cursor to field.
func (o *Overlay) FocusField(ctx context.Context, field model.Field) error {
	return o.call(ctx, func() error {
		o.cursor = field
		o.render()
		return nil
	})
}

// SetHTML replaces the page document, as when the page re-renders.
func (o *Overlay) SetHTML(ctx context.Context, html string) error {
	doc, err := parseHTML(html)
	if err != nil {
		return err
	}
	return o.call(ctx, func() error {
		o.doc = doc
		return nil
	})
}

// Add appends the draft to the stored list. The draft is kept as is.
func (o *Overlay) Add(ctx context.Context) error {
	return o.call(ctx, o.addCurrent)
}

// Remove drops every stored record with the given url.
func (o *Overlay) Remove(ctx context.Context, recordURL string) error {
	return o.call(ctx, func() error {
		return o.remove(recordURL)
	})
}

// Toggle flips the overlay visibility.
func (o *Overlay) Toggle(ctx context.Context) error {
	return o.call(ctx, o.toggle)
}

// Snapshot returns a copy of the current state.
func (o *Overlay) Snapshot(ctx context.Context) (State, error) {
	var s State
	err := o.call(ctx, func() error {
		s = o.state()
		return nil
	})
	return s, err
}

func (o *Overlay) call(ctx context.Context, fn func() error) error {
	t := task{fn: fn, done: make(chan error, 1)}

	select {
	case o.tasks <- t:
	case <-o.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-o.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn from a timer; it is dropped if the overlay stops first.
func (o *Overlay) post(fn func() error) {
	select {
	case o.tasks <- task{fn: fn}:
	case <-o.done:
	}
}

func (o *Overlay) handle(n model.Notification) {
	switch n.Type {
	case model.MediaDetected:
		o.detected(n.URL)
	case model.ToggleVisibility:
		if err := o.toggle(); err != nil {
			o.logger.Warn("failed to toggle overlay", slog.Any("error", err))
		}
	default:
		o.logger.Debug("ignoring notification", slog.String("type", string(n.Type)))
	}
}

func (o *Overlay) detected(mediaURL string) {
	o.draft.URL = mediaURL
	o.cursor = model.FieldTitle
	o.logger.Debug("draft url set", slog.String("url", mediaURL))
	o.render()

	// The inferred title overwrites whatever the user typed meanwhile.
	time.AfterFunc(o.cfg.InferDelay, func() {
		o.post(o.inferTitle)
	})
}

func (o *Overlay) inferTitle() error {
	title := o.rules.Infer(o.pageURL, o.doc)
	if title == "" {
		o.logger.Debug("no title inferred", slog.String("page_url", o.pageURL))
		return nil
	}
	o.draft.Title = title
	o.render()
	return nil
}

func (o *Overlay) click(text string) {
	text = strings.TrimSpace(text)

	switch o.cursor {
	case model.FieldTitle:
		o.draft.Title = text
		if o.cfg.AdvanceCursor {
			o.cursor = model.FieldDuration
		}
	case model.FieldDuration:
		o.draft.Duration = text
		if o.cfg.AdvanceCursor {
			o.cursor = model.FieldTitle
		}
	}
	o.render()
}

func (o *Overlay) addCurrent() error {
	list, err := o.records.Load(o.ctx)
	if err != nil {
		return fmt.Errorf("failed to add record: %w", err)
	}
	list = list.Append(o.draft)
	if err := o.records.Save(o.ctx, list); err != nil {
		return fmt.Errorf("failed to add record: %w", err)
	}

	o.logger.Info("record added", slog.String("url", o.draft.URL), slog.String("title", o.draft.Title))
	o.list = list
	o.render()
	return nil
}

func (o *Overlay) remove(recordURL string) error {
	list, err := o.records.Load(o.ctx)
	if err != nil {
		return fmt.Errorf("failed to remove record: %w", err)
	}
	list = list.Without(recordURL)
	if err := o.records.Save(o.ctx, list); err != nil {
		return fmt.Errorf("failed to remove record: %w", err)
	}

	o.logger.Info("record removed", slog.String("url", recordURL))
	o.list = list
	o.render()
	return nil
}

func (o *Overlay) toggle() error {
	visible := !o.visible
	if err := o.flags.SetFlag(o.ctx, o.cfg.Session, o.origin, VisibleFlag, strconv.FormatBool(visible)); err != nil {
		return err
	}
	o.visible = visible
	o.render()
	return nil
}

func (o *Overlay) restoreVisibility() {
	o.visible = o.cfg.DefaultVisible

	value, found, err := o.flags.GetFlag(o.ctx, o.cfg.Session, o.origin, VisibleFlag)
	if err != nil {
		o.logger.Warn("failed to read visibility flag", slog.Any("error", err))
		return
	}
	if !found {
		return
	}
	if visible, err := strconv.ParseBool(value); err == nil {
		o.visible = visible
	}
}

func (o *Overlay) state() State {
	return State{
		Page:    o.pageURL,
		Visible: o.visible,
		Draft:   o.draft,
		Cursor:  o.cursor,
		List:    append(model.List{}, o.list...),
	}
}

func (o *Overlay) render() {
	o.view.Render(o.state())
}

func parseHTML(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return doc, nil
}

// originOf returns scheme://host for pageURL, or pageURL itself if it does
// not parse.
func originOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return pageURL
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
