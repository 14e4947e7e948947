package overlay

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/robertmeta/podcatch/model"
	"github.com/robertmeta/podcatch/store"
	"github.com/robertmeta/podcatch/titles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPage = "https://shows.example.com/episodes/12"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InferDelay = 20 * time.Millisecond
	cfg.Session = "session-1"
	return cfg
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// start runs an overlay until the test ends.
func start(t *testing.T, s *store.Store, html string, rules *titles.Table, cfg Config) *Overlay {
	t.Helper()

	o, err := New("page-1", testPage, html, Deps{Records: s, Flags: s, Rules: rules}, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go o.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-o.Done()
	})

	require.Eventually(t, o.started.Load, time.Second, time.Millisecond)
	return o
}

func deliver(t *testing.T, o *Overlay, n model.Notification) {
	t.Helper()
	reply, ok := o.Deliver(n)
	require.True(t, ok)
	select {
	case ack := <-reply:
		assert.Equal(t, Ack, ack)
	case <-time.After(time.Second):
		t.Fatal("no acknowledgement")
	}
}

func snapshot(t *testing.T, o *Overlay) State {
	t.Helper()
	s, err := o.Snapshot(context.Background())
	require.NoError(t, err)
	return s
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 800*time.Millisecond, cfg.InferDelay)
	assert.True(t, cfg.AdvanceCursor)
	assert.True(t, cfg.DefaultVisible)
}

func TestMediaDetected_NoHeuristicLeavesTitle(t *testing.T) {
	o := start(t, newStore(t), "<h1>Some heading</h1>", titles.NewTable(), testConfig())

	require.NoError(t, o.Click(context.Background(), "Typed title"))
	deliver(t, o, model.NewMediaDetected("https://cdn/ep1.mp3?x=1"))

	s := snapshot(t, o)
	assert.Equal(t, "https://cdn/ep1.mp3?x=1", s.Draft.URL)
	assert.Equal(t, model.FieldTitle, s.Cursor)
	assert.Equal(t, "Typed title", s.Draft.Title)

	time.Sleep(5 * testConfig().InferDelay)
	s = snapshot(t, o)
	assert.Equal(t, "Typed title", s.Draft.Title, "title unchanged when no site rule matches")
}

func TestMediaDetected_InfersTitleAfterDelay(t *testing.T) {
	rules := titles.NewTable([]titles.Rule{{Host: "shows.example.com", Selector: "h1.episode"}})
	o := start(t, newStore(t), `<h1 class="episode">Episode 12</h1>`, rules, testConfig())

	deliver(t, o, model.NewMediaDetected("https://cdn/ep12.mp3"))

	assert.Eventually(t, func() bool {
		return snapshot(t, o).Draft.Title == "Episode 12"
	}, time.Second, 5*time.Millisecond)
}

func TestMediaDetected_InferenceOverridesUserTitle(t *testing.T) {
	rules := titles.NewTable([]titles.Rule{{Host: "shows.example.com", Selector: "h1.episode"}})
	cfg := testConfig()
	cfg.InferDelay = 50 * time.Millisecond
	o := start(t, newStore(t), `<h1 class="episode">Inferred</h1>`, rules, cfg)

	deliver(t, o, model.NewMediaDetected("https://cdn/ep12.mp3"))
	require.NoError(t, o.Click(context.Background(), "Typed by user"))
	assert.Equal(t, "Typed by user", snapshot(t, o).Draft.Title)

	assert.Eventually(t, func() bool {
		return snapshot(t, o).Draft.Title == "Inferred"
	}, time.Second, 5*time.Millisecond)
}

func TestMediaDetected_InferenceSeesRerenderedPage(t *testing.T) {
	rules := titles.NewTable([]titles.Rule{{Host: "shows.example.com", Selector: "h1.episode"}})
	cfg := testConfig()
	cfg.InferDelay = 50 * time.Millisecond
	o := start(t, newStore(t), `<p>loading</p>`, rules, cfg)

	deliver(t, o, model.NewMediaDetected("https://cdn/ep12.mp3"))
	require.NoError(t, o.SetHTML(context.Background(), `<h1 class="episode">Rendered Late</h1>`))

	assert.Eventually(t, func() bool {
		return snapshot(t, o).Draft.Title == "Rendered Late"
	}, time.Second, 5*time.Millisecond)
}

func TestMediaDetected_RedetectionOverwritesURL(t *testing.T) {
	o := start(t, newStore(t), "", nil, testConfig())

	deliver(t, o, model.NewMediaDetected("https://cdn/ep1.mp3"))
	require.NoError(t, o.Click(context.Background(), "Title"))
	deliver(t, o, model.NewMediaDetected("https://cdn/ep2.mp3"))

	s := snapshot(t, o)
	assert.Equal(t, "https://cdn/ep2.mp3", s.Draft.URL)
	assert.Equal(t, "Title", s.Draft.Title)
	assert.Equal(t, model.FieldTitle, s.Cursor, "detection selects the title field")
}

func TestClick_AdvancingCursor(t *testing.T) {
	o := start(t, newStore(t), "", nil, testConfig())
	ctx := context.Background()

	require.NoError(t, o.Click(ctx, "  Episode 1 \n"))
	s := snapshot(t, o)
	assert.Equal(t, "Episode 1", s.Draft.Title)
	assert.Equal(t, model.FieldDuration, s.Cursor)

	require.NoError(t, o.Click(ctx, "42:00"))
	s = snapshot(t, o)
	assert.Equal(t, "42:00", s.Draft.Duration)
	assert.Equal(t, model.FieldTitle, s.Cursor)

	require.NoError(t, o.Click(ctx, "Episode 1 (corrected)"))
	s = snapshot(t, o)
	assert.Equal(t, "Episode 1 (corrected)", s.Draft.Title)
	assert.Equal(t, "42:00", s.Draft.Duration)
}

func TestClick_StickyCursor(t *testing.T) {
	cfg := testConfig()
	cfg.AdvanceCursor = false
	o := start(t, newStore(t), "", nil, cfg)
	ctx := context.Background()

	require.NoError(t, o.Click(ctx, "First"))
	require.NoError(t, o.Click(ctx, "Second"))
	s := snapshot(t, o)
	assert.Equal(t, "Second", s.Draft.Title)
	assert.Equal(t, "", s.Draft.Duration)
	assert.Equal(t, model.FieldTitle, s.Cursor)

	require.NoError(t, o.FocusField(ctx, model.FieldDuration))
	require.NoError(t, o.Click(ctx, "12:34"))
	s = snapshot(t, o)
	assert.Equal(t, "12:34", s.Draft.Duration)
	assert.Equal(t, model.FieldDuration, s.Cursor)
}

func TestFocusField(t *testing.T) {
	o := start(t, newStore(t), "", nil, testConfig())
	ctx := context.Background()

	require.NoError(t, o.FocusField(ctx, model.FieldDuration))
	require.NoError(t, o.Click(ctx, "1:00:00"))
	require.NoError(t, o.FocusField(ctx, model.FieldTitle))
	require.NoError(t, o.Click(ctx, "Title"))

	s := snapshot(t, o)
	assert.Equal(t, model.Record{Title: "Title", Duration: "1:00:00"}, s.Draft)
}

func TestAdd_OnEmptyStore(t *testing.T) {
	s := newStore(t)
	o := start(t, s, "", nil, testConfig())
	ctx := context.Background()

	deliver(t, o, model.NewMediaDetected("u1"))
	require.NoError(t, o.Click(ctx, "T1"))
	require.NoError(t, o.Add(ctx))

	list, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.List{{URL: "u1", Title: "T1"}}, list)

	state := snapshot(t, o)
	assert.Equal(t, list, state.List)
	assert.Equal(t, model.Record{URL: "u1", Title: "T1"}, state.Draft, "draft is not reset after add")
}

func TestAdd_DuplicateURLIsAppended(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, model.List{{URL: "u1", Title: "Old"}}))

	o := start(t, s, "", nil, testConfig())
	deliver(t, o, model.NewMediaDetected("u1"))
	require.NoError(t, o.Click(ctx, "New"))
	require.NoError(t, o.Add(ctx))

	list, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.List{{URL: "u1", Title: "Old"}, {URL: "u1", Title: "New"}}, list)
}

func TestAdd_ReadsStoreEveryTime(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	o := start(t, s, "", nil, testConfig())

	deliver(t, o, model.NewMediaDetected("u1"))
	require.NoError(t, o.Add(ctx))

	// Another context writes in between.
	require.NoError(t, s.Save(ctx, model.List{{URL: "other", Title: "Exporter side"}}))

	deliver(t, o, model.NewMediaDetected("u2"))
	require.NoError(t, o.Add(ctx))

	list, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.List{{URL: "other", Title: "Exporter side"}, {URL: "u2"}}, list)
}

func TestRemove(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, model.List{{URL: "u1", Title: "A"}, {URL: "u2", Title: "B"}}))
	o := start(t, s, "", nil, testConfig())

	require.NoError(t, o.Remove(ctx, "u1"))
	list, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.List{{URL: "u2", Title: "B"}}, list)

	require.NoError(t, o.Remove(ctx, "missing"))
	list, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.List{{URL: "u2", Title: "B"}}, list, "removing an unknown url is a no-op")
	assert.Equal(t, list, snapshot(t, o).List)
}

func TestToggle_PersistsPerSessionAndOrigin(t *testing.T) {
	s := newStore(t)
	cfg := testConfig()

	o := start(t, s, "", nil, cfg)
	assert.True(t, snapshot(t, o).Visible)

	deliver(t, o, model.NewToggleVisibility())
	assert.False(t, snapshot(t, o).Visible)

	value, found, err := s.GetFlag(context.Background(), cfg.Session, "https://shows.example.com", VisibleFlag)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "false", value)

	// Reloading the page in the same session keeps it hidden.
	reloaded := start(t, s, "", nil, cfg)
	assert.False(t, snapshot(t, reloaded).Visible)

	// A new session starts from the default.
	cfg.Session = "session-2"
	fresh := start(t, s, "", nil, cfg)
	assert.True(t, snapshot(t, fresh).Visible)

	require.NoError(t, o.Toggle(context.Background()))
	assert.True(t, snapshot(t, o).Visible)
}

func TestDeliver_RefusedBeforeStartAndAfterStop(t *testing.T) {
	s := newStore(t)
	o, err := New("page-1", testPage, "", Deps{Records: s, Flags: s}, testConfig())
	require.NoError(t, err)

	_, ok := o.Deliver(model.NewMediaDetected("https://cdn/ep1.mp3"))
	assert.False(t, ok, "not initialized yet")

	ctx, cancel := context.WithCancel(context.Background())
	go o.Run(ctx)
	require.Eventually(t, o.started.Load, time.Second, time.Millisecond)

	deliver(t, o, model.NewMediaDetected("https://cdn/ep1.mp3"))

	cancel()
	<-o.Done()

	_, ok = o.Deliver(model.NewMediaDetected("https://cdn/ep2.mp3"))
	assert.False(t, ok)
	assert.ErrorIs(t, o.Add(context.Background()), ErrClosed)
	_, err = o.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

type recordingView struct {
	mu     sync.Mutex
	states []State
}

func (v *recordingView) Render(s State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.states = append(v.states, s)
}

func (v *recordingView) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.states)
}

func TestInference_DroppedAfterTeardown(t *testing.T) {
	s := newStore(t)
	rules := titles.NewTable([]titles.Rule{{Host: "shows.example.com", Selector: "h1"}})
	cfg := testConfig()
	view := &recordingView{}
	o, err := New("page-1", testPage, "<h1>Title</h1>", Deps{Records: s, Flags: s, Rules: rules, View: view}, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go o.Run(ctx)
	require.Eventually(t, o.started.Load, time.Second, time.Millisecond)

	deliver(t, o, model.NewMediaDetected("https://cdn/ep1.mp3"))
	cancel()
	<-o.Done()
	rendered := view.count()

	// The scheduled inference fires into a closed overlay and is dropped.
	time.Sleep(3 * cfg.InferDelay)
	assert.Equal(t, rendered, view.count(), "no render after teardown")
	assert.Empty(t, o.draft.Title, "inferred title never applied")
	for _, st := range view.states {
		assert.Empty(t, st.Draft.Title)
	}
}

func TestNew_RequiresStores(t *testing.T) {
	_, err := New("p", testPage, "", Deps{}, DefaultConfig())
	assert.Error(t, err)
}

func TestOriginOf(t *testing.T) {
	assert.Equal(t, "https://shows.example.com", originOf("https://Shows.Example.com/a/b?c=d"))
	assert.Equal(t, "not a url", originOf("not a url"))
}

func TestTableView(t *testing.T) {
	var buf bytes.Buffer
	view := NewTableView(&buf)

	state := State{
		Page:    testPage,
		Visible: true,
		Draft:   model.Record{URL: "https://cdn/ep1.mp3", Title: "Draft title"},
		Cursor:  model.FieldTitle,
		List:    model.List{{URL: "https://cdn/ep0.mp3", Title: "Saved", Duration: "10:00"}},
	}
	view.Render(state)

	out := buf.String()
	assert.Contains(t, out, "> title: Draft title")
	assert.Contains(t, out, "Saved - 10:00")
	assert.Contains(t, out, "https://cdn/ep0.mp3")

	buf.Reset()
	state.Visible = false
	view.Render(state)
	assert.Empty(t, buf.String())
}
