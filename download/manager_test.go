package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ep1.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("episode one audio"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func startManager(t *testing.T, dir string) *Manager {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m := NewManager(dir, 2, 8, nil, nil)
	m.Start(ctx)
	return m
}

func TestManager_DownloadsSourceAndInline(t *testing.T) {
	server := newServer(t)
	dir := t.TempDir()
	m := startManager(t, dir)

	assert.True(t, m.Enqueue(Request{SourceURL: server.URL + "/ep1.mp3?t=1", Destination: "shows/Episode_1.mp3"}))
	assert.True(t, m.Enqueue(Request{Body: []byte("<item/>"), Destination: "shows/feed.sample.xml"}))
	m.Wait()

	data, err := os.ReadFile(filepath.Join(dir, "shows", "Episode_1.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "episode one audio", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "shows", "feed.sample.xml"))
	require.NoError(t, err)
	assert.Equal(t, "<item/>", string(data))

	parts, err := filepath.Glob(filepath.Join(dir, "shows", "*.part"))
	require.NoError(t, err)
	assert.Empty(t, parts, "partial file is renamed into place")
}

func TestManager_FailuresAreSwallowed(t *testing.T) {
	server := newServer(t)
	dir := t.TempDir()
	m := startManager(t, dir)

	assert.True(t, m.Enqueue(Request{SourceURL: server.URL + "/missing.mp3", Destination: "missing.mp3"}))
	assert.True(t, m.Enqueue(Request{SourceURL: "http://127.0.0.1:0/x.mp3", Destination: "unreachable.mp3"}))
	m.Wait()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_RejectsEscapingDestinations(t *testing.T) {
	m := NewManager(t.TempDir(), 1, 1, nil, nil)

	for _, dest := range []string{"", "../outside.mp3", "a/../../outside.mp3", "/etc/passwd"} {
		_, err := m.resolve(dest)
		assert.Error(t, err, dest)
	}

	got, err := m.resolve("podcast_creator/Episode.mp3")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.baseDir, "podcast_creator", "Episode.mp3"), got)
}

func TestManager_DropsWhenQueueFull(t *testing.T) {
	// Workers never started, so the queue fills up.
	m := NewManager(t.TempDir(), 1, 1, nil, nil)

	assert.True(t, m.Enqueue(Request{Body: []byte("a"), Destination: "a"}))
	assert.False(t, m.Enqueue(Request{Body: []byte("b"), Destination: "b"}))
}

func TestManager_SameDestinationDoesNotMixSources(t *testing.T) {
	const size = 1 << 20
	bodies := map[string]string{
		"/a.mp3": strings.Repeat("A", size),
		"/b.mp3": strings.Repeat("B", size),
	}

	// Both responses start only once both requests are in flight.
	var arrived sync.WaitGroup
	arrived.Add(2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived.Done()
		arrived.Wait()
		body := bodies[r.URL.Path]
		for i := 0; i < len(body); i += 64 << 10 {
			w.Write([]byte(body[i : i+64<<10]))
			w.(http.Flusher).Flush()
		}
	}))
	defer server.Close()

	dir := t.TempDir()
	m := startManager(t, dir)
	require.True(t, m.Enqueue(Request{SourceURL: server.URL + "/a.mp3", Destination: "d/Same.mp3"}))
	require.True(t, m.Enqueue(Request{SourceURL: server.URL + "/b.mp3", Destination: "d/Same.mp3"}))
	m.Wait()

	data, err := os.ReadFile(filepath.Join(dir, "d", "Same.mp3"))
	require.NoError(t, err)
	got := string(data)
	assert.True(t, got == bodies["/a.mp3"] || got == bodies["/b.mp3"],
		"destination holds exactly one download (%d bytes, %d 'A')", len(got), strings.Count(got, "A"))

	parts, err := filepath.Glob(filepath.Join(dir, "d", "*.part"))
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestManager_BlockingEnqueueKeepsEveryRequest(t *testing.T) {
	server := newServer(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(dir, 1, 1, nil, nil)
	queue := m.Blocking(ctx)

	// Workers start late, so the queue of one fills up immediately.
	done := make(chan []bool)
	go func() {
		var accepted []bool
		for _, name := range []string{"a.mp3", "b.mp3", "c.mp3"} {
			accepted = append(accepted, queue.Enqueue(Request{SourceURL: server.URL + "/ep1.mp3", Destination: name}))
		}
		done <- accepted
	}()
	m.Start(ctx)

	assert.Equal(t, []bool{true, true, true}, <-done)
	m.Wait()

	for _, name := range []string{"a.mp3", "b.mp3", "c.mp3"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestManager_EnqueueWaitCanceled(t *testing.T) {
	m := NewManager(t.TempDir(), 1, 1, nil, nil)
	require.True(t, m.Enqueue(Request{Body: []byte("x"), Destination: "x"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, m.EnqueueWait(ctx, Request{Body: []byte("y"), Destination: "y"}))
	assert.False(t, m.Enqueue(Request{Body: []byte("z"), Destination: "z"}), "non-blocking enqueue drops on a full queue")
}
