package naming

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeedTitle(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Épisode #1", "pisode 1"},
		{"Plain title", "Plain title"},
		{"#hash#tags#", "hashtags"},
		{"日本語 podcast", " podcast"},
		{"Ça va? L'été", "a va? L't"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, FeedTitle(tt.title))
		})
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Épisode #1", "pisode_1"},
		{"Episode 12: The Long Night", "Episode_12__The_Long_Night"},
		{"a/b\\c.d", "a_b_c_d"},
		{"emoji 🎙️ show", "emoji__show"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, Filename(tt.title))
		})
	}
}

func TestFilename_IsTotal(t *testing.T) {
	safe := regexp.MustCompile(`^[A-Za-z0-9_]*$`)
	inputs := []string{
		"Épisode #1", "\x00\x01\n\t", "../../etc/passwd", "名前", "Ω≈ç√∫", "a b c", "100% legit?",
		"<script>alert(1)</script>", "‮evil", "tab\there",
	}
	for _, in := range inputs {
		assert.Regexp(t, safe, Filename(in), "input %q", in)
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://x/y.m4a?t=1", "m4a"},
		{"https://x/ep#1.mp3", "mp3"},
		{"https://cdn.example.com/a.b/episode.mp3?x=1.2", "mp3"},
		{"https://cdn.example.com/episode", DefaultExtension},
		{"https://cdn.example.com/episode.", DefaultExtension},
		{"https://cdn.example.com/stream.mp3?redirect=https://other/x.ogg", "mp3"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, Extension(tt.url))
		})
	}
}

func TestFile(t *testing.T) {
	assert.Equal(t, "dir/pisode_1.mp3", File("dir", "Épisode #1", "https://x/ep#1.mp3"))
	assert.Equal(t, "podcasts_to_cut/Show.m4a", File("podcasts_to_cut", "Show", "https://x/y.m4a?t=1"))
}
