// Package naming derives file names and feed titles from episode records.
package naming

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// DefaultExtension is used when a media URL carries no extension.
const DefaultExtension = "mp3"

// nonLatin drops everything outside the Basic Latin block, which tagging
// tools downstream cannot render.
var nonLatin = runes.Remove(runes.Predicate(func(r rune) bool {
	return r > unicode.MaxASCII
}))

// StripHashes removes '#', which breaks podcast apps.
func StripHashes(s string) string {
	return strings.ReplaceAll(s, "#", "")
}

// StripNonLatin removes characters outside the Basic Latin block.
func StripNonLatin(s string) string {
	out, _, err := transform.String(nonLatin, s)
	if err != nil {
		return s
	}
	return out
}

// ReplaceSpecialChars replaces every character outside [A-Za-z0-9] with '_'.
func ReplaceSpecialChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isAlnum(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// FeedTitle is the title written to the feed sample: hashes are stripped
// first, then non-Latin characters.
func FeedTitle(title string) string {
	return StripNonLatin(StripHashes(title))
}

// Filename is the file system safe base name for title. It only contains
// [A-Za-z0-9_].
func Filename(title string) string {
	return ReplaceSpecialChars(FeedTitle(title))
}

// Extension returns the extension of a media URL: the text after the last
// '.' of the final path segment, ignoring any query string.
func Extension(mediaURL string) string {
	base, _, _ := strings.Cut(mediaURL, "?")
	segment := base[strings.LastIndex(base, "/")+1:]

	i := strings.LastIndex(segment, ".")
	if i < 0 || i == len(segment)-1 {
		return DefaultExtension
	}
	return segment[i+1:]
}

// File joins dir, the sanitized title and the extension of mediaURL.
func File(dir, title, mediaURL string) string {
	return dir + "/" + Filename(title) + "." + Extension(mediaURL)
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
