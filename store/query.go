package store

import (
	"fmt"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/robertmeta/podcatch/model"
)

// QueryOptions specifies how to page through and filter the record list.
type QueryOptions struct {
	Limit    int
	Offset   int
	Contains string // case-insensitive match on title or url
	// Fuzzy matches Contains against titles as an in-order subsequence,
	// so "ep12" finds "Episode 12".
	Fuzzy bool
}

// BuildQueryOptions constructs QueryOptions from CLI flags.
func BuildQueryOptions(limit, offset int, contains string) (QueryOptions, error) {
	if limit < 0 {
		return QueryOptions{}, fmt.Errorf("invalid limit: %d (must not be negative)", limit)
	}
	if offset < 0 {
		return QueryOptions{}, fmt.Errorf("invalid offset: %d (must not be negative)", offset)
	}

	return QueryOptions{
		Limit:    limit,
		Offset:   offset,
		Contains: strings.TrimSpace(contains),
	}, nil
}

// Apply filters and pages list in memory, keeping insertion order.
func Apply(list model.List, opts QueryOptions) model.List {
	needle := strings.ToLower(opts.Contains)

	out := model.List{}
	for _, r := range list {
		if needle != "" && !matches(r, needle, opts.Fuzzy) {
			continue
		}
		out = append(out, r)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return model.List{}
		}
		out = out[opts.Offset:]
	}

	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}

	return out
}

func matches(r model.Record, needle string, fuzzyMatch bool) bool {
	if fuzzyMatch {
		return fuzzy.MatchFold(needle, r.Title)
	}
	return strings.Contains(strings.ToLower(r.Title), needle) ||
		strings.Contains(strings.ToLower(r.URL), needle)
}
