// Package titles infers episode titles from known page layouts.
//
// Each supported site is one Rule in a Table: a CSS selector evaluated
// against the page document, optionally reading an attribute instead of the
// node text. New sites are added as data.
package titles

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Rule extracts a title for pages served from Host.
type Rule struct {
	Host     string `mapstructure:"host" json:"host" toml:"host"`
	Selector string `mapstructure:"selector" json:"selector" toml:"selector"`
	Attr     string `mapstructure:"attr" json:"attr,omitempty" toml:"attr,omitempty"` // read this attribute instead of the text
}

// DefaultRules are the sites supported out of the box.
var DefaultRules = []Rule{
	{Host: "radiofrance.fr", Selector: "h1.CoverEpisode-title, h1"},
	{Host: "podcasts.apple.com", Selector: "span.product-header__title, h1"},
	{Host: "podcasts.google.com", Selector: `meta[property="og:title"]`, Attr: "content"},
	{Host: "soundcloud.com", Selector: "h1.soundTitle__title span"},
	{Host: "arteradio.com", Selector: "h1.title"},
}

// Table maps hosts to their extraction rule.
type Table struct {
	rules map[string]Rule
}

// NewTable builds a table from rules. Later rules for the same host win,
// so configured rules can override the defaults.
func NewTable(rules ...[]Rule) *Table {
	t := &Table{rules: make(map[string]Rule)}
	for _, set := range rules {
		for _, r := range set {
			t.Add(r)
		}
	}
	return t
}

// Add registers or replaces the rule for r.Host.
func (t *Table) Add(r Rule) {
	if r.Host == "" || r.Selector == "" {
		return
	}
	t.rules[normalizeHost(r.Host)] = r
}

// Lookup returns the rule for the page at pageURL.
func (t *Table) Lookup(pageURL string) (Rule, bool) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Hostname() == "" {
		return Rule{}, false
	}
	r, ok := t.rules[normalizeHost(u.Hostname())]
	return r, ok
}

// Infer returns the title found on the page, or "" if the site is unknown
// or the selector matches nothing.
func (t *Table) Infer(pageURL string, doc *goquery.Document) string {
	if doc == nil {
		return ""
	}
	rule, ok := t.Lookup(pageURL)
	if !ok {
		return ""
	}

	var title string
	doc.Find(rule.Selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if rule.Attr != "" {
			title, _ = s.Attr(rule.Attr)
		} else {
			title = s.Text()
		}
		title = collapseSpace(title)
		return title == ""
	})
	return title
}

// Len returns the number of hosts in the table.
func (t *Table) Len() int {
	return len(t.rules)
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	return strings.TrimPrefix(host, "www.")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
