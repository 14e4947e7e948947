package overlay

import (
	"fmt"
	"io"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/robertmeta/podcatch/model"
)

// View draws the overlay after every transition.
type View interface {
	Render(s State)
}

// NopView draws nothing.
type NopView struct{}

func (NopView) Render(State) {}

// TableView writes the draft and the curated list to w as a table.
// Nothing is written while the overlay is hidden.
type TableView struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTableView creates a TableView writing to w.
func NewTableView(w io.Writer) *TableView {
	return &TableView{w: w}
}

func (v *TableView) Render(s State) {
	if !s.Visible {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	fmt.Fprintf(v.w, "%s\n%s\n", s.Page, RenderDraft(s))
	fmt.Fprintln(v.w, RenderList(s.List))
}

// RenderDraft renders the draft with a marker on the selected field.
func RenderDraft(s State) string {
	mark := func(f model.Field) string {
		if s.Cursor == f {
			return "> "
		}
		return "  "
	}
	return fmt.Sprintf("  url: %s\n%stitle: %s\n%sduration: %s",
		s.Draft.URL,
		mark(model.FieldTitle), s.Draft.Title,
		mark(model.FieldDuration), s.Draft.Duration)
}

// RenderList renders the list as "title - duration" rows.
func RenderList(list model.List) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "Episode", "URL"})
	for i, r := range list {
		tw.AppendRow(table.Row{i + 1, fmt.Sprintf("%s - %s", r.Title, r.Duration), r.URL})
	}
	return tw.Render()
}
