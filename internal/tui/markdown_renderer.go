package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// minReportWrap keeps narrow terminals from collapsing the report tables.
const minReportWrap = 24

// reportRenderer styles report markdown and reuses the last result until the
// source or the wrap width changes.
type reportRenderer struct {
	style    string
	wrap     int
	renderer *glamour.TermRenderer

	lastSource string
	lastOutput string
}

// newReportRenderer builds a renderer using one glamour standard style.
func newReportRenderer(style string) *reportRenderer {
	if strings.TrimSpace(style) == "" {
		style = "dark"
	}
	return &reportRenderer{style: style}
}

// render returns styled markdown, or the raw text when glamour fails.
func (r *reportRenderer) render(markdown string, width int) string {
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return ""
	}
	wrap := max(width, minReportWrap)
	if r.renderer != nil && r.wrap == wrap && r.lastSource == markdown {
		return r.lastOutput
	}

	if r.renderer == nil || r.wrap != wrap {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(r.style),
			glamour.WithWordWrap(wrap),
		)
		if err != nil {
			return markdown
		}
		r.renderer = renderer
		r.wrap = wrap
	}

	rendered, err := r.renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	r.lastSource = markdown
	r.lastOutput = strings.TrimRight(rendered, "\n")
	return r.lastOutput
}
