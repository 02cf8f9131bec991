package tui

import "time"

// Option configures the board model.
type Option func(*Model)

// WithRefreshInterval sets how often the board reloads on its own; zero disables it.
func WithRefreshInterval(d time.Duration) Option {
	return func(m *Model) {
		if d >= 0 {
			m.refreshEvery = d
		}
	}
}

// WithClipboardWriter replaces the system clipboard, mostly for tests.
func WithClipboardWriter(fn func(string) error) Option {
	return func(m *Model) {
		if fn != nil {
			m.writeClipboard = fn
		}
	}
}

// WithTitle sets the heading shown above the tables.
func WithTitle(title string) Option {
	return func(m *Model) {
		if title != "" {
			m.title = title
		}
	}
}

// WithMarkdownStyle picks the glamour standard style used by the markdown view.
func WithMarkdownStyle(style string) Option {
	return func(m *Model) {
		m.markdown = newReportRenderer(style)
	}
}
