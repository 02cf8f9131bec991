// Package tui renders the live yard board: today's active and completed cycles.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"github.com/atotto/clipboard"
	"github.com/markumedium/loading-server/internal/app"
	"github.com/markumedium/loading-server/internal/domain"
)

// defaultRefreshInterval keeps open durations moving while the board is idle.
const defaultRefreshInterval = 30 * time.Second

// Service is the slice of the application service the board needs.
type Service interface {
	Today() string
	Location() *time.Location
	Report(ctx context.Context, day string) (app.Report, error)
	Transition(ctx context.Context, in app.TransitionInput) (app.TransitionResult, error)
}

// table selects which report table has focus.
type table int

const (
	tableActive table = iota
	tableCompleted
)

// Model is the board program state.
type Model struct {
	svc            Service
	keys           keyMap
	help           help.Model
	markdown       *reportRenderer
	writeClipboard func(string) error
	refreshEvery   time.Duration
	title          string

	report   app.Report
	loaded   bool
	selected int
	focus    table
	rendered bool

	width  int
	height int
	ready  bool
	status string
	err    error
}

// reportLoadedMsg carries one report reload result.
type reportLoadedMsg struct {
	report app.Report
	err    error
}

// transitionDoneMsg carries the outcome of advancing one vehicle.
type transitionDoneMsg struct {
	result app.TransitionResult
	err    error
}

// copiedMsg reports a clipboard write.
type copiedMsg struct {
	err error
}

// tickMsg triggers a periodic reload.
type tickMsg time.Time

// NewModel constructs a new value for this package.
func NewModel(svc Service, opts ...Option) Model {
	h := help.New()
	h.ShowAll = false
	m := Model{
		svc:            svc,
		keys:           newKeyMap(),
		help:           h,
		markdown:       newReportRenderer("dark"),
		writeClipboard: clipboard.WriteAll,
		refreshEvery:   defaultRefreshInterval,
		title:          "yard",
		status:         "loading...",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&m)
		}
	}
	return m
}

// Init handles init.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadReport, m.scheduleTick())
}

// Update updates state for the requested operation.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case reportLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "load failed"
			return m, nil
		}
		m.err = nil
		m.report = msg.report
		m.loaded = true
		m.selected = clamp(m.selected, 0, max(0, m.rowCount()-1))
		m.status = "updated " + msg.report.GeneratedAt.In(m.location()).Format("15:04:05")
		return m, nil

	case transitionDoneMsg:
		if msg.err != nil {
			m.status = "transition failed: " + msg.err.Error()
			return m, nil
		}
		m.status = fmt.Sprintf("%s → %s", msg.result.Vehicle.LicensePlate, msg.result.Vehicle.Status.Label())
		return m, m.loadReport

	case copiedMsg:
		if msg.err != nil {
			m.status = "copy failed: " + msg.err.Error()
			return m, nil
		}
		m.status = "report copied"
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.loadReport, m.scheduleTick())

	case tea.KeyPressMsg:
		return m.handleKey(msg)

	default:
		return m, nil
	}
}

// handleKey applies one key press in normal mode.
func (m Model) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.toggleHelp):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.reload):
		m.status = "reloading..."
		return m, m.loadReport
	case key.Matches(msg, m.keys.moveUp):
		m.selected = clamp(m.selected-1, 0, max(0, m.rowCount()-1))
		return m, nil
	case key.Matches(msg, m.keys.moveDown):
		m.selected = clamp(m.selected+1, 0, max(0, m.rowCount()-1))
		return m, nil
	case key.Matches(msg, m.keys.toggleTable):
		if m.focus == tableActive {
			m.focus = tableCompleted
		} else {
			m.focus = tableActive
		}
		m.selected = 0
		return m, nil
	case key.Matches(msg, m.keys.toggleRender):
		m.rendered = !m.rendered
		return m, nil
	case key.Matches(msg, m.keys.copyReport):
		if !m.loaded {
			return m, nil
		}
		return m, m.copyReport(app.RenderReportMarkdown(m.report, m.location()))
	case key.Matches(msg, m.keys.advance):
		row, ok := m.selectedActive()
		if !ok {
			return m, nil
		}
		return m, m.advance(row.VehicleID, row.Status.Successor())
	default:
		return m, nil
	}
}

// loadReport fetches today's report.
func (m Model) loadReport() tea.Msg {
	report, err := m.svc.Report(context.Background(), m.svc.Today())
	return reportLoadedMsg{report: report, err: err}
}

// advance moves one vehicle to target.
func (m Model) advance(vehicleID string, target domain.State) tea.Cmd {
	return func() tea.Msg {
		res, err := m.svc.Transition(context.Background(), app.TransitionInput{
			VehicleID: vehicleID,
			Target:    target,
		})
		return transitionDoneMsg{result: res, err: err}
	}
}

// copyReport writes the markdown report to the clipboard.
func (m Model) copyReport(markdown string) tea.Cmd {
	write := m.writeClipboard
	return func() tea.Msg {
		return copiedMsg{err: write(markdown)}
	}
}

// scheduleTick arms the next periodic reload.
func (m Model) scheduleTick() tea.Cmd {
	if m.refreshEvery <= 0 {
		return nil
	}
	return tea.Tick(m.refreshEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// rowCount returns the number of rows in the focused table.
func (m Model) rowCount() int {
	if m.focus == tableCompleted {
		return len(m.report.Completed)
	}
	return len(m.report.Active)
}

// selectedActive returns the highlighted active row.
func (m Model) selectedActive() (app.ActiveRow, bool) {
	if m.focus != tableActive || m.selected < 0 || m.selected >= len(m.report.Active) {
		return app.ActiveRow{}, false
	}
	return m.report.Active[m.selected], true
}

func (m Model) location() *time.Location {
	if loc := m.svc.Location(); loc != nil {
		return loc
	}
	return time.UTC
}

// View handles view.
func (m Model) View() tea.View {
	v := tea.NewView(m.viewContent())
	v.AltScreen = true
	return v
}

// viewContent renders the current screen as plain text.
func (m Model) viewContent() string {
	if m.err != nil {
		return "error: " + m.err.Error() + "\n\npress r to retry • q quit\n"
	}
	if !m.ready || !m.loaded {
		return "loading..."
	}

	muted := lipgloss.Color("241")
	dim := lipgloss.Color("239")
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	statusStyle := lipgloss.NewStyle().Foreground(dim)

	var body string
	if m.rendered {
		body = m.markdown.render(app.RenderReportMarkdown(m.report, m.location()), m.width-2)
	} else {
		body = m.renderTables()
	}

	sections := []string{
		titleStyle.Render(fmt.Sprintf("%s · %s", m.title, m.report.Day)),
		"",
		body,
	}
	if strings.TrimSpace(m.status) != "" {
		sections = append(sections, "", statusStyle.Render(m.status))
	}
	content := strings.Join(sections, "\n")

	helpBubble := m.help
	helpBubble.SetWidth(max(0, m.width-2))
	helpLine := lipgloss.NewStyle().
		Foreground(muted).
		BorderTop(true).
		BorderForeground(dim).
		Padding(0, 1).
		Width(max(0, m.width)).
		Render(helpBubble.View(m.keys))
	if m.height > 0 {
		content = fitLines(content, max(0, m.height-lipgloss.Height(helpLine)))
	}
	return content + "\n" + helpLine
}

// renderTables draws both tables with the focused one highlighted.
func (m Model) renderTables() string {
	accent := lipgloss.Color("62")
	muted := lipgloss.Color("241")
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(accent)
	blurredHeader := lipgloss.NewStyle().Bold(true).Foreground(muted)
	selectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	loadingStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	emptyStyle := lipgloss.NewStyle().Foreground(muted).Italic(true)

	loc := m.location()
	states := domain.States()

	activeTitle, completedTitle := headerStyle, blurredHeader
	if m.focus == tableCompleted {
		activeTitle, completedTitle = blurredHeader, headerStyle
	}

	lines := []string{activeTitle.Render(fmt.Sprintf("Active (%d)", len(m.report.Active)))}
	lines = append(lines, blurredHeader.Render(joinColumns(tableHeader([]string{"Vehicle", "Status", "Cycle"}, states))))
	if len(m.report.Active) == 0 {
		lines = append(lines, emptyStyle.Render("no vehicles"))
	}
	for i, row := range m.report.Active {
		cols := []string{vehicleLabel(row.Model, row.LicensePlate), row.Status.Label(), fmt.Sprintf("%d", row.Cycle)}
		for _, state := range states {
			cols = append(cols, app.FormatCell(row.Cell(state), loc))
		}
		line := joinColumns(cols)
		switch {
		case m.focus == tableActive && i == m.selected:
			line = selectedStyle.Render("› " + line)
		case row.Status == domain.StateLoading:
			line = loadingStyle.Render("  " + line)
		default:
			line = "  " + line
		}
		lines = append(lines, line)
	}

	lines = append(lines, "", completedTitle.Render(fmt.Sprintf("Completed (%d)", len(m.report.Completed))))
	lines = append(lines, blurredHeader.Render(joinColumns(tableHeader([]string{"Vehicle", "Cycle"}, states))))
	if len(m.report.Completed) == 0 {
		lines = append(lines, emptyStyle.Render("no completed cycles"))
	}
	for i, row := range m.report.Completed {
		cols := []string{vehicleLabel(row.Model, row.LicensePlate), fmt.Sprintf("%d", row.Cycle)}
		for _, state := range states {
			cols = append(cols, app.FormatCell(row.Cell(state), loc))
		}
		line := joinColumns(cols)
		if m.focus == tableCompleted && i == m.selected {
			line = selectedStyle.Render("› " + line)
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func tableHeader(lead []string, states []domain.State) []string {
	out := append([]string{}, lead...)
	for _, state := range states {
		out = append(out, state.Label())
	}
	return out
}

// joinColumns pads every column to a fixed width.
func joinColumns(cols []string) string {
	cell := lipgloss.NewStyle().Width(columnWidth).MaxWidth(columnWidth)
	rendered := make([]string, 0, len(cols))
	for _, col := range cols {
		rendered = append(rendered, cell.Render(col))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

// columnWidth is the fixed width of one table column.
const columnWidth = 22

func vehicleLabel(model, plate string) string {
	return strings.TrimSpace(model + " " + plate)
}

// fitLines truncates or pads content to maxLines.
func fitLines(content string, maxLines int) string {
	if maxLines <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	switch {
	case len(lines) > maxLines:
		if maxLines == 1 {
			lines = []string{"…"}
		} else {
			lines = append(lines[:maxLines-1], "…")
		}
	case len(lines) < maxLines:
		padding := make([]string, maxLines-len(lines))
		lines = append(lines, padding...)
	}
	return strings.Join(lines, "\n")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
