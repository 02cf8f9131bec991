package tui

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/markumedium/loading-server/internal/app"
	"github.com/markumedium/loading-server/internal/domain"
)

type fakeService struct {
	mu          sync.Mutex
	report      app.Report
	err         error
	transitions []app.TransitionInput
	loads       int
}

func (f *fakeService) Today() string { return "2026-03-02" }

func (f *fakeService) Location() *time.Location { return time.UTC }

func (f *fakeService) Report(_ context.Context, day string) (app.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.err != nil {
		return app.Report{}, f.err
	}
	out := f.report
	out.Day = day
	out.Active = slices.Clone(f.report.Active)
	out.Completed = slices.Clone(f.report.Completed)
	return out, nil
}

func (f *fakeService) Transition(_ context.Context, in app.TransitionInput) (app.TransitionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, in)
	for i, row := range f.report.Active {
		if row.VehicleID == in.VehicleID {
			f.report.Active[i].Status = in.Target
			return app.TransitionResult{Vehicle: domain.Vehicle{ID: row.VehicleID, LicensePlate: row.LicensePlate, Status: in.Target}}, nil
		}
	}
	return app.TransitionResult{}, app.ErrNotFound
}

func sampleReport() app.Report {
	start := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	return app.Report{
		GeneratedAt: start.Add(2 * time.Hour),
		Active: []app.ActiveRow{
			{
				VehicleID: "v1", Model: "Volvo", LicensePlate: "A111AA", Status: domain.StateLoading, Cycle: 1,
				Cells: []app.Cell{
					{State: domain.StateAtYard, HasStart: true, Start: start, HasDuration: true, Duration: time.Hour},
					{State: domain.StateLoading, HasStart: true, Start: start.Add(time.Hour), HasDuration: true, Duration: time.Hour, Open: true},
				},
			},
			{VehicleID: "v2", Model: "MAN", LicensePlate: "B222BB", Status: domain.StateAtYard, Cycle: 2},
		},
		Completed: []app.CompletedRow{
			{VehicleID: "v2", Model: "MAN", LicensePlate: "B222BB", Cycle: 1},
		},
	}
}

func loadedModel(t *testing.T, svc *fakeService, opts ...Option) Model {
	t.Helper()
	m := NewModel(svc, append([]Option{WithRefreshInterval(0)}, opts...)...)
	m = applyMsg(t, m, tea.WindowSizeMsg{Width: 160, Height: 40})
	return applyCmd(t, m, m.loadReport)
}

func TestModelLoadAndNavigation(t *testing.T) {
	svc := &fakeService{report: sampleReport()}
	m := loadedModel(t, svc)
	if !m.loaded || m.report.Day != "2026-03-02" {
		t.Fatalf("expected loaded report, got %#v", m.report)
	}
	if !strings.HasPrefix(m.status, "updated") {
		t.Fatalf("unexpected status %q", m.status)
	}

	m = applyMsg(t, m, tea.KeyPressMsg{Code: tea.KeyDown})
	if m.selected != 1 {
		t.Fatalf("expected selection 1, got %d", m.selected)
	}
	m = applyMsg(t, m, tea.KeyPressMsg{Code: tea.KeyDown})
	if m.selected != 1 {
		t.Fatalf("expected selection clamped at 1, got %d", m.selected)
	}
	m = applyMsg(t, m, keyRune('k'))
	if m.selected != 0 {
		t.Fatalf("expected selection 0, got %d", m.selected)
	}

	m = applyMsg(t, m, tea.KeyPressMsg{Code: tea.KeyTab})
	if m.focus != tableCompleted || m.selected != 0 {
		t.Fatalf("expected completed focus, got focus=%d selected=%d", m.focus, m.selected)
	}
}

func TestModelAdvanceSelectedVehicle(t *testing.T) {
	svc := &fakeService{report: sampleReport()}
	m := loadedModel(t, svc)
	before := svc.loads

	m = applyMsg(t, m, tea.KeyPressMsg{Code: tea.KeyEnter})
	if len(svc.transitions) != 1 {
		t.Fatalf("expected one transition, got %#v", svc.transitions)
	}
	if got := svc.transitions[0]; got.VehicleID != "v1" || got.Target != domain.StateReadyToDepart {
		t.Fatalf("unexpected transition input %#v", got)
	}
	if svc.loads != before+1 {
		t.Fatalf("expected reload after transition, loads=%d", svc.loads)
	}
	if m.report.Active[0].Status != domain.StateReadyToDepart {
		t.Fatalf("expected refreshed status, got %q", m.report.Active[0].Status)
	}

	m = applyMsg(t, m, tea.KeyPressMsg{Code: tea.KeyTab})
	m = applyMsg(t, m, keyRune('n'))
	if len(svc.transitions) != 1 {
		t.Fatalf("expected no transition from completed table, got %d", len(svc.transitions))
	}
}

func TestModelTransitionErrorShowsStatus(t *testing.T) {
	svc := &fakeService{report: sampleReport()}
	m := loadedModel(t, svc)
	m = applyMsg(t, m, transitionDoneMsg{err: app.ErrIllegalTransition})
	if !strings.Contains(m.status, "transition failed") {
		t.Fatalf("unexpected status %q", m.status)
	}
}

func TestModelCopyReport(t *testing.T) {
	var copied string
	svc := &fakeService{report: sampleReport()}
	m := loadedModel(t, svc, WithClipboardWriter(func(s string) error {
		copied = s
		return nil
	}))
	m = applyMsg(t, m, keyRune('y'))
	if !strings.Contains(copied, "A111AA") {
		t.Fatalf("expected markdown report in clipboard, got %q", copied)
	}
	if m.status != "report copied" {
		t.Fatalf("unexpected status %q", m.status)
	}

	m = NewModel(svc, WithClipboardWriter(func(string) error { return errors.New("no clipboard") }))
	m = applyMsg(t, m, tea.WindowSizeMsg{Width: 80, Height: 20})
	m = applyCmd(t, m, m.loadReport)
	m = applyMsg(t, m, keyRune('y'))
	if !strings.Contains(m.status, "copy failed") {
		t.Fatalf("unexpected status %q", m.status)
	}
}

func TestModelLoadErrorAndRetry(t *testing.T) {
	svc := &fakeService{report: sampleReport(), err: errors.New("db down")}
	m := loadedModel(t, svc)
	if m.err == nil {
		t.Fatal("expected load error")
	}
	if !strings.Contains(m.viewContent(), "db down") {
		t.Fatalf("expected error view, got %q", m.viewContent())
	}

	svc.err = nil
	m = applyMsg(t, m, keyRune('r'))
	if m.err != nil || !m.loaded {
		t.Fatalf("expected retry to recover, err=%v", m.err)
	}
}

func TestModelViewStates(t *testing.T) {
	svc := &fakeService{report: sampleReport()}
	m := NewModel(svc)
	if got := m.viewContent(); got != "loading..." {
		t.Fatalf("expected loading view, got %q", got)
	}

	m = loadedModel(t, svc, WithTitle("north yard"))
	view := m.viewContent()
	for _, want := range []string{"north yard", "Active (2)", "Completed (1)", "A111AA", "B222BB"} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected %q in view:\n%s", want, view)
		}
	}

	m = applyMsg(t, m, keyRune('m'))
	if !m.rendered {
		t.Fatal("expected markdown view toggled on")
	}
	if m.viewContent() == "" {
		t.Fatal("expected rendered markdown content")
	}
	if v := m.View(); v.Content == nil || !v.AltScreen {
		t.Fatalf("expected alt-screen view with content, got %#v", v)
	}
}

func TestModelTickReloads(t *testing.T) {
	svc := &fakeService{report: sampleReport()}
	m := loadedModel(t, svc)
	before := svc.loads
	updated, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("expected reload command on tick")
	}
	m = updated.(Model)
	if msg, ok := cmd().(tea.BatchMsg); ok {
		for _, c := range msg {
			if c == nil {
				continue
			}
			m = applyMsg(t, m, c())
		}
	}
	if svc.loads != before+1 {
		t.Fatalf("expected one reload on tick, loads=%d", svc.loads)
	}
}

func TestModelQuitKey(t *testing.T) {
	m := NewModel(&fakeService{})
	_, cmd := m.Update(keyRune('q'))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg, got %T", cmd())
	}
}

func TestFitLines(t *testing.T) {
	if got := fitLines("a\nb\nc", 2); got != "a\n…" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := fitLines("a", 3); got != "a\n\n" {
		t.Fatalf("unexpected padding %q", got)
	}
	if got := fitLines("a", 0); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
}

func applyMsg(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	updated, cmd := m.Update(msg)
	out, ok := updated.(Model)
	if !ok {
		t.Fatalf("expected Model, got %T", updated)
	}
	return applyCmd(t, out, cmd)
}

func applyCmd(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	out := m
	currentCmd := cmd
	for i := 0; i < 6 && currentCmd != nil; i++ {
		msg := currentCmd()
		updated, nextCmd := out.Update(msg)
		casted, ok := updated.(Model)
		if !ok {
			t.Fatalf("expected Model, got %T", updated)
		}
		out = casted
		currentCmd = nextCmd
	}
	return out
}

func keyRune(r rune) tea.KeyPressMsg {
	return tea.KeyPressMsg{Code: r, Text: string(r)}
}

func TestReportRendererReusesOutput(t *testing.T) {
	r := newReportRenderer("notty")
	if got := r.render("   ", 80); got != "" {
		t.Fatalf("expected empty render, got %q", got)
	}
	first := r.render("## Active trips\n\n| a | b |\n|---|---|\n| 1 | 2 |", 10)
	if first == "" || r.wrap != minReportWrap {
		t.Fatalf("expected clamped wrap and output, wrap=%d out=%q", r.wrap, first)
	}
	renderer := r.renderer
	if again := r.render("## Active trips\n\n| a | b |\n|---|---|\n| 1 | 2 |", 10); again != first || r.renderer != renderer {
		t.Fatal("expected cached output for unchanged input")
	}
	r.render("## Completed trips", 100)
	if r.wrap != 100 || r.renderer == renderer {
		t.Fatal("expected renderer rebuilt for a new width")
	}
}
