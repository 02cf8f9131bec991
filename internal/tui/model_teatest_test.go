package tui

import (
	"strings"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/x/exp/teatest/v2"
	"github.com/markumedium/loading-server/internal/domain"
)

// TestModelWithTeatest verifies behavior for the covered scenario.
func TestModelWithTeatest(t *testing.T) {
	svc := &fakeService{report: sampleReport()}
	m := NewModel(svc, WithRefreshInterval(0), WithTitle("north"))
	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(160, 40))
	t.Cleanup(func() {
		_ = tm.Quit()
	})

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return strings.Contains(string(out), "A111AA")
	}, teatest.WithDuration(2*time.Second), teatest.WithCheckInterval(10*time.Millisecond))

	tm.Send(tea.KeyPressMsg{Code: 'n', Text: "n"})
	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return strings.Contains(string(out), "→")
	}, teatest.WithDuration(2*time.Second), teatest.WithCheckInterval(10*time.Millisecond))
	// The transition triggers a reload that rewrites the status line.
	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return strings.Contains(string(out), "updated")
	}, teatest.WithDuration(2*time.Second), teatest.WithCheckInterval(10*time.Millisecond))

	tm.Send(tea.KeyPressMsg{Code: 'q', Text: "q"})
	tm.WaitFinished(t, teatest.WithFinalTimeout(2*time.Second))

	final, ok := tm.FinalModel(t).(Model)
	if !ok {
		t.Fatalf("expected tui.Model, got %T", tm.FinalModel(t))
	}
	if len(final.report.Active) == 0 || final.report.Active[0].Status != domain.StateReadyToDepart {
		t.Fatalf("expected reloaded board to show the advanced status, got %#v", final.report.Active)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.transitions) != 1 {
		t.Fatalf("expected one transition, got %#v", svc.transitions)
	}
	if got := svc.transitions[0]; got.VehicleID != "v1" || got.Target != domain.StateReadyToDepart || got.Timestamp != "" {
		t.Fatalf("unexpected transition %#v", got)
	}
	if svc.report.Active[0].Status != domain.StateReadyToDepart {
		t.Fatalf("expected advanced status, got %q", svc.report.Active[0].Status)
	}
}

// TestModelWithTeatestToggleViews verifies behavior for the covered scenario.
func TestModelWithTeatestToggleViews(t *testing.T) {
	svc := &fakeService{report: sampleReport()}
	m := NewModel(svc, WithRefreshInterval(0), WithMarkdownStyle("notty"))
	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(160, 40))
	t.Cleanup(func() {
		_ = tm.Quit()
	})

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return strings.Contains(string(out), "A111AA")
	}, teatest.WithDuration(2*time.Second), teatest.WithCheckInterval(10*time.Millisecond))

	tm.Send(tea.KeyPressMsg{Code: 'm', Text: "m"})
	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return strings.Contains(string(out), "trips")
	}, teatest.WithDuration(2*time.Second), teatest.WithCheckInterval(10*time.Millisecond))

	tm.Send(tea.KeyPressMsg{Code: 'q', Text: "q"})
	tm.WaitFinished(t, teatest.WithFinalTimeout(2*time.Second))

	final, ok := tm.FinalModel(t).(Model)
	if !ok || !final.rendered {
		t.Fatalf("expected markdown view on, got %#v", final)
	}
}
