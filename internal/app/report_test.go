package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/markumedium/loading-server/internal/domain"
)

func TestReportEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)
	v := registerVehicle(t, svc)
	t0 := clock.now

	steps := []struct {
		target domain.State
		at     string
		weight *float64
	}{
		{target: domain.StateLoading, at: "2026-03-02 06:10:00"},
		{target: domain.StateReadyToDepart, at: "2026-03-02 06:40:00", weight: ptr(1200.0)},
		{target: domain.StateDeparted, at: "2026-03-02 06:55:00"},
		{target: domain.StateAtYard, at: "2026-03-02 09:00:00"},
	}
	for _, step := range steps {
		if _, err := svc.Transition(ctx, TransitionInput{VehicleID: v.ID, Target: step.target, Timestamp: step.at, Weight: step.weight}); err != nil {
			t.Fatalf("Transition(%q) error = %v", step.target, err)
		}
	}
	clock.now = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	report, err := svc.Report(ctx, "2026-03-02")
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if len(report.Completed) != 1 {
		t.Fatalf("expected 1 completed row, got %#v", report.Completed)
	}
	row := report.Completed[0]
	if row.Cycle != 1 {
		t.Fatalf("expected completed cycle 1, got %d", row.Cycle)
	}
	want := []struct {
		state    domain.State
		start    time.Time
		duration time.Duration
		closed   bool
	}{
		{state: domain.StateAtYard, start: t0, duration: 10 * time.Minute, closed: true},
		{state: domain.StateLoading, start: time.Date(2026, 3, 2, 6, 10, 0, 0, time.UTC), duration: 30 * time.Minute, closed: true},
		{state: domain.StateReadyToDepart, start: time.Date(2026, 3, 2, 6, 40, 0, 0, time.UTC), duration: 15 * time.Minute, closed: true},
		{state: domain.StateDeparted, start: time.Date(2026, 3, 2, 6, 55, 0, 0, time.UTC)},
	}
	for _, w := range want {
		cell := row.Cell(w.state)
		if !cell.HasStart || !cell.Start.Equal(w.start) {
			t.Fatalf("%q start = %v, want %v", w.state, cell.Start, w.start)
		}
		if cell.HasDuration != w.closed || cell.Duration != w.duration {
			t.Fatalf("%q duration = %v (has=%v), want %v (has=%v)", w.state, cell.Duration, cell.HasDuration, w.duration, w.closed)
		}
	}

	if len(report.Active) != 1 {
		t.Fatalf("expected 1 active row, got %#v", report.Active)
	}
	active := report.Active[0]
	if active.Cycle != 2 || active.Status != domain.StateAtYard {
		t.Fatalf("unexpected active row %#v", active)
	}
	atYard := active.Cell(domain.StateAtYard)
	if !atYard.Open || atYard.Duration != 30*time.Minute {
		t.Fatalf("expected open 30m at-yard cell, got %#v", atYard)
	}
	if active.Cell(domain.StateLoading).HasStart {
		t.Fatal("expected no data for loading in the new cycle")
	}
}

func TestBuildReportActiveCyclePairs(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	vehicle := domain.Vehicle{ID: "v1", Model: "MAN", LicensePlate: "X1", Status: domain.StateLoading, Cycle: 3}
	partition := domain.NewPartition("2026-03-02")
	partition.Append(domain.StatusEvent{VehicleID: "v1", Timestamp: base.Add(-2 * time.Hour).Unix(), Status: domain.StateDeparted, Cycle: 2})
	partition.Append(domain.StatusEvent{VehicleID: "v1", Timestamp: base.Unix(), Status: domain.StateAtYard, Cycle: 3})
	partition.Append(domain.StatusEvent{VehicleID: "v1", Timestamp: base.Add(20 * time.Minute).Unix(), Status: domain.StateLoading, Cycle: 3})

	report := BuildReport("2026-03-02", []domain.Vehicle{vehicle}, partition, base.Add(45*time.Minute))
	row := report.Active[0]
	if cell := row.Cell(domain.StateAtYard); cell.Duration != 20*time.Minute || cell.Open {
		t.Fatalf("unexpected at-yard cell %#v", cell)
	}
	if cell := row.Cell(domain.StateLoading); cell.Duration != 25*time.Minute || !cell.Open {
		t.Fatalf("unexpected loading cell %#v", cell)
	}
	if row.Cell(domain.StateDeparted).HasStart {
		t.Fatal("expected departed of an older cycle to be excluded")
	}
}

func TestBuildReportCompletedRules(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	at := func(min int) int64 { return base.Add(time.Duration(min) * time.Minute).Unix() }
	vehicle := domain.Vehicle{ID: "v1", Model: "MAN", LicensePlate: "X1", Status: domain.StateAtYard, Cycle: 4}
	partition := domain.NewPartition("2026-03-02")
	// cycle 1 never reached departed
	partition.Append(domain.StatusEvent{VehicleID: "v1", Timestamp: at(0), Status: domain.StateAtYard, Cycle: 1})
	partition.Append(domain.StatusEvent{VehicleID: "v1", Timestamp: at(5), Status: domain.StateLoading, Cycle: 1})
	// cycle 3 has no loading event; at-yard ends at ready
	partition.Append(domain.StatusEvent{VehicleID: "v1", Timestamp: at(60), Status: domain.StateAtYard, Cycle: 3})
	partition.Append(domain.StatusEvent{VehicleID: "v1", Timestamp: at(90), Status: domain.StateReadyToDepart, Cycle: 3})
	partition.Append(domain.StatusEvent{VehicleID: "v1", Timestamp: at(100), Status: domain.StateDeparted, Cycle: 3})
	// cycle 2 reached departed
	partition.Append(domain.StatusEvent{VehicleID: "v1", Timestamp: at(20), Status: domain.StateDeparted, Cycle: 2})
	// current cycle is never completed
	partition.Append(domain.StatusEvent{VehicleID: "v1", Timestamp: at(120), Status: domain.StateAtYard, Cycle: 4})
	partition.Append(domain.StatusEvent{VehicleID: "v1", Timestamp: at(125), Status: domain.StateDeparted, Cycle: 4})
	// orphaned history
	partition.Append(domain.StatusEvent{VehicleID: "gone", Timestamp: at(1), Status: domain.StateDeparted, Cycle: 1})

	report := BuildReport("2026-03-02", []domain.Vehicle{vehicle}, partition, base.Add(3*time.Hour))
	if len(report.Completed) != 2 {
		t.Fatalf("expected 2 completed rows, got %#v", report.Completed)
	}
	if report.Completed[0].Cycle != 2 || report.Completed[1].Cycle != 3 {
		t.Fatalf("expected cycles 2,3 in order, got %d,%d", report.Completed[0].Cycle, report.Completed[1].Cycle)
	}
	cycle3 := report.Completed[1]
	if cell := cycle3.Cell(domain.StateAtYard); cell.Duration != 30*time.Minute {
		t.Fatalf("expected at-yard to end at next state with data, got %#v", cell)
	}
	if cycle3.Cell(domain.StateLoading).HasStart {
		t.Fatal("expected no data for missing loading")
	}
	if cell := cycle3.Cell(domain.StateDeparted); !cell.HasStart || cell.HasDuration {
		t.Fatalf("expected departed without end boundary, got %#v", cell)
	}
}

func TestReportRangeOnlyDaysWithData(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)
	registerVehicle(t, svc)
	clock.now = clock.now.AddDate(0, 0, 3)

	reports, err := svc.ReportRange(ctx, "2026-03-01", "2026-03-05")
	if err != nil {
		t.Fatalf("ReportRange() error = %v", err)
	}
	if len(reports) != 1 || reports[0].Day != "2026-03-02" {
		t.Fatalf("unexpected reports %#v", reports)
	}
}

func TestReportRangeRejectsOversizedRangeUpfront(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	started := time.Now()
	_, err := svc.ReportRange(ctx, "0001-01-01", "9999-12-31")
	if !errors.Is(err, ErrInvalidInput) || !errors.Is(err, domain.ErrInvalidDay) {
		t.Fatalf("expected invalid range error, got %v", err)
	}
	if !strings.Contains(err.Error(), "3652059 days") {
		t.Fatalf("expected span in error, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 250*time.Millisecond {
		t.Fatalf("oversized range took %s to reject", elapsed)
	}

	if _, err := svc.LoadPartitionRange(ctx, "2025-01-01", "2026-01-02"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected 367 days to be rejected, got %v", err)
	}
	if _, err := svc.LoadPartitionRange(ctx, "2025-01-01", "2026-01-01"); err != nil {
		t.Fatalf("expected 366 days to be accepted, got %v", err)
	}
}

func TestRenderReportMarkdown(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	report := Report{
		Day: "2026-03-02",
		Active: []ActiveRow{{
			Model: "MAN", LicensePlate: "X|1", Status: domain.StateLoading, Cycle: 2,
			Cells: []Cell{
				{State: domain.StateAtYard, HasStart: true, Start: base, HasDuration: true, Duration: 90 * time.Minute},
				{State: domain.StateLoading, HasStart: true, Start: base.Add(90 * time.Minute), HasDuration: true, Duration: 5 * time.Minute, Open: true},
			},
		}},
	}
	out := RenderReportMarkdown(report, time.FixedZone("UTC+5", 5*60*60))
	for _, want := range []string{"# Yard report 2026-03-02", "(13:00) 1:30:00", "(14:30) 0:05:00 +", "X\\|1", NoData, "_No completed trips._"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in report:\n%s", want, out)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	if got := FormatDuration(26*time.Hour + 3*time.Minute + 4*time.Second); got != "26:03:04" {
		t.Fatalf("FormatDuration() = %q", got)
	}
	if got := FormatCell(Cell{State: domain.StateDeparted, HasStart: true, Start: time.Unix(0, 0)}, nil); got != "(00:00) no data" {
		t.Fatalf("FormatCell() = %q", got)
	}
}
