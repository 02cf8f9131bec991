package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/markumedium/loading-server/internal/domain"
)

type recordingNotifier struct {
	alerts  []Alert
	reports []string
	err     error
}

func (n *recordingNotifier) NotifyAlert(_ context.Context, alert Alert) error {
	if n.err != nil {
		return n.err
	}
	n.alerts = append(n.alerts, alert)
	return nil
}

func (n *recordingNotifier) DeliverReport(_ context.Context, report Report, _ string) error {
	if n.err != nil {
		return n.err
	}
	n.reports = append(n.reports, report.Day)
	return nil
}

func TestAlertMonitorDedupPerCycle(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)
	v := registerVehicle(t, svc)
	advanceTo(t, svc, v.ID, domain.StateLoading)

	notifier := &recordingNotifier{}
	monitor := NewAlertMonitor(svc, notifier, nil, AlertMonitorConfig{Threshold: 30 * time.Minute})

	clock.Advance(29 * time.Minute)
	alerts, err := monitor.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no alert before threshold, got %#v", alerts)
	}

	clock.Advance(time.Minute)
	alerts, err = monitor.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(alerts) != 1 || alerts[0].Vehicle.ID != v.ID || alerts[0].Elapsed != 30*time.Minute {
		t.Fatalf("expected one alert at threshold, got %#v", alerts)
	}

	clock.Advance(10 * time.Minute)
	alerts, err = monitor.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no repeat alert, got %#v", alerts)
	}

	// A new cycle re-arms alerting.
	advanceTo(t, svc, v.ID, domain.StateReadyToDepart, domain.StateDeparted, domain.StateAtYard, domain.StateLoading)
	clock.Advance(45 * time.Minute)
	alerts, err = monitor.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(alerts) != 1 || alerts[0].Vehicle.Cycle != 2 {
		t.Fatalf("expected alert for cycle 2, got %#v", alerts)
	}
	if len(notifier.alerts) != 2 {
		t.Fatalf("expected 2 delivered alerts, got %d", len(notifier.alerts))
	}
}

func TestAlertMonitorRetriesAfterDeliveryFailure(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)
	v := registerVehicle(t, svc)
	advanceTo(t, svc, v.ID, domain.StateLoading)

	notifier := &recordingNotifier{err: errors.New("network down")}
	set := NewMemoryNotifiedSet()
	monitor := NewAlertMonitor(svc, notifier, set, AlertMonitorConfig{Threshold: time.Minute})
	clock.Advance(5 * time.Minute)

	if _, err := monitor.Scan(ctx); err == nil {
		t.Fatal("expected delivery error")
	}
	if set.Len() != 0 {
		t.Fatal("expected failed delivery to stay unrecorded")
	}

	notifier.err = nil
	alerts, err := monitor.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected retried alert, got %#v", alerts)
	}
}

func TestAlertMonitorEvictsRemovedVehicles(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)
	v := registerVehicle(t, svc)
	advanceTo(t, svc, v.ID, domain.StateLoading)

	set := NewMemoryNotifiedSet()
	monitor := NewAlertMonitor(svc, &recordingNotifier{}, set, AlertMonitorConfig{Threshold: time.Minute})
	clock.Advance(2 * time.Minute)
	if _, err := monitor.Scan(ctx); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("expected 1 tracked vehicle, got %d", set.Len())
	}
	if err := svc.RemoveVehicle(ctx, v.ID); err != nil {
		t.Fatalf("RemoveVehicle() error = %v", err)
	}
	if _, err := monitor.Scan(ctx); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if set.Len() != 0 {
		t.Fatalf("expected removed vehicle to be evicted, got %d", set.Len())
	}
}

func TestAlertMonitorIgnoresOlderCycleLoading(t *testing.T) {
	ctx := context.Background()
	svc, repo, clock := newTestService(t)
	v := registerVehicle(t, svc)
	advanceTo(t, svc, v.ID, domain.StateLoading)

	// Registry says loading in cycle 5 but today's log only holds cycle 1.
	stale := repo.vehicles[v.ID]
	stale.Cycle = 5
	repo.vehicles[v.ID] = stale

	monitor := NewAlertMonitor(svc, &recordingNotifier{}, nil, AlertMonitorConfig{Threshold: time.Minute})
	clock.Advance(time.Hour)
	alerts, err := monitor.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no alert without a current-cycle loading event, got %#v", alerts)
	}
}
