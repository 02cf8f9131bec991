package jsonfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/markumedium/loading-server/internal/app"
	"github.com/markumedium/loading-server/internal/domain"
)

func TestStoreServiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	now := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	svc := app.NewService(store, func() string { return "t1" }, func() time.Time { return now }, app.ServiceConfig{})

	v, err := svc.RegisterVehicle(ctx, app.RegisterVehicleInput{Model: "MAN TGS", LicensePlate: "M555MM"})
	if err != nil {
		t.Fatalf("RegisterVehicle() error = %v", err)
	}
	weight := 1500.0
	for _, step := range []app.TransitionInput{
		{VehicleID: v.ID, Target: domain.StateLoading, Timestamp: "2026-03-02 06:05:00"},
		{VehicleID: v.ID, Target: domain.StateReadyToDepart, Timestamp: "2026-03-02 06:35:00", Weight: &weight},
	} {
		if _, err := svc.Transition(ctx, step); err != nil {
			t.Fatalf("Transition(%q) error = %v", step.Target, err)
		}
	}

	raw, err := os.ReadFile(filepath.Join(dir, "status_history", "2026-03-02.json"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	for _, want := range []string{`"timestamp"`, `"status": "ready_to_depart"`, `"weight": 1500`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("expected %s in partition file:\n%s", want, raw)
		}
	}
	registry, err := os.ReadFile(filepath.Join(dir, "trucks.json"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(registry), `"licensePlate": "M555MM"`) {
		t.Fatalf("unexpected registry file:\n%s", registry)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() reopen error = %v", err)
	}
	loaded, err := reopened.GetVehicle(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVehicle() error = %v", err)
	}
	if loaded.Status != domain.StateReadyToDepart || loaded.LastWeight == nil || *loaded.LastWeight != 1500 {
		t.Fatalf("unexpected reloaded vehicle %#v", loaded)
	}
	p, err := reopened.LoadPartition(ctx, "2026-03-02")
	if err != nil {
		t.Fatalf("LoadPartition() error = %v", err)
	}
	if len(p.Events[v.ID]) != 3 {
		t.Fatalf("expected 3 events, got %#v", p.Events[v.ID])
	}
}

func TestStoreAtomicDiscardsFailedWrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	v, _ := domain.NewVehicle("v1", "MAN", "X1", time.Now())
	boom := errors.New("boom")
	err = store.Atomic(ctx, func(ctx context.Context, st app.Store) error {
		if err := st.CreateVehicle(ctx, v); err != nil {
			return err
		}
		if err := st.AppendEvent(ctx, "2026-03-02", domain.StatusEvent{VehicleID: "v1", Timestamp: 1, Status: domain.StateAtYard, Cycle: 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "trucks.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no registry file, got %v", err)
	}
	days, err := store.ListDays(ctx)
	if err != nil {
		t.Fatalf("ListDays() error = %v", err)
	}
	if len(days) != 0 {
		t.Fatalf("expected no partitions, got %v", days)
	}
}

func TestStoreReadsLegacyStateLabels(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	legacyRegistry := `[{"id":"a1","model":"ГАЗ","licensePlate":"A001AA","status":"Отгружается","cycle":3}]`
	legacyHistory := `{"a1":[{"timestamp":200,"status":"Отгружается","cycle":3,"weight":0},{"timestamp":100,"status":"На территории","cycle":3,"weight":0}]}`
	if err := os.WriteFile(filepath.Join(dir, "trucks.json"), []byte(legacyRegistry), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "status_history", "2026-03-01.json"), []byte(legacyHistory), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	vehicles, err := store.ListVehicles(ctx)
	if err != nil {
		t.Fatalf("ListVehicles() error = %v", err)
	}
	if len(vehicles) != 1 || vehicles[0].Status != domain.StateLoading || vehicles[0].Cycle != 3 {
		t.Fatalf("unexpected vehicles %#v", vehicles)
	}
	p, err := store.LoadPartition(ctx, "2026-03-01")
	if err != nil {
		t.Fatalf("LoadPartition() error = %v", err)
	}
	events := p.Events["a1"]
	if len(events) != 2 || events[0].Status != domain.StateAtYard {
		t.Fatalf("expected sorted legacy events, got %#v", events)
	}
	if _, err := store.GetVehicle(ctx, "zz"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRetryAfterRegistryWriteLeavesOneEvent(t *testing.T) {
	ctx := context.Background()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	now := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	svc := app.NewService(store, func() string { return "t1" }, func() time.Time { return now }, app.ServiceConfig{})
	v, err := svc.RegisterVehicle(ctx, app.RegisterVehicleInput{Model: "MAN TGS", LicensePlate: "M555MM"})
	if err != nil {
		t.Fatalf("RegisterVehicle() error = %v", err)
	}

	// Partition written, registry still at the yard.
	first := domain.StatusEvent{VehicleID: v.ID, Timestamp: now.Unix(), Status: domain.StateLoading, Cycle: 1}
	if err := store.Atomic(ctx, func(ctx context.Context, st app.Store) error {
		return st.AppendEvent(ctx, "2026-03-02", first)
	}); err != nil {
		t.Fatalf("Atomic() error = %v", err)
	}

	now = now.Add(time.Minute)
	if _, err := svc.Transition(ctx, app.TransitionInput{VehicleID: v.ID, Target: domain.StateLoading}); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	got, err := store.GetVehicle(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVehicle() error = %v", err)
	}
	if got.Status != domain.StateLoading || got.Cycle != 1 {
		t.Fatalf("expected registry caught up, got %#v", got)
	}
	p, err := store.LoadPartition(ctx, "2026-03-02")
	if err != nil {
		t.Fatalf("LoadPartition() error = %v", err)
	}
	events := p.Events[v.ID]
	if len(events) != 2 || events[1] != first {
		t.Fatalf("expected anchor plus the original loading event, got %#v", events)
	}

	if _, err := svc.Transition(ctx, app.TransitionInput{VehicleID: v.ID, Target: domain.StateReadyToDepart}); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	p, err = store.LoadPartition(ctx, "2026-03-02")
	if err != nil {
		t.Fatalf("LoadPartition() error = %v", err)
	}
	if len(p.Events[v.ID]) != 3 {
		t.Fatalf("expected a fresh state to append, got %#v", p.Events[v.ID])
	}
}
