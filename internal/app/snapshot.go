package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/markumedium/loading-server/internal/domain"
)

// SnapshotVersion defines a package constant value.
const SnapshotVersion = "yard.snapshot.v1"

// Snapshot is a portable copy of the registry and the event log.
type Snapshot struct {
	Version    string              `json:"version" yaml:"version"`
	ExportedAt time.Time           `json:"exported_at" yaml:"exported_at"`
	Vehicles   []SnapshotVehicle   `json:"vehicles" yaml:"vehicles"`
	Partitions []SnapshotPartition `json:"partitions" yaml:"partitions"`
}

// SnapshotVehicle is the portable form of a registry entry.
type SnapshotVehicle struct {
	ID           string       `json:"id" yaml:"id"`
	Model        string       `json:"model" yaml:"model"`
	LicensePlate string       `json:"licensePlate" yaml:"licensePlate"`
	Status       domain.State `json:"status" yaml:"status"`
	Cycle        int          `json:"cycle" yaml:"cycle"`
	LastWeight   *float64     `json:"last_weight,omitempty" yaml:"last_weight,omitempty"`
	CreatedAt    time.Time    `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" yaml:"updated_at"`
}

// SnapshotPartition is the portable form of one day of history.
type SnapshotPartition struct {
	Day    string                     `json:"day" yaml:"day"`
	Events map[string][]SnapshotEvent `json:"events" yaml:"events"`
}

// SnapshotEvent is the portable form of a status event.
type SnapshotEvent struct {
	Timestamp int64        `json:"timestamp" yaml:"timestamp"`
	Status    domain.State `json:"status" yaml:"status"`
	Cycle     int          `json:"cycle" yaml:"cycle"`
	Weight    float64      `json:"weight" yaml:"weight"`
	Fallback  bool         `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// ExportSnapshot copies the registry and every stored partition.
func (s *Service) ExportSnapshot(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vehicles, err := s.repo.ListVehicles(ctx)
	if err != nil {
		return Snapshot{}, classify("export snapshot", err)
	}
	days, err := s.repo.ListDays(ctx)
	if err != nil {
		return Snapshot{}, classify("export snapshot", err)
	}

	snap := Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: s.clock().UTC(),
		Vehicles:   make([]SnapshotVehicle, 0, len(vehicles)),
		Partitions: make([]SnapshotPartition, 0, len(days)),
	}
	for _, vehicle := range vehicles {
		snap.Vehicles = append(snap.Vehicles, snapshotVehicleFromDomain(vehicle))
	}
	for _, day := range days {
		partition, err := s.repo.LoadPartition(ctx, day)
		if err != nil {
			return Snapshot{}, classify("export snapshot", err)
		}
		if partition.Empty() {
			continue
		}
		snap.Partitions = append(snap.Partitions, snapshotPartitionFromDomain(partition))
	}
	snap.sort()
	return snap, nil
}

// ImportSnapshot upserts vehicles and appends events not already stored, in one unit.
func (s *Service) ImportSnapshot(ctx context.Context, snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return invalidInput(err)
	}
	snap.sort()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.repo.Atomic(ctx, func(ctx context.Context, st Store) error {
		for _, sv := range snap.Vehicles {
			vehicle := sv.toDomain()
			if _, err := st.GetVehicle(ctx, vehicle.ID); err == nil {
				if err := st.UpdateVehicle(ctx, vehicle); err != nil {
					return err
				}
				continue
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
			if err := st.CreateVehicle(ctx, vehicle); err != nil {
				return err
			}
		}
		for _, sp := range snap.Partitions {
			existing, err := st.LoadPartition(ctx, sp.Day)
			if err != nil {
				return err
			}
			for _, vehicleID := range sortedKeys(sp.Events) {
				for _, se := range sp.Events[vehicleID] {
					event := se.toDomain(vehicleID)
					if slices.Contains(existing.Events[vehicleID], event) {
						continue
					}
					if err := st.AppendEvent(ctx, sp.Day, event); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return classify("import snapshot", err)
	}
	s.logger.Info("snapshot imported", "vehicles", len(snap.Vehicles), "partitions", len(snap.Partitions))
	return nil
}

// Validate validates the requested operation.
func (s *Snapshot) Validate() error {
	if s.Version != "" && s.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %q", s.Version)
	}
	ids := map[string]struct{}{}
	for i, v := range s.Vehicles {
		if err := v.toDomain().Validate(); err != nil {
			return fmt.Errorf("vehicles[%d]: %w", i, err)
		}
		if strings.TrimSpace(v.Model) == "" || strings.TrimSpace(v.LicensePlate) == "" {
			return fmt.Errorf("vehicles[%d]: model and licensePlate are required", i)
		}
		if _, exists := ids[v.ID]; exists {
			return fmt.Errorf("duplicate vehicle id: %q", v.ID)
		}
		ids[v.ID] = struct{}{}
	}
	days := map[string]struct{}{}
	for i, p := range s.Partitions {
		if _, err := domain.ParseDay(p.Day); err != nil {
			return fmt.Errorf("partitions[%d].day %q: %w", i, p.Day, err)
		}
		if _, exists := days[p.Day]; exists {
			return fmt.Errorf("duplicate partition day: %q", p.Day)
		}
		days[p.Day] = struct{}{}
		for vehicleID, events := range p.Events {
			if strings.TrimSpace(vehicleID) == "" {
				return fmt.Errorf("partitions[%d] has an event list without vehicle id", i)
			}
			for j, e := range events {
				if !e.Status.Valid() {
					return fmt.Errorf("partitions[%d].events[%s][%d].status %q: %w", i, vehicleID, j, e.Status, domain.ErrInvalidState)
				}
				if e.Cycle < 1 {
					return fmt.Errorf("partitions[%d].events[%s][%d].cycle: %w", i, vehicleID, j, domain.ErrInvalidCycle)
				}
				if e.Weight < 0 {
					return fmt.Errorf("partitions[%d].events[%s][%d].weight: %w", i, vehicleID, j, domain.ErrInvalidWeight)
				}
			}
		}
	}
	return nil
}

// sort orders vehicles by creation and partitions by day.
func (s *Snapshot) sort() {
	slices.SortStableFunc(s.Vehicles, func(a, b SnapshotVehicle) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	slices.SortFunc(s.Partitions, func(a, b SnapshotPartition) int {
		return strings.Compare(a.Day, b.Day)
	})
}

func snapshotVehicleFromDomain(v domain.Vehicle) SnapshotVehicle {
	return SnapshotVehicle{
		ID:           v.ID,
		Model:        v.Model,
		LicensePlate: v.LicensePlate,
		Status:       v.Status,
		Cycle:        v.Cycle,
		LastWeight:   copyWeight(v.LastWeight),
		CreatedAt:    v.CreatedAt.UTC(),
		UpdatedAt:    v.UpdatedAt.UTC(),
	}
}

func snapshotPartitionFromDomain(p domain.Partition) SnapshotPartition {
	out := SnapshotPartition{Day: p.Day, Events: make(map[string][]SnapshotEvent, len(p.Events))}
	for vehicleID, events := range p.Events {
		converted := make([]SnapshotEvent, 0, len(events))
		for _, e := range events {
			converted = append(converted, SnapshotEvent{
				Timestamp: e.Timestamp,
				Status:    e.Status,
				Cycle:     e.Cycle,
				Weight:    e.Weight,
				Fallback:  e.Fallback,
			})
		}
		out.Events[vehicleID] = converted
	}
	return out
}

func (v SnapshotVehicle) toDomain() domain.Vehicle {
	return domain.Vehicle{
		ID:           strings.TrimSpace(v.ID),
		Model:        strings.TrimSpace(v.Model),
		LicensePlate: strings.TrimSpace(v.LicensePlate),
		Status:       v.Status,
		Cycle:        v.Cycle,
		LastWeight:   copyWeight(v.LastWeight),
		CreatedAt:    v.CreatedAt.UTC(),
		UpdatedAt:    v.UpdatedAt.UTC(),
	}
}

func (e SnapshotEvent) toDomain(vehicleID string) domain.StatusEvent {
	return domain.StatusEvent{
		VehicleID: vehicleID,
		Timestamp: e.Timestamp,
		Status:    e.Status,
		Cycle:     e.Cycle,
		Weight:    e.Weight,
		Fallback:  e.Fallback,
	}
}

func copyWeight(in *float64) *float64 {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
