// Package jsonfile stores the registry and the daily partitions as plain JSON files:
// one registry file plus status_history/YYYY-MM-DD.json per day.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/markumedium/loading-server/internal/app"
	"github.com/markumedium/loading-server/internal/domain"
)

const (
	registryFile = "trucks.json"
	historyDir   = "status_history"
)

// Store is a file-backed app.Repository. All access goes through one mutex.
type Store struct {
	mu  sync.Mutex
	dir string
}

var _ app.Repository = (*Store)(nil)

// Open prepares dir and returns a store rooted there.
func Open(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("jsonfile dir is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, historyDir), 0o755); err != nil {
		return nil, fmt.Errorf("create jsonfile dirs: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Close is a no-op kept for symmetry with the database adapters.
func (s *Store) Close() error {
	return nil
}

// Atomic stages fn's writes in memory and flushes them only when fn succeeds.
// Partitions are written before the registry, each by temp file and rename.
func (s *Store) Atomic(ctx context.Context, fn func(context.Context, app.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.atomicLocked(ctx, fn)
}

func (s *Store) atomicLocked(ctx context.Context, fn func(context.Context, app.Store) error) error {
	tx := &fileTx{store: s, partitions: map[string]*domain.Partition{}, dirty: map[string]bool{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.flush()
}

// CreateVehicle creates vehicle.
func (s *Store) CreateVehicle(ctx context.Context, v domain.Vehicle) error {
	return s.Atomic(ctx, func(ctx context.Context, st app.Store) error { return st.CreateVehicle(ctx, v) })
}

// UpdateVehicle updates state for the requested operation.
func (s *Store) UpdateVehicle(ctx context.Context, v domain.Vehicle) error {
	return s.Atomic(ctx, func(ctx context.Context, st app.Store) error { return st.UpdateVehicle(ctx, v) })
}

// DeleteVehicle deletes vehicle.
func (s *Store) DeleteVehicle(ctx context.Context, id string) error {
	return s.Atomic(ctx, func(ctx context.Context, st app.Store) error { return st.DeleteVehicle(ctx, id) })
}

// GetVehicle returns vehicle.
func (s *Store) GetVehicle(ctx context.Context, id string) (domain.Vehicle, error) {
	var out domain.Vehicle
	err := s.Atomic(ctx, func(ctx context.Context, st app.Store) error {
		v, err := st.GetVehicle(ctx, id)
		out = v
		return err
	})
	return out, err
}

// ListVehicles lists vehicles.
func (s *Store) ListVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	var out []domain.Vehicle
	err := s.Atomic(ctx, func(ctx context.Context, st app.Store) error {
		vehicles, err := st.ListVehicles(ctx)
		out = vehicles
		return err
	})
	return out, err
}

// AppendEvent appends an event.
func (s *Store) AppendEvent(ctx context.Context, day string, event domain.StatusEvent) error {
	return s.Atomic(ctx, func(ctx context.Context, st app.Store) error { return st.AppendEvent(ctx, day, event) })
}

// LoadPartition loads one day.
func (s *Store) LoadPartition(ctx context.Context, day string) (domain.Partition, error) {
	var out domain.Partition
	err := s.Atomic(ctx, func(ctx context.Context, st app.Store) error {
		p, err := st.LoadPartition(ctx, day)
		out = p
		return err
	})
	return out, err
}

// ListDays lists the days that have a partition file.
func (s *Store) ListDays(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listDaysLocked()
}

func (s *Store) listDaysLocked() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, historyDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	out := []string{}
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".json")
		if entry.IsDir() || !ok {
			continue
		}
		if _, err := domain.ParseDay(name); err != nil {
			continue
		}
		out = append(out, name)
	}
	slices.Sort(out)
	return out, nil
}

// fileTx is the staged view handed to Atomic callbacks.
type fileTx struct {
	store         *Store
	vehicles      []domain.Vehicle
	vehiclesRead  bool
	vehiclesDirty bool
	partitions    map[string]*domain.Partition
	dirty         map[string]bool
}

func (tx *fileTx) loadVehicles() error {
	if tx.vehiclesRead {
		return nil
	}
	vehicles, err := readRegistry(filepath.Join(tx.store.dir, registryFile))
	if err != nil {
		return err
	}
	tx.vehicles = vehicles
	tx.vehiclesRead = true
	return nil
}

func (tx *fileTx) indexOf(id string) int {
	return slices.IndexFunc(tx.vehicles, func(v domain.Vehicle) bool { return v.ID == id })
}

func (tx *fileTx) CreateVehicle(_ context.Context, v domain.Vehicle) error {
	if err := tx.loadVehicles(); err != nil {
		return err
	}
	if tx.indexOf(v.ID) >= 0 {
		return fmt.Errorf("vehicle %q already exists", v.ID)
	}
	tx.vehicles = append(tx.vehicles, v)
	tx.vehiclesDirty = true
	return nil
}

func (tx *fileTx) UpdateVehicle(_ context.Context, v domain.Vehicle) error {
	if err := tx.loadVehicles(); err != nil {
		return err
	}
	idx := tx.indexOf(v.ID)
	if idx < 0 {
		return app.ErrNotFound
	}
	tx.vehicles[idx] = v
	tx.vehiclesDirty = true
	return nil
}

func (tx *fileTx) DeleteVehicle(_ context.Context, id string) error {
	if err := tx.loadVehicles(); err != nil {
		return err
	}
	idx := tx.indexOf(id)
	if idx < 0 {
		return app.ErrNotFound
	}
	tx.vehicles = slices.Delete(tx.vehicles, idx, idx+1)
	tx.vehiclesDirty = true
	return nil
}

func (tx *fileTx) GetVehicle(_ context.Context, id string) (domain.Vehicle, error) {
	if err := tx.loadVehicles(); err != nil {
		return domain.Vehicle{}, err
	}
	idx := tx.indexOf(id)
	if idx < 0 {
		return domain.Vehicle{}, app.ErrNotFound
	}
	return tx.vehicles[idx], nil
}

func (tx *fileTx) ListVehicles(context.Context) ([]domain.Vehicle, error) {
	if err := tx.loadVehicles(); err != nil {
		return nil, err
	}
	return slices.Clone(tx.vehicles), nil
}

func (tx *fileTx) partition(day string) (*domain.Partition, error) {
	if p, ok := tx.partitions[day]; ok {
		return p, nil
	}
	p, err := readPartition(tx.store.partitionPath(day), day)
	if err != nil {
		return nil, err
	}
	tx.partitions[day] = &p
	return &p, nil
}

// AppendEvent stages event for day. An event repeating a (cycle, status) pair
// already recorded for the vehicle is dropped, so a mutation retried after the
// partition was written but the registry was not leaves a single entry.
func (tx *fileTx) AppendEvent(_ context.Context, day string, event domain.StatusEvent) error {
	p, err := tx.partition(day)
	if err != nil {
		return err
	}
	if recorded(p.Events[event.VehicleID], event) {
		return nil
	}
	p.Append(event)
	tx.dirty[day] = true
	return nil
}

func recorded(events []domain.StatusEvent, event domain.StatusEvent) bool {
	return slices.ContainsFunc(events, func(e domain.StatusEvent) bool {
		return e.Cycle == event.Cycle && e.Status == event.Status
	})
}

func (tx *fileTx) LoadPartition(_ context.Context, day string) (domain.Partition, error) {
	p, err := tx.partition(day)
	if err != nil {
		return domain.Partition{}, err
	}
	out := domain.NewPartition(day)
	for id, events := range p.Events {
		out.Events[id] = slices.Clone(events)
	}
	return out, nil
}

func (tx *fileTx) ListDays(context.Context) ([]string, error) {
	days, err := tx.store.listDaysLocked()
	if err != nil {
		return nil, err
	}
	for day, dirty := range tx.dirty {
		if dirty && !slices.Contains(days, day) {
			days = append(days, day)
		}
	}
	slices.Sort(days)
	return days, nil
}

// flush writes partitions before the registry. A failed registry write leaves
// events ahead of the registry; AppendEvent absorbs the retry.
func (tx *fileTx) flush() error {
	days := make([]string, 0, len(tx.dirty))
	for day := range tx.dirty {
		days = append(days, day)
	}
	slices.Sort(days)
	for _, day := range days {
		if err := writeJSONAtomic(tx.store.partitionPath(day), partitionToFile(*tx.partitions[day])); err != nil {
			return err
		}
	}
	if tx.vehiclesDirty {
		if err := writeJSONAtomic(filepath.Join(tx.store.dir, registryFile), vehiclesToFile(tx.vehicles)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) partitionPath(day string) string {
	return filepath.Join(s.dir, historyDir, day+".json")
}

// vehicleRecord is the on-disk registry entry.
type vehicleRecord struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	LicensePlate string    `json:"licensePlate"`
	Status       string    `json:"status"`
	Cycle        int       `json:"cycle"`
	LastWeight   *float64  `json:"last_weight,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
}

// eventRecord is the on-disk status event.
type eventRecord struct {
	Timestamp int64   `json:"timestamp"`
	Status    string  `json:"status"`
	Cycle     int     `json:"cycle"`
	Weight    float64 `json:"weight"`
	Fallback  bool    `json:"fallback,omitempty"`
}

func readRegistry(path string) ([]domain.Vehicle, error) {
	var records []vehicleRecord
	if err := readJSON(path, &records); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []domain.Vehicle{}, nil
		}
		return nil, err
	}
	out := make([]domain.Vehicle, 0, len(records))
	for i, r := range records {
		status, err := domain.ParseState(r.Status)
		if err != nil {
			return nil, fmt.Errorf("decode %s[%d]: %w", registryFile, i, err)
		}
		cycle := r.Cycle
		if cycle < 1 {
			cycle = 1
		}
		out = append(out, domain.Vehicle{
			ID:           r.ID,
			Model:        r.Model,
			LicensePlate: r.LicensePlate,
			Status:       status,
			Cycle:        cycle,
			LastWeight:   r.LastWeight,
			CreatedAt:    r.CreatedAt.UTC(),
			UpdatedAt:    r.UpdatedAt.UTC(),
		})
	}
	return out, nil
}

func vehiclesToFile(vehicles []domain.Vehicle) []vehicleRecord {
	out := make([]vehicleRecord, 0, len(vehicles))
	for _, v := range vehicles {
		out = append(out, vehicleRecord{
			ID:           v.ID,
			Model:        v.Model,
			LicensePlate: v.LicensePlate,
			Status:       string(v.Status),
			Cycle:        v.Cycle,
			LastWeight:   v.LastWeight,
			CreatedAt:    v.CreatedAt.UTC(),
			UpdatedAt:    v.UpdatedAt.UTC(),
		})
	}
	return out
}

func readPartition(path, day string) (domain.Partition, error) {
	var records map[string][]eventRecord
	if err := readJSON(path, &records); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.NewPartition(day), nil
		}
		return domain.Partition{}, err
	}
	p := domain.NewPartition(day)
	for vehicleID, events := range records {
		converted := make([]domain.StatusEvent, 0, len(events))
		for i, r := range events {
			status, err := domain.ParseState(r.Status)
			if err != nil {
				return domain.Partition{}, fmt.Errorf("decode %s %s[%d]: %w", day, vehicleID, i, err)
			}
			converted = append(converted, domain.StatusEvent{
				VehicleID: vehicleID,
				Timestamp: r.Timestamp,
				Status:    status,
				Cycle:     r.Cycle,
				Weight:    r.Weight,
				Fallback:  r.Fallback,
			})
		}
		domain.SortEvents(converted)
		p.Events[vehicleID] = converted
	}
	return p, nil
}

func partitionToFile(p domain.Partition) map[string][]eventRecord {
	out := make(map[string][]eventRecord, len(p.Events))
	for vehicleID, events := range p.Events {
		records := make([]eventRecord, 0, len(events))
		for _, e := range events {
			records = append(records, eventRecord{
				Timestamp: e.Timestamp,
				Status:    string(e.Status),
				Cycle:     e.Cycle,
				Weight:    e.Weight,
				Fallback:  e.Fallback,
			})
		}
		out[vehicleID] = records
	}
	return out
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return fs.ErrNotExist
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
