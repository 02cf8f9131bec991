package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/markumedium/loading-server/internal/domain"
)

// timestampLayouts lists the accepted event timestamp formats, most common first.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// maxRangeDays bounds a single range read.
const maxRangeDays = 366

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	// Location is the facility time zone used for partition keys.
	Location      *time.Location
	CapturePolicy domain.CapturePolicy
	Logger        Logger
	Metrics       Metrics
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service owns the registry and event log and serializes every mutation.
type Service struct {
	mu      sync.RWMutex
	repo    Repository
	idGen   IDGenerator
	clock   Clock
	loc     *time.Location
	policy  domain.CapturePolicy
	logger  Logger
	metrics Metrics
}

// NewService constructs a new value for this package.
func NewService(repo Repository, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.CapturePolicy == nil {
		cfg.CapturePolicy = domain.DefaultCapturePolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &Service{
		repo:    repo,
		idGen:   idGen,
		clock:   clock,
		loc:     cfg.Location,
		policy:  cfg.CapturePolicy,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Location returns the facility time zone.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Now returns the service clock in UTC.
func (s *Service) Now() time.Time {
	return s.clock().UTC()
}

// Today returns the partition key for the current facility-local day.
func (s *Service) Today() string {
	return domain.DayOf(s.clock(), s.loc)
}

// RegisterVehicleInput holds input values for register vehicle operations.
type RegisterVehicleInput struct {
	Model        string
	LicensePlate string
}

// RegisterVehicle adds a vehicle at the yard on cycle 1 and records its anchor event.
func (s *Service) RegisterVehicle(ctx context.Context, in RegisterVehicleInput) (domain.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	vehicle, err := domain.NewVehicle(s.idGen(), in.Model, in.LicensePlate, now)
	if err != nil {
		return domain.Vehicle{}, classify("register vehicle", err)
	}
	anchor := domain.StatusEvent{
		VehicleID: vehicle.ID,
		Timestamp: now.Unix(),
		Status:    vehicle.Status,
		Cycle:     vehicle.Cycle,
	}
	day := domain.DayOf(now, s.loc)
	err = s.repo.Atomic(ctx, func(ctx context.Context, st Store) error {
		if err := st.CreateVehicle(ctx, vehicle); err != nil {
			return err
		}
		return st.AppendEvent(ctx, day, anchor)
	})
	if err != nil {
		return domain.Vehicle{}, classify("register vehicle", err)
	}
	s.logger.Info("vehicle registered", "vehicle_id", vehicle.ID, "model", vehicle.Model, "plate", vehicle.LicensePlate)
	return vehicle, nil
}

// UpdateVehicleInput holds input values for update vehicle operations.
type UpdateVehicleInput struct {
	VehicleID    string
	Model        string
	LicensePlate string
}

// UpdateVehicle replaces display attributes; state and cycle are untouched.
func (s *Service) UpdateVehicle(ctx context.Context, in UpdateVehicleInput) (domain.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out domain.Vehicle
	err := s.repo.Atomic(ctx, func(ctx context.Context, st Store) error {
		vehicle, err := st.GetVehicle(ctx, strings.TrimSpace(in.VehicleID))
		if err != nil {
			return err
		}
		if err := vehicle.UpdateDetails(in.Model, in.LicensePlate, s.clock()); err != nil {
			return err
		}
		if err := st.UpdateVehicle(ctx, vehicle); err != nil {
			return err
		}
		out = vehicle
		return nil
	})
	if err != nil {
		return domain.Vehicle{}, classify("update vehicle", err)
	}
	return out, nil
}

// RemoveVehicle drops a vehicle from the registry and leaves its history in place.
func (s *Service) RemoveVehicle(ctx context.Context, vehicleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vehicleID = strings.TrimSpace(vehicleID)
	if vehicleID == "" {
		return classify("remove vehicle", domain.ErrInvalidID)
	}
	if err := s.repo.DeleteVehicle(ctx, vehicleID); err != nil {
		return classify("remove vehicle", err)
	}
	s.logger.Info("vehicle removed", "vehicle_id", vehicleID)
	return nil
}

// GetVehicle returns one vehicle.
func (s *Service) GetVehicle(ctx context.Context, vehicleID string) (domain.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vehicle, err := s.repo.GetVehicle(ctx, strings.TrimSpace(vehicleID))
	if err != nil {
		return domain.Vehicle{}, classify("get vehicle", err)
	}
	return vehicle, nil
}

// ListVehicles lists registered vehicles, optionally only those in status.
func (s *Service) ListVehicles(ctx context.Context, status domain.State) ([]domain.Vehicle, error) {
	if status != "" && !status.Valid() {
		return nil, classify("list vehicles", domain.ErrInvalidState)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	vehicles, err := s.repo.ListVehicles(ctx)
	if err != nil {
		return nil, classify("list vehicles", err)
	}
	if status == "" {
		return vehicles, nil
	}
	return slices.DeleteFunc(vehicles, func(v domain.Vehicle) bool {
		return v.Status != status
	}), nil
}

// TransitionInput holds input values for transition operations.
type TransitionInput struct {
	VehicleID string
	Target    domain.State
	// Timestamp is the caller's wall-clock string; unreadable values fall back to now.
	Timestamp string
	Weight    *float64
}

// TransitionResult describes an applied transition.
type TransitionResult struct {
	Vehicle domain.Vehicle
	Event   domain.StatusEvent
	Day     string
}

// Transition moves a vehicle to the successor state and appends the entry event to today's partition.
func (s *Service) Transition(ctx context.Context, in TransitionInput) (TransitionResult, error) {
	vehicleID := strings.TrimSpace(in.VehicleID)
	if vehicleID == "" {
		return TransitionResult{}, classify("transition", domain.ErrInvalidID)
	}
	if !in.Target.Valid() {
		return TransitionResult{}, classify("transition", domain.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	at, fallback := parseEventTime(in.Timestamp, now)
	day := domain.DayOf(now, s.loc)

	var (
		result TransitionResult
		from   domain.State
	)
	err := s.repo.Atomic(ctx, func(ctx context.Context, st Store) error {
		vehicle, err := st.GetVehicle(ctx, vehicleID)
		if err != nil {
			return err
		}
		from = vehicle.Status
		cycle, err := vehicle.Advance(in.Target, now)
		if err != nil {
			return fmt.Errorf("%s -> %s: %w", from, in.Target, err)
		}
		event := domain.StatusEvent{
			VehicleID: vehicle.ID,
			Timestamp: at.Unix(),
			Status:    in.Target,
			Cycle:     cycle,
			Fallback:  fallback,
		}
		if in.Weight != nil && s.policy.Captures(from, in.Target, domain.CaptureWeight) {
			weight := *in.Weight
			if weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
				return domain.ErrInvalidWeight
			}
			event.Weight = weight
			vehicle.RecordWeight(weight)
		}
		if err := st.UpdateVehicle(ctx, vehicle); err != nil {
			return err
		}
		if err := st.AppendEvent(ctx, day, event); err != nil {
			return err
		}
		result = TransitionResult{Vehicle: vehicle, Event: event, Day: day}
		return nil
	})
	if err != nil {
		err = classify("transition", err)
		s.metrics.TransitionRejected(rejectionReason(err))
		if errors.Is(err, ErrStorageFailure) {
			s.logger.Error("transition failed", "vehicle_id", vehicleID, "target", in.Target, "err", err)
		}
		return TransitionResult{}, err
	}
	if fallback {
		s.metrics.TimestampFallback()
		s.logger.Warn("event timestamp unreadable, using current time", "vehicle_id", vehicleID, "timestamp", in.Timestamp)
	}
	s.metrics.TransitionApplied(from, in.Target)
	s.logger.Info("vehicle transitioned",
		"vehicle_id", vehicleID,
		"from", from,
		"to", in.Target,
		"cycle", result.Event.Cycle,
		"day", day,
	)
	return result, nil
}

// LoadPartition returns the events recorded for day.
func (s *Service) LoadPartition(ctx context.Context, day string) (domain.Partition, error) {
	day, err := domain.ParseDay(day)
	if err != nil {
		return domain.Partition{}, classify("load partition", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	partition, err := s.repo.LoadPartition(ctx, day)
	if err != nil {
		return domain.Partition{}, classify("load partition", err)
	}
	return partition, nil
}

// LoadToday returns the partition of the current facility-local day.
func (s *Service) LoadToday(ctx context.Context) (domain.Partition, error) {
	return s.LoadPartition(ctx, s.Today())
}

// LoadPartitionRange returns the non-empty partitions from start to end inclusive, oldest first.
func (s *Service) LoadPartitionRange(ctx context.Context, start, end string) ([]domain.Partition, error) {
	days, err := rangeDays(start, end)
	if err != nil {
		return nil, classify("load partition range", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Partition, 0, len(days))
	for _, day := range days {
		partition, err := s.repo.LoadPartition(ctx, day)
		if err != nil {
			return nil, classify("load partition range", err)
		}
		if partition.Empty() {
			continue
		}
		out = append(out, partition)
	}
	return out, nil
}

// snapshot reads the registry and one partition under the read lock.
func (s *Service) snapshot(ctx context.Context, day string) ([]domain.Vehicle, domain.Partition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vehicles, err := s.repo.ListVehicles(ctx)
	if err != nil {
		return nil, domain.Partition{}, err
	}
	partition, err := s.repo.LoadPartition(ctx, day)
	if err != nil {
		return nil, domain.Partition{}, err
	}
	return vehicles, partition, nil
}

// parseEventTime reads a caller timestamp as UTC wall-clock time. An omitted
// timestamp means now; an unreadable one also means now but reports fallback.
func parseEventTime(raw string, now time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), false
		}
	}
	return now, true
}

// rangeDays validates a day range and expands it once its length is within bounds.
func rangeDays(start, end string) ([]string, error) {
	span, err := domain.DaySpan(start, end)
	if err != nil {
		return nil, err
	}
	if span > maxRangeDays {
		return nil, fmt.Errorf("range of %d days exceeds %d: %w", span, maxRangeDays, domain.ErrInvalidDay)
	}
	return domain.DaysBetween(start, end)
}

// rejectionReason labels a failed transition for metrics.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "storage_failure"
	}
}
