package app

import (
	"context"
	"sync"
	"time"

	"github.com/markumedium/loading-server/internal/domain"
)

// DefaultLoadingThreshold is how long a vehicle may load before an alert fires.
const DefaultLoadingThreshold = 30 * time.Minute

// Alert reports a vehicle that has been loading for too long.
type Alert struct {
	Vehicle domain.Vehicle
	Since   time.Time
	Elapsed time.Duration
}

// AlertMonitorConfig holds configuration for the alert monitor.
type AlertMonitorConfig struct {
	Threshold time.Duration
	Logger    Logger
	Metrics   Metrics
}

// AlertMonitor raises one alert per vehicle and cycle for long loading.
type AlertMonitor struct {
	svc       *Service
	notifier  Notifier
	notified  NotifiedSet
	threshold time.Duration
	logger    Logger
	metrics   Metrics
}

// NewAlertMonitor constructs a new value for this package.
func NewAlertMonitor(svc *Service, notifier Notifier, notified NotifiedSet, cfg AlertMonitorConfig) *AlertMonitor {
	if notified == nil {
		notified = NewMemoryNotifiedSet()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultLoadingThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &AlertMonitor{
		svc:       svc,
		notifier:  notifier,
		notified:  notified,
		threshold: cfg.Threshold,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Threshold returns the configured loading threshold.
func (m *AlertMonitor) Threshold() time.Duration {
	return m.threshold
}

// Scan checks today's partition and emits the alerts that are due.
// A delivery failure leaves the pair unrecorded so the next scan retries it.
func (m *AlertMonitor) Scan(ctx context.Context) ([]Alert, error) {
	day := m.svc.Today()
	vehicles, partition, err := m.svc.snapshot(ctx, day)
	if err != nil {
		return nil, classify("alert scan", err)
	}
	now := m.svc.Now()

	ids := make([]string, 0, len(vehicles))
	alerts := []Alert{}
	var firstErr error
	for _, vehicle := range vehicles {
		ids = append(ids, vehicle.ID)
		if vehicle.Status != domain.StateLoading {
			continue
		}
		since, ok := latestLoadingStart(partition.Events[vehicle.ID], vehicle.Cycle)
		if !ok {
			continue
		}
		elapsed := now.Sub(since)
		if elapsed < m.threshold {
			continue
		}
		last, seen, err := m.notified.LastAlerted(ctx, vehicle.ID)
		if err != nil {
			firstErr = keepFirst(firstErr, err)
			continue
		}
		if seen && last == vehicle.Cycle {
			continue
		}
		alert := Alert{Vehicle: vehicle, Since: since, Elapsed: elapsed}
		if m.notifier != nil {
			if err := m.notifier.NotifyAlert(ctx, alert); err != nil {
				m.logger.Warn("alert delivery failed", "vehicle_id", vehicle.ID, "cycle", vehicle.Cycle, "err", err)
				firstErr = keepFirst(firstErr, err)
				continue
			}
		}
		if err := m.notified.MarkAlerted(ctx, vehicle.ID, vehicle.Cycle); err != nil {
			firstErr = keepFirst(firstErr, err)
		}
		m.metrics.AlertEmitted()
		m.logger.Info("long loading alert", "vehicle_id", vehicle.ID, "cycle", vehicle.Cycle, "elapsed", elapsed.Round(time.Second))
		alerts = append(alerts, alert)
	}
	if err := m.notified.Retain(ctx, ids); err != nil {
		firstErr = keepFirst(firstErr, err)
	}
	if firstErr != nil {
		return alerts, classify("alert scan", firstErr)
	}
	return alerts, nil
}

// latestLoadingStart walks events newest first for the Loading entry of cycle.
func latestLoadingStart(events []domain.StatusEvent, cycle int) (time.Time, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Status == domain.StateLoading && events[i].Cycle == cycle {
			return events[i].Time(), true
		}
	}
	return time.Time{}, false
}

func keepFirst(current, next error) error {
	if current != nil {
		return current
	}
	return next
}

// MemoryNotifiedSet is a process-local NotifiedSet.
// It holds at most one entry per registered vehicle.
type MemoryNotifiedSet struct {
	mu     sync.Mutex
	cycles map[string]int
}

// NewMemoryNotifiedSet constructs an empty set.
func NewMemoryNotifiedSet() *MemoryNotifiedSet {
	return &MemoryNotifiedSet{cycles: map[string]int{}}
}

// LastAlerted returns the last alerted cycle for vehicleID.
func (s *MemoryNotifiedSet) LastAlerted(_ context.Context, vehicleID string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cycle, ok := s.cycles[vehicleID]
	return cycle, ok, nil
}

// MarkAlerted records cycle as alerted, replacing any older cycle.
func (s *MemoryNotifiedSet) MarkAlerted(_ context.Context, vehicleID string, cycle int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles[vehicleID] = cycle
	return nil
}

// Retain drops vehicles that are no longer registered.
func (s *MemoryNotifiedSet) Retain(_ context.Context, vehicleIDs []string) error {
	keep := make(map[string]struct{}, len(vehicleIDs))
	for _, id := range vehicleIDs {
		keep[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.cycles {
		if _, ok := keep[id]; !ok {
			delete(s.cycles, id)
		}
	}
	return nil
}

// Len returns the number of tracked vehicles.
func (s *MemoryNotifiedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cycles)
}
