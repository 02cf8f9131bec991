package app

import (
	"context"

	"github.com/markumedium/loading-server/internal/domain"
)

// Registry holds the current snapshot of every registered vehicle.
type Registry interface {
	CreateVehicle(context.Context, domain.Vehicle) error
	UpdateVehicle(context.Context, domain.Vehicle) error
	DeleteVehicle(context.Context, string) error
	GetVehicle(context.Context, string) (domain.Vehicle, error)
	ListVehicles(context.Context) ([]domain.Vehicle, error)
}

// EventStore is the append-only, day-partitioned status history.
type EventStore interface {
	AppendEvent(ctx context.Context, day string, event domain.StatusEvent) error
	LoadPartition(ctx context.Context, day string) (domain.Partition, error)
	// ListDays returns every day that has events, oldest first.
	ListDays(ctx context.Context) ([]string, error)
}

// Store combines the registry and the event store.
type Store interface {
	Registry
	EventStore
}

// Repository is a Store that can run a group of writes as one unit.
type Repository interface {
	Store
	// Atomic runs fn against a store view whose writes commit together or not at all.
	Atomic(ctx context.Context, fn func(context.Context, Store) error) error
}

// Logger receives structured service logs.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// Metrics receives service instrumentation.
type Metrics interface {
	TransitionApplied(from, to domain.State)
	TransitionRejected(reason string)
	TimestampFallback()
	RolloverApplied(mode RolloverMode, vehicles int)
	AlertEmitted()
	ObserveFleet(byStatus map[domain.State]int)
}

// Notifier delivers alerts and scheduled reports to people.
type Notifier interface {
	NotifyAlert(context.Context, Alert) error
	DeliverReport(ctx context.Context, report Report, markdown string) error
}

// NotifiedSet remembers the last cycle alerted for each vehicle.
type NotifiedSet interface {
	LastAlerted(ctx context.Context, vehicleID string) (cycle int, ok bool, err error)
	MarkAlerted(ctx context.Context, vehicleID string, cycle int) error
	// Retain drops every entry whose vehicle is not listed.
	Retain(ctx context.Context, vehicleIDs []string) error
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopMetrics struct{}

func (noopMetrics) TransitionApplied(domain.State, domain.State) {}
func (noopMetrics) TransitionRejected(string)                    {}
func (noopMetrics) TimestampFallback()                           {}
func (noopMetrics) RolloverApplied(RolloverMode, int)            {}
func (noopMetrics) AlertEmitted()                                {}
func (noopMetrics) ObserveFleet(map[domain.State]int)            {}
