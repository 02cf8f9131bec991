// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrConflict reports a request that the current vehicle state does not allow.
var ErrConflict = errors.New("conflict")

// ErrUnauthorized reports a missing or wrong rollover secret.
var ErrUnauthorized = errors.New("unauthorized")

// ErrUnavailable reports a storage backend that could not serve the request.
var ErrUnavailable = errors.New("service unavailable")

// Vehicle is the wire form of a registry entry.
type Vehicle struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	LicensePlate string    `json:"licensePlate"`
	Status       string    `json:"status"`
	StatusLabel  string    `json:"status_label"`
	Cycle        int       `json:"cycle"`
	LastWeight   *float64  `json:"last_weight,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Event is the wire form of one status event.
type Event struct {
	VehicleID string  `json:"vehicle_id"`
	Timestamp int64   `json:"timestamp"`
	Status    string  `json:"status"`
	Cycle     int     `json:"cycle"`
	Weight    float64 `json:"weight"`
	Fallback  bool    `json:"fallback,omitempty"`
}

// HistoryDay is one stored partition keyed by vehicle id.
type HistoryDay struct {
	Day    string             `json:"day"`
	Events map[string][]Event `json:"events"`
}

// RegisterVehicleRequest adds a vehicle to the registry.
type RegisterVehicleRequest struct {
	Model        string `json:"model"`
	LicensePlate string `json:"licensePlate"`
}

// UpdateVehicleRequest replaces a vehicle's descriptive fields.
type UpdateVehicleRequest struct {
	ID           string `json:"id,omitempty"`
	Model        string `json:"model"`
	LicensePlate string `json:"licensePlate"`
}

// TransitionRequest asks to move one vehicle to a new state.
type TransitionRequest struct {
	VehicleID string `json:"vehicle_id"`
	Status    string `json:"status"`
	// Timestamp is optional; an unreadable value is replaced by the server clock.
	Timestamp string   `json:"timestamp,omitempty"`
	Weight    *float64 `json:"weight,omitempty"`
}

// TransitionResponse reports the applied transition.
type TransitionResponse struct {
	Vehicle Vehicle `json:"vehicle"`
	Event   Event   `json:"event"`
	Day     string  `json:"day"`
}

// RolloverRequest triggers the end-of-shift reset.
type RolloverRequest struct {
	Mode   string `json:"mode,omitempty"`
	Secret string `json:"-"`
}

// RolloverResponse summarizes one rollover.
type RolloverResponse struct {
	Mode      string `json:"mode"`
	Day       string `json:"day"`
	Timestamp int64  `json:"timestamp"`
	Vehicles  int    `json:"vehicles"`
	Events    int    `json:"events"`
}

// ReportRequest selects one day or an inclusive range; empty means today.
type ReportRequest struct {
	Date  string
	Start string
	End   string
}

// Cell is one (start, duration) pair of a report row.
type Cell struct {
	State           string     `json:"state"`
	Start           *time.Time `json:"start,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
	Open            bool       `json:"open,omitempty"`
	Text            string     `json:"text"`
}

// ActiveRow is one vehicle's current-cycle row.
type ActiveRow struct {
	VehicleID    string `json:"vehicle_id"`
	Model        string `json:"model"`
	LicensePlate string `json:"licensePlate"`
	Status       string `json:"status"`
	Cycle        int    `json:"cycle"`
	Cells        []Cell `json:"cells"`
}

// CompletedRow is one finished trip.
type CompletedRow struct {
	VehicleID    string `json:"vehicle_id"`
	Model        string `json:"model"`
	LicensePlate string `json:"licensePlate"`
	Cycle        int    `json:"cycle"`
	Cells        []Cell `json:"cells"`
}

// Report is the wire form of a day report.
type Report struct {
	Day         string         `json:"day"`
	GeneratedAt time.Time      `json:"generated_at"`
	Active      []ActiveRow    `json:"active"`
	Completed   []CompletedRow `json:"completed"`
	Markdown    string         `json:"markdown"`
}

// YardService is the operation set shared by the HTTP and MCP transports.
type YardService interface {
	ListVehicles(ctx context.Context, status string) ([]Vehicle, error)
	GetVehicle(ctx context.Context, id string) (Vehicle, error)
	RegisterVehicle(ctx context.Context, in RegisterVehicleRequest) (Vehicle, error)
	UpdateVehicle(ctx context.Context, in UpdateVehicleRequest) (Vehicle, error)
	RemoveVehicle(ctx context.Context, id string) error
	Transition(ctx context.Context, in TransitionRequest) (TransitionResponse, error)
	Rollover(ctx context.Context, in RolloverRequest) (RolloverResponse, error)
	Reports(ctx context.Context, in ReportRequest) ([]Report, error)
	History(ctx context.Context, in ReportRequest) ([]HistoryDay, error)
}

// ReadinessChecker reports whether the storage backend can serve requests.
type ReadinessChecker interface {
	Ping(ctx context.Context) error
}
