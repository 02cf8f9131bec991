package common

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/markumedium/loading-server/internal/app"
	"github.com/markumedium/loading-server/internal/domain"
)

// AppServiceAdapter maps transport contracts onto app.Service.
type AppServiceAdapter struct {
	service        *app.Service
	rolloverSecret string
}

var _ YardService = (*AppServiceAdapter)(nil)

// NewAppServiceAdapter builds one adapter; an empty rolloverSecret disables remote rollover.
func NewAppServiceAdapter(service *app.Service, rolloverSecret string) *AppServiceAdapter {
	return &AppServiceAdapter{service: service, rolloverSecret: rolloverSecret}
}

// ListVehicles lists the registry, optionally filtered by status.
func (a *AppServiceAdapter) ListVehicles(ctx context.Context, status string) ([]Vehicle, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	var filter domain.State
	if strings.TrimSpace(status) != "" {
		parsed, err := domain.ParseState(status)
		if err != nil {
			return nil, fmt.Errorf("list vehicles: %w", errors.Join(ErrInvalidRequest, err))
		}
		filter = parsed
	}
	vehicles, err := a.service.ListVehicles(ctx, filter)
	if err != nil {
		return nil, mapAppError("list vehicles", err)
	}
	out := make([]Vehicle, 0, len(vehicles))
	for _, v := range vehicles {
		out = append(out, MapVehicle(v))
	}
	return out, nil
}

// GetVehicle returns one vehicle.
func (a *AppServiceAdapter) GetVehicle(ctx context.Context, id string) (Vehicle, error) {
	if err := a.ready(); err != nil {
		return Vehicle{}, err
	}
	v, err := a.service.GetVehicle(ctx, id)
	if err != nil {
		return Vehicle{}, mapAppError("get vehicle", err)
	}
	return MapVehicle(v), nil
}

// RegisterVehicle adds a vehicle at the yard in cycle 1.
func (a *AppServiceAdapter) RegisterVehicle(ctx context.Context, in RegisterVehicleRequest) (Vehicle, error) {
	if err := a.ready(); err != nil {
		return Vehicle{}, err
	}
	v, err := a.service.RegisterVehicle(ctx, app.RegisterVehicleInput{
		Model:        in.Model,
		LicensePlate: in.LicensePlate,
	})
	if err != nil {
		return Vehicle{}, mapAppError("register vehicle", err)
	}
	return MapVehicle(v), nil
}

// UpdateVehicle replaces model and plate.
func (a *AppServiceAdapter) UpdateVehicle(ctx context.Context, in UpdateVehicleRequest) (Vehicle, error) {
	if err := a.ready(); err != nil {
		return Vehicle{}, err
	}
	v, err := a.service.UpdateVehicle(ctx, app.UpdateVehicleInput{
		VehicleID:    in.ID,
		Model:        in.Model,
		LicensePlate: in.LicensePlate,
	})
	if err != nil {
		return Vehicle{}, mapAppError("update vehicle", err)
	}
	return MapVehicle(v), nil
}

// RemoveVehicle deletes a registry entry; its history stays.
func (a *AppServiceAdapter) RemoveVehicle(ctx context.Context, id string) error {
	if err := a.ready(); err != nil {
		return err
	}
	return mapAppError("remove vehicle", a.service.RemoveVehicle(ctx, id))
}

// Transition applies one state change.
func (a *AppServiceAdapter) Transition(ctx context.Context, in TransitionRequest) (TransitionResponse, error) {
	if err := a.ready(); err != nil {
		return TransitionResponse{}, err
	}
	target, err := domain.ParseState(in.Status)
	if err != nil {
		return TransitionResponse{}, fmt.Errorf("transition: %w", errors.Join(ErrInvalidRequest, err))
	}
	res, err := a.service.Transition(ctx, app.TransitionInput{
		VehicleID: in.VehicleID,
		Target:    target,
		Timestamp: in.Timestamp,
		Weight:    in.Weight,
	})
	if err != nil {
		return TransitionResponse{}, mapAppError("transition", err)
	}
	return TransitionResponse{
		Vehicle: MapVehicle(res.Vehicle),
		Event:   MapEvent(res.Event),
		Day:     res.Day,
	}, nil
}

// Rollover checks the shared secret and runs one rollover.
func (a *AppServiceAdapter) Rollover(ctx context.Context, in RolloverRequest) (RolloverResponse, error) {
	if err := a.ready(); err != nil {
		return RolloverResponse{}, err
	}
	if err := app.CheckRolloverSecret(a.rolloverSecret, in.Secret); err != nil {
		return RolloverResponse{}, mapAppError("rollover", err)
	}
	mode, err := app.ParseRolloverMode(in.Mode)
	if err != nil {
		return RolloverResponse{}, mapAppError("rollover", err)
	}
	res, err := a.service.Rollover(ctx, mode)
	if err != nil {
		return RolloverResponse{}, mapAppError("rollover", err)
	}
	return RolloverResponse{
		Mode:      string(res.Mode),
		Day:       res.Day,
		Timestamp: res.Timestamp,
		Vehicles:  res.Vehicles,
		Events:    res.Events,
	}, nil
}

// Reports builds the report for one day or every day of a range that has data.
func (a *AppServiceAdapter) Reports(ctx context.Context, in ReportRequest) ([]Report, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	req, err := normalizeReportRequest(in, a.service.Today())
	if err != nil {
		return nil, err
	}
	loc := a.service.Location()
	if req.Date != "" {
		report, err := a.service.Report(ctx, req.Date)
		if err != nil {
			return nil, mapAppError("report", err)
		}
		return []Report{MapReport(report, loc)}, nil
	}
	reports, err := a.service.ReportRange(ctx, req.Start, req.End)
	if err != nil {
		return nil, mapAppError("report range", err)
	}
	out := make([]Report, 0, len(reports))
	for _, report := range reports {
		out = append(out, MapReport(report, loc))
	}
	return out, nil
}

// History returns raw partitions for one day or every day of a range that has data.
func (a *AppServiceAdapter) History(ctx context.Context, in ReportRequest) ([]HistoryDay, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	req, err := normalizeReportRequest(in, a.service.Today())
	if err != nil {
		return nil, err
	}
	var partitions []domain.Partition
	if req.Date != "" {
		partition, err := a.service.LoadPartition(ctx, req.Date)
		if err != nil {
			return nil, mapAppError("history", err)
		}
		partitions = []domain.Partition{partition}
	} else {
		partitions, err = a.service.LoadPartitionRange(ctx, req.Start, req.End)
		if err != nil {
			return nil, mapAppError("history range", err)
		}
	}
	out := make([]HistoryDay, 0, len(partitions))
	for _, p := range partitions {
		out = append(out, MapPartition(p))
	}
	return out, nil
}

func (a *AppServiceAdapter) ready() error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	return nil
}

// normalizeReportRequest defaults to today and rejects mixed date and range input.
func normalizeReportRequest(in ReportRequest, today string) (ReportRequest, error) {
	in.Date = strings.TrimSpace(in.Date)
	in.Start = strings.TrimSpace(in.Start)
	in.End = strings.TrimSpace(in.End)
	switch {
	case in.Date != "" && (in.Start != "" || in.End != ""):
		return ReportRequest{}, fmt.Errorf("date and start/end are mutually exclusive: %w", ErrInvalidRequest)
	case in.Start != "" || in.End != "":
		if in.Start == "" || in.End == "" {
			return ReportRequest{}, fmt.Errorf("start and end are both required: %w", ErrInvalidRequest)
		}
		return in, nil
	case in.Date == "":
		in.Date = today
	}
	return in, nil
}

// MapVehicle converts a domain vehicle to its wire form.
func MapVehicle(v domain.Vehicle) Vehicle {
	out := Vehicle{
		ID:           v.ID,
		Model:        v.Model,
		LicensePlate: v.LicensePlate,
		Status:       string(v.Status),
		StatusLabel:  v.Status.Label(),
		Cycle:        v.Cycle,
		CreatedAt:    v.CreatedAt.UTC(),
		UpdatedAt:    v.UpdatedAt.UTC(),
	}
	if v.LastWeight != nil {
		w := *v.LastWeight
		out.LastWeight = &w
	}
	return out
}

// MapEvent converts a domain event to its wire form.
func MapEvent(e domain.StatusEvent) Event {
	return Event{
		VehicleID: e.VehicleID,
		Timestamp: e.Timestamp,
		Status:    string(e.Status),
		Cycle:     e.Cycle,
		Weight:    e.Weight,
		Fallback:  e.Fallback,
	}
}

// MapPartition converts a stored partition to its wire form.
func MapPartition(p domain.Partition) HistoryDay {
	out := HistoryDay{Day: p.Day, Events: make(map[string][]Event, len(p.Events))}
	for _, vehicleID := range p.VehicleIDs() {
		events := p.Events[vehicleID]
		mapped := make([]Event, 0, len(events))
		for _, e := range events {
			mapped = append(mapped, MapEvent(e))
		}
		out.Events[vehicleID] = mapped
	}
	return out
}

// MapReport converts a report to its wire form, including the markdown rendering.
func MapReport(r app.Report, loc *time.Location) Report {
	out := Report{
		Day:         r.Day,
		GeneratedAt: r.GeneratedAt.UTC(),
		Active:      make([]ActiveRow, 0, len(r.Active)),
		Completed:   make([]CompletedRow, 0, len(r.Completed)),
		Markdown:    app.RenderReportMarkdown(r, loc),
	}
	for _, row := range r.Active {
		out.Active = append(out.Active, ActiveRow{
			VehicleID:    row.VehicleID,
			Model:        row.Model,
			LicensePlate: row.LicensePlate,
			Status:       string(row.Status),
			Cycle:        row.Cycle,
			Cells:        mapCells(row.Cells, loc),
		})
	}
	for _, row := range r.Completed {
		out.Completed = append(out.Completed, CompletedRow{
			VehicleID:    row.VehicleID,
			Model:        row.Model,
			LicensePlate: row.LicensePlate,
			Cycle:        row.Cycle,
			Cells:        mapCells(row.Cells, loc),
		})
	}
	return out
}

func mapCells(cells []app.Cell, loc *time.Location) []Cell {
	out := make([]Cell, 0, len(cells))
	for _, c := range cells {
		cell := Cell{
			State: string(c.State),
			Open:  c.Open,
			Text:  app.FormatCell(c, loc),
		}
		if c.HasStart {
			start := c.Start.UTC()
			cell.Start = &start
		}
		if c.HasDuration {
			seconds := int64(c.Duration / time.Second)
			cell.DurationSeconds = &seconds
		}
		out = append(out, cell)
	}
	return out
}

// mapAppError maps app errors onto transport errors, keeping the original chain.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, app.ErrIllegalTransition):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrConflict, err))
	case errors.Is(err, app.ErrInvalidInput):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	case errors.Is(err, app.ErrUnauthorized):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrUnauthorized, err))
	case errors.Is(err, app.ErrStorageFailure):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrUnavailable, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}

// SupportedStatuses lists the canonical wire state values in cycle order.
func SupportedStatuses() []string {
	states := domain.States()
	out := make([]string, 0, len(states))
	for _, s := range states {
		out = append(out, string(s))
	}
	return slices.Clip(out)
}
