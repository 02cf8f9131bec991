package app

import (
	"context"
	"slices"
	"time"

	"github.com/markumedium/loading-server/internal/domain"
)

// Cell is the time a vehicle spent in one state during one cycle.
type Cell struct {
	State domain.State
	// HasStart is false when the cycle has no event for State.
	HasStart bool
	Start    time.Time
	// HasDuration is false when no later boundary closes the interval.
	HasDuration bool
	Duration    time.Duration
	// Open marks a duration measured against the report clock.
	Open bool
}

// ActiveRow covers a vehicle's current, still-open cycle.
type ActiveRow struct {
	VehicleID    string
	Model        string
	LicensePlate string
	Status       domain.State
	Cycle        int
	Cells        []Cell
}

// CompletedRow covers one past cycle that reached Departed.
type CompletedRow struct {
	VehicleID    string
	Model        string
	LicensePlate string
	Cycle        int
	Cells        []Cell
}

// Report holds both duration tables for one day.
type Report struct {
	Day         string
	GeneratedAt time.Time
	Active      []ActiveRow
	Completed   []CompletedRow
}

// Cell returns the cell for state, or a no-data cell.
func (r ActiveRow) Cell(state domain.State) Cell {
	return findCell(r.Cells, state)
}

// Cell returns the cell for state, or a no-data cell.
func (r CompletedRow) Cell(state domain.State) Cell {
	return findCell(r.Cells, state)
}

// Report builds both tables for day from a consistent snapshot.
func (s *Service) Report(ctx context.Context, day string) (Report, error) {
	day, err := domain.ParseDay(day)
	if err != nil {
		return Report{}, classify("report", err)
	}
	vehicles, partition, err := s.snapshot(ctx, day)
	if err != nil {
		return Report{}, classify("report", err)
	}
	s.metrics.ObserveFleet(countByStatus(vehicles))
	return BuildReport(day, vehicles, partition, s.clock()), nil
}

// ReportRange builds one report per day in the range that has data.
func (s *Service) ReportRange(ctx context.Context, start, end string) ([]Report, error) {
	days, err := rangeDays(start, end)
	if err != nil {
		return nil, classify("report range", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	vehicles, err := s.repo.ListVehicles(ctx)
	if err != nil {
		return nil, classify("report range", err)
	}
	now := s.clock()
	out := []Report{}
	for _, day := range days {
		partition, err := s.repo.LoadPartition(ctx, day)
		if err != nil {
			return nil, classify("report range", err)
		}
		if partition.Empty() {
			continue
		}
		out = append(out, BuildReport(day, vehicles, partition, now))
	}
	return out, nil
}

// BuildReport computes the active and completed tables for one partition.
// It reads only its arguments.
func BuildReport(day string, vehicles []domain.Vehicle, partition domain.Partition, now time.Time) Report {
	report := Report{
		Day:         day,
		GeneratedAt: now.UTC(),
		Active:      make([]ActiveRow, 0, len(vehicles)),
		Completed:   []CompletedRow{},
	}
	for _, vehicle := range vehicles {
		events := partition.Events[vehicle.ID]
		report.Active = append(report.Active, ActiveRow{
			VehicleID:    vehicle.ID,
			Model:        vehicle.Model,
			LicensePlate: vehicle.LicensePlate,
			Status:       vehicle.Status,
			Cycle:        vehicle.Cycle,
			Cells:        activeCells(events, vehicle.Cycle, now),
		})
		report.Completed = append(report.Completed, completedRows(vehicle, events)...)
	}
	return report
}

// activeCells pairs consecutive events of the current cycle; the last one stays open.
func activeCells(events []domain.StatusEvent, cycle int, now time.Time) []Cell {
	cells := emptyCells()
	current := make([]domain.StatusEvent, 0, len(events))
	for _, event := range events {
		if event.Cycle == cycle {
			current = append(current, event)
		}
	}
	for i, event := range current {
		idx := event.Status.Index()
		if idx < 0 {
			continue
		}
		cell := Cell{State: event.Status, HasStart: true, Start: event.Time(), HasDuration: true}
		if i+1 < len(current) {
			cell.Duration = nonNegative(current[i+1].Time().Sub(cell.Start))
		} else {
			cell.Duration = nonNegative(now.Sub(cell.Start))
			cell.Open = true
		}
		cells[idx] = cell
	}
	return cells
}

// completedRows reports every past cycle of the vehicle that reached Departed, oldest first.
func completedRows(vehicle domain.Vehicle, events []domain.StatusEvent) []CompletedRow {
	firstSeen := map[int][]*time.Time{}
	for _, event := range events {
		if event.Cycle >= vehicle.Cycle {
			continue
		}
		idx := event.Status.Index()
		if idx < 0 {
			continue
		}
		starts, ok := firstSeen[event.Cycle]
		if !ok {
			starts = make([]*time.Time, len(domain.States()))
			firstSeen[event.Cycle] = starts
		}
		if starts[idx] == nil {
			ts := event.Time()
			starts[idx] = &ts
		}
	}

	departed := domain.StateDeparted.Index()
	cycles := make([]int, 0, len(firstSeen))
	for cycle, starts := range firstSeen {
		if starts[departed] != nil {
			cycles = append(cycles, cycle)
		}
	}
	slices.Sort(cycles)

	out := make([]CompletedRow, 0, len(cycles))
	for _, cycle := range cycles {
		starts := firstSeen[cycle]
		cells := emptyCells()
		for i, start := range starts {
			if start == nil {
				continue
			}
			cell := Cell{State: cells[i].State, HasStart: true, Start: *start}
			for _, end := range starts[i+1:] {
				if end != nil {
					cell.HasDuration = true
					cell.Duration = nonNegative(end.Sub(*start))
					break
				}
			}
			cells[i] = cell
		}
		out = append(out, CompletedRow{
			VehicleID:    vehicle.ID,
			Model:        vehicle.Model,
			LicensePlate: vehicle.LicensePlate,
			Cycle:        cycle,
			Cells:        cells,
		})
	}
	return out
}

func emptyCells() []Cell {
	states := domain.States()
	cells := make([]Cell, len(states))
	for i, state := range states {
		cells[i] = Cell{State: state}
	}
	return cells
}

func findCell(cells []Cell, state domain.State) Cell {
	for _, cell := range cells {
		if cell.State == state {
			return cell
		}
	}
	return Cell{State: state}
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func countByStatus(vehicles []domain.Vehicle) map[domain.State]int {
	out := make(map[domain.State]int, len(domain.States()))
	for _, state := range domain.States() {
		out[state] = 0
	}
	for _, vehicle := range vehicles {
		out[vehicle.Status]++
	}
	return out
}
