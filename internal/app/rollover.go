package app

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/markumedium/loading-server/internal/domain"
)

// RolloverMode selects how vehicles are returned to the yard.
type RolloverMode string

// RolloverCascade and related constants define rollover modes.
const (
	// RolloverCascade records every state skipped on the way back to the yard.
	RolloverCascade RolloverMode = "cascade"
	// RolloverSingleJump records only the arrival at the yard.
	RolloverSingleJump RolloverMode = "single_jump"
)

// ParseRolloverMode normalizes a rollover mode name.
func ParseRolloverMode(raw string) (RolloverMode, error) {
	switch RolloverMode(strings.ToLower(strings.TrimSpace(raw))) {
	case RolloverCascade:
		return RolloverCascade, nil
	case RolloverSingleJump, "single", "jump", "":
		return RolloverSingleJump, nil
	default:
		return "", fmt.Errorf("%w: unknown rollover mode %q", ErrInvalidInput, raw)
	}
}

// RolloverResult summarizes one rollover pass.
type RolloverResult struct {
	Mode      RolloverMode
	Day       string
	Timestamp int64
	Vehicles  int
	Events    int
}

// Rollover returns every registered vehicle to the yard and starts its next cycle.
// The registry update and all synthetic events are written as one unit.
func (s *Service) Rollover(ctx context.Context, mode RolloverMode) (RolloverResult, error) {
	if mode != RolloverCascade && mode != RolloverSingleJump {
		return RolloverResult{}, fmt.Errorf("rollover: %w: unknown mode %q", ErrInvalidInput, mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	result := RolloverResult{
		Mode:      mode,
		Day:       domain.DayOf(now, s.loc),
		Timestamp: now.Unix(),
	}
	err := s.repo.Atomic(ctx, func(ctx context.Context, st Store) error {
		vehicles, err := st.ListVehicles(ctx)
		if err != nil {
			return err
		}
		for _, vehicle := range vehicles {
			events := rolloverEvents(vehicle, mode, result.Timestamp)
			vehicle.Status = domain.StateAtYard
			vehicle.Cycle++
			vehicle.UpdatedAt = now
			if err := st.UpdateVehicle(ctx, vehicle); err != nil {
				return err
			}
			for _, event := range events {
				if err := st.AppendEvent(ctx, result.Day, event); err != nil {
					return err
				}
			}
			result.Events += len(events)
		}
		result.Vehicles = len(vehicles)
		return nil
	})
	if err != nil {
		err = classify("rollover", err)
		s.logger.Error("rollover failed", "mode", mode, "err", err)
		return RolloverResult{}, err
	}
	s.metrics.RolloverApplied(mode, result.Vehicles)
	s.logger.Info("rollover applied", "mode", mode, "day", result.Day, "vehicles", result.Vehicles, "events", result.Events)
	return result, nil
}

// rolloverEvents builds the synthetic events for one vehicle; only the final AtYard event carries the new cycle.
func rolloverEvents(vehicle domain.Vehicle, mode RolloverMode, ts int64) []domain.StatusEvent {
	path := []domain.State{domain.StateAtYard}
	if mode == RolloverCascade {
		path = domain.CascadePath(vehicle.Status)
	}
	out := make([]domain.StatusEvent, 0, len(path))
	for _, state := range path {
		cycle := vehicle.Cycle
		if state == domain.StateAtYard {
			cycle++
		}
		out = append(out, domain.StatusEvent{
			VehicleID: vehicle.ID,
			Timestamp: ts,
			Status:    state,
			Cycle:     cycle,
		})
	}
	return out
}

// CheckRolloverSecret authorizes an external rollover trigger.
// An empty expected secret disables the trigger entirely.
func CheckRolloverSecret(expected, presented string) error {
	if expected == "" {
		return fmt.Errorf("%w: rollover trigger disabled", ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) != 1 {
		return fmt.Errorf("%w: invalid rollover secret", ErrUnauthorized)
	}
	return nil
}
