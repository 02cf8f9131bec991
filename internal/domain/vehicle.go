package domain

import (
	"strings"
	"time"
)

// Vehicle is the registry snapshot of one tracked vehicle.
type Vehicle struct {
	ID           string
	Model        string
	LicensePlate string
	Status       State
	Cycle        int
	LastWeight   *float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewVehicle constructs a vehicle parked at the yard on its first cycle.
func NewVehicle(id, model, plate string, now time.Time) (Vehicle, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Vehicle{}, ErrInvalidID
	}
	model, plate, err := normalizeVehicleDetails(model, plate)
	if err != nil {
		return Vehicle{}, err
	}
	return Vehicle{
		ID:           id,
		Model:        model,
		LicensePlate: plate,
		Status:       StateAtYard,
		Cycle:        1,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}, nil
}

// UpdateDetails replaces the display attributes.
func (v *Vehicle) UpdateDetails(model, plate string, now time.Time) error {
	model, plate, err := normalizeVehicleDetails(model, plate)
	if err != nil {
		return err
	}
	v.Model = model
	v.LicensePlate = plate
	v.UpdatedAt = now.UTC()
	return nil
}

// Advance moves the vehicle to target along the yard graph and returns the cycle the entry event carries.
func (v *Vehicle) Advance(target State, now time.Time) (int, error) {
	if !target.Valid() {
		return 0, ErrInvalidState
	}
	if !CanTransition(v.Status, target) {
		return 0, ErrIllegalTransition
	}
	if StartsNewCycle(v.Status, target) {
		v.Cycle++
	}
	v.Status = target
	v.UpdatedAt = now.UTC()
	return v.Cycle, nil
}

// RecordWeight stores the most recently captured load weight.
func (v *Vehicle) RecordWeight(weight float64) {
	v.LastWeight = &weight
}

// Validate checks the invariants a persisted vehicle must satisfy.
func (v Vehicle) Validate() error {
	if strings.TrimSpace(v.ID) == "" {
		return ErrInvalidID
	}
	if !v.Status.Valid() {
		return ErrInvalidState
	}
	if v.Cycle < 1 {
		return ErrInvalidCycle
	}
	if v.LastWeight != nil && *v.LastWeight < 0 {
		return ErrInvalidWeight
	}
	return nil
}

func normalizeVehicleDetails(model, plate string) (string, string, error) {
	model = strings.TrimSpace(model)
	plate = strings.TrimSpace(plate)
	if model == "" {
		return "", "", ErrInvalidModel
	}
	if plate == "" {
		return "", "", ErrInvalidLicensePlate
	}
	return model, plate, nil
}
