package app

import (
	"errors"
	"fmt"

	"github.com/markumedium/loading-server/internal/domain"
)

// ErrNotFound and related errors classify every failure the service reports.
var (
	ErrNotFound          = errors.New("not found")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrStorageFailure    = errors.New("storage failure")
)

// invalidInput tags a validation error as caller input.
func invalidInput(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidInput) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}

// classify maps domain and storage errors onto the service taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrIllegalTransition),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrStorageFailure):
		return err
	case errors.Is(err, domain.ErrIllegalTransition):
		return fmt.Errorf("%s: %w: %w", op, ErrIllegalTransition, err)
	case errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidModel),
		errors.Is(err, domain.ErrInvalidLicensePlate),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrInvalidWeight),
		errors.Is(err, domain.ErrInvalidDay):
		return fmt.Errorf("%s: %w", op, invalidInput(err))
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
	}
}
