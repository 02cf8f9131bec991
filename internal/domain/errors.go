package domain

import "errors"

var (
	ErrInvalidID           = errors.New("invalid id")
	ErrInvalidModel        = errors.New("invalid model")
	ErrInvalidLicensePlate = errors.New("invalid license plate")
	ErrInvalidState        = errors.New("invalid state")
	ErrInvalidCycle        = errors.New("invalid cycle")
	ErrInvalidWeight       = errors.New("invalid weight")
	ErrInvalidDay          = errors.New("invalid day")
	ErrIllegalTransition   = errors.New("illegal transition")
)
