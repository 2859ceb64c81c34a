package chaos

import "errors"

var (
	// ErrSeedValidation is returned when a seed lies outside the valid domain of its maps.
	ErrSeedValidation = errors.New("seed validation error")
	// ErrNumericInstability is returned when the iteration diverges or collapses.
	ErrNumericInstability = errors.New("numeric instability")
	// ErrParams is returned for parameter sets outside the chaotic regime.
	ErrParams = errors.New("invalid chaos parameters")
)
