package varda

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the assimilation core. Callers test them with errors.Is.
var (
	// invalid or mutually inconsistent configuration
	ErrConfiguration = errors.New("configuration error")
	// dimension mismatch between ensemble, state, basis or observation arrays
	ErrShape = errors.New("shape error")
	// feature not implemented for the selected reduction mode
	ErrCapabilityGap = errors.New("capability gap")
	// reciprocal of a non-positive quantity requested outside the floored initial guess
	ErrNumericalDegeneracy = errors.New("numerical degeneracy")
)

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func shapeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrShape, fmt.Sprintf(format, args...))
}

func capabilityErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCapabilityGap, fmt.Sprintf(format, args...))
}

func degeneracyErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNumericalDegeneracy, fmt.Sprintf(format, args...))
}

// WarningKind classifies non-fatal diagnostics
type WarningKind string

const (
	// optimizer stopped on a limit or line-search failure before meeting tolerance
	ConvergenceWarning WarningKind = "ConvergenceWarning"
	// a slow code path (numerical Jacobian) was selected
	PerformanceWarning WarningKind = "PerformanceWarning"
)

// Warning is a non-fatal diagnostic attached to a result
type Warning struct {
	Kind    WarningKind // warning class
	Message string      // human readable detail
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}
