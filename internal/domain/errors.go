package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingColumn is returned when a required field has no usable header mapping.
	ErrMissingColumn = errors.New("missing column")
	// ErrFileFormat is returned when an input file cannot be read as a spreadsheet.
	ErrFileFormat = errors.New("file format error")
	// ErrInvalidDataType marks a cell that could not be coerced. Never fatal.
	ErrInvalidDataType = errors.New("invalid data type")
	// ErrEmptyDataset marks an input without records. Never fatal.
	ErrEmptyDataset = errors.New("empty dataset")
	// ErrDivisionByZero marks a rate with a zero sale amount. Never fatal.
	ErrDivisionByZero = errors.New("division by zero")
)

// RunError is the single error a failed reconciliation returns.
type RunError struct {
	RunID string
	Phase Step
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("reconciliation %s failed during %s: %v", e.RunID, e.Phase, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
