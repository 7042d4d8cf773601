package identity

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by writers addressing a row that does not exist.
var ErrNotFound = errors.New("not found")

// StoreError marks an infrastructure failure in the store. Domain outcomes such
// as "no match" are never reported this way.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Wrap returns err as a *StoreError for op, leaving nil and ErrNotFound alone.
func Wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsInfrastructure reports whether err came from the store rather than from domain logic.
func IsInfrastructure(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
