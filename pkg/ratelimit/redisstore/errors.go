package redisstore

import (
	gkerrors "github.com/vnykmshr/gatekeep/pkg/common/errors"
)

// StoreError represents a failed Redis operation.
type StoreError struct {
	Operation string
	Err       error
}

func (e *StoreError) Error() string {
	return "redis store error in " + e.Operation + ": " + e.Err.Error()
}

// Unwrap exposes both ErrStoreUnavailable and the underlying cause.
func (e *StoreError) Unwrap() []error {
	return []error{gkerrors.ErrStoreUnavailable, e.Err}
}

func wrap(operation string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Operation: operation, Err: err}
}
