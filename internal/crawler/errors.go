package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRange rejects crawl bounds before any navigation.
	ErrInvalidRange = errors.New("invalid crawl range")
	// ErrNavigation marks a page the renderer could not load.
	ErrNavigation = errors.New("navigation failed")
	// ErrRendererClosed is returned by renderers after Close.
	ErrRendererClosed = errors.New("renderer closed")
	// ErrConflict is returned by repositories when a uniqueness constraint
	// rejects an insert.
	ErrConflict = errors.New("unique constraint conflict")
)

// StatusError is a navigation that completed with an HTTP error status. It
// matches ErrNavigation.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %s: status %d", ErrNavigation, e.URL, e.Status)
}

// Is reports ErrNavigation as the error kind.
func (e *StatusError) Is(target error) bool {
	return target == ErrNavigation
}

// Temporary reports whether the status may clear up on a later attempt.
func (e *StatusError) Temporary() bool {
	return e.Status >= 500 || e.Status == 408 || e.Status == 429
}

// StoreError wraps a repository failure. Store failures abort the run.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err came from the repository.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
