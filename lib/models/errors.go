package models

import (
	"errors"
	"fmt"
)

// ConflictError reports an attempt to create something that already
// exists, such as a feed URL or schedule name.
type ConflictError struct {
	Resource string
	Key      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Resource, e.Key)
}

type NotFoundError struct {
	Resource string
	Key      any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %v", e.Resource, e.Key)
}

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// FetchCause classifies why a feed fetch failed.
type FetchCause string

const (
	CauseNetwork    FetchCause = "network"
	CauseTimeout    FetchCause = "timeout"
	CauseParse      FetchCause = "parse"
	CauseHTTPStatus FetchCause = "http-status"
)

// FetchFailure is feed-level and non-fatal to a run: it is captured in
// the run summary rather than raised to the triggering caller.
type FetchFailure struct {
	Cause FetchCause
	URL   string
	Err   error
}

func (e *FetchFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s failed (%s): %v", e.URL, e.Cause, e.Err)
	}
	return fmt.Sprintf("fetch %s failed (%s)", e.URL, e.Cause)
}

func (e *FetchFailure) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
