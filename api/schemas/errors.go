package schemas

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures along the job lifecycle.
type ErrorKind string

const (
	// ErrValidation is a client-side rejection that never reaches the backend.
	ErrValidation ErrorKind = "validation"
	// ErrSubmission covers transport or non-2xx failures on the enqueue call.
	ErrSubmission ErrorKind = "submission"
	// ErrPollTransport is a failed status query; the poll loop stops.
	ErrPollTransport ErrorKind = "poll_transport"
	// ErrBackendFailure means the job itself reported FAILURE.
	ErrBackendFailure ErrorKind = "backend_failure"
	// ErrTimeout means the attempt budget ran out while the job was pending.
	ErrTimeout ErrorKind = "timeout"
	// ErrIdentity is a failed token fetch or session read.
	ErrIdentity ErrorKind = "identity"
	// ErrHistoryTransport is a network failure on the history listing.
	ErrHistoryTransport ErrorKind = "history_transport"
	// ErrHistoryServer is a non-2xx, non-401 response on the history listing.
	ErrHistoryServer ErrorKind = "history_server"
)

// JobError is the typed error returned by every lifecycle component.
type JobError struct {
	Kind ErrorKind
	Op   string
	// Status is the HTTP status code when one was received.
	Status  int
	Message string
	Err     error
}

func (e *JobError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s %s (status %d): %s", e.Op, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Kind, msg)
}

func (e *JobError) Unwrap() error { return e.Err }

// NewJobError wraps err with a kind and operation.
func NewJobError(kind ErrorKind, op string, err error) *JobError {
	return &JobError{Kind: kind, Op: op, Err: err}
}

// KindOf reports the ErrorKind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind, true
	}
	return "", false
}

// IsKind reports whether err is a JobError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// UserMessage is the short text shown in a job log for err.
func UserMessage(err error) string {
	var je *JobError
	if errors.As(err, &je) {
		if je.Message != "" {
			return je.Message
		}
		if je.Err != nil {
			return je.Err.Error()
		}
	}
	return err.Error()
}
