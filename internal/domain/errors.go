package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the referenced report does not exist.
	ErrNotFound = errors.New("report not found")
	// ErrNoSession means the actor has no live intake session.
	ErrNoSession = errors.New("no active session")
	// ErrAlreadyActive means the actor already has a live intake session.
	ErrAlreadyActive = errors.New("session already active")
	// ErrAlreadyReviewed means the report already left Pending.
	ErrAlreadyReviewed = errors.New("report already reviewed")
	// ErrUnavailable means the remote bridge is down; intake cannot start
	// or complete while it is.
	ErrUnavailable = errors.New("report system unavailable")
	// ErrQuotaExceeded means the reporter holds the maximum number of
	// Pending reports.
	ErrQuotaExceeded = errors.New("active report limit reached")
	// ErrSessionExpired means the session outlived the intake timeout and
	// was discarded.
	ErrSessionExpired = errors.New("session expired")
	// ErrUnknownActor means a display name did not resolve to a known
	// identity.
	ErrUnknownActor = errors.New("unknown actor")
)

// ValidationReason tells the caller which check rejected an input, so
// user-facing feedback can be specific.
type ValidationReason string

const (
	ReasonSelfReport  ValidationReason = "self_report"
	ReasonBadFormat   ValidationReason = "bad_format"
	ReasonUnknownName ValidationReason = "unknown_name"
)

// ValidationError rejects an intake input without advancing the session.
type ValidationError struct {
	Reason ValidationReason
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// IsValidation extracts a ValidationError from an error chain.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
