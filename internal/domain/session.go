package domain

import "time"

// Step is the current position of an intake session.
type Step string

const (
	StepCollectingViolator   Step = "collecting_violator"
	StepCollectingReason     Step = "collecting_reason"
	StepCollectingComment    Step = "collecting_comment"
	StepAwaitingConfirmation Step = "awaiting_confirmation"
)

// Next returns the step that follows s. Steps only move forward; the
// confirmation step is left by removing the session, not by advancing.
func (s Step) Next() Step {
	switch s {
	case StepCollectingViolator:
		return StepCollectingReason
	case StepCollectingReason:
		return StepCollectingComment
	case StepCollectingComment:
		return StepAwaitingConfirmation
	default:
		return s
	}
}

// Session is a transient per-actor intake state machine collecting report
// fields before creation. At most one live session exists per actor.
type Session struct {
	Actor        Identity
	Step         Step
	ViolatorName string
	Reason       string
	Comment      string
	CreatedAt    time.Time
}

// Expired reports whether the session outlived the timeout. A timeout of
// zero or less disables expiry.
func (s Session) Expired(timeout time.Duration, now time.Time) bool {
	if timeout <= 0 {
		return false
	}
	return now.Sub(s.CreatedAt) > timeout
}
