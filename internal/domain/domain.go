package domain

import (
	"time"
)

// Identity is a stable actor identity resolved from a display name.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Report is a persisted complaint record with a review status.
// ID, Reporter and CreatedAt are fixed at creation; review fields are
// written once when the report leaves Pending.
type Report struct {
	ID                 string    `json:"id"`
	Reporter           Identity  `json:"reporter"`
	ViolatorName       string    `json:"violator_name"`
	ViolatorID         string    `json:"violator_id,omitempty"`
	Reason             string    `json:"reason"`
	Comment            string    `json:"comment"`
	CreatedAt          time.Time `json:"created_at"`
	Status             Status    `json:"status"`
	AdminComment       string    `json:"admin_comment,omitempty"`
	ReviewedBy         string    `json:"reviewed_by,omitempty"`
	ReviewedByRemoteID string    `json:"reviewed_by_remote_id,omitempty"`
	ReviewedAt         time.Time `json:"reviewed_at,omitzero"`
}

// NewReport builds a fresh Pending report at the given creation time.
func NewReport(id string, reporter Identity, violatorName, violatorID, reason, comment string, createdAt time.Time) Report {
	return Report{
		ID:           id,
		Reporter:     reporter,
		ViolatorName: violatorName,
		ViolatorID:   violatorID,
		Reason:       reason,
		Comment:      comment,
		CreatedAt:    createdAt,
		Status:       StatusPending,
	}
}

// Terminal reports no longer accept status transitions.
func (r Report) Terminal() bool {
	return r.Status != StatusPending
}

// ActionKind classifies a moderator action arriving from the remote platform.
type ActionKind string

const (
	ActionApprove ActionKind = "approve"
	ActionReject  ActionKind = "reject"
	ActionCheck   ActionKind = "check"
	ActionComment ActionKind = "comment"
)

// StatusChanging reports whether the action moves a Pending report to a
// terminal status. Comment-style actions are allowed at any status.
func (k ActionKind) StatusChanging() bool {
	return k == ActionApprove || k == ActionReject
}

// Punishment is the structured payload of an approve action.
type Punishment struct {
	Kind     string
	Duration string
	Reason   string
}

// RemoteAction is a moderator action to apply to one report.
type RemoteAction struct {
	ReportID      string
	Kind          ActionKind
	ModeratorName string
	ModeratorID   string
	Punishment    Punishment
	Comment       string
	VoiceChannel  string
}
