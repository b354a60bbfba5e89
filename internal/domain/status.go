package domain

// Status is the review status of a report. Only Pending is non-terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Statuses lists every status in display order.
func Statuses() []Status {
	return []Status{StatusPending, StatusApproved, StatusRejected}
}

// ParseStatus maps a persisted status string to a Status. The second return
// is false for unrecognized input; callers decide how to recover (the store
// logs and falls back to Pending).
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending:
		return StatusPending, true
	case StatusApproved:
		return StatusApproved, true
	case StatusRejected:
		return StatusRejected, true
	default:
		return StatusPending, false
	}
}
