package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseStatus(t *testing.T) {
	cases := []struct {
		in   string
		want Status
		ok   bool
	}{
		{"pending", StatusPending, true},
		{"approved", StatusApproved, true},
		{"rejected", StatusRejected, true},
		{"escalated", StatusPending, false},
		{"", StatusPending, false},
		{"Approved", StatusPending, false},
	}
	for _, c := range cases {
		got, ok := ParseStatus(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("ParseStatus(%q) = %s, %v; want %s, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestStepNext(t *testing.T) {
	order := []Step{StepCollectingViolator, StepCollectingReason, StepCollectingComment, StepAwaitingConfirmation}
	for i := 0; i < len(order)-1; i++ {
		if got := order[i].Next(); got != order[i+1] {
			t.Errorf("%s.Next() = %s, want %s", order[i], got, order[i+1])
		}
	}
	// The confirmation step never advances.
	if got := StepAwaitingConfirmation.Next(); got != StepAwaitingConfirmation {
		t.Errorf("confirmation step advanced to %s", got)
	}
}

func TestReportTerminal(t *testing.T) {
	r := NewReport("REP-1-1", Identity{ID: "a", Name: "Bob"}, "Eve", "", "griefing", "", time.Now())
	if r.Terminal() {
		t.Fatal("fresh report must not be terminal")
	}
	r.Status = StatusApproved
	if !r.Terminal() {
		t.Fatal("approved report must be terminal")
	}
	r.Status = StatusRejected
	if !r.Terminal() {
		t.Fatal("rejected report must be terminal")
	}
}

func TestActionKindStatusChanging(t *testing.T) {
	if !ActionApprove.StatusChanging() || !ActionReject.StatusChanging() {
		t.Fatal("approve and reject must be status changing")
	}
	if ActionCheck.StatusChanging() || ActionComment.StatusChanging() {
		t.Fatal("check and comment must not be status changing")
	}
}

func TestSessionExpired(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Session{CreatedAt: start}

	if s.Expired(5*time.Minute, start.Add(5*time.Minute)) {
		t.Fatal("session expired exactly at the deadline")
	}
	if !s.Expired(5*time.Minute, start.Add(5*time.Minute+time.Second)) {
		t.Fatal("session not expired past the deadline")
	}
	if s.Expired(0, start.Add(24*time.Hour)) {
		t.Fatal("zero timeout must disable expiry")
	}
	if s.Expired(-time.Minute, start.Add(24*time.Hour)) {
		t.Fatal("negative timeout must disable expiry")
	}
}

func TestValidationErrorWrapping(t *testing.T) {
	base := &ValidationError{Reason: ReasonBadFormat}
	wrapped := fmt.Errorf("submit input: %w", base)

	ve, ok := IsValidation(wrapped)
	if !ok {
		t.Fatal("wrapped validation error not detected")
	}
	if ve.Reason != ReasonBadFormat {
		t.Fatalf("reason = %s", ve.Reason)
	}
	if _, ok := IsValidation(errors.New("plain")); ok {
		t.Fatal("plain error reported as validation error")
	}
}
