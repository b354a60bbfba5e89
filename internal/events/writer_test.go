package events

import (
	"context"
	"testing"
	"time"

	"reportline/internal/roster"
)

func newTestWriter(t *testing.T) Writer {
	t.Helper()
	conn, err := roster.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := roster.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Writer{
		DB:  conn,
		Now: func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestAppendAndTail(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	if err := w.Append(ctx, "session.started", "", "Bob", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(ctx, "report.created", "REP-1-1", "Bob", Payload{"violator": "Eve"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := w.Tail(ctx, 10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d", len(events))
	}
	// Newest first.
	if events[0].Type != "report.created" || events[0].ReportID != "REP-1-1" {
		t.Fatalf("newest event = %+v", events[0])
	}
	if events[0].Payload != `{"violator":"Eve"}` {
		t.Fatalf("payload = %s", events[0].Payload)
	}
	if events[1].ReportID != "" {
		t.Fatalf("session event carries a report id: %+v", events[1])
	}
	if events[1].Payload != "{}" {
		t.Fatalf("nil payload stored as %s", events[1].Payload)
	}
}

func TestTailLimit(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := w.Append(ctx, "session.started", "", "Bob", nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	events, err := w.Tail(ctx, 3)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d", len(events))
	}
	// A non-positive limit falls back to the default window.
	events, err = w.Tail(ctx, 0)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("events with default limit = %d", len(events))
	}
}
