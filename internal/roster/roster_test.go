package roster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"reportline/internal/domain"
)

func newTestRoster(t *testing.T) Roster {
	t.Helper()
	conn, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Roster{
		DB:  conn,
		Now: func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestTouchCreatesThenReuses(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()

	first, err := r.Touch(ctx, "Bob")
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if first.ID == "" || first.Name != "Bob" {
		t.Fatalf("identity = %+v", first)
	}
	second, err := r.Touch(ctx, "Bob")
	if err != nil {
		t.Fatalf("second touch: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("touch minted a new id: %s vs %s", second.ID, first.ID)
	}
}

func TestResolveCaseInsensitive(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()
	created, err := r.Touch(ctx, "Bob")
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	for _, name := range []string{"bob", "BOB", "  Bob  "} {
		got, err := r.Resolve(ctx, name)
		if err != nil {
			t.Fatalf("resolve %q: %v", name, err)
		}
		if got.ID != created.ID {
			t.Fatalf("resolve %q = %s, want %s", name, got.ID, created.ID)
		}
	}
}

func TestResolveUnknownName(t *testing.T) {
	r := newTestRoster(t)
	if _, err := r.Resolve(context.Background(), "nobody"); !errors.Is(err, domain.ErrUnknownActor) {
		t.Fatalf("expected ErrUnknownActor, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), "  "); !errors.Is(err, domain.ErrUnknownActor) {
		t.Fatalf("blank name: expected ErrUnknownActor, got %v", err)
	}
}

func TestTouchRejectsBlankName(t *testing.T) {
	r := newTestRoster(t)
	if _, err := r.Touch(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank name")
	}
}

func TestListActorsOrderedByLastSeen(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	r.Now = func() time.Time { return clock }

	if _, err := r.Touch(ctx, "Bob"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	clock = base.Add(time.Minute)
	if _, err := r.Touch(ctx, "Eve"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	actors, err := r.ListActors(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(actors) != 2 {
		t.Fatalf("actors = %d", len(actors))
	}
	if actors[0].Name != "Eve" {
		t.Fatalf("most recently seen first, got %s", actors[0].Name)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()
	actor, err := r.Touch(ctx, "Bob")
	if err != nil {
		t.Fatalf("touch: %v", err)
	}

	plaintext := "k-" + uuid.NewString()
	key := APIKey{
		ID:      uuid.NewString(),
		ActorID: actor.ID,
		Name:    "ci",
		KeyHash: HashAPIKey(plaintext),
	}
	if err := r.InsertAPIKey(ctx, key); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := r.GetAPIKeyByHash(ctx, HashAPIKey(plaintext))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ActorID != actor.ID || got.Name != "ci" {
		t.Fatalf("key = %+v", got)
	}
	// Surrounding whitespace in the presented key does not matter.
	if HashAPIKey("  "+plaintext+"  ") != key.KeyHash {
		t.Fatal("hash not stable under whitespace trim")
	}
	if _, err := r.GetAPIKeyByHash(ctx, HashAPIKey("wrong")); !errors.Is(err, domain.ErrUnknownActor) {
		t.Fatalf("expected ErrUnknownActor for unknown hash, got %v", err)
	}
}

func TestInsertAPIKeyValidation(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()
	cases := []APIKey{
		{ActorID: "a", KeyHash: "h"},
		{ID: "i", KeyHash: "h"},
		{ID: "i", ActorID: "a"},
	}
	for _, key := range cases {
		if err := r.InsertAPIKey(ctx, key); err == nil {
			t.Errorf("expected error for %+v", key)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	r := newTestRoster(t)
	if err := Migrate(r.DB); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var version int
	if err := r.DB.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version < 1 {
		t.Fatalf("schema version = %d", version)
	}
}
