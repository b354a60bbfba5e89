package roster

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"reportline/internal/domain"
)

// Roster resolves free-text actor names to stable identities and stores
// API keys for the HTTP surface.
type Roster struct {
	DB  *sql.DB
	Now func() time.Time
}

func (r Roster) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Resolve returns the stable identity for a display name. Lookups are
// case-insensitive; an unknown name yields domain.ErrUnknownActor.
func (r Roster) Resolve(ctx context.Context, name string) (domain.Identity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Identity{}, domain.ErrUnknownActor
	}
	var id domain.Identity
	err := r.DB.QueryRowContext(ctx, `SELECT id, name FROM actors WHERE name=?`, name).Scan(&id.ID, &id.Name)
	if err == sql.ErrNoRows {
		return domain.Identity{}, domain.ErrUnknownActor
	}
	if err != nil {
		return domain.Identity{}, err
	}
	return id, nil
}

// Touch records a sighting of an actor, creating the roster entry with a
// fresh uuid when the name is new. Returns the actor's identity.
func (r Roster) Touch(ctx context.Context, name string) (domain.Identity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Identity{}, errors.New("name required")
	}
	now := r.now().UTC().Format(time.RFC3339)
	if id, err := r.Resolve(ctx, name); err == nil {
		_, uerr := r.DB.ExecContext(ctx, `UPDATE actors SET last_seen_at=? WHERE id=?`, now, id.ID)
		return id, uerr
	} else if !errors.Is(err, domain.ErrUnknownActor) {
		return domain.Identity{}, err
	}
	id := domain.Identity{ID: uuid.NewString(), Name: name}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO actors(id,name,created_at,last_seen_at) VALUES (?,?,?,?)`,
		id.ID, id.Name, now, now)
	return id, err
}

// Actor is a roster row.
type Actor struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CreatedAt  string `json:"created_at"`
	LastSeenAt string `json:"last_seen_at"`
}

// ListActors returns every roster entry, most recently seen first.
func (r Roster) ListActors(ctx context.Context) ([]Actor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at,last_seen_at FROM actors ORDER BY last_seen_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Actor
	for rows.Next() {
		var a Actor
		if err := rows.Scan(&a.ID, &a.Name, &a.CreatedAt, &a.LastSeenAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// APIKey is a stored credential for the HTTP surface.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at"`
}

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIKey stores a hashed API key. KeyHash must already be hashed.
func (r Roster) InsertAPIKey(ctx context.Context, key APIKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.ActorID == "" {
		return errors.New("actor_id required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	if key.CreatedAt == "" {
		key.CreatedAt = r.now().UTC().Format(time.RFC3339)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO api_keys(id, actor_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.ActorID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

// GetAPIKeyByHash returns an API key by its hashed value.
func (r Roster) GetAPIKeyByHash(ctx context.Context, hash string) (APIKey, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, actor_id, COALESCE(name,''), key_hash, created_at FROM api_keys WHERE key_hash=? LIMIT 1`, hash)
	var key APIKey
	err := row.Scan(&key.ID, &key.ActorID, &key.Name, &key.KeyHash, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return APIKey{}, domain.ErrUnknownActor
	}
	if err != nil {
		return APIKey{}, err
	}
	return key, nil
}

// ListAPIKeys returns API keys, optionally filtered by actor ID.
func (r Roster) ListAPIKeys(ctx context.Context, actorID string) ([]APIKey, error) {
	query := `SELECT id, actor_id, COALESCE(name,''), key_hash, created_at FROM api_keys`
	var args []any
	if actorID != "" {
		query += ` WHERE actor_id=?`
		args = append(args, actorID)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []APIKey
	for rows.Next() {
		var key APIKey
		if err := rows.Scan(&key.ID, &key.ActorID, &key.Name, &key.KeyHash, &key.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
