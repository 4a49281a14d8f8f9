package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store performs the device upsert and id lookup round trip.
type Store interface {
	// UpsertDevices inserts placeholder rows for the given uids. It is
	// idempotent: existing devices are left untouched.
	UpsertDevices(ctx context.Context, uids []string) error

	// LookupIDs returns the internal id for each uid that exists.
	LookupIDs(ctx context.Context, uids []string) (map[string]int64, error)
}

// UnresolvedError reports identifiers that could not be resolved even after
// an upsert round trip. The successfully resolved mappings are still
// returned alongside it so the caller can salvage the rest of the batch.
type UnresolvedError struct {
	Missing []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved device identifiers: %s", strings.Join(e.Missing, ", "))
}

// Resolver maps device uids to internal ids, consulting the cache first and
// hitting the store only for misses.
type Resolver struct {
	store Store
	cache Cache
}

// NewResolver creates a Resolver. The cache is constructor-injected so it
// can be swapped (memory, Redis) and faked in tests.
func NewResolver(store Store, cache Cache) *Resolver {
	return &Resolver{store: store, cache: cache}
}

// Resolve returns the internal id for every requested uid. Duplicate uids
// are collapsed. Cache misses trigger one upsert and one lookup covering
// exactly the missed identifiers, and the cache is refreshed with the
// results.
//
// If some uids remain unresolved after the round trip, the resolved subset
// is returned together with an *UnresolvedError naming the rest. A store
// I/O failure fails the whole call.
func (r *Resolver) Resolve(ctx context.Context, uids []string) (map[string]int64, error) {
	resolved := make(map[string]int64, len(uids))
	var misses []string

	seen := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		if id, ok := r.cache.Get(ctx, uid); ok {
			resolved[uid] = id
		} else {
			misses = append(misses, uid)
		}
	}

	if len(misses) == 0 {
		return resolved, nil
	}

	if err := r.store.UpsertDevices(ctx, misses); err != nil {
		return nil, fmt.Errorf("upsert devices: %w", err)
	}
	ids, err := r.store.LookupIDs(ctx, misses)
	if err != nil {
		return nil, fmt.Errorf("lookup device ids: %w", err)
	}

	var unresolved []string
	for _, uid := range misses {
		id, ok := ids[uid]
		if !ok {
			unresolved = append(unresolved, uid)
			continue
		}
		resolved[uid] = id
		r.cache.Put(ctx, uid, id)
	}

	if len(unresolved) > 0 {
		return resolved, &UnresolvedError{Missing: unresolved}
	}
	return resolved, nil
}

// PostgresStore implements Store against the devices table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// UpsertDevices inserts placeholder device rows keyed by the unique
// device_uid constraint. Conflicts are no-ops, so repeated calls are safe.
func (s *PostgresStore) UpsertDevices(ctx context.Context, uids []string) error {
	query := `
		INSERT INTO devices (device_uid)
		SELECT unnest($1::text[])
		ON CONFLICT (device_uid) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, query, uids); err != nil {
		return fmt.Errorf("failed to upsert devices: %w", err)
	}
	return nil
}

// LookupIDs selects internal ids for exactly the given uids.
func (s *PostgresStore) LookupIDs(ctx context.Context, uids []string) (map[string]int64, error) {
	query := `SELECT device_uid, id FROM devices WHERE device_uid = ANY($1)`

	rows, err := s.pool.Query(ctx, query, uids)
	if err != nil {
		return nil, fmt.Errorf("failed to look up device ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]int64, len(uids))
	for rows.Next() {
		var uid string
		var id int64
		if err := rows.Scan(&uid, &id); err != nil {
			return nil, fmt.Errorf("failed to scan device row: %w", err)
		}
		ids[uid] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read device rows: %w", err)
	}
	return ids, nil
}
