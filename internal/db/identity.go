package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdentityRepository maintains the surrogate-id mapping table. Bindings are
// created lazily on first sighting and never updated or deleted; the table
// is an optimization layer and can be rebuilt from external ids found
// elsewhere.
type IdentityRepository struct {
	pool *pgxpool.Pool
}

// Resolve returns the surrogate id for an external id, creating the binding
// if absent. The no-op conflict update makes the insert return the existing
// row, so exactly one binding is ever created per external id even under
// concurrent callers.
func (r *IdentityRepository) Resolve(ctx context.Context, spotifyID string) (int64, error) {
	query := `
		INSERT INTO spotify_id_mapping (spotify_id)
		VALUES ($1)
		ON CONFLICT (spotify_id) DO UPDATE SET spotify_id = EXCLUDED.spotify_id
		RETURNING id
	`
	var id int64
	if err := r.pool.QueryRow(ctx, query, spotifyID).Scan(&id); err != nil {
		return 0, fmt.Errorf("resolving spotify id %q: %w", spotifyID, err)
	}
	return id, nil
}

// ResolveBatch resolves many external ids in one round trip.
func (r *IdentityRepository) ResolveBatch(ctx context.Context, spotifyIDs []string) (map[string]int64, error) {
	if len(spotifyIDs) == 0 {
		return map[string]int64{}, nil
	}

	query := `
		INSERT INTO spotify_id_mapping (spotify_id)
		SELECT * FROM unnest($1::text[])
		ON CONFLICT (spotify_id) DO UPDATE SET spotify_id = EXCLUDED.spotify_id
		RETURNING id, spotify_id
	`
	rows, err := r.pool.Query(ctx, query, spotifyIDs)
	if err != nil {
		return nil, fmt.Errorf("resolving spotify ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]int64, len(spotifyIDs))
	for rows.Next() {
		var id int64
		var spotifyID string
		if err := rows.Scan(&id, &spotifyID); err != nil {
			return nil, fmt.Errorf("scanning mapping: %w", err)
		}
		ids[spotifyID] = id
	}
	return ids, rows.Err()
}

// Lookup returns the external id bound to a surrogate id.
// Returns ErrNotFound if the surrogate id is unknown.
func (r *IdentityRepository) Lookup(ctx context.Context, id int64) (string, error) {
	var spotifyID string
	err := r.pool.QueryRow(ctx,
		`SELECT spotify_id FROM spotify_id_mapping WHERE id = $1`, id,
	).Scan(&spotifyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("looking up surrogate id %d: %w", id, err)
	}
	return spotifyID, nil
}
