// Package db provides PostgreSQL persistence for spotifytrack: users and
// their credential pairs, the surrogate-id mapping table, the per-timeframe
// ranked history tables, and the artist/track stats tables.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")

	// ErrBatchEmpty is returned when a history batch is written with no
	// ranked items. An empty snapshot is never stored; absence of a batch
	// means "no data", not "empty top-list".
	ErrBatchEmpty = errors.New("history batch is empty")
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Pool returns the underlying connection pool for advanced operations.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Users returns a UserRepository.
func (db *DB) Users() *UserRepository {
	return &UserRepository{pool: db.pool}
}

// Identity returns an IdentityRepository.
func (db *DB) Identity() *IdentityRepository {
	return &IdentityRepository{pool: db.pool}
}

// History returns a HistoryRepository.
func (db *DB) History() *HistoryRepository {
	return &HistoryRepository{pool: db.pool}
}

// Artists returns an ArtistRepository bound to the given corpus-wide vector
// dimension.
func (db *DB) Artists(dim int) *ArtistRepository {
	return &ArtistRepository{pool: db.pool, dim: dim}
}

// Tracks returns a TrackRepository.
func (db *DB) Tracks() *TrackRepository {
	return &TrackRepository{pool: db.pool}
}

// TrackStats returns a TrackStatsRepository.
func (db *DB) TrackStats() *TrackStatsRepository {
	return &TrackStatsRepository{pool: db.pool}
}
