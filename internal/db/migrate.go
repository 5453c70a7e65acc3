package db

import (
	"context"
	"fmt"
)

// schema is the authoritative relational layout. Statements are idempotent
// so Migrate can run on every startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		spotify_id TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL,
		token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		token_expiry TIMESTAMPTZ NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		creation_time TIMESTAMPTZ NOT NULL,
		last_update_time TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS spotify_id_mapping (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		spotify_id TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS track_history (
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		batch_id UUID NOT NULL,
		spotify_id TEXT NOT NULL,
		timeframe SMALLINT NOT NULL,
		ranking INT NOT NULL,
		update_time TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, timeframe, update_time, ranking)
	)`,
	`CREATE INDEX IF NOT EXISTS track_history_latest_idx
		ON track_history (user_id, timeframe, update_time DESC)`,
	`CREATE TABLE IF NOT EXISTS artist_history (
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		batch_id UUID NOT NULL,
		spotify_id TEXT NOT NULL,
		timeframe SMALLINT NOT NULL,
		ranking INT NOT NULL,
		update_time TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, timeframe, update_time, ranking)
	)`,
	`CREATE INDEX IF NOT EXISTS artist_history_latest_idx
		ON artist_history (user_id, timeframe, update_time DESC)`,
	`CREATE TABLE IF NOT EXISTS artists (
		spotify_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		genres TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		uri TEXT NOT NULL DEFAULT '',
		followers BIGINT NOT NULL DEFAULT 0,
		popularity INT NOT NULL DEFAULT 0,
		features FLOAT8[] NOT NULL,
		top_tracks JSONB NOT NULL DEFAULT '[]',
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tracks (
		spotify_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		artists TEXT NOT NULL,
		album TEXT NOT NULL DEFAULT '',
		preview_url TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS track_stats_history (
		spotify_id TEXT NOT NULL,
		popularity INT NOT NULL,
		play_count BIGINT,
		update_time TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS track_stats_history_idx
		ON track_stats_history (spotify_id, update_time DESC)`,
}

// Migrate applies the schema.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}
