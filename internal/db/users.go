package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository handles user database operations.
type UserRepository struct {
	pool *pgxpool.Pool
}

// Upsert creates or updates a user keyed by Spotify id. On conflict the
// display name and credential pair are refreshed and the user is
// reactivated.
func (r *UserRepository) Upsert(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (spotify_id, username, token, refresh_token, token_expiry, active, creation_time, last_update_time)
		VALUES ($1, $2, $3, $4, $5, TRUE, NOW(), NOW())
		ON CONFLICT (spotify_id) DO UPDATE SET
			username = EXCLUDED.username,
			token = EXCLUDED.token,
			refresh_token = EXCLUDED.refresh_token,
			token_expiry = EXCLUDED.token_expiry,
			active = TRUE
		RETURNING id, creation_time, last_update_time
	`
	err := r.pool.QueryRow(ctx, query,
		user.SpotifyID,
		user.Username,
		user.Token,
		user.RefreshToken,
		user.TokenExpiry,
	).Scan(&user.ID, &user.CreationTime, &user.LastUpdateTime)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	user.Active = true
	return nil
}

// GetBySpotifyID retrieves a user by their external Spotify id.
func (r *UserRepository) GetBySpotifyID(ctx context.Context, spotifyID string) (*User, error) {
	query := `
		SELECT id, spotify_id, username, token, refresh_token, token_expiry, active, creation_time, last_update_time
		FROM users
		WHERE spotify_id = $1
	`
	var user User
	err := r.pool.QueryRow(ctx, query, spotifyID).Scan(
		&user.ID,
		&user.SpotifyID,
		&user.Username,
		&user.Token,
		&user.RefreshToken,
		&user.TokenExpiry,
		&user.Active,
		&user.CreationTime,
		&user.LastUpdateTime,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &user, nil
}

// ListActive returns all active users ordered by least recently updated, so
// the scheduler touches the stalest users first.
func (r *UserRepository) ListActive(ctx context.Context) ([]User, error) {
	query := `
		SELECT id, spotify_id, username, token, refresh_token, token_expiry, active, creation_time, last_update_time
		FROM users
		WHERE active
		ORDER BY last_update_time ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying active users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(
			&user.ID,
			&user.SpotifyID,
			&user.Username,
			&user.Token,
			&user.RefreshToken,
			&user.TokenExpiry,
			&user.Active,
			&user.CreationTime,
			&user.LastUpdateTime,
		); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateTokens stores a refreshed credential pair.
func (r *UserRepository) UpdateTokens(ctx context.Context, id int64, token, refreshToken string, expiry time.Time) error {
	query := `
		UPDATE users
		SET token = $2, refresh_token = $3, token_expiry = $4
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, token, refreshToken, expiry)
	if err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastUpdate sets the user's last update time to match a freshly
// written snapshot batch.
func (r *UserRepository) UpdateLastUpdate(ctx context.Context, id int64, updateTime time.Time) error {
	query := `
		UPDATE users
		SET last_update_time = $2
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, updateTime)
	if err != nil {
		return fmt.Errorf("updating last update time: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkInactive removes a user from the ingestion rotation.
func (r *UserRepository) MarkInactive(ctx context.Context, id int64) error {
	query := `UPDATE users SET active = FALSE WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("marking user inactive: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a user. History rows cascade with the user row.
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
