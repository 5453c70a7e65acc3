package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TrackRepository handles track metadata, maintained by ingestion and
// joined into stats reads.
type TrackRepository struct {
	pool *pgxpool.Pool
}

// UpsertBatch inserts or updates multiple tracks efficiently.
func (r *TrackRepository) UpsertBatch(ctx context.Context, tracks []Track) error {
	if len(tracks) == 0 {
		return nil
	}

	query := `
		INSERT INTO tracks (spotify_id, title, artists, album, preview_url, image_url, created_at)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::text[], $7::timestamptz[])
		ON CONFLICT (spotify_id) DO UPDATE SET
			title = EXCLUDED.title,
			artists = EXCLUDED.artists,
			album = EXCLUDED.album,
			preview_url = EXCLUDED.preview_url,
			image_url = EXCLUDED.image_url
	`

	ids := make([]string, len(tracks))
	titles := make([]string, len(tracks))
	artists := make([]string, len(tracks))
	albums := make([]string, len(tracks))
	previewURLs := make([]string, len(tracks))
	imageURLs := make([]string, len(tracks))
	createdAts := make([]time.Time, len(tracks))

	now := time.Now()
	for i, t := range tracks {
		ids[i] = t.SpotifyID
		titles[i] = t.Title
		artists[i] = t.Artists
		albums[i] = t.Album
		previewURLs[i] = t.PreviewURL
		imageURLs[i] = t.ImageURL
		createdAts[i] = now
	}

	_, err := r.pool.Exec(ctx, query, ids, titles, artists, albums, previewURLs, imageURLs, createdAts)
	if err != nil {
		return fmt.Errorf("batch upserting tracks: %w", err)
	}
	return nil
}

// Get retrieves a track by external id.
func (r *TrackRepository) Get(ctx context.Context, spotifyID string) (*Track, error) {
	query := `
		SELECT spotify_id, title, artists, album, preview_url, image_url, created_at
		FROM tracks
		WHERE spotify_id = $1
	`
	var track Track
	err := r.pool.QueryRow(ctx, query, spotifyID).Scan(
		&track.SpotifyID,
		&track.Title,
		&track.Artists,
		&track.Album,
		&track.PreviewURL,
		&track.ImageURL,
		&track.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying track: %w", err)
	}
	return &track, nil
}

// GetByIDs retrieves track metadata for a set of external ids. Missing ids
// are simply absent from the result map.
func (r *TrackRepository) GetByIDs(ctx context.Context, spotifyIDs []string) (map[string]Track, error) {
	if len(spotifyIDs) == 0 {
		return map[string]Track{}, nil
	}

	query := `
		SELECT spotify_id, title, artists, album, preview_url, image_url, created_at
		FROM tracks
		WHERE spotify_id = ANY($1)
	`
	rows, err := r.pool.Query(ctx, query, spotifyIDs)
	if err != nil {
		return nil, fmt.Errorf("querying tracks: %w", err)
	}
	defer rows.Close()

	tracks := make(map[string]Track, len(spotifyIDs))
	for rows.Next() {
		var track Track
		if err := rows.Scan(
			&track.SpotifyID,
			&track.Title,
			&track.Artists,
			&track.Album,
			&track.PreviewURL,
			&track.ImageURL,
			&track.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning track: %w", err)
		}
		tracks[track.SpotifyID] = track
	}
	return tracks, rows.Err()
}
