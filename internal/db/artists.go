package db

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/metaversi-world/spotifytrack/internal/corpus"
)

// ArtistRepository is the durable side of the feature vector store. The
// in-memory corpus store is warmed from here at startup; ingestion writes
// go through both.
type ArtistRepository struct {
	pool *pgxpool.Pool
	dim  int
}

// Upsert replaces the stats and feature vector for an artist. Returns
// corpus.ErrDimensionMismatch if the vector does not match the corpus-wide
// dimension; that write is rejected, never coerced.
func (r *ArtistRepository) Upsert(ctx context.Context, profile *corpus.ArtistProfile) error {
	if len(profile.Features) != r.dim {
		return fmt.Errorf("artist %q has %d features, corpus dimension is %d: %w",
			profile.SpotifyID, len(profile.Features), r.dim, corpus.ErrDimensionMismatch)
	}

	topTracks, err := json.Marshal(profile.TopTracks)
	if err != nil {
		return fmt.Errorf("encoding top tracks: %w", err)
	}

	query := `
		INSERT INTO artists (spotify_id, name, genres, image_url, uri, followers, popularity, features, top_tracks, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (spotify_id) DO UPDATE SET
			name = EXCLUDED.name,
			genres = EXCLUDED.genres,
			image_url = EXCLUDED.image_url,
			uri = EXCLUDED.uri,
			followers = EXCLUDED.followers,
			popularity = EXCLUDED.popularity,
			features = EXCLUDED.features,
			top_tracks = EXCLUDED.top_tracks,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.pool.Exec(ctx, query,
		profile.SpotifyID,
		profile.Name,
		profile.Genres,
		profile.ImageURL,
		profile.URI,
		profile.Followers,
		profile.Popularity,
		[]float64(profile.Features),
		topTracks,
		profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting artist: %w", err)
	}
	return nil
}

// Get retrieves an artist profile by external id.
func (r *ArtistRepository) Get(ctx context.Context, spotifyID string) (*corpus.ArtistProfile, error) {
	query := `
		SELECT spotify_id, name, genres, image_url, uri, followers, popularity, features, top_tracks, updated_at
		FROM artists
		WHERE spotify_id = $1
	`
	profile, err := scanArtist(r.pool.QueryRow(ctx, query, spotifyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("artist %q: %w", spotifyID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying artist: %w", err)
	}
	return profile, nil
}

// LoadAll streams every artist profile, used to warm the in-memory corpus
// store at startup.
func (r *ArtistRepository) LoadAll(ctx context.Context, fn func(*corpus.ArtistProfile) error) error {
	query := `
		SELECT spotify_id, name, genres, image_url, uri, followers, popularity, features, top_tracks, updated_at
		FROM artists
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("querying artists: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		profile, err := scanArtist(rows)
		if err != nil {
			return fmt.Errorf("scanning artist: %w", err)
		}
		if err := fn(profile); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanArtist(row pgx.Row) (*corpus.ArtistProfile, error) {
	var profile corpus.ArtistProfile
	var features []float64
	var topTracks []byte

	err := row.Scan(
		&profile.SpotifyID,
		&profile.Name,
		&profile.Genres,
		&profile.ImageURL,
		&profile.URI,
		&profile.Followers,
		&profile.Popularity,
		&features,
		&topTracks,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	profile.Features = corpus.Vector(features)
	if err := json.Unmarshal(topTracks, &profile.TopTracks); err != nil {
		return nil, fmt.Errorf("decoding top tracks: %w", err)
	}
	return &profile, nil
}
