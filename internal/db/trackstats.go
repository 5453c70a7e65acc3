package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TrackStatsRepository appends point-in-time popularity measurements for
// tracks. Rows are immutable; there is no update or delete path. Follower
// counts are an artist property and live on the artists table, not here.
type TrackStatsRepository struct {
	pool *pgxpool.Pool
}

// InsertBatch appends one measurement per track.
func (r *TrackStatsRepository) InsertBatch(ctx context.Context, statsRows []TrackStat) error {
	if len(statsRows) == 0 {
		return nil
	}

	query := `
		INSERT INTO track_stats_history (spotify_id, popularity, play_count, update_time)
		SELECT * FROM unnest($1::text[], $2::int[], $3::bigint[], $4::timestamptz[])
	`

	ids := make([]string, len(statsRows))
	popularities := make([]int, len(statsRows))
	playCounts := make([]*int64, len(statsRows))
	updateTimes := make([]time.Time, len(statsRows))

	for i, s := range statsRows {
		ids[i] = s.SpotifyID
		popularities[i] = s.Popularity
		playCounts[i] = s.PlayCount
		updateTimes[i] = s.UpdateTime
	}

	_, err := r.pool.Exec(ctx, query, ids, popularities, playCounts, updateTimes)
	if err != nil {
		return fmt.Errorf("inserting track stats: %w", err)
	}
	return nil
}

// ListFor returns the measurements for a track, most recent first.
func (r *TrackStatsRepository) ListFor(ctx context.Context, spotifyID string, limit int) ([]TrackStat, error) {
	query := `
		SELECT spotify_id, popularity, play_count, update_time
		FROM track_stats_history
		WHERE spotify_id = $1
		ORDER BY update_time DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, spotifyID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying track stats: %w", err)
	}
	defer rows.Close()

	var result []TrackStat
	for rows.Next() {
		var s TrackStat
		if err := rows.Scan(&s.SpotifyID, &s.Popularity, &s.PlayCount, &s.UpdateTime); err != nil {
			return nil, fmt.Errorf("scanning track stat: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
