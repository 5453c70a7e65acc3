package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/metaversi-world/spotifytrack/internal/stats"
)

// HistoryKind selects which ranked history table a batch is written to.
type HistoryKind string

const (
	KindTracks  HistoryKind = "tracks"
	KindArtists HistoryKind = "artists"
)

// historyTables maps kinds to table names. Queries interpolate table names
// only through this map, never from caller input.
var historyTables = map[HistoryKind]string{
	KindTracks:  "track_history",
	KindArtists: "artist_history",
}

// HistoryRepository handles the append-only per-user, per-timeframe ranked
// history tables.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

// WriteBatch writes one snapshot batch: one row per ranked external id with
// positions 1..N, in a single transaction so either the full batch is
// visible or none of it. Returns ErrBatchEmpty when rankedIDs is empty.
func (r *HistoryRepository) WriteBatch(ctx context.Context, kind HistoryKind, userID int64, timeframe stats.Timeframe, updateTime time.Time, rankedIDs []string) error {
	table, ok := historyTables[kind]
	if !ok {
		return fmt.Errorf("unknown history kind %q", kind)
	}
	if len(rankedIDs) == 0 {
		return fmt.Errorf("writing %s batch for user %d: %w", kind, userID, ErrBatchEmpty)
	}

	rankings := make([]int, len(rankedIDs))
	for i := range rankedIDs {
		rankings[i] = i + 1
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, batch_id, spotify_id, timeframe, ranking, update_time)
		SELECT $1, $2, ids, $3, ranks, $4
		FROM unnest($5::text[], $6::int[]) AS t(ids, ranks)
	`, table)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning batch transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batchID := uuid.New()
	if _, err := tx.Exec(ctx, query, userID, batchID, timeframe.ID(), updateTime, rankedIDs, rankings); err != nil {
		return fmt.Errorf("inserting %s batch: %w", kind, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing %s batch: %w", kind, err)
	}
	return nil
}

// LatestFor returns the most recent complete batch for a user and
// timeframe, ordered by rank, along with the batch's update time.
// Returns ErrNotFound if the user has no batch yet.
func (r *HistoryRepository) LatestFor(ctx context.Context, kind HistoryKind, userID int64, timeframe stats.Timeframe) ([]stats.RankedEntry, time.Time, error) {
	table, ok := historyTables[kind]
	if !ok {
		return nil, time.Time{}, fmt.Errorf("unknown history kind %q", kind)
	}

	var updateTime time.Time
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT update_time FROM %s
		WHERE user_id = $1 AND timeframe = $2
		ORDER BY update_time DESC
		LIMIT 1
	`, table), userID, timeframe.ID()).Scan(&updateTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("querying latest %s batch: %w", kind, err)
	}

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT spotify_id, ranking FROM %s
		WHERE user_id = $1 AND timeframe = $2 AND update_time = $3
		ORDER BY ranking ASC
	`, table), userID, timeframe.ID(), updateTime)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("querying %s batch rows: %w", kind, err)
	}
	defer rows.Close()

	var entries []stats.RankedEntry
	for rows.Next() {
		var entry stats.RankedEntry
		if err := rows.Scan(&entry.SpotifyID, &entry.Rank); err != nil {
			return nil, time.Time{}, fmt.Errorf("scanning history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, updateTime, rows.Err()
}
