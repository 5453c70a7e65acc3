package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/metaversi-world/spotifytrack/internal/stats"
)

// User represents an authenticated Spotify listener. The credential pair is
// always present once the user exists; Active is cleared by the ingestion
// scheduler after repeated credential failures.
type User struct {
	ID             int64
	SpotifyID      string
	Username       string
	Token          string
	RefreshToken   string
	TokenExpiry    time.Time
	Active         bool
	CreationTime   time.Time
	LastUpdateTime time.Time
}

// IDMapping binds an external Spotify id to a compact surrogate integer key.
// Bindings are created lazily on first sighting and are immutable.
type IDMapping struct {
	ID        int64
	SpotifyID string
}

// HistoryEntry is one ranked item of one snapshot batch. Rank positions are
// unique and contiguous 1..N within (user, timeframe, update time).
type HistoryEntry struct {
	UserID     int64
	BatchID    uuid.UUID
	SpotifyID  string
	Timeframe  stats.Timeframe
	Ranking    int
	UpdateTime time.Time
}

// Track holds the denormalized metadata served on the stats endpoint.
type Track struct {
	SpotifyID  string
	Title      string
	Artists    string // comma-separated artist names
	Album      string
	PreviewURL string
	ImageURL   string
	CreatedAt  time.Time
}

// TrackStat is a point-in-time measurement of a track's popularity signal.
// Rows are immutable once written; multiple rows per track accumulate over
// time.
type TrackStat struct {
	SpotifyID  string
	Popularity int
	PlayCount  *int64 // nullable, upstream rarely exposes it
	UpdateTime time.Time
}
