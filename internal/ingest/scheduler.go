// Package ingest runs the periodic snapshot pipeline. On each tick the
// scheduler runs one job per active user through a bounded worker pool:
// fetch the user's top tracks and artists for all timeframes, refresh any
// artist profiles the corpus is missing, and append one history batch per
// timeframe. Users are isolated from each other's failures.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/metaversi-world/spotifytrack/internal/corpus"
	"github.com/metaversi-world/spotifytrack/internal/db"
	"github.com/metaversi-world/spotifytrack/internal/spotify"
	"github.com/metaversi-world/spotifytrack/internal/stats"
)

// Upstream is the slice of the streaming API a snapshot job needs.
type Upstream interface {
	TopArtists(ctx context.Context, tf stats.Timeframe) ([]spotify.Artist, error)
	TopTracks(ctx context.Context, tf stats.Timeframe) ([]spotify.Track, error)
	ArtistProfile(ctx context.Context, spotifyID string) (*corpus.ArtistProfile, error)
	Token() (*oauth2.Token, error)
}

// ClientFactory builds an Upstream bound to one user's credential pair.
// Rebuilding the client forces a token refresh through the oauth2
// transport.
type ClientFactory func(ctx context.Context, user db.User) (Upstream, error)

// UserStore is the scheduler's view of the users table.
type UserStore interface {
	ListActive(ctx context.Context) ([]db.User, error)
	UpdateTokens(ctx context.Context, id int64, token, refreshToken string, expiry time.Time) error
	UpdateLastUpdate(ctx context.Context, id int64, updateTime time.Time) error
	MarkInactive(ctx context.Context, id int64) error
}

// HistoryStore appends snapshot batches.
type HistoryStore interface {
	WriteBatch(ctx context.Context, kind db.HistoryKind, userID int64, timeframe stats.Timeframe, updateTime time.Time, rankedIDs []string) error
}

// IdentityStore keeps the surrogate-id mapping warm for every external id
// the pipeline sees.
type IdentityStore interface {
	ResolveBatch(ctx context.Context, spotifyIDs []string) (map[string]int64, error)
}

// ProfileCache is the in-memory corpus store.
type ProfileCache interface {
	Get(spotifyID string) (*corpus.ArtistProfile, error)
	Upsert(profile *corpus.ArtistProfile) error
}

// ArtistStore is the durable side of the feature vector store.
type ArtistStore interface {
	Upsert(ctx context.Context, profile *corpus.ArtistProfile) error
}

// TrackStore persists track metadata for stats reads.
type TrackStore interface {
	UpsertBatch(ctx context.Context, tracks []db.Track) error
}

// TrackStatsStore appends per-track popularity measurements.
type TrackStatsStore interface {
	InsertBatch(ctx context.Context, statsRows []db.TrackStat) error
}

// Config holds the scheduler's tunables. Zero values fall back to the
// defaults below.
type Config struct {
	// Interval between ticks.
	Interval time.Duration
	// PoolSize bounds how many user jobs run concurrently, to respect
	// upstream rate limits.
	PoolSize int
	// Cooldown is the minimum time between snapshots for one user.
	Cooldown time.Duration
	// ProfileTTL is how old an artist profile may get before ingestion
	// refetches it.
	ProfileTTL time.Duration
	// MaxAuthFailures is how many consecutive credential failures a user
	// may accumulate before being marked inactive.
	MaxAuthFailures int
}

// Default tunables.
const (
	DefaultInterval        = 1 * time.Hour
	DefaultPoolSize        = 4
	DefaultCooldown        = 30 * time.Minute
	DefaultProfileTTL      = 7 * 24 * time.Hour
	DefaultMaxAuthFailures = 3
)

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.ProfileTTL <= 0 {
		c.ProfileTTL = DefaultProfileTTL
	}
	if c.MaxAuthFailures <= 0 {
		c.MaxAuthFailures = DefaultMaxAuthFailures
	}
	return c
}

// Deps bundles the scheduler's collaborators.
type Deps struct {
	Users      UserStore
	History    HistoryStore
	Identity   IdentityStore
	Profiles   ProfileCache
	Artists    ArtistStore
	Tracks     TrackStore
	TrackStats TrackStatsStore
	Clients    ClientFactory
	Logger     zerolog.Logger
}

// jobState tracks where a per-user snapshot job is in its cycle.
type jobState int8

const (
	stateIdle jobState = iota
	stateFetching
	stateWriting
	stateFailed
)

func (s jobState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateFetching:
		return "fetching"
	case stateWriting:
		return "writing"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// Scheduler drives the ingestion pipeline.
type Scheduler struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	mu           sync.Mutex
	authFailures map[int64]int
}

// New creates a scheduler.
func New(cfg Config, deps Deps) *Scheduler {
	return &Scheduler{
		cfg:          cfg.withDefaults(),
		deps:         deps,
		log:          deps.Logger,
		authFailures: make(map[int64]int),
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().
		Dur("interval", s.cfg.Interval).
		Int("pool_size", s.cfg.PoolSize).
		Msg("ingestion scheduler started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.log.Warn().Err(err).Msg("ingestion tick failed")
			}
		}
	}
}

// Tick runs one snapshot job per active user through the worker pool. A
// single user's failure never fails the tick; only being unable to list
// users does.
func (s *Scheduler) Tick(ctx context.Context) error {
	users, err := s.deps.Users.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing active users: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.PoolSize)
	for _, user := range users {
		user := user
		g.Go(func() error {
			s.runUser(ctx, user)
			return nil
		})
	}
	return g.Wait()
}

// runUser executes one user's snapshot job end to end.
func (s *Scheduler) runUser(ctx context.Context, user db.User) {
	log := s.log.With().
		Str("run_id", uuid.NewString()).
		Str("user", user.SpotifyID).
		Logger()

	if since := time.Since(user.LastUpdateTime); since < s.cfg.Cooldown {
		log.Debug().Dur("since_update", since).Msg("updated recently, skipping")
		return
	}

	log.Info().Stringer("state", stateFetching).Msg("snapshot job started")

	client, snap, err := s.fetch(ctx, user)
	if err != nil {
		s.fail(ctx, log, user, err)
		return
	}

	log.Debug().Stringer("state", stateWriting).Msg("snapshot fetched")

	updateTime, err := s.write(ctx, log, user, client, snap)
	if err != nil {
		s.fail(ctx, log, user, err)
		return
	}

	s.persistRefreshedToken(ctx, log, user, client)
	s.clearAuthFailures(user.ID)

	log.Info().
		Stringer("state", stateIdle).
		Time("update_time", updateTime).
		Msg("snapshot job finished")
}

// snapshot is the fetched top lists for all timeframes.
type snapshot struct {
	tracks  map[stats.Timeframe][]spotify.Track
	artists map[stats.Timeframe][]spotify.Artist
}

// fetch pulls all six top lists. On an auth failure it rebuilds the client
// once (forcing a token refresh) and retries.
func (s *Scheduler) fetch(ctx context.Context, user db.User) (Upstream, *snapshot, error) {
	client, err := s.deps.Clients(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("building upstream client: %w", err)
	}

	snap, err := fetchTopLists(ctx, client)
	if errors.Is(err, spotify.ErrUnauthorized) {
		// One refresh-and-retry: a fresh client forces the oauth2
		// transport to exchange the refresh token again.
		client, err = s.deps.Clients(ctx, user)
		if err != nil {
			return nil, nil, fmt.Errorf("rebuilding upstream client: %w", err)
		}
		snap, err = fetchTopLists(ctx, client)
	}
	if err != nil {
		return nil, nil, err
	}
	return client, snap, nil
}

func fetchTopLists(ctx context.Context, client Upstream) (*snapshot, error) {
	snap := &snapshot{
		tracks:  make(map[stats.Timeframe][]spotify.Track, len(stats.Timeframes)),
		artists: make(map[stats.Timeframe][]spotify.Artist, len(stats.Timeframes)),
	}

	for _, tf := range stats.Timeframes {
		tracks, err := client.TopTracks(ctx, tf)
		if err != nil {
			return nil, err
		}
		snap.tracks[tf] = tracks

		artists, err := client.TopArtists(ctx, tf)
		if err != nil {
			return nil, err
		}
		snap.artists[tf] = artists
	}
	return snap, nil
}

// write persists one snapshot: id mappings, artist profiles, track
// metadata and stats, then one history batch per (kind, timeframe), and
// finally the user's last update time.
func (s *Scheduler) write(ctx context.Context, log zerolog.Logger, user db.User, client Upstream, snap *snapshot) (time.Time, error) {
	updateTime := time.Now().UTC()

	uniqueTracks := dedupeTracks(snap)
	uniqueArtistIDs := dedupeArtistIDs(snap)

	allIDs := make([]string, 0, len(uniqueTracks)+len(uniqueArtistIDs))
	for _, t := range uniqueTracks {
		allIDs = append(allIDs, t.SpotifyID)
	}
	allIDs = append(allIDs, uniqueArtistIDs...)
	if _, err := s.deps.Identity.ResolveBatch(ctx, allIDs); err != nil {
		return time.Time{}, fmt.Errorf("resolving surrogate ids: %w", err)
	}

	if err := s.refreshArtistProfiles(ctx, log, client, uniqueArtistIDs); err != nil {
		return time.Time{}, err
	}

	dbTracks := make([]db.Track, len(uniqueTracks))
	trackStats := make([]db.TrackStat, len(uniqueTracks))
	for i, t := range uniqueTracks {
		dbTracks[i] = db.Track{
			SpotifyID:  t.SpotifyID,
			Title:      t.Title,
			Artists:    t.Artists,
			Album:      t.Album,
			PreviewURL: t.PreviewURL,
			ImageURL:   t.ImageURL,
		}
		trackStats[i] = db.TrackStat{
			SpotifyID:  t.SpotifyID,
			Popularity: t.Popularity,
			UpdateTime: updateTime,
		}
	}
	if err := s.deps.Tracks.UpsertBatch(ctx, dbTracks); err != nil {
		return time.Time{}, fmt.Errorf("upserting track metadata: %w", err)
	}
	if err := s.deps.TrackStats.InsertBatch(ctx, trackStats); err != nil {
		return time.Time{}, fmt.Errorf("inserting track stats: %w", err)
	}

	for _, tf := range stats.Timeframes {
		trackIDs := make([]string, len(snap.tracks[tf]))
		for i, t := range snap.tracks[tf] {
			trackIDs[i] = t.SpotifyID
		}
		if err := s.writeBatch(ctx, log, db.KindTracks, user.ID, tf, updateTime, trackIDs); err != nil {
			return time.Time{}, err
		}

		artistIDs := make([]string, len(snap.artists[tf]))
		for i, a := range snap.artists[tf] {
			artistIDs[i] = a.SpotifyID
		}
		if err := s.writeBatch(ctx, log, db.KindArtists, user.ID, tf, updateTime, artistIDs); err != nil {
			return time.Time{}, err
		}
	}

	if err := s.deps.Users.UpdateLastUpdate(ctx, user.ID, updateTime); err != nil {
		return time.Time{}, fmt.Errorf("updating last update time: %w", err)
	}
	return updateTime, nil
}

// writeBatch appends one batch. An empty upstream top-list is rejected by
// the store and logged, but does not fail the cycle: no batch at this
// timestamp means "no data".
func (s *Scheduler) writeBatch(ctx context.Context, log zerolog.Logger, kind db.HistoryKind, userID int64, tf stats.Timeframe, updateTime time.Time, ids []string) error {
	err := s.deps.History.WriteBatch(ctx, kind, userID, tf, updateTime, ids)
	if errors.Is(err, db.ErrBatchEmpty) {
		log.Warn().
			Str("kind", string(kind)).
			Str("timeframe", string(tf)).
			Msg("empty top-list, batch not stored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("writing %s/%s batch: %w", kind, tf, err)
	}
	return nil
}

// refreshArtistProfiles upserts profiles the corpus is missing or holds
// stale. A fetch failure for one artist is logged and skipped (the next
// cycle retries it); a dimension mismatch is a corpus integrity violation
// and fails the cycle.
func (s *Scheduler) refreshArtistProfiles(ctx context.Context, log zerolog.Logger, client Upstream, artistIDs []string) error {
	for _, id := range artistIDs {
		existing, err := s.deps.Profiles.Get(id)
		if err == nil && time.Since(existing.UpdatedAt) < s.cfg.ProfileTTL {
			continue
		}
		if err != nil && !errors.Is(err, corpus.ErrNotFound) {
			return fmt.Errorf("checking corpus for artist %q: %w", id, err)
		}

		profile, err := client.ArtistProfile(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Str("artist", id).Msg("artist profile fetch failed, skipping")
			continue
		}

		if err := s.deps.Profiles.Upsert(profile); err != nil {
			if errors.Is(err, corpus.ErrDimensionMismatch) {
				log.Error().Err(err).Str("artist", id).Msg("corpus integrity violation")
			}
			return fmt.Errorf("caching artist profile: %w", err)
		}
		if err := s.deps.Artists.Upsert(ctx, profile); err != nil {
			if errors.Is(err, corpus.ErrDimensionMismatch) {
				log.Error().Err(err).Str("artist", id).Msg("corpus integrity violation")
			}
			return fmt.Errorf("persisting artist profile: %w", err)
		}
	}
	return nil
}

// persistRefreshedToken writes back the credential pair if the oauth2
// transport rotated it during the job.
func (s *Scheduler) persistRefreshedToken(ctx context.Context, log zerolog.Logger, user db.User, client Upstream) {
	token, err := client.Token()
	if err != nil || token == nil {
		return
	}
	if token.AccessToken == user.Token {
		return
	}

	refresh := token.RefreshToken
	if refresh == "" {
		refresh = user.RefreshToken
	}
	if err := s.deps.Users.UpdateTokens(ctx, user.ID, token.AccessToken, refresh, token.Expiry); err != nil {
		log.Warn().Err(err).Msg("persisting refreshed token failed")
	}
}

// fail records a failed cycle. Credential failures accumulate; after the
// configured bound the user is taken out of rotation until they
// re-authenticate.
func (s *Scheduler) fail(ctx context.Context, log zerolog.Logger, user db.User, err error) {
	log.Warn().Err(err).Stringer("state", stateFailed).Msg("snapshot job failed")

	if !errors.Is(err, spotify.ErrUnauthorized) {
		return
	}

	s.mu.Lock()
	s.authFailures[user.ID]++
	failures := s.authFailures[user.ID]
	s.mu.Unlock()

	if failures < s.cfg.MaxAuthFailures {
		return
	}

	if err := s.deps.Users.MarkInactive(ctx, user.ID); err != nil {
		log.Error().Err(err).Msg("marking user inactive failed")
		return
	}
	s.clearAuthFailures(user.ID)
	log.Error().Int("consecutive_failures", failures).Msg("credentials unusable, user marked inactive")
}

func (s *Scheduler) clearAuthFailures(userID int64) {
	s.mu.Lock()
	delete(s.authFailures, userID)
	s.mu.Unlock()
}

func dedupeTracks(snap *snapshot) []spotify.Track {
	seen := make(map[string]struct{})
	var out []spotify.Track
	for _, tf := range stats.Timeframes {
		for _, t := range snap.tracks[tf] {
			if _, ok := seen[t.SpotifyID]; ok {
				continue
			}
			seen[t.SpotifyID] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

func dedupeArtistIDs(snap *snapshot) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tf := range stats.Timeframes {
		for _, a := range snap.artists[tf] {
			if _, ok := seen[a.SpotifyID]; ok {
				continue
			}
			seen[a.SpotifyID] = struct{}{}
			out = append(out, a.SpotifyID)
		}
	}
	return out
}
