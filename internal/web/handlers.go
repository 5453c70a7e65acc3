package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/metaversi-world/spotifytrack/internal/corpus"
	"github.com/metaversi-world/spotifytrack/internal/db"
	"github.com/metaversi-world/spotifytrack/internal/similarity"
	"github.com/metaversi-world/spotifytrack/internal/stats"
)

const (
	defaultCandidateCount = 10
	maxCandidateCount     = 50
	defaultClusterCount   = 8
	maxClusterCount       = 50

	// DefaultSearchTimeout bounds the corpus scan on the read path.
	DefaultSearchTimeout = 5 * time.Second
)

// UserReader is the read side of the users table.
type UserReader interface {
	GetBySpotifyID(ctx context.Context, spotifyID string) (*db.User, error)
}

// HistoryReader serves the latest snapshot batches.
type HistoryReader interface {
	LatestFor(ctx context.Context, kind db.HistoryKind, userID int64, timeframe stats.Timeframe) ([]stats.RankedEntry, time.Time, error)
}

// TrackReader serves denormalized track metadata.
type TrackReader interface {
	GetByIDs(ctx context.Context, spotifyIDs []string) (map[string]db.Track, error)
}

// ArtistReader serves artist profiles from the corpus.
type ArtistReader interface {
	Get(spotifyID string) (*corpus.ArtistProfile, error)
}

// Handlers holds the HTTP handlers and their collaborators.
type Handlers struct {
	users         UserReader
	history       HistoryReader
	tracks        TrackReader
	artists       ArtistReader
	engine        *similarity.Engine
	searchTimeout time.Duration
	log           zerolog.Logger
}

// NewHandlers creates the handler set. A zero searchTimeout falls back to
// DefaultSearchTimeout.
func NewHandlers(users UserReader, history HistoryReader, tracks TrackReader, artists ArtistReader, engine *similarity.Engine, searchTimeout time.Duration, log zerolog.Logger) *Handlers {
	if searchTimeout <= 0 {
		searchTimeout = DefaultSearchTimeout
	}
	return &Handlers{
		users:         users,
		history:       history,
		tracks:        tracks,
		artists:       artists,
		engine:        engine,
		searchTimeout: searchTimeout,
		log:           log,
	}
}

type trackJSON struct {
	SpotifyID  string `json:"spotify_id"`
	Title      string `json:"title"`
	Artists    string `json:"artists"`
	Album      string `json:"album"`
	PreviewURL string `json:"preview_url"`
	ImageURL   string `json:"image_url"`
}

type artistJSON struct {
	SpotifyID  string `json:"spotify_id"`
	Name       string `json:"name"`
	Genres     string `json:"genres"`
	ImageURL   string `json:"image_url"`
	URI        string `json:"uri"`
	Followers  int64  `json:"followers"`
	Popularity int    `json:"popularity"`
}

type statsResponse struct {
	LastUpdateTime time.Time               `json:"last_update_time"`
	Tracks         map[string][]trackJSON  `json:"tracks"`
	Artists        map[string][]artistJSON `json:"artists"`
}

type candidateJSON struct {
	Artist               artistJSON        `json:"artist"`
	SimilarityToMidpoint float64           `json:"similarity_to_midpoint"`
	SimilarityToArtist1  float64           `json:"similarity_to_artist1"`
	SimilarityToArtist2  float64           `json:"similarity_to_artist2"`
	TopTracks            []corpus.TopTrack `json:"top_tracks"`
}

type averageResponse struct {
	Artist1        artistJSON      `json:"artist1"`
	Artist2        artistJSON      `json:"artist2"`
	PairSimilarity float64         `json:"pair_similarity"`
	PairDistance   float64         `json:"pair_distance"`
	Candidates     []candidateJSON `json:"candidates"`
}

type clusterJSON struct {
	Centroid []float64 `json:"centroid"`
	Members  []string  `json:"members"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Stats serves the latest per-timeframe top tracks and artists for a user.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	spotifyID := chi.URLParam(r, "spotifyID")

	user, err := h.users.GetBySpotifyID(ctx, spotifyID)
	if errors.Is(err, db.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	resp := statsResponse{
		Tracks:  make(map[string][]trackJSON, len(stats.Timeframes)),
		Artists: make(map[string][]artistJSON, len(stats.Timeframes)),
	}
	haveBatch := false

	for _, tf := range stats.Timeframes {
		trackEntries, updateTime, err := h.history.LatestFor(ctx, db.KindTracks, user.ID, tf)
		switch {
		case errors.Is(err, db.ErrNotFound):
			resp.Tracks[string(tf)] = []trackJSON{}
		case err != nil:
			h.serverError(w, r, err)
			return
		default:
			haveBatch = true
			if updateTime.After(resp.LastUpdateTime) {
				resp.LastUpdateTime = updateTime
			}
			tracks, err := h.resolveTracks(ctx, trackEntries)
			if err != nil {
				h.serverError(w, r, err)
				return
			}
			resp.Tracks[string(tf)] = tracks
		}

		artistEntries, updateTime, err := h.history.LatestFor(ctx, db.KindArtists, user.ID, tf)
		switch {
		case errors.Is(err, db.ErrNotFound):
			resp.Artists[string(tf)] = []artistJSON{}
		case err != nil:
			h.serverError(w, r, err)
			return
		default:
			haveBatch = true
			if updateTime.After(resp.LastUpdateTime) {
				resp.LastUpdateTime = updateTime
			}
			resp.Artists[string(tf)] = h.resolveArtists(artistEntries)
		}
	}

	if !haveBatch {
		h.respondError(w, http.StatusNotFound, "no stats ingested yet")
		return
	}
	h.respond(w, http.StatusOK, resp)
}

// AverageArtists serves the average-artists search: candidates near the
// midpoint of the two given artists.
func (h *Handlers) AverageArtists(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.searchTimeout)
	defer cancel()

	id1 := chi.URLParam(r, "id1")
	id2 := chi.URLParam(r, "id2")
	if id1 == id2 {
		h.respondError(w, http.StatusBadRequest, "artists must differ")
		return
	}
	count := queryCount(r, "count", defaultCandidateCount, maxCandidateCount)

	result, err := h.engine.AverageArtists(ctx, id1, id2, count)
	switch {
	case errors.Is(err, corpus.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "artist not found")
		return
	case errors.Is(err, context.DeadlineExceeded):
		h.respondError(w, http.StatusGatewayTimeout, "corpus search timed out")
		return
	case err != nil:
		h.serverError(w, r, err)
		return
	}

	resp := averageResponse{
		Artist1:        profileToJSON(result.Artist1),
		Artist2:        profileToJSON(result.Artist2),
		PairSimilarity: result.PairSimilarity,
		PairDistance:   result.PairDistance,
		Candidates:     make([]candidateJSON, 0, len(result.Candidates)),
	}
	for _, c := range result.Candidates {
		resp.Candidates = append(resp.Candidates, candidateJSON{
			Artist:               profileToJSON(c.Artist),
			SimilarityToMidpoint: c.SimilarityToMidpoint,
			SimilarityToArtist1:  c.SimilarityToArtist1,
			SimilarityToArtist2:  c.SimilarityToArtist2,
			TopTracks:            c.Artist.TopTracks,
		})
	}
	h.respond(w, http.StatusOK, resp)
}

// CorpusClusters serves the kmeans neighborhoods of the artist corpus.
func (h *Handlers) CorpusClusters(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.searchTimeout)
	defer cancel()

	count := queryCount(r, "count", defaultClusterCount, maxClusterCount)

	neighborhoods, err := h.engine.Neighborhoods(ctx, count)
	switch {
	case errors.Is(err, similarity.ErrEmptyCorpus):
		h.respond(w, http.StatusOK, []clusterJSON{})
		return
	case errors.Is(err, context.DeadlineExceeded):
		h.respondError(w, http.StatusGatewayTimeout, "corpus clustering timed out")
		return
	case err != nil:
		h.serverError(w, r, err)
		return
	}

	resp := make([]clusterJSON, 0, len(neighborhoods))
	for _, n := range neighborhoods {
		resp = append(resp, clusterJSON{Centroid: n.Centroid, Members: n.Members})
	}
	h.respond(w, http.StatusOK, resp)
}

// resolveTracks joins ranked history entries with track metadata. Entries
// without local metadata degrade to bare ids.
func (h *Handlers) resolveTracks(ctx context.Context, entries []stats.RankedEntry) ([]trackJSON, error) {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.SpotifyID
	}

	metadata, err := h.tracks.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]trackJSON, 0, len(entries))
	for _, e := range entries {
		t, ok := metadata[e.SpotifyID]
		if !ok {
			out = append(out, trackJSON{SpotifyID: e.SpotifyID})
			continue
		}
		out = append(out, trackJSON{
			SpotifyID:  t.SpotifyID,
			Title:      t.Title,
			Artists:    t.Artists,
			Album:      t.Album,
			PreviewURL: t.PreviewURL,
			ImageURL:   t.ImageURL,
		})
	}
	return out, nil
}

func (h *Handlers) resolveArtists(entries []stats.RankedEntry) []artistJSON {
	out := make([]artistJSON, 0, len(entries))
	for _, e := range entries {
		profile, err := h.artists.Get(e.SpotifyID)
		if err != nil {
			out = append(out, artistJSON{SpotifyID: e.SpotifyID})
			continue
		}
		out = append(out, profileToJSON(profile))
	}
	return out
}

func profileToJSON(p *corpus.ArtistProfile) artistJSON {
	return artistJSON{
		SpotifyID:  p.SpotifyID,
		Name:       p.Name,
		Genres:     p.Genres,
		ImageURL:   p.ImageURL,
		URI:        p.URI,
		Followers:  p.Followers,
		Popularity: p.Popularity,
	}
}

func queryCount(r *http.Request, param string, def, max int) int {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func (h *Handlers) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn().Err(err).Msg("encoding response failed")
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, msg string) {
	h.respond(w, status, errorResponse{Error: msg})
}

func (h *Handlers) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	h.respondError(w, http.StatusInternalServerError, "internal error")
}
