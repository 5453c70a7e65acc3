package web

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/metaversi-world/spotifytrack/internal/corpus"
	"github.com/metaversi-world/spotifytrack/internal/db"
	"github.com/metaversi-world/spotifytrack/internal/similarity"
	"github.com/metaversi-world/spotifytrack/internal/stats"
)

type fakeUsers struct {
	users map[string]*db.User
}

func (f *fakeUsers) GetBySpotifyID(_ context.Context, spotifyID string) (*db.User, error) {
	u, ok := f.users[spotifyID]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", spotifyID, db.ErrNotFound)
	}
	return u, nil
}

type historyKey struct {
	kind      db.HistoryKind
	userID    int64
	timeframe stats.Timeframe
}

type fakeHistory struct {
	entries    map[historyKey][]stats.RankedEntry
	updateTime time.Time
}

func (f *fakeHistory) LatestFor(_ context.Context, kind db.HistoryKind, userID int64, tf stats.Timeframe) ([]stats.RankedEntry, time.Time, error) {
	entries, ok := f.entries[historyKey{kind: kind, userID: userID, timeframe: tf}]
	if !ok {
		return nil, time.Time{}, db.ErrNotFound
	}
	return entries, f.updateTime, nil
}

type fakeTracks struct {
	tracks map[string]db.Track
}

func (f *fakeTracks) GetByIDs(_ context.Context, spotifyIDs []string) (map[string]db.Track, error) {
	out := make(map[string]db.Track)
	for _, id := range spotifyIDs {
		if t, ok := f.tracks[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

type testServer struct {
	users   *fakeUsers
	history *fakeHistory
	tracks  *fakeTracks
	corpus  *corpus.Store
	server  *Server
}

func newTestServer(t *testing.T, searchTimeout time.Duration) *testServer {
	t.Helper()
	ts := &testServer{
		users:   &fakeUsers{users: make(map[string]*db.User)},
		history: &fakeHistory{entries: make(map[historyKey][]stats.RankedEntry)},
		tracks:  &fakeTracks{tracks: make(map[string]db.Track)},
		corpus:  corpus.NewStore(2),
	}
	engine := similarity.NewEngine(ts.corpus)
	handlers := NewHandlers(ts.users, ts.history, ts.tracks, ts.corpus, engine, searchTimeout, zerolog.Nop())
	ts.server = NewServer(ServerConfig{}, handlers, zerolog.Nop())
	return ts
}

func (ts *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) seedArtist(t *testing.T, id string, features ...float64) {
	t.Helper()
	err := ts.corpus.Upsert(&corpus.ArtistProfile{
		SpotifyID: id,
		Name:      "artist " + id,
		Features:  corpus.Vector(features),
		TopTracks: []corpus.TopTrack{{SpotifyID: id + "-top", Title: "hit"}},
	})
	if err != nil {
		t.Fatalf("seeding artist %s: %v", id, err)
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.get(t, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStatsUnknownUser(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.get(t, "/stats/nobody")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStatsUserWithoutSnapshots(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.users.users["listener"] = &db.User{ID: 1, SpotifyID: "listener"}

	rec := ts.get(t, "/stats/listener")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStats(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.users.users["listener"] = &db.User{ID: 1, SpotifyID: "listener"}
	ts.history.updateTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ts.history.entries[historyKey{kind: db.KindTracks, userID: 1, timeframe: stats.TimeframeShort}] = []stats.RankedEntry{
		{SpotifyID: "t1", Rank: 1},
		{SpotifyID: "t2", Rank: 2},
	}
	ts.history.entries[historyKey{kind: db.KindArtists, userID: 1, timeframe: stats.TimeframeShort}] = []stats.RankedEntry{
		{SpotifyID: "a1", Rank: 1},
	}
	ts.tracks.tracks["t1"] = db.Track{SpotifyID: "t1", Title: "first", Artists: "someone"}
	ts.seedArtist(t, "a1", 0.5, 0.5)

	rec := ts.get(t, "/stats/listener")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[statsResponse](t, rec)
	if !resp.LastUpdateTime.Equal(ts.history.updateTime) {
		t.Errorf("last_update_time = %v, want %v", resp.LastUpdateTime, ts.history.updateTime)
	}

	short := resp.Tracks["short"]
	if len(short) != 2 {
		t.Fatalf("got %d short tracks, want 2", len(short))
	}
	if short[0].SpotifyID != "t1" || short[0].Title != "first" {
		t.Errorf("short[0] = %+v, want resolved t1", short[0])
	}
	// Missing track metadata degrades to the bare id.
	if short[1].SpotifyID != "t2" || short[1].Title != "" {
		t.Errorf("short[1] = %+v, want bare t2", short[1])
	}

	artists := resp.Artists["short"]
	if len(artists) != 1 || artists[0].Name != "artist a1" {
		t.Errorf("short artists = %+v, want resolved a1", artists)
	}

	// Timeframes without a batch come back as empty lists, not nulls.
	if resp.Tracks["long"] == nil || len(resp.Tracks["long"]) != 0 {
		t.Errorf("long tracks = %v, want empty list", resp.Tracks["long"])
	}
}

func TestAverageArtists(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.seedArtist(t, "left", 1, 0)
	ts.seedArtist(t, "right", 0, 1)
	ts.seedArtist(t, "between", 1, 1)
	ts.seedArtist(t, "leaning", 1, 0.5)

	rec := ts.get(t, "/average/left/right")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[averageResponse](t, rec)
	if resp.Artist1.SpotifyID != "left" || resp.Artist2.SpotifyID != "right" {
		t.Errorf("input artists = %s, %s", resp.Artist1.SpotifyID, resp.Artist2.SpotifyID)
	}
	if len(resp.Candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(resp.Candidates))
	}
	if resp.Candidates[0].Artist.SpotifyID != "between" {
		t.Errorf("best candidate = %s, want between", resp.Candidates[0].Artist.SpotifyID)
	}
	if len(resp.Candidates[0].TopTracks) != 1 {
		t.Errorf("candidate top tracks missing: %+v", resp.Candidates[0])
	}
}

func TestAverageArtistsCountParam(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.seedArtist(t, "left", 1, 0)
	ts.seedArtist(t, "right", 0, 1)
	ts.seedArtist(t, "between", 1, 1)
	ts.seedArtist(t, "leaning", 1, 0.5)

	rec := ts.get(t, "/average/left/right?count=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeBody[averageResponse](t, rec)
	if len(resp.Candidates) != 1 {
		t.Errorf("got %d candidates, want 1", len(resp.Candidates))
	}

	// Garbage counts fall back to the default instead of failing.
	rec = ts.get(t, "/average/left/right?count=banana")
	if rec.Code != http.StatusOK {
		t.Errorf("status with bad count = %d, want 200", rec.Code)
	}
}

func TestAverageArtistsUnknownArtist(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.seedArtist(t, "left", 1, 0)

	rec := ts.get(t, "/average/left/missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAverageArtistsSamePair(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.seedArtist(t, "left", 1, 0)

	rec := ts.get(t, "/average/left/left")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAverageArtistsTimeout(t *testing.T) {
	ts := newTestServer(t, time.Nanosecond)
	ts.seedArtist(t, "left", 1, 0)
	ts.seedArtist(t, "right", 0, 1)
	ts.seedArtist(t, "other", 1, 1)

	rec := ts.get(t, "/average/left/right")
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504: %s", rec.Code, rec.Body.String())
	}
}

func TestCorpusClustersEmpty(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.get(t, "/corpus/clusters")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeBody[[]clusterJSON](t, rec)
	if len(resp) != 0 {
		t.Errorf("got %d clusters from an empty corpus, want 0", len(resp))
	}
}

func TestCorpusClusters(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.seedArtist(t, "a1", 0.1, 0.1)
	ts.seedArtist(t, "a2", 0.15, 0.1)
	ts.seedArtist(t, "b1", 0.9, 0.9)
	ts.seedArtist(t, "b2", 0.85, 0.95)

	rec := ts.get(t, "/corpus/clusters?count=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[[]clusterJSON](t, rec)
	if len(resp) != 2 {
		t.Fatalf("got %d clusters, want 2", len(resp))
	}
	total := 0
	for _, c := range resp {
		total += len(c.Members)
	}
	if total != 4 {
		t.Errorf("clusters hold %d members, want 4", total)
	}
}
