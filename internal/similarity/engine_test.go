package similarity

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/metaversi-world/spotifytrack/internal/corpus"
)

func newTestStore(t *testing.T, dim int, vectors map[string]corpus.Vector) *corpus.Store {
	t.Helper()
	store := corpus.NewStore(dim)
	for id, v := range vectors {
		err := store.Upsert(&corpus.ArtistProfile{
			SpotifyID: id,
			Name:      "artist " + id,
			Features:  v,
		})
		if err != nil {
			t.Fatalf("seeding %s: %v", id, err)
		}
	}
	return store
}

func TestNearestTo(t *testing.T) {
	store := newTestStore(t, 2, map[string]corpus.Vector{
		"along":    {1, 1},    // same direction as target
		"close":    {1, 0.5},  // small angle
		"sideways": {1, 0},    // larger angle
		"opposite": {-1, -1},  // diametrically opposed
	})
	engine := NewEngine(store)
	target := corpus.Vector{0.5, 0.5}

	matches, err := engine.NearestTo(context.Background(), target, nil, 10)
	if err != nil {
		t.Fatalf("NearestTo: %v", err)
	}

	wantOrder := []string{"along", "close", "sideways", "opposite"}
	if len(matches) != len(wantOrder) {
		t.Fatalf("got %d matches, want %d", len(matches), len(wantOrder))
	}
	for i, want := range wantOrder {
		if matches[i].SpotifyID != want {
			t.Errorf("matches[%d] = %s, want %s", i, matches[i].SpotifyID, want)
		}
	}
	if !almostEqual(matches[0].Similarity, 1) {
		t.Errorf("best match similarity = %v, want 1", matches[0].Similarity)
	}
	if !almostEqual(matches[3].Similarity, 0) {
		t.Errorf("worst match similarity = %v, want 0", matches[3].Similarity)
	}
}

func TestNearestToTruncatesToK(t *testing.T) {
	store := newTestStore(t, 2, map[string]corpus.Vector{
		"a": {1, 1},
		"b": {1, 0.5},
		"c": {1, 0},
	})
	engine := NewEngine(store)

	matches, err := engine.NearestTo(context.Background(), corpus.Vector{1, 1}, nil, 2)
	if err != nil {
		t.Fatalf("NearestTo: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].SpotifyID != "a" {
		t.Errorf("matches[0] = %s, want a", matches[0].SpotifyID)
	}
}

func TestNearestToTieBreaksByID(t *testing.T) {
	// Identical vectors score identically; order must still be stable.
	store := newTestStore(t, 2, map[string]corpus.Vector{
		"zeta":  {1, 1},
		"alpha": {1, 1},
		"mid":   {2, 2},
	})
	engine := NewEngine(store)

	matches, err := engine.NearestTo(context.Background(), corpus.Vector{1, 1}, nil, 10)
	if err != nil {
		t.Fatalf("NearestTo: %v", err)
	}

	wantOrder := []string{"alpha", "mid", "zeta"}
	for i, want := range wantOrder {
		if matches[i].SpotifyID != want {
			t.Errorf("matches[%d] = %s, want %s", i, matches[i].SpotifyID, want)
		}
	}
}

func TestNearestToExcludes(t *testing.T) {
	store := newTestStore(t, 2, map[string]corpus.Vector{
		"a": {1, 1},
		"b": {1, 0.5},
	})
	engine := NewEngine(store)

	exclude := map[string]struct{}{"a": {}}
	matches, err := engine.NearestTo(context.Background(), corpus.Vector{1, 1}, exclude, 10)
	if err != nil {
		t.Fatalf("NearestTo: %v", err)
	}
	if len(matches) != 1 || matches[0].SpotifyID != "b" {
		t.Errorf("matches = %v, want only b", matches)
	}
}

func TestNearestToEmptyCorpus(t *testing.T) {
	engine := NewEngine(corpus.NewStore(2))

	_, err := engine.NearestTo(context.Background(), corpus.Vector{1, 1}, nil, 10)
	if !errors.Is(err, ErrEmptyCorpus) {
		t.Errorf("NearestTo error = %v, want ErrEmptyCorpus", err)
	}
}

func TestNearestToEverythingExcluded(t *testing.T) {
	store := newTestStore(t, 2, map[string]corpus.Vector{"a": {1, 1}})
	engine := NewEngine(store)

	exclude := map[string]struct{}{"a": {}}
	_, err := engine.NearestTo(context.Background(), corpus.Vector{1, 1}, exclude, 10)
	if !errors.Is(err, ErrEmptyCorpus) {
		t.Errorf("NearestTo error = %v, want ErrEmptyCorpus", err)
	}
}

func TestNearestToInvalidCount(t *testing.T) {
	engine := NewEngine(newTestStore(t, 2, map[string]corpus.Vector{"a": {1, 1}}))
	for _, k := range []int{0, -1} {
		if _, err := engine.NearestTo(context.Background(), corpus.Vector{1, 1}, nil, k); err == nil {
			t.Errorf("NearestTo(k=%d) succeeded, want error", k)
		}
	}
}

func TestNearestToCancelled(t *testing.T) {
	store := newTestStore(t, 2, map[string]corpus.Vector{"a": {1, 1}})
	engine := NewEngine(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.NearestTo(ctx, corpus.Vector{1, 1}, nil, 10)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("NearestTo error = %v, want context.Canceled", err)
	}
}

func TestAverageArtists(t *testing.T) {
	store := newTestStore(t, 2, map[string]corpus.Vector{
		"left":     {1, 0},
		"right":    {0, 1},
		"between":  {1, 1},   // exactly along the midpoint direction
		"leaning":  {1, 0.5}, // closer to left
		"opposite": {-1, -1},
	})
	engine := NewEngine(store)

	result, err := engine.AverageArtists(context.Background(), "left", "right", 10)
	if err != nil {
		t.Fatalf("AverageArtists: %v", err)
	}

	if result.Artist1.SpotifyID != "left" || result.Artist2.SpotifyID != "right" {
		t.Errorf("input artists = %s, %s", result.Artist1.SpotifyID, result.Artist2.SpotifyID)
	}
	// left and right are orthogonal.
	if !almostEqual(result.PairDistance, 1) {
		t.Errorf("PairDistance = %v, want 1", result.PairDistance)
	}
	if !almostEqual(result.PairSimilarity, 0.5) {
		t.Errorf("PairSimilarity = %v, want 0.5", result.PairSimilarity)
	}

	wantOrder := []string{"between", "leaning", "opposite"}
	if len(result.Candidates) != len(wantOrder) {
		t.Fatalf("got %d candidates, want %d", len(result.Candidates), len(wantOrder))
	}
	for i, want := range wantOrder {
		got := result.Candidates[i]
		if got.Artist.SpotifyID != want {
			t.Errorf("candidates[%d] = %s, want %s", i, got.Artist.SpotifyID, want)
		}
		if got.Artist.SpotifyID == "left" || got.Artist.SpotifyID == "right" {
			t.Errorf("input artist %s appeared as candidate", got.Artist.SpotifyID)
		}
	}

	best := result.Candidates[0]
	if !almostEqual(best.SimilarityToMidpoint, 1) {
		t.Errorf("best SimilarityToMidpoint = %v, want 1", best.SimilarityToMidpoint)
	}
	// between is symmetric to both inputs.
	if !almostEqual(best.SimilarityToArtist1, best.SimilarityToArtist2) {
		t.Errorf("between scores %v vs %v against the inputs, want equal",
			best.SimilarityToArtist1, best.SimilarityToArtist2)
	}
}

func TestAverageArtistsSymmetric(t *testing.T) {
	store := newTestStore(t, 2, map[string]corpus.Vector{
		"left":    {1, 0},
		"right":   {0, 1},
		"leaning": {1, 0.5},
	})
	engine := NewEngine(store)

	fwd, err := engine.AverageArtists(context.Background(), "left", "right", 10)
	if err != nil {
		t.Fatalf("AverageArtists(left, right): %v", err)
	}
	rev, err := engine.AverageArtists(context.Background(), "right", "left", 10)
	if err != nil {
		t.Fatalf("AverageArtists(right, left): %v", err)
	}

	if !almostEqual(fwd.PairSimilarity, rev.PairSimilarity) {
		t.Errorf("PairSimilarity differs: %v vs %v", fwd.PairSimilarity, rev.PairSimilarity)
	}
	if len(fwd.Candidates) != len(rev.Candidates) {
		t.Fatalf("candidate counts differ: %d vs %d", len(fwd.Candidates), len(rev.Candidates))
	}
	for i := range fwd.Candidates {
		f, r := fwd.Candidates[i], rev.Candidates[i]
		if f.Artist.SpotifyID != r.Artist.SpotifyID {
			t.Errorf("candidates[%d] differ: %s vs %s", i, f.Artist.SpotifyID, r.Artist.SpotifyID)
		}
		if !almostEqual(f.SimilarityToMidpoint, r.SimilarityToMidpoint) {
			t.Errorf("candidates[%d] midpoint scores differ", i)
		}
		// Per-artist scores swap with the argument order.
		if !almostEqual(f.SimilarityToArtist1, r.SimilarityToArtist2) ||
			!almostEqual(f.SimilarityToArtist2, r.SimilarityToArtist1) {
			t.Errorf("candidates[%d] per-artist scores do not swap", i)
		}
	}
}

func TestAverageArtistsOnlyInputsInCorpus(t *testing.T) {
	store := newTestStore(t, 2, map[string]corpus.Vector{
		"left":  {1, 0},
		"right": {0, 1},
	})
	engine := NewEngine(store)

	result, err := engine.AverageArtists(context.Background(), "left", "right", 10)
	if err != nil {
		t.Fatalf("AverageArtists: %v", err)
	}
	if len(result.Candidates) != 0 {
		t.Errorf("got %d candidates, want none", len(result.Candidates))
	}
}

func TestAverageArtistsUnknownArtist(t *testing.T) {
	store := newTestStore(t, 2, map[string]corpus.Vector{"left": {1, 0}})
	engine := NewEngine(store)

	_, err := engine.AverageArtists(context.Background(), "left", "missing", 10)
	if !errors.Is(err, corpus.ErrNotFound) {
		t.Errorf("AverageArtists error = %v, want ErrNotFound", err)
	}
}

func TestNeighborhoods(t *testing.T) {
	// Two clearly separated groups.
	store := newTestStore(t, 2, map[string]corpus.Vector{
		"a1": {0.1, 0.1},
		"a2": {0.15, 0.1},
		"b1": {0.9, 0.9},
		"b2": {0.85, 0.95},
	})
	engine := NewEngine(store)

	neighborhoods, err := engine.Neighborhoods(context.Background(), 2)
	if err != nil {
		t.Fatalf("Neighborhoods: %v", err)
	}
	if len(neighborhoods) != 2 {
		t.Fatalf("got %d neighborhoods, want 2", len(neighborhoods))
	}

	seen := make(map[string]int)
	for _, n := range neighborhoods {
		if len(n.Centroid) != 2 {
			t.Errorf("centroid has %d dims, want 2", len(n.Centroid))
		}
		for i := 1; i < len(n.Members); i++ {
			if n.Members[i-1] >= n.Members[i] {
				t.Errorf("members not sorted: %v", n.Members)
			}
		}
		for _, id := range n.Members {
			seen[id]++
		}
	}
	for _, id := range []string{"a1", "a2", "b1", "b2"} {
		if seen[id] != 1 {
			t.Errorf("artist %s assigned to %d neighborhoods, want 1", id, seen[id])
		}
	}
}

func TestNeighborhoodsEmptyCorpus(t *testing.T) {
	engine := NewEngine(corpus.NewStore(2))
	if _, err := engine.Neighborhoods(context.Background(), 2); !errors.Is(err, ErrEmptyCorpus) {
		t.Errorf("Neighborhoods error = %v, want ErrEmptyCorpus", err)
	}
}

func TestNeighborhoodsInvalidCount(t *testing.T) {
	engine := NewEngine(corpus.NewStore(2))
	if _, err := engine.Neighborhoods(context.Background(), 0); err == nil {
		t.Error("Neighborhoods(k=0) succeeded, want error")
	}
}

func TestNearestToLargeCorpus(t *testing.T) {
	// Exercise the periodic context polling path with a scan long enough to
	// cross several strides.
	vectors := make(map[string]corpus.Vector, 1000)
	for i := 0; i < 1000; i++ {
		vectors[fmt.Sprintf("artist-%04d", i)] = corpus.Vector{float64(i%17 + 1), float64(i%5 + 1)}
	}
	store := newTestStore(t, 2, vectors)
	engine := NewEngine(store)

	matches, err := engine.NearestTo(context.Background(), corpus.Vector{1, 1}, nil, 5)
	if err != nil {
		t.Fatalf("NearestTo: %v", err)
	}
	if len(matches) != 5 {
		t.Fatalf("got %d matches, want 5", len(matches))
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Similarity > matches[i-1].Similarity {
			t.Errorf("matches out of order at %d: %v > %v", i, matches[i].Similarity, matches[i-1].Similarity)
		}
	}
}
