package similarity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/metaversi-world/spotifytrack/internal/corpus"
)

// Common errors.
var (
	// ErrEmptyCorpus is returned when a search has no candidates left after
	// exclusion.
	ErrEmptyCorpus = errors.New("no candidates in corpus")
)

// ctxCheckStride controls how often a corpus scan polls its context. The
// scan is the only potentially long operation on the read path, so it has
// to stay cancellable to bound tail latency.
const ctxCheckStride = 256

// VectorSource is the slice of the feature vector store the engine needs:
// profile lookup plus a restartable snapshot scan of the full corpus.
type VectorSource interface {
	Get(spotifyID string) (*corpus.ArtistProfile, error)
	All() []corpus.VectorEntry
}

// Match pairs a candidate artist with its similarity to a search target.
type Match struct {
	SpotifyID  string
	Similarity float64
}

// Candidate is one ranked result of an average-artists search.
type Candidate struct {
	Artist               *corpus.ArtistProfile
	SimilarityToMidpoint float64
	SimilarityToArtist1  float64
	SimilarityToArtist2  float64
}

// AverageResult is the full response of an average-artists search.
// PairSimilarity and PairDistance summarize how close the two input artists
// are to each other, independent of how many candidates were requested.
type AverageResult struct {
	Artist1        *corpus.ArtistProfile
	Artist2        *corpus.ArtistProfile
	Candidates     []Candidate
	PairSimilarity float64
	PairDistance   float64
}

// Engine ranks corpus vectors against search targets. It is stateless apart
// from the vector source and safe for concurrent use.
type Engine struct {
	src VectorSource
}

// NewEngine creates an engine over the given vector source.
func NewEngine(src VectorSource) *Engine {
	return &Engine{src: src}
}

// NearestTo scans the full corpus and returns up to k artists ordered by
// descending similarity to target. Artists in exclude never appear in the
// result. Similarity ties are broken by external id ascending so results
// are deterministic. Returns ErrEmptyCorpus if no candidates remain after
// exclusion, or the context error if the scan is cancelled.
func (e *Engine) NearestTo(ctx context.Context, target corpus.Vector, exclude map[string]struct{}, k int) ([]Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("invalid result count %d", k)
	}

	entries := e.src.All()
	matches := make([]Match, 0, len(entries))

	for i, entry := range entries {
		if i%ctxCheckStride == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("corpus scan cancelled: %w", err)
			}
		}

		if _, skip := exclude[entry.SpotifyID]; skip {
			continue
		}

		sim, err := Similarity(target, entry.Features)
		if err != nil {
			return nil, fmt.Errorf("scoring artist %q: %w", entry.SpotifyID, err)
		}
		matches = append(matches, Match{SpotifyID: entry.SpotifyID, Similarity: sim})
	}

	if len(matches) == 0 {
		return nil, ErrEmptyCorpus
	}

	slices.SortFunc(matches, func(a, b Match) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return strings.Compare(a.SpotifyID, b.SpotifyID)
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// AverageArtists finds real artists whose feature profile lies near the
// midpoint of the two given artists, ranked by similarity to that midpoint.
// The two input artists are never part of the candidate list. The result is
// symmetric in id1 and id2 up to the swapped per-artist similarity fields.
func (e *Engine) AverageArtists(ctx context.Context, id1, id2 string, k int) (*AverageResult, error) {
	p1, err := e.src.Get(id1)
	if err != nil {
		return nil, err
	}
	p2, err := e.src.Get(id2)
	if err != nil {
		return nil, err
	}

	pairDist, err := Distance(p1.Features, p2.Features)
	if err != nil {
		return nil, fmt.Errorf("comparing input artists: %w", err)
	}

	mid, err := Midpoint(p1.Features, p2.Features)
	if err != nil {
		return nil, err
	}

	exclude := map[string]struct{}{id1: {}, id2: {}}
	matches, err := e.NearestTo(ctx, mid, exclude, k)
	if errors.Is(err, ErrEmptyCorpus) {
		// Nothing left after exclusion is an empty result, not a failure.
		matches = nil
	} else if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		artist, err := e.src.Get(m.SpotifyID)
		if err != nil {
			// The artist was scanned a moment ago; a miss here means it was
			// purged mid-request. Skip it rather than failing the search.
			continue
		}

		sim1, err := Similarity(artist.Features, p1.Features)
		if err != nil {
			return nil, fmt.Errorf("scoring candidate %q: %w", m.SpotifyID, err)
		}
		sim2, err := Similarity(artist.Features, p2.Features)
		if err != nil {
			return nil, fmt.Errorf("scoring candidate %q: %w", m.SpotifyID, err)
		}

		candidates = append(candidates, Candidate{
			Artist:               artist,
			SimilarityToMidpoint: m.Similarity,
			SimilarityToArtist1:  sim1,
			SimilarityToArtist2:  sim2,
		})
	}

	return &AverageResult{
		Artist1:        p1,
		Artist2:        p2,
		Candidates:     candidates,
		PairSimilarity: 1 - pairDist/2,
		PairDistance:   pairDist,
	}, nil
}
