// Package similarity implements the artist-averaging engine: midpoint
// computation over feature vectors, normalized similarity scoring, and
// nearest-neighbor ranking against the full corpus.
package similarity

import (
	"fmt"
	"math"

	"github.com/metaversi-world/spotifytrack/internal/corpus"
)

// Midpoint returns the pointwise average of two vectors.
// Returns corpus.ErrDimensionMismatch if the dimensionalities differ.
func Midpoint(a, b corpus.Vector) (corpus.Vector, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("midpoint of %d-dim and %d-dim vectors: %w",
			len(a), len(b), corpus.ErrDimensionMismatch)
	}

	mid := make(corpus.Vector, len(a))
	for i := range a {
		mid[i] = (a[i] + b[i]) / 2
	}
	return mid, nil
}

// Distance returns the cosine distance between two vectors, in [0, 2].
// A zero-norm vector is at distance 0 from another zero-norm vector and at
// distance 1 from everything else (no angle is defined, so it is treated as
// orthogonal). Returns corpus.ErrDimensionMismatch if the dimensionalities
// differ.
func Distance(a, b corpus.Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("distance between %d-dim and %d-dim vectors: %w",
			len(a), len(b), corpus.ErrDimensionMismatch)
	}

	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}

	if na == 0 && nb == 0 {
		return 0, nil
	}
	if na == 0 || nb == 0 {
		return 1, nil
	}

	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Clamp against floating point drift so the distance stays in [0, 2].
	cos = math.Max(-1, math.Min(1, cos))
	return 1 - cos, nil
}

// Similarity returns the normalized similarity between two vectors as a
// scalar in [0, 1]. The scale is fixed corpus-wide: 1 − d/2 where d is the
// cosine distance in [0, 2], so scores are comparable run-to-run. Identical
// vectors score 1; diametrically opposed vectors score 0.
func Similarity(a, b corpus.Vector) (float64, error) {
	d, err := Distance(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - d/2, nil
}
