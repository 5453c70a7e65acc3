// Package corpus maintains the corpus of artist feature profiles that the
// similarity engine searches over. Profiles are shared corpus-wide state:
// they are mutated only by the ingestion pipeline and read concurrently by
// the request path.
package corpus

import (
	"errors"
	"time"
)

// DefaultDimension is the dimensionality of the audio-feature vectors the
// ingestion pipeline produces. Every vector in a corpus shares one
// dimension; a store may be configured differently, but writes must match
// it exactly.
const DefaultDimension = 8

// Common errors.
var (
	// ErrNotFound is returned when an artist has never been ingested.
	ErrNotFound = errors.New("artist not found in corpus")

	// ErrDimensionMismatch is returned when a vector's dimensionality does
	// not match the corpus-wide dimension. This is a corpus integrity
	// violation and is never silently coerced.
	ErrDimensionMismatch = errors.New("feature vector dimension mismatch")
)

// Vector is a fixed-dimension numeric profile of an artist's audio
// characteristics. All vectors in a corpus share the same dimensionality.
type Vector []float64

// Clone returns a copy of the vector.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// TopTrack is one of an artist's representative tracks, cached on the
// profile so that search results can be returned without upstream calls.
type TopTrack struct {
	SpotifyID  string `json:"spotify_id"`
	Title      string `json:"title"`
	Artists    string `json:"artists"`
	Album      string `json:"album"`
	PreviewURL string `json:"preview_url"`
	ImageURL   string `json:"image_url"`
}

// ArtistProfile is an artist's current stats plus its feature vector.
type ArtistProfile struct {
	SpotifyID  string
	Name       string
	Genres     string // comma-separated, as the upstream reports them
	ImageURL   string
	URI        string
	Followers  int64
	Popularity int
	Features   Vector
	TopTracks  []TopTrack
	UpdatedAt  time.Time
}

// Clone returns a deep copy of the profile.
func (p *ArtistProfile) Clone() *ArtistProfile {
	out := *p
	out.Features = p.Features.Clone()
	if p.TopTracks != nil {
		out.TopTracks = make([]TopTrack, len(p.TopTracks))
		copy(out.TopTracks, p.TopTracks)
	}
	return &out
}

// VectorEntry pairs an artist's external id with its feature vector, as
// produced by a corpus scan.
type VectorEntry struct {
	SpotifyID string
	Features  Vector
}
