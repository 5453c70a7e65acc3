package corpus

import (
	"fmt"
	"sync"
)

// Store is the in-memory feature vector store. It is safe for concurrent
// use by many ingestion jobs and read requests; per-key upserts are atomic.
// Callers never see the internal map: Get returns a copy and All returns a
// point-in-time snapshot.
type Store struct {
	dim int

	mu       sync.RWMutex
	profiles map[string]*ArtistProfile
}

// NewStore creates an empty store with the given corpus-wide vector
// dimension.
func NewStore(dim int) *Store {
	return &Store{
		dim:      dim,
		profiles: make(map[string]*ArtistProfile),
	}
}

// Dimension returns the corpus-wide vector dimension.
func (s *Store) Dimension() int {
	return s.dim
}

// Len returns the number of profiles currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// Get retrieves an artist profile by external id.
// Returns ErrNotFound if the artist has never been ingested.
func (s *Store) Get(spotifyID string) (*ArtistProfile, error) {
	s.mu.RLock()
	p, ok := s.profiles[spotifyID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("artist %q: %w", spotifyID, ErrNotFound)
	}
	return p.Clone(), nil
}

// Upsert replaces the stats and feature vector for an artist.
// Returns ErrDimensionMismatch if the vector's dimensionality differs from
// the corpus-wide dimension.
func (s *Store) Upsert(p *ArtistProfile) error {
	if len(p.Features) != s.dim {
		return fmt.Errorf("artist %q has %d features, corpus dimension is %d: %w",
			p.SpotifyID, len(p.Features), s.dim, ErrDimensionMismatch)
	}

	clone := p.Clone()
	s.mu.Lock()
	s.profiles[p.SpotifyID] = clone
	s.mu.Unlock()
	return nil
}

// All returns a snapshot of (external id, vector) pairs over the full
// corpus. The snapshot is consistent as of the call: upserts that land
// afterwards do not appear in it. Vectors are shared with the store but
// never mutated in place (upserts replace whole profiles), so the snapshot
// is safe to read without further locking.
func (s *Store) All() []VectorEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]VectorEntry, 0, len(s.profiles))
	for id, p := range s.profiles {
		entries = append(entries, VectorEntry{SpotifyID: id, Features: p.Features})
	}
	return entries
}
