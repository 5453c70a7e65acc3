package similarity

import (
	"context"
	"fmt"
	"slices"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"

	"github.com/metaversi-world/spotifytrack/internal/corpus"
)

// Neighborhood is one region of the artist feature space: the cluster
// centroid plus the external ids of its member artists.
type Neighborhood struct {
	Centroid corpus.Vector
	Members  []string
}

// artistObservation wraps a corpus entry to implement clusters.Observation.
type artistObservation struct {
	spotifyID string
	coords    clusters.Coordinates
}

func (o artistObservation) Coordinates() clusters.Coordinates {
	return o.coords
}

func (o artistObservation) Distance(point clusters.Coordinates) float64 {
	return o.coords.Distance(point)
}

// Neighborhoods partitions the corpus into at most k clusters using k-means
// over the raw feature vectors. Cluster assignment is not deterministic
// (k-means seeds randomly); member lists within each cluster are sorted by
// external id. Returns ErrEmptyCorpus when the corpus holds no vectors.
func (e *Engine) Neighborhoods(ctx context.Context, k int) ([]Neighborhood, error) {
	if k <= 0 {
		return nil, fmt.Errorf("invalid cluster count %d", k)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := e.src.All()
	if len(entries) == 0 {
		return nil, ErrEmptyCorpus
	}
	if k > len(entries) {
		k = len(entries)
	}

	var obs clusters.Observations
	for _, entry := range entries {
		coords := make(clusters.Coordinates, len(entry.Features))
		copy(coords, entry.Features)
		obs = append(obs, artistObservation{spotifyID: entry.SpotifyID, coords: coords})
	}

	km := kmeans.New()
	result, err := km.Partition(obs, k)
	if err != nil {
		return nil, fmt.Errorf("partitioning corpus: %w", err)
	}

	neighborhoods := make([]Neighborhood, 0, len(result))
	for _, cluster := range result {
		n := Neighborhood{Centroid: corpus.Vector(cluster.Center)}
		for _, o := range cluster.Observations {
			if ao, ok := o.(artistObservation); ok {
				n.Members = append(n.Members, ao.spotifyID)
			}
		}
		slices.Sort(n.Members)
		neighborhoods = append(neighborhoods, n)
	}
	return neighborhoods, nil
}
