package spotify

import (
	"github.com/zmb3/spotify/v2"

	"github.com/metaversi-world/spotifytrack/internal/corpus"
)

// maxTempo scales BPM into roughly the same [0, 1] range as the other
// audio features so no single dimension dominates the distance metric.
const maxTempo = 250.0

// featureVector averages the audio features of an artist's top tracks into
// the corpus feature vector. Tracks without audio features are skipped; an
// artist with no usable tracks gets the zero vector.
//
// Dimension order: danceability, energy, speechiness, acousticness,
// instrumentalness, liveness, valence, tempo/maxTempo.
func featureVector(features []*spotify.AudioFeatures) corpus.Vector {
	vec := make(corpus.Vector, corpus.DefaultDimension)

	var n float64
	for _, f := range features {
		if f == nil {
			continue
		}
		n++
		vec[0] += float64(f.Danceability)
		vec[1] += float64(f.Energy)
		vec[2] += float64(f.Speechiness)
		vec[3] += float64(f.Acousticness)
		vec[4] += float64(f.Instrumentalness)
		vec[5] += float64(f.Liveness)
		vec[6] += float64(f.Valence)
		vec[7] += float64(f.Tempo) / maxTempo
	}
	if n == 0 {
		return vec
	}

	for i := range vec {
		vec[i] /= n
	}
	return vec
}
