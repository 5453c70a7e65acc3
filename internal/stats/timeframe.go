// Package stats defines the shared shapes for per-user listening statistics:
// the rolling timeframes the upstream service aggregates over and the ranked
// lists a snapshot is made of.
package stats

import "fmt"

// Timeframe is one of the rolling windows the upstream service computes a
// listener's top items over.
type Timeframe string

const (
	TimeframeShort  Timeframe = "short"
	TimeframeMedium Timeframe = "medium"
	TimeframeLong   Timeframe = "long"
)

// Timeframes lists all timeframes in storage order (matching their IDs).
var Timeframes = []Timeframe{TimeframeShort, TimeframeMedium, TimeframeLong}

// ParseTimeframe converts a string into a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(s) {
	case TimeframeShort, TimeframeMedium, TimeframeLong:
		return Timeframe(s), nil
	}
	return "", fmt.Errorf("invalid timeframe %q", s)
}

// ID returns the compact identifier stored in the history tables.
func (t Timeframe) ID() int16 {
	switch t {
	case TimeframeShort:
		return 0
	case TimeframeMedium:
		return 1
	case TimeframeLong:
		return 2
	}
	return -1
}

// TimeframeFromID is the inverse of ID.
func TimeframeFromID(id int16) (Timeframe, error) {
	switch id {
	case 0:
		return TimeframeShort, nil
	case 1:
		return TimeframeMedium, nil
	case 2:
		return TimeframeLong, nil
	}
	return "", fmt.Errorf("invalid timeframe id %d", id)
}

// RankedEntry is one item of a snapshot's ranked list. Rank positions start
// at 1 and are contiguous within a batch.
type RankedEntry struct {
	SpotifyID string
	Rank      int
}
