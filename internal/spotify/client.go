// Package spotify wraps the Spotify Web API for the ingestion pipeline:
// per-user top lists, artist stats, and the audio features the corpus
// vectors are built from. Requests are rate limited and retried with
// backoff.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/metaversi-world/spotifytrack/internal/corpus"
	"github.com/metaversi-world/spotifytrack/internal/stats"
)

// Common errors.
var (
	// ErrRateLimited is returned when the upstream keeps responding 429
	// after all retry attempts.
	ErrRateLimited = errors.New("spotify rate limited")

	// ErrUnauthorized is returned when the upstream rejects the user's
	// credentials. The caller refreshes the token pair and retries once.
	ErrUnauthorized = errors.New("spotify unauthorized")
)

const (
	// topListLimit matches the upstream maximum page size for top lists.
	topListLimit = 50

	maxAttempts = 4
	retryDelay  = 500 * time.Millisecond
)

// Client wraps the Spotify API client with rate limiting and retries.
type Client struct {
	api     *spotify.Client
	limiter *rate.Limiter
}

// New creates a client wrapper. The underlying client should already be
// authenticated. A nil limiter disables local rate limiting.
func New(api *spotify.Client, limiter *rate.Limiter) *Client {
	return &Client{api: api, limiter: limiter}
}

// NewForUser creates a client bound to one user's credential pair. The
// oauth2 transport refreshes the access token transparently; the refreshed
// pair can be read back with Token.
func NewForUser(ctx context.Context, auth *spotifyauth.Authenticator, token *oauth2.Token, limiter *rate.Limiter) *Client {
	return New(spotify.New(auth.Client(ctx, token)), limiter)
}

// Token returns the current (possibly refreshed) credential pair.
func (c *Client) Token() (*oauth2.Token, error) {
	token, err := c.api.Token()
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}
	return token, nil
}

// UserID returns the current user's Spotify id and display name.
func (c *Client) UserID(ctx context.Context) (id, displayName string, err error) {
	err = c.do(ctx, "getting current user", func() error {
		user, err := c.api.CurrentUser(ctx)
		if err != nil {
			return err
		}
		id, displayName = user.ID, user.DisplayName
		return nil
	})
	return id, displayName, err
}

// TopArtists fetches the user's current top artists for one timeframe,
// in rank order.
func (c *Client) TopArtists(ctx context.Context, tf stats.Timeframe) ([]Artist, error) {
	var page *spotify.FullArtistPage
	err := c.do(ctx, fmt.Sprintf("fetching top artists (%s)", tf), func() error {
		var err error
		page, err = c.api.CurrentUsersTopArtists(ctx, spotify.Timerange(timerange(tf)), spotify.Limit(topListLimit))
		return err
	})
	if err != nil {
		return nil, err
	}

	artists := make([]Artist, 0, len(page.Artists))
	for _, a := range page.Artists {
		artists = append(artists, fullArtistToArtist(a))
	}
	return artists, nil
}

// TopTracks fetches the user's current top tracks for one timeframe,
// in rank order.
func (c *Client) TopTracks(ctx context.Context, tf stats.Timeframe) ([]Track, error) {
	var page *spotify.FullTrackPage
	err := c.do(ctx, fmt.Sprintf("fetching top tracks (%s)", tf), func() error {
		var err error
		page, err = c.api.CurrentUsersTopTracks(ctx, spotify.Timerange(timerange(tf)), spotify.Limit(topListLimit))
		return err
	})
	if err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(page.Tracks))
	for _, t := range page.Tracks {
		tracks = append(tracks, fullTrackToTrack(t))
	}
	return tracks, nil
}

// ArtistProfile fetches an artist's stats, representative top tracks, and
// audio features, and assembles the corpus profile. The feature vector is
// the mean of the audio features over the artist's top tracks.
func (c *Client) ArtistProfile(ctx context.Context, spotifyID string) (*corpus.ArtistProfile, error) {
	var artist *spotify.FullArtist
	err := c.do(ctx, fmt.Sprintf("fetching artist %s", spotifyID), func() error {
		var err error
		artist, err = c.api.GetArtist(ctx, spotify.ID(spotifyID))
		return err
	})
	if err != nil {
		return nil, err
	}

	var topTracks []spotify.FullTrack
	err = c.do(ctx, fmt.Sprintf("fetching top tracks of artist %s", spotifyID), func() error {
		var err error
		topTracks, err = c.api.GetArtistsTopTracks(ctx, spotify.ID(spotifyID), "US")
		return err
	})
	if err != nil {
		return nil, err
	}

	var features []*spotify.AudioFeatures
	if len(topTracks) > 0 {
		ids := make([]spotify.ID, len(topTracks))
		for i, t := range topTracks {
			ids[i] = t.ID
		}
		err = c.do(ctx, fmt.Sprintf("fetching audio features for artist %s", spotifyID), func() error {
			var err error
			features, err = c.api.GetAudioFeatures(ctx, ids...)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	a := fullArtistToArtist(*artist)
	profile := &corpus.ArtistProfile{
		SpotifyID:  a.SpotifyID,
		Name:       a.Name,
		Genres:     a.Genres,
		ImageURL:   a.ImageURL,
		URI:        a.URI,
		Followers:  a.Followers,
		Popularity: a.Popularity,
		Features:   featureVector(features),
		UpdatedAt:  time.Now().UTC(),
	}
	for _, t := range topTracks {
		track := fullTrackToTrack(t)
		profile.TopTracks = append(profile.TopTracks, corpus.TopTrack{
			SpotifyID:  track.SpotifyID,
			Title:      track.Title,
			Artists:    track.Artists,
			Album:      track.Album,
			PreviewURL: track.PreviewURL,
			ImageURL:   track.ImageURL,
		})
	}
	return profile, nil
}

// do runs one upstream call through the rate limiter and retry policy.
func (c *Client) do(ctx context.Context, op string, fn func() error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: waiting for rate limiter: %w", op, err)
		}
	}

	err := retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return retry.Unrecoverable(err)
			}
			return fn()
		},
		retry.Attempts(maxAttempts),
		retry.Delay(retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	return nil
}

// isRetryable retries rate limits and upstream 5xx responses; auth errors
// go back to the caller for a credential refresh instead.
func isRetryable(err error) bool {
	var spotifyErr spotify.Error
	if errors.As(err, &spotifyErr) {
		return spotifyErr.Status == http.StatusTooManyRequests || spotifyErr.Status/100 == 5
	}
	return false
}

// classify maps upstream status codes onto the package sentinels so callers
// can branch with errors.Is.
func classify(err error) error {
	var spotifyErr spotify.Error
	if errors.As(err, &spotifyErr) {
		switch spotifyErr.Status {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, spotifyErr.Message)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrUnauthorized, spotifyErr.Message)
		}
	}
	return err
}

func timerange(tf stats.Timeframe) spotify.Range {
	switch tf {
	case stats.TimeframeShort:
		return spotify.ShortTermRange
	case stats.TimeframeMedium:
		return spotify.MediumTermRange
	default:
		return spotify.LongTermRange
	}
}

func fullArtistToArtist(a spotify.FullArtist) Artist {
	return Artist{
		SpotifyID:  a.ID.String(),
		Name:       a.Name,
		Genres:     strings.Join(a.Genres, ","),
		ImageURL:   firstImageURL(a.Images),
		URI:        string(a.URI),
		Followers:  int64(a.Followers.Count),
		Popularity: int(a.Popularity),
	}
}

func fullTrackToTrack(t spotify.FullTrack) Track {
	names := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		names[i] = a.Name
	}
	return Track{
		SpotifyID:  t.ID.String(),
		Title:      t.Name,
		Artists:    strings.Join(names, ", "),
		Album:      t.Album.Name,
		PreviewURL: t.PreviewURL,
		ImageURL:   firstImageURL(t.Album.Images),
		Popularity: int(t.Popularity),
	}
}

func firstImageURL(images []spotify.Image) string {
	if len(images) == 0 {
		return ""
	}
	return images[0].URL
}
