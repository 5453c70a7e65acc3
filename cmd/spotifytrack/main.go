// Command spotifytrack runs the listening-history service: the periodic
// snapshot scheduler and the HTTP API for stats and artist similarity.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/metaversi-world/spotifytrack/internal/config"
	"github.com/metaversi-world/spotifytrack/internal/corpus"
	"github.com/metaversi-world/spotifytrack/internal/db"
	"github.com/metaversi-world/spotifytrack/internal/ingest"
	"github.com/metaversi-world/spotifytrack/internal/similarity"
	"github.com/metaversi-world/spotifytrack/internal/spotify"
	"github.com/metaversi-world/spotifytrack/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "spotifytrack: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	store := corpus.NewStore(cfg.Corpus.Dimension)
	artists := database.Artists(cfg.Corpus.Dimension)
	if err := warmCorpus(ctx, store, artists); err != nil {
		return fmt.Errorf("warming corpus: %w", err)
	}
	log.Info().Int("artists", store.Len()).Int("dimension", store.Dimension()).Msg("corpus loaded")

	engine := similarity.NewEngine(store)

	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.Spotify.ClientID),
		spotifyauth.WithClientSecret(cfg.Spotify.ClientSecret),
	)
	limiter := rate.NewLimiter(rate.Limit(cfg.Spotify.RatePerSecond), cfg.Spotify.RateBurst)

	scheduler := ingest.New(
		ingest.Config{
			Interval:        cfg.Ingest.Interval,
			PoolSize:        cfg.Ingest.PoolSize,
			Cooldown:        cfg.Ingest.Cooldown,
			ProfileTTL:      cfg.Ingest.ProfileTTL,
			MaxAuthFailures: cfg.Ingest.MaxAuthFailures,
		},
		ingest.Deps{
			Users:      database.Users(),
			History:    database.History(),
			Identity:   database.Identity(),
			Profiles:   store,
			Artists:    artists,
			Tracks:     database.Tracks(),
			TrackStats: database.TrackStats(),
			Clients:    clientFactory(auth, limiter),
			Logger:     log,
		},
	)
	go func() {
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	handlers := web.NewHandlers(
		database.Users(),
		database.History(),
		database.Tracks(),
		store,
		engine,
		cfg.Server.SearchTimeout,
		log,
	)
	server := web.NewServer(web.ServerConfig{Addr: cfg.Server.Addr}, handlers, log)
	return server.Run()
}

// warmCorpus loads every stored artist profile into the in-memory store.
func warmCorpus(ctx context.Context, store *corpus.Store, artists *db.ArtistRepository) error {
	return artists.LoadAll(ctx, func(p *corpus.ArtistProfile) error {
		return store.Upsert(p)
	})
}

// clientFactory binds an upstream client to one user's credential pair.
func clientFactory(auth *spotifyauth.Authenticator, limiter *rate.Limiter) ingest.ClientFactory {
	return func(ctx context.Context, user db.User) (ingest.Upstream, error) {
		token := &oauth2.Token{
			AccessToken:  user.Token,
			RefreshToken: user.RefreshToken,
			Expiry:       user.TokenExpiry,
			TokenType:    "Bearer",
		}
		return spotify.NewForUser(ctx, auth, token, limiter), nil
	}
}

func newLogger(cfg config.LoggingConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	logger := zerolog.New(os.Stderr)
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return logger.Level(level).With().Timestamp().Logger(), nil
}
