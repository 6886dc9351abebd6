package server

import (
	"context"
	"fmt"

	"LnSPoll/cache"
	"LnSPoll/config"
	"LnSPoll/core/auth"
	"LnSPoll/core/catalogue"
	"LnSPoll/core/questions"
	"LnSPoll/core/survey"
	"LnSPoll/db"
	"LnSPoll/logger"
	"LnSPoll/model"
	"LnSPoll/storage"
)

// App holds every long-lived component of a running server.
type App struct {
	Catalogue catalogue.Provider
	Audio     AudioSource
	Questions *questions.Catalogue
	Sessions  cache.SessionStore
	Store     storage.Store
	Survey    *survey.Service
	Auth      *auth.Authenticator
	Feed      *FeedHub

	closers []func() error
}

// OpenCatalogue returns the catalogue provider and matching audio source for
// the configured AUDIO_SOURCE.
func OpenCatalogue(ctx context.Context, cfg *config.Config) (catalogue.Provider, AudioSource, error) {
	switch cfg.AudioSource {
	case "minio":
		client, err := storage.NewMinioClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		p := catalogue.NewMinioProvider(client, cfg.MinioBucket, cfg.AudioPrefix)
		return p, NewMinioAudio(p), nil
	case "fs", "":
		p := catalogue.NewFSProvider(cfg.AudioDir)
		return p, NewFSAudio(p), nil
	default:
		return nil, nil, fmt.Errorf("unknown audio source %q", cfg.AudioSource)
	}
}

// OpenSessions returns the configured session store.
func OpenSessions(ctx context.Context, cfg *config.Config) (cache.SessionStore, func() error, error) {
	switch cfg.SessionBackend {
	case "redis":
		if err := db.ConnectRedis(ctx, cfg); err != nil {
			return nil, nil, err
		}
		logger.Info("[Session] using Redis", logger.String("addr", cfg.RedisAddr()))
		return cache.NewRedisSessionStore(db.RedisClient, cfg.SessionTTL), db.CloseRedis, nil
	case "memory", "":
		logger.Info("[Session] using in-process store")
		return cache.NewMemorySessionStore(cfg.SessionTTL), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}

// NewApp connects every backend named by cfg.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Feed: NewFeedHub()}

	var err error
	if app.Catalogue, app.Audio, err = OpenCatalogue(ctx, cfg); err != nil {
		return nil, fmt.Errorf("open audio catalogue: %w", err)
	}

	app.Questions = questions.Default()
	if cfg.QuestionsFile != "" {
		if app.Questions, err = questions.Load(cfg.QuestionsFile); err != nil {
			return nil, err
		}
		logger.Info("[Questions] loaded catalogue", logger.String("file", cfg.QuestionsFile))
	}

	sessions, closeSessions, err := OpenSessions(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	app.Sessions = sessions
	app.closers = append(app.closers, closeSessions)

	if app.Store, err = storage.Open(ctx, cfg); err != nil {
		app.Close()
		return nil, fmt.Errorf("open response store: %w", err)
	}
	app.closers = append(app.closers, app.Store.Close)

	app.Auth = auth.NewAuthenticator(cfg.JWTSecret, cfg.AdminPasswordHash, cfg.AdminPassword, cfg.TokenTTL)
	app.Survey = survey.NewService(survey.Options{
		Catalogue:     app.Catalogue,
		Questions:     app.Questions,
		Sessions:      app.Sessions,
		Store:         app.Store,
		GeneralQuota:  cfg.GeneralQuota,
		LanguageQuota: cfg.LanguageQuota,
		OnSaved:       app.publishSaved,
	})
	return app, nil
}

func (a *App) publishSaved(r *model.Response) {
	a.Feed.Publish(EventResponseSaved, map[string]interface{}{
		"participantId": r.ParticipantID,
		"submittedAt":   r.SubmittedAt,
		"motherTongue":  r.Intake.MotherTongue,
		"clips":         len(r.Clips),
	})
}

// Handler builds the HTTP handler for the app.
func (a *App) Handler() *APIHandler {
	return NewAPIHandler(Deps{
		Survey:    a.Survey,
		Store:     a.Store,
		Sessions:  a.Sessions,
		Catalogue: a.Catalogue,
		Audio:     a.Audio,
		Auth:      a.Auth,
		Feed:      a.Feed,
	})
}

// Close releases backends in reverse order of opening.
func (a *App) Close() error {
	a.Feed.Stop()
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
