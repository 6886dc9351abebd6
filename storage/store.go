// Package storage persists completed survey responses. Exactly one backend is
// active per process; there is no fallback between backends.
package storage

import (
	"context"
	"errors"
	"fmt"

	"LnSPoll/config"
	"LnSPoll/logger"
	"LnSPoll/model"
)

// ErrUnknownBackend is returned by Open for an unrecognised STORE_BACKEND.
var ErrUnknownBackend = errors.New("unknown storage backend")

// Store is a response persistence backend. Implementations are safe for concurrent use.
type Store interface {
	Save(ctx context.Context, resp *model.Response) error
	// LoadAll returns every stored response, oldest first.
	LoadAll(ctx context.Context) ([]*model.Response, error)
	Count(ctx context.Context) (int, error)
	DeleteAll(ctx context.Context) error
	Name() string
	Close() error
}

// Open builds the configured backend, wrapped in the retry policy when
// STORE_RETRY_ATTEMPTS is above one.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.StoreBackend {
	case "file":
		s, err = NewFileStore(cfg.ResponseFile)
	case "sql":
		s, err = OpenSQLStore(ctx, cfg)
	case "sheets":
		s, err = NewSheetsStore(ctx, cfg.SheetsCredFile, cfg.SpreadsheetID, cfg.SheetName)
	case "firestore":
		s, err = NewFirestoreStore(ctx, cfg.FirestoreProj, cfg.FirestoreColl, cfg.FirestoreCred)
	case "minio":
		s, err = OpenObjectStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.StoreBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}

	logger.Info("[Store] response store ready",
		logger.String("backend", s.Name()),
		logger.Int("retryAttempts", cfg.StoreRetries))

	if cfg.StoreRetries > 1 {
		return WithRetry(s, RetryPolicy{MaxTries: uint(cfg.StoreRetries)}), nil
	}
	return s, nil
}
