package storage

import (
	"context"
	"time"

	"LnSPoll/logger"
	"LnSPoll/model"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how long a failing backend call is retried.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxTries == 0 {
		p.MaxTries = 3
	}
	if p.InitialInterval == 0 {
		p.InitialInterval = 200 * time.Millisecond
	}
	if p.MaxInterval == 0 {
		p.MaxInterval = 2 * time.Second
	}
	if p.MaxElapsed == 0 {
		p.MaxElapsed = 10 * time.Second
	}
	return p
}

// retryStore retries each call of the wrapped backend with exponential backoff.
// It never switches to another backend; the last error is returned.
type retryStore struct {
	inner  Store
	policy RetryPolicy
}

// WithRetry wraps s with the given policy.
func WithRetry(s Store, p RetryPolicy) Store {
	return &retryStore{inner: s, policy: p.withDefaults()}
}

func (r *retryStore) Name() string { return r.inner.Name() }

func (r *retryStore) Close() error { return r.inner.Close() }

func retry[T any](ctx context.Context, r *retryStore, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = r.policy.MaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && ctx.Err() != nil {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.policy.MaxTries),
		backoff.WithMaxElapsedTime(r.policy.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("[Store] call failed, retrying",
				logger.String("backend", r.inner.Name()),
				logger.String("op", op),
				logger.Duration("backoff", next),
				logger.ErrorField(err))
		}),
	)
}

func (r *retryStore) Save(ctx context.Context, resp *model.Response) error {
	_, err := retry(ctx, r, "save", func() (struct{}, error) {
		return struct{}{}, r.inner.Save(ctx, resp)
	})
	return err
}

func (r *retryStore) LoadAll(ctx context.Context) ([]*model.Response, error) {
	return retry(ctx, r, "load", func() ([]*model.Response, error) {
		return r.inner.LoadAll(ctx)
	})
}

func (r *retryStore) Count(ctx context.Context) (int, error) {
	return retry(ctx, r, "count", func() (int, error) {
		return r.inner.Count(ctx)
	})
}

func (r *retryStore) DeleteAll(ctx context.Context) error {
	_, err := retry(ctx, r, "delete", func() (struct{}, error) {
		return struct{}{}, r.inner.DeleteAll(ctx)
	})
	return err
}
