package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/repository"
	"quiz-subscription-engine/internal/infra/metrics"
	red "quiz-subscription-engine/internal/infra/redis"
)

var _ repository.AccountRepository = (*accountRepoCacheDecorator)(nil)

// accountRepoCacheDecorator caches non-transactional account reads in Redis.
// Reads inside a transaction always go to the database so row locks still apply.
type accountRepoCacheDecorator struct {
	inner  repository.AccountRepository
	cache  red.RedisClient
	ttl    time.Duration
	logger zerolog.Logger
}

func NewAccountRepoCacheDecorator(inner repository.AccountRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.AccountRepository {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &accountRepoCacheDecorator{
		inner:  inner,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With().Str("component", "account_cache").Logger(),
	}
}

func accountIDKey(id string) string       { return fmt.Sprintf("account:id:%s", id) }
func accountEmailKey(email string) string { return fmt.Sprintf("account:email:%s", model.NormalizeEmail(email)) }

func (d *accountRepoCacheDecorator) invalidate(ctx context.Context, a *model.Account) {
	keys := []string{accountIDKey(a.ID)}
	if a.Email != "" {
		keys = append(keys, accountEmailKey(a.Email))
	}
	if err := d.cache.Del(ctx, keys...); err != nil {
		d.logger.Warn().Err(err).Str("account_id", a.ID).Msg("cache invalidation failed")
	}
}

func (d *accountRepoCacheDecorator) Save(ctx context.Context, qx any, a *model.Account) error {
	d.invalidate(ctx, a)
	return d.inner.Save(ctx, qx, a)
}

func (d *accountRepoCacheDecorator) SetCustomerRef(ctx context.Context, qx any, id, customerRef string) error {
	if err := d.inner.SetCustomerRef(ctx, qx, id, customerRef); err != nil {
		return err
	}
	if a, err := d.inner.FindByID(ctx, qx, id); err == nil {
		d.invalidate(ctx, a)
		return nil
	}
	_ = d.cache.Del(ctx, accountIDKey(id))
	return nil
}

func (d *accountRepoCacheDecorator) FindByID(ctx context.Context, qx any, id string) (*model.Account, error) {
	if inTx(qx) {
		metrics.IncCacheRequest("account", "bypass")
		return d.inner.FindByID(ctx, qx, id)
	}
	return d.cached(ctx, accountIDKey(id), func() (*model.Account, error) {
		return d.inner.FindByID(ctx, qx, id)
	})
}

func (d *accountRepoCacheDecorator) FindByEmail(ctx context.Context, qx any, email string) (*model.Account, error) {
	if inTx(qx) {
		metrics.IncCacheRequest("account", "bypass")
		return d.inner.FindByEmail(ctx, qx, email)
	}
	return d.cached(ctx, accountEmailKey(email), func() (*model.Account, error) {
		return d.inner.FindByEmail(ctx, qx, email)
	})
}

// Pass-through; customer refs are only read by webhook resolution.
func (d *accountRepoCacheDecorator) FindByCustomerRef(ctx context.Context, qx any, customerRef string) (*model.Account, error) {
	return d.inner.FindByCustomerRef(ctx, qx, customerRef)
}

func (d *accountRepoCacheDecorator) cached(ctx context.Context, key string, load func() (*model.Account, error)) (*model.Account, error) {
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var a model.Account
		if json.Unmarshal([]byte(val), &a) == nil {
			metrics.IncCacheRequest("account", "hit")
			return &a, nil
		}
	} else if err != redis.Nil {
		d.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	metrics.IncCacheRequest("account", "miss")
	a, err := load()
	if err != nil {
		return nil, err
	}
	if b, mErr := json.Marshal(a); mErr == nil {
		_ = d.cache.Set(ctx, accountIDKey(a.ID), b, d.ttl)
		_ = d.cache.Set(ctx, accountEmailKey(a.Email), b, d.ttl)
	}
	return a, nil
}
