package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"quiz-subscription-engine/internal/domain/model"
	red "quiz-subscription-engine/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerAccountRepo mocks the database repository that the account decorator wraps.
type mockInnerAccountRepo struct {
	SaveFunc              func(ctx context.Context, qx any, a *model.Account) error
	FindByIDFunc          func(ctx context.Context, qx any, id string) (*model.Account, error)
	FindByEmailFunc       func(ctx context.Context, qx any, email string) (*model.Account, error)
	FindByCustomerRefFunc func(ctx context.Context, qx any, customerRef string) (*model.Account, error)
	SetCustomerRefFunc    func(ctx context.Context, qx any, id, customerRef string) error
}

func (m *mockInnerAccountRepo) Save(ctx context.Context, qx any, a *model.Account) error {
	return m.SaveFunc(ctx, qx, a)
}
func (m *mockInnerAccountRepo) FindByID(ctx context.Context, qx any, id string) (*model.Account, error) {
	return m.FindByIDFunc(ctx, qx, id)
}
func (m *mockInnerAccountRepo) FindByEmail(ctx context.Context, qx any, email string) (*model.Account, error) {
	return m.FindByEmailFunc(ctx, qx, email)
}
func (m *mockInnerAccountRepo) FindByCustomerRef(ctx context.Context, qx any, customerRef string) (*model.Account, error) {
	return m.FindByCustomerRefFunc(ctx, qx, customerRef)
}
func (m *mockInnerAccountRepo) SetCustomerRef(ctx context.Context, qx any, id, customerRef string) error {
	return m.SetCustomerRefFunc(ctx, qx, id, customerRef)
}

// mockRedisClient mocks our Redis client wrapper. Nil funcs behave like an empty cache.
type mockRedisClient struct {
	GetFunc func(ctx context.Context, key string) (string, error)
	SetFunc func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc func(ctx context.Context, keys ...string) error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc == nil {
		return "", redis.Nil
	}
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc == nil {
		return nil
	}
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return true, nil
}
func (m *mockRedisClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return nil, nil
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return nil }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return 1, nil
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}
func (m *mockRedisClient) Close() error { return nil }

func newAccount(t *testing.T, email string) *model.Account {
	t.Helper()
	a, err := model.NewAccount("", email, "Quiz Taker")
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	return a
}
