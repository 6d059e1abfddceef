//go:build !integration

package web

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/adapter"
	"quiz-subscription-engine/internal/infra/sched"
	"quiz-subscription-engine/internal/usecase"
)

// newTestLogger creates a silent logger for tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

type mockAdminUC struct {
	ChargeFunc     func(ctx context.Context, in usecase.AdminChargeInput) (*usecase.AdminChargeResult, error)
	RefundFunc     func(ctx context.Context, in usecase.AdminRefundInput) (adapter.RefundResult, error)
	CancelFunc     func(ctx context.Context, accountID string) (*model.SubscriptionRecord, error)
	GetAccountFunc func(ctx context.Context, accountID string) (*usecase.AccountView, error)
}

func (m *mockAdminUC) Charge(ctx context.Context, in usecase.AdminChargeInput) (*usecase.AdminChargeResult, error) {
	return m.ChargeFunc(ctx, in)
}
func (m *mockAdminUC) Refund(ctx context.Context, in usecase.AdminRefundInput) (adapter.RefundResult, error) {
	return m.RefundFunc(ctx, in)
}
func (m *mockAdminUC) Cancel(ctx context.Context, accountID string) (*model.SubscriptionRecord, error) {
	return m.CancelFunc(ctx, accountID)
}
func (m *mockAdminUC) GetAccount(ctx context.Context, accountID string) (*usecase.AccountView, error) {
	return m.GetAccountFunc(ctx, accountID)
}

type mockWebhookUC struct {
	usecase.WebhookUseCase
	ListEventsFunc func(ctx context.Context, provider string, status model.EventStatus, limit int) ([]*model.ProviderEvent, error)
}

func (m *mockWebhookUC) ListEvents(ctx context.Context, provider string, status model.EventStatus, limit int) ([]*model.ProviderEvent, error) {
	return m.ListEventsFunc(ctx, provider, status, limit)
}

type mockJobRunner struct {
	RunFunc func(ctx context.Context, name string) (*sched.Result, error)
}

func (m *mockJobRunner) Run(ctx context.Context, name string) (*sched.Result, error) {
	return m.RunFunc(ctx, name)
}
