package repository

import (
	"context"
	"time"

	"quiz-subscription-engine/internal/domain/model"
)

type ProviderEventRepository interface {
	// RecordIfNew stores the event keyed by (provider, event id) and reports
	// whether the caller should process it. A row that previously failed, or
	// one stuck in received for longer than reclaimAfter, is handed out again.
	RecordIfNew(ctx context.Context, qx any, e *model.ProviderEvent, reclaimAfter time.Duration) (bool, error)
	Mark(ctx context.Context, qx any, provider, eventID string, status model.EventStatus, accountID *string, note string) error
	List(ctx context.Context, qx any, provider string, status model.EventStatus, limit int) ([]*model.ProviderEvent, error)
}
