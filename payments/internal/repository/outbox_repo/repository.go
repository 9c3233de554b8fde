package outbox_repo

import (
	"context"
	"time"

	"policypay/payments/internal/domain"
)

type OutboxRepository interface {
	CreateMessageTx(ctx context.Context, querier domain.Querier, msg *domain.OutboxMessage) error
	GetPendingMessages(ctx context.Context, querier domain.Querier, limit int) ([]domain.OutboxMessage, error)
	// MarkProcessed claims the message by id. It reports false when another
	// relay already marked it.
	MarkProcessed(ctx context.Context, querier domain.Querier, id string, at time.Time) (bool, error)
	DeleteProcessedBefore(ctx context.Context, querier domain.Querier, before time.Time) (int64, error)
}
