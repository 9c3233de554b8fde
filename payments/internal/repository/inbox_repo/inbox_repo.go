package inbox_repo

import (
	"context"
	"fmt"

	"policypay/payments/internal/domain"
)

type inboxRepository struct{}

func NewInboxRepository() *inboxRepository {
	return &inboxRepository{}
}

func (r *inboxRepository) RecordTx(ctx context.Context, querier domain.Querier, evt *domain.WebhookEvent) (bool, error) {
	query := `
		INSERT INTO webhook_inbox (id, provider, type, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, id) DO NOTHING
	`
	res, err := querier.ExecContext(ctx, query, evt.ID, int(evt.Provider), evt.Type, evt.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event %s: %w", evt.ID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for webhook event %s: %w", evt.ID, err)
	}
	return rowsAffected == 1, nil
}
