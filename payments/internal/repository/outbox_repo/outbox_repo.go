package outbox_repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"policypay/payments/internal/domain"
)

type outboxRepository struct{}

func NewOutboxRepository() *outboxRepository {
	return &outboxRepository{}
}

func (r *outboxRepository) CreateMessageTx(ctx context.Context, querier domain.Querier, msg *domain.OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (id, type, aggregate_id, payload, occurred_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, NULL)
	`
	_, err := querier.ExecContext(ctx, query,
		msg.ID,
		msg.Type,
		msg.AggregateID,
		msg.Payload,
		msg.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox message: %w", err)
	}
	return nil
}

func (r *outboxRepository) GetPendingMessages(ctx context.Context, querier domain.Querier, limit int) ([]domain.OutboxMessage, error) {
	query := `
		SELECT id, type, aggregate_id, payload, occurred_at
		FROM outbox_messages
		WHERE processed_at IS NULL
		ORDER BY occurred_at ASC
		LIMIT $1
	`
	rows, err := querier.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.OutboxMessage
	for rows.Next() {
		msg := domain.OutboxMessage{}
		if err := rows.Scan(&msg.ID, &msg.Type, &msg.AggregateID, &msg.Payload, &msg.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox messages: %w", err)
	}

	return messages, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, querier domain.Querier, id string, at time.Time) (bool, error) {
	query := `
		UPDATE outbox_messages
		SET processed_at = $1
		WHERE id = $2 AND processed_at IS NULL
	`
	res, err := querier.ExecContext(ctx, query, sql.NullTime{Time: at, Valid: true}, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark outbox message %s processed: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for outbox update (id %s): %w", id, err)
	}
	return rowsAffected == 1, nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, querier domain.Querier, before time.Time) (int64, error) {
	res, err := querier.ExecContext(ctx, `DELETE FROM outbox_messages WHERE processed_at IS NOT NULL AND processed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge processed outbox messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for outbox purge: %w", err)
	}
	return n, nil
}
