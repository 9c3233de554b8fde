package outbox

import (
	"context"
	"fmt"

	"policypay/internal/events"
	"policypay/payments/internal/domain"
)

type MessageStore interface {
	CreateMessageTx(ctx context.Context, querier domain.Querier, msg *domain.OutboxMessage) error
}

// Writer appends events to the outbox using the caller's transaction. It
// never commits: the row exists only if the surrounding transaction does.
type Writer struct {
	store MessageStore
}

func NewWriter(store MessageStore) *Writer {
	return &Writer{store: store}
}

func (w *Writer) Append(ctx context.Context, tx domain.Querier, evt events.Event) error {
	payload, err := events.Marshal(evt)
	if err != nil {
		return err
	}

	msg := &domain.OutboxMessage{
		ID:          evt.EventID(),
		Type:        evt.EventType(),
		AggregateID: evt.AggregateID(),
		Payload:     payload,
		OccurredAt:  evt.OccurredAt(),
	}
	if err := w.store.CreateMessageTx(ctx, tx, msg); err != nil {
		return fmt.Errorf("failed to append %s to outbox: %w", evt.EventType(), err)
	}
	return nil
}
