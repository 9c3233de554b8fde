package domain

import "time"

// OutboxMessage is a domain event waiting to be relayed to Kafka. It is
// pending while ProcessedAt is nil.
type OutboxMessage struct {
	ID          string
	Type        string
	AggregateID string
	Payload     []byte
	OccurredAt  time.Time
	ProcessedAt *time.Time
}

func (m *OutboxMessage) Pending() bool {
	return m.ProcessedAt == nil
}
