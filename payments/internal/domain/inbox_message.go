package domain

import "time"

// WebhookEvent records a provider callback that has already been applied.
type WebhookEvent struct {
	ID         string
	Provider   Provider
	Type       string
	ReceivedAt time.Time
}
