package inbox_repo

import (
	"context"

	"policypay/payments/internal/domain"
)

type InboxRepository interface {
	// RecordTx stores a provider event and reports whether it was new.
	RecordTx(ctx context.Context, querier domain.Querier, evt *domain.WebhookEvent) (bool, error)
}
