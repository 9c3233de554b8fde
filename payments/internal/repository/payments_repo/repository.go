package payments_repo

import (
	"context"

	"policypay/payments/internal/domain"
)

type PaymentRepository interface {
	CreateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error
	UpdateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error
	GetByIDTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error)
	GetByIdempotencyKeyTx(ctx context.Context, querier domain.Querier, key string) (*domain.Payment, error)
	GetByIDForUpdateTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error)
	// GetByProviderPaymentIDForUpdateTx locks the row until the surrounding
	// transaction ends.
	GetByProviderPaymentIDForUpdateTx(ctx context.Context, querier domain.Querier, providerPaymentID string) (*domain.Payment, error)
	ListByUserTx(ctx context.Context, querier domain.Querier, userID string, limit int) ([]*domain.Payment, error)
}
