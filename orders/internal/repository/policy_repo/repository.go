package policy_repo

import (
	"context"

	"policypay/orders/internal/domain"
)

type PolicyRepository interface {
	CreatePolicy(ctx context.Context, policy *domain.Policy) error
	GetPolicyByID(ctx context.Context, id string) (*domain.Policy, error)
}
