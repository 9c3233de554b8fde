package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"policypay/orders/internal/domain"
	"policypay/orders/internal/infrastructure/database"
	"policypay/orders/internal/repository/policy_repo"
)

type pgPolicyRepository struct {
	db     database.DB
	logger *zap.Logger
}

func NewPolicyRepository(db database.DB, l *zap.Logger) policy_repo.PolicyRepository {
	return &pgPolicyRepository{db: db, logger: l}
}

func (r *pgPolicyRepository) CreatePolicy(ctx context.Context, p *domain.Policy) error {
	query := `INSERT INTO policies (id, name, premium, currency, duration_months, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Exec(ctx, query, p.ID, p.Name, p.Premium, p.Currency, p.DurationMonths, p.Active, p.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create policy", zap.String("policy_id", p.ID), zap.Error(err))
		return fmt.Errorf("failed to create policy: %w", err)
	}
	return nil
}

func (r *pgPolicyRepository) GetPolicyByID(ctx context.Context, id string) (*domain.Policy, error) {
	query := `SELECT id, name, premium, currency, duration_months, active, created_at FROM policies WHERE id = $1`
	var p domain.Policy
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Premium, &p.Currency, &p.DurationMonths, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPolicyNotFound
		}
		r.logger.Error("Failed to get policy by ID", zap.String("policy_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get policy by id: %w", err)
	}
	return &p, nil
}
