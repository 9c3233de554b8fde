package payments_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"policypay/payments/internal/domain"
)

const paymentColumns = `id, idempotency_key, user_id, purchase_id, amount, currency, provider,
	provider_payment_id, redirect_url, status, failure_reason, created_at, updated_at, completed_at`

type paymentRepository struct{}

func NewPaymentRepository() *paymentRepository {
	return &paymentRepository{}
}

func (r *paymentRepository) CreateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := querier.ExecContext(ctx, query,
		payment.ID,
		payment.IdempotencyKey,
		payment.UserID,
		nullString(payment.PurchaseID),
		payment.Amount,
		payment.Currency,
		int(payment.Provider),
		nullString(payment.ProviderPaymentID),
		nullString(payment.RedirectURL),
		string(payment.Status),
		nullString(payment.FailureReason),
		payment.CreatedAt,
		payment.UpdatedAt,
		nullTime(payment.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment with idempotency key %s: %w", payment.IdempotencyKey, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) UpdateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error {
	query := `
		UPDATE payments
		SET status = $1, provider_payment_id = $2, redirect_url = $3, failure_reason = $4,
		    updated_at = $5, completed_at = $6
		WHERE id = $7
	`
	res, err := querier.ExecContext(ctx, query,
		string(payment.Status),
		nullString(payment.ProviderPaymentID),
		nullString(payment.RedirectURL),
		nullString(payment.FailureReason),
		payment.UpdatedAt,
		nullTime(payment.CompletedAt),
		payment.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment %s: %w", payment.ID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for payment update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("payment %s: %w", payment.ID, domain.ErrPaymentNotFound)
	}
	return nil
}

func (r *paymentRepository) GetByIDTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return r.getOne(ctx, querier, query, id)
}

func (r *paymentRepository) GetByIDForUpdateTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, querier, query, id)
}

func (r *paymentRepository) GetByIdempotencyKeyTx(ctx context.Context, querier domain.Querier, key string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE idempotency_key = $1`
	return r.getOne(ctx, querier, query, key)
}

func (r *paymentRepository) GetByProviderPaymentIDForUpdateTx(ctx context.Context, querier domain.Querier, providerPaymentID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider_payment_id = $1 FOR UPDATE`
	return r.getOne(ctx, querier, query, providerPaymentID)
}

func (r *paymentRepository) ListByUserTx(ctx context.Context, querier domain.Querier, userID string, limit int) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := querier.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments for user %s: %w", userID, err)
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}
	return payments, nil
}

func (r *paymentRepository) getOne(ctx context.Context, querier domain.Querier, query string, arg any) (*domain.Payment, error) {
	p, err := scanPayment(querier.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p                 domain.Payment
		provider          int
		status            string
		purchaseID        sql.NullString
		providerPaymentID sql.NullString
		redirectURL       sql.NullString
		failureReason     sql.NullString
		completedAt       sql.NullTime
	)
	err := row.Scan(
		&p.ID,
		&p.IdempotencyKey,
		&p.UserID,
		&purchaseID,
		&p.Amount,
		&p.Currency,
		&provider,
		&providerPaymentID,
		&redirectURL,
		&status,
		&failureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}

	p.Provider = domain.Provider(provider)
	p.Status = domain.PaymentStatus(status)
	p.PurchaseID = purchaseID.String
	p.ProviderPaymentID = providerPaymentID.String
	p.RedirectURL = redirectURL.String
	p.FailureReason = failureReason.String
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return &p, nil
}
