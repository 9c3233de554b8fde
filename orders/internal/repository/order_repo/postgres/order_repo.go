package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"policypay/orders/internal/domain"
	"policypay/orders/internal/infrastructure/database"
	"policypay/orders/internal/repository/order_repo"
)

const orderColumns = `id, order_number, policy_id, customer_id, premium, currency, coverage_start, coverage_end,
	status, payment_reference_id, failure_reason, created_at, updated_at, activated_at`

const nextOrderNumberQuery = `
	INSERT INTO order_number_sequences (year, last_value) VALUES ($1, 1)
	ON CONFLICT (year) DO UPDATE SET last_value = order_number_sequences.last_value + 1
	RETURNING last_value`

type pgOrderRepository struct {
	db     database.DB
	logger *zap.Logger
}

func NewOrderRepository(db database.DB, l *zap.Logger) order_repo.OrderRepository {
	return &pgOrderRepository{db: db, logger: l}
}

func (r *pgOrderRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	year := order.CreatedAt.UTC().Year()
	var number string

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var seq int
		if err := tx.QueryRow(ctx, nextOrderNumberQuery, year).Scan(&seq); err != nil {
			return fmt.Errorf("failed to allocate order number: %w", err)
		}
		number = domain.FormatOrderNumber(year, seq)

		query := `INSERT INTO orders (` + orderColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
		_, err := tx.Exec(ctx, query,
			order.ID, number, order.PolicyID, order.CustomerID, order.Premium, order.Currency,
			order.CoverageStart, order.CoverageEnd, order.Status,
			nullString(order.PaymentReferenceID), nullString(order.FailureReason),
			order.CreatedAt, order.UpdatedAt, order.ActivatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to create order", zap.String("order_id", order.ID), zap.Error(err))
		return err
	}

	order.OrderNumber = number
	r.logger.Debug("Order created successfully", zap.String("order_id", order.ID), zap.String("order_number", number))
	return nil
}

func (r *pgOrderRepository) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	order, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		r.logger.Error("Failed to get order by ID", zap.String("order_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get order by id: %w", err)
	}
	return order, nil
}

func (r *pgOrderRepository) ListByCustomer(ctx context.Context, customerID string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE customer_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, customerID)
	if err != nil {
		r.logger.Error("Failed to list orders by customer", zap.String("customer_id", customerID), zap.Error(err))
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during order rows iteration: %w", err)
	}
	return orders, nil
}

func (r *pgOrderRepository) SetPaymentReference(ctx context.Context, id, paymentRef string, at time.Time) error {
	query := `UPDATE orders SET payment_reference_id = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	tag, err := r.db.Exec(ctx, query, id, paymentRef, at, domain.OrderStatusPendingPayment)
	if err != nil {
		r.logger.Error("Failed to set payment reference", zap.String("order_id", id), zap.Error(err))
		return fmt.Errorf("failed to set payment reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotPending
	}
	return nil
}

func (r *pgOrderRepository) ActivateOrder(ctx context.Context, id, paymentRef string, at time.Time) (bool, error) {
	query := `UPDATE orders
		SET status = $2, payment_reference_id = $3, activated_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5`
	tag, err := r.db.Exec(ctx, query, id, domain.OrderStatusActive, paymentRef, at, domain.OrderStatusPendingPayment)
	if err != nil {
		r.logger.Error("Failed to activate order", zap.String("order_id", id), zap.Error(err))
		return false, fmt.Errorf("failed to activate order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgOrderRepository) CancelOrder(ctx context.Context, id string, status domain.OrderStatus, reason string, at time.Time) (bool, error) {
	query := `UPDATE orders SET status = $2, failure_reason = $3, updated_at = $4 WHERE id = $1 AND status = $5`
	tag, err := r.db.Exec(ctx, query, id, status, nullString(reason), at, domain.OrderStatusPendingPayment)
	if err != nil {
		r.logger.Error("Failed to cancel order", zap.String("order_id", id), zap.Error(err))
		return false, fmt.Errorf("failed to cancel order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o             domain.Order
		status        string
		paymentRef    *string
		failureReason *string
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.PolicyID, &o.CustomerID, &o.Premium, &o.Currency,
		&o.CoverageStart, &o.CoverageEnd, &status, &paymentRef, &failureReason,
		&o.CreatedAt, &o.UpdatedAt, &o.ActivatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	if paymentRef != nil {
		o.PaymentReferenceID = *paymentRef
	}
	if failureReason != nil {
		o.FailureReason = *failureReason
	}
	return &o, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
