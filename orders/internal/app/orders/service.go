package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"policypay/orders/internal/domain"
	"policypay/orders/internal/paymentclient"
	"policypay/orders/internal/repository/order_repo"
	"policypay/orders/internal/repository/policy_repo"
)

const defaultFailureReason = "Payment failed"

type OrderService interface {
	// CreateOrder stores a PENDING_PAYMENT order for the policy and opens a
	// payment for it. When only the payment call fails, the stored order is
	// returned along with an error wrapping domain.ErrPaymentInitiation.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CheckoutResult, error)
	InitiatePayment(ctx context.Context, orderID, provider string) (*CheckoutResult, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrdersByCustomer(ctx context.Context, customerID string) ([]*domain.Order, error)
	// ActivateOrder and CancelOrder apply a payment outcome. The result is
	// only meaningful when err is nil; err is always transient.
	ActivateOrder(ctx context.Context, orderID, paymentRef string) (domain.ActivationResult, error)
	CancelOrder(ctx context.Context, orderID, reason string, expired bool) (domain.ActivationResult, error)
	CreatePolicy(ctx context.Context, req CreatePolicyRequest) (*domain.Policy, error)
	GetPolicy(ctx context.Context, policyID string) (*domain.Policy, error)
}

// PaymentInitiator opens payments in the payments service.
type PaymentInitiator interface {
	InitiatePayment(ctx context.Context, key string, req paymentclient.InitiateRequest) (*paymentclient.Payment, error)
}

// Options fills in what callers leave empty.
type Options struct {
	DefaultProvider string
	DefaultCurrency string
}

type orderService struct {
	orderRepo  order_repo.OrderRepository
	policyRepo policy_repo.PolicyRepository
	payments   PaymentInitiator
	opts       Options
	now        func() time.Time
	logger     *zap.Logger
}

func NewOrderService(
	orderRepo order_repo.OrderRepository,
	policyRepo policy_repo.PolicyRepository,
	payments PaymentInitiator,
	opts Options,
	logger *zap.Logger,
) OrderService {
	return &orderService{
		orderRepo:  orderRepo,
		policyRepo: policyRepo,
		payments:   payments,
		opts:       opts,
		now:        time.Now,
		logger:     logger,
	}
}

// PaymentKey is the idempotency key every payment attempt for an order
// uses.
func PaymentKey(orderID string) string {
	return "order-" + orderID
}

func (s *orderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CheckoutResult, error) {
	policy, err := s.GetPolicy(ctx, req.PolicyID)
	if err != nil {
		return nil, err
	}

	order, err := domain.NewOrder(uuid.NewString(), req.CustomerID, policy, s.now())
	if err != nil {
		s.logger.Warn("Rejected order", zap.String("policy_id", req.PolicyID), zap.Error(err))
		return nil, err
	}
	if err := s.orderRepo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to save order: %w", err)
	}
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("customer_id", order.CustomerID),
		zap.String("premium", order.Premium.StringFixed(2)))

	return s.initiate(ctx, order, req.Provider)
}

func (s *orderService) InitiatePayment(ctx context.Context, orderID, provider string) (*CheckoutResult, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return &CheckoutResult{Order: order}, domain.ErrOrderNotPending
	}
	return s.initiate(ctx, order, provider)
}

func (s *orderService) initiate(ctx context.Context, order *domain.Order, provider string) (*CheckoutResult, error) {
	if provider == "" {
		provider = s.opts.DefaultProvider
	}
	result := &CheckoutResult{Order: order}

	payment, err := s.payments.InitiatePayment(ctx, PaymentKey(order.ID), paymentclient.InitiateRequest{
		CustomerID:  order.CustomerID,
		OrderID:     order.ID,
		Amount:      order.Premium,
		Currency:    order.Currency,
		Provider:    provider,
		Description: "Policy order " + order.OrderNumber,
	})
	if err != nil {
		s.logger.Error("Failed to initiate payment for order",
			zap.String("order_id", order.ID),
			zap.String("provider", provider),
			zap.Error(err))
		if payment != nil {
			result.PaymentID = payment.ID
			result.PaymentStatus = payment.Status
		}
		return result, fmt.Errorf("%w: %w", domain.ErrPaymentInitiation, err)
	}

	result.PaymentID = payment.ID
	result.PaymentStatus = payment.Status
	result.CheckoutURL = payment.RedirectURL

	err = s.orderRepo.SetPaymentReference(ctx, order.ID, payment.ID, s.now().UTC())
	switch {
	case err == nil:
		order.PaymentReferenceID = payment.ID
	case errors.Is(err, domain.ErrOrderNotPending):
		// The payment outcome got here first.
		s.logger.Info("Order finalized before payment reference was recorded", zap.String("order_id", order.ID))
	default:
		s.logger.Warn("Failed to record payment reference", zap.String("order_id", order.ID), zap.Error(err))
	}

	s.logger.Info("Payment initiated for order",
		zap.String("order_id", order.ID),
		zap.String("payment_id", payment.ID),
		zap.String("payment_status", payment.Status))
	return result, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if uuid.Validate(orderID) != nil {
		return nil, domain.ErrOrderNotFound
	}
	return s.orderRepo.GetOrderByID(ctx, orderID)
}

func (s *orderService) ListOrdersByCustomer(ctx context.Context, customerID string) ([]*domain.Order, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", domain.ErrInvalidOrder)
	}
	return s.orderRepo.ListByCustomer(ctx, customerID)
}

func (s *orderService) ActivateOrder(ctx context.Context, orderID, paymentRef string) (domain.ActivationResult, error) {
	if uuid.Validate(orderID) != nil {
		return domain.ActivationOrderNotFound, nil
	}
	ok, err := s.orderRepo.ActivateOrder(ctx, orderID, paymentRef, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if ok {
		s.logger.Info("Order activated", zap.String("order_id", orderID), zap.String("payment_reference_id", paymentRef))
		return domain.ActivationSuccess, nil
	}
	return s.classifyMiss(ctx, orderID, domain.OrderStatusActive)
}

func (s *orderService) CancelOrder(ctx context.Context, orderID, reason string, expired bool) (domain.ActivationResult, error) {
	if uuid.Validate(orderID) != nil {
		return domain.ActivationOrderNotFound, nil
	}
	if reason == "" {
		reason = defaultFailureReason
	}
	status := domain.CancelledStatus(expired)
	ok, err := s.orderRepo.CancelOrder(ctx, orderID, status, reason, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if ok {
		s.logger.Info("Order cancelled",
			zap.String("order_id", orderID),
			zap.String("status", string(status)),
			zap.String("reason", reason))
		return domain.ActivationSuccess, nil
	}
	return s.classifyMiss(ctx, orderID, domain.OrderStatusCancelled, domain.OrderStatusExpired)
}

func (s *orderService) classifyMiss(ctx context.Context, orderID string, done ...domain.OrderStatus) (domain.ActivationResult, error) {
	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
		return 0, err
	}
	return domain.ClassifyMiss(order, done...), nil
}

func (s *orderService) CreatePolicy(ctx context.Context, req CreatePolicyRequest) (*domain.Policy, error) {
	currency := req.Currency
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}
	policy, err := domain.NewPolicy(uuid.NewString(), req.Name, req.Premium, currency, req.DurationMonths, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.policyRepo.CreatePolicy(ctx, policy); err != nil {
		return nil, fmt.Errorf("failed to save policy: %w", err)
	}
	s.logger.Info("Policy created", zap.String("policy_id", policy.ID), zap.String("name", policy.Name))
	return policy, nil
}

func (s *orderService) GetPolicy(ctx context.Context, policyID string) (*domain.Policy, error) {
	if uuid.Validate(policyID) != nil {
		return nil, domain.ErrPolicyNotFound
	}
	return s.policyRepo.GetPolicyByID(ctx, policyID)
}
