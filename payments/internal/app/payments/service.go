package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"policypay/internal/events"
	"policypay/payments/internal/domain"
	"policypay/payments/internal/gateway"
	"policypay/payments/internal/repository/inbox_repo"
	"policypay/payments/internal/repository/payments_repo"
)

const listLimit = 100

type PaymentService interface {
	ProcessPayment(ctx context.Context, idempotencyKey string, req PaymentRequest) (*PaymentResult, error)
	ChargePayment(ctx context.Context, idempotencyKey string, req PaymentRequest) (*PaymentResult, error)
	CompletePayment(ctx context.Context, providerPaymentID string, outcome Outcome) (*domain.Payment, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	ListPayments(ctx context.Context, userID string) ([]*domain.Payment, error)
	RefundPayment(ctx context.Context, id string) (*RefundResult, error)
}

// Transactor runs fn in one database transaction. DB is used for reads
// that need no transaction.
type Transactor interface {
	DB() domain.Querier
	WithinTx(ctx context.Context, fn func(q domain.Querier) error) error
}

type EventWriter interface {
	Append(ctx context.Context, tx domain.Querier, evt events.Event) error
}

type GatewayResolver interface {
	Get(p domain.Provider) (gateway.Gateway, error)
}

type paymentService struct {
	tx          Transactor
	gateways    GatewayResolver
	paymentRepo payments_repo.PaymentRepository
	inboxRepo   inbox_repo.InboxRepository
	outbox      EventWriter
	metrics     *Metrics
	logger      *zap.Logger
	now         func() time.Time
}

func NewPaymentService(
	tx Transactor,
	gateways GatewayResolver,
	paymentRepo payments_repo.PaymentRepository,
	inboxRepo inbox_repo.InboxRepository,
	outbox EventWriter,
	metrics *Metrics,
	logger *zap.Logger,
) PaymentService {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &paymentService{
		tx:          tx,
		gateways:    gateways,
		paymentRepo: paymentRepo,
		inboxRepo:   inboxRepo,
		outbox:      outbox,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// ProcessPayment opens a provider checkout session. The provider is called
// outside any transaction; only a successful session produces a row.
func (s *paymentService) ProcessPayment(ctx context.Context, key string, req PaymentRequest) (*PaymentResult, error) {
	req, err := normalize(key, req)
	if err != nil {
		return nil, err
	}
	gw, err := s.resolve(req.Provider)
	if err != nil {
		return nil, err
	}

	existing, err := s.paymentRepo.GetByIdempotencyKeyTx(ctx, s.tx.DB(), key)
	switch {
	case err == nil:
		return s.replaySession(ctx, gw, existing, key, req)
	case !errors.Is(err, domain.ErrPaymentNotFound):
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}

	log := s.logger.With(zap.String("idempotency_key", key), zap.Stringer("provider", req.Provider))

	res, err := gw.CreateSession(ctx, gateway.SessionRequest{
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: key,
		PurchaseID:     req.PurchaseID,
		Description:    req.Description,
	})
	if err != nil {
		log.Warn("Failed to create checkout session", zap.Error(err))
		return nil, gatewayError(err)
	}
	if !res.Success {
		log.Info("Checkout session declined", zap.String("reason", res.ErrorMessage))
		return nil, fmt.Errorf("%w: %s", domain.ErrPaymentDeclined, res.ErrorMessage)
	}

	now := s.now().UTC()
	payment := &domain.Payment{
		ID:                uuid.NewString(),
		IdempotencyKey:    key,
		UserID:            req.UserID,
		PurchaseID:        req.PurchaseID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Provider:          req.Provider,
		ProviderPaymentID: res.ProviderPaymentID,
		RedirectURL:       res.RedirectURL,
		Status:            domain.PaymentStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := payment.MarkProcessing(now); err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(q domain.Querier) error {
		return s.paymentRepo.CreateTx(ctx, q, payment)
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		return s.raceWinner(ctx, key, req)
	}
	if err != nil {
		log.Error("Checkout session created at provider but payment was not persisted",
			zap.String("provider_payment_id", res.ProviderPaymentID), zap.Error(err))
		return nil, fmt.Errorf("failed to persist payment: %w", err)
	}

	s.metrics.transition(payment.Status)
	log.Info("Payment is processing",
		zap.String("payment_id", payment.ID),
		zap.String("provider_payment_id", payment.ProviderPaymentID))
	return &PaymentResult{Payment: payment}, nil
}

func (s *paymentService) replaySession(ctx context.Context, gw gateway.Gateway, existing *domain.Payment, key string, req PaymentRequest) (*PaymentResult, error) {
	if !existing.SameRequest(req.UserID, req.Amount, req.Currency, req.Provider) {
		return nil, fmt.Errorf("%w: key %s", domain.ErrIdempotencyConflict, key)
	}
	if existing.Status != domain.PaymentStatusProcessing || existing.RedirectURL == "" {
		return &PaymentResult{Payment: existing, Replayed: true}, nil
	}

	// Same key, so the provider hands back the session it already created.
	res, err := gw.CreateSession(ctx, gateway.SessionRequest{
		Amount:         existing.Amount,
		Currency:       existing.Currency,
		IdempotencyKey: key,
		PurchaseID:     existing.PurchaseID,
		Description:    req.Description,
	})
	if err != nil {
		s.logger.Warn("Failed to re-fetch checkout session", zap.String("payment_id", existing.ID), zap.Error(err))
		return nil, gatewayError(err)
	}
	if res.Success && res.RedirectURL != "" {
		existing.RedirectURL = res.RedirectURL
	}
	return &PaymentResult{Payment: existing, Replayed: true}, nil
}

func (s *paymentService) raceWinner(ctx context.Context, key string, req PaymentRequest) (*PaymentResult, error) {
	winner, err := s.paymentRepo.GetByIdempotencyKeyTx(ctx, s.tx.DB(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to load concurrent payment for key %s: %w", key, err)
	}
	if !winner.SameRequest(req.UserID, req.Amount, req.Currency, req.Provider) {
		return nil, fmt.Errorf("%w: key %s", domain.ErrIdempotencyConflict, key)
	}
	return &PaymentResult{Payment: winner, Replayed: true}, nil
}

// ChargePayment charges synchronously. The outcome and its event are
// written in one transaction; a connectivity failure leaves the payment
// PROCESSING so a retry with the same key charges again.
func (s *paymentService) ChargePayment(ctx context.Context, key string, req PaymentRequest) (*PaymentResult, error) {
	req, err := normalize(key, req)
	if err != nil {
		return nil, err
	}
	gw, err := s.resolve(req.Provider)
	if err != nil {
		return nil, err
	}

	payment, replayed, err := s.startCharge(ctx, key, req)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsTerminal() {
		return &PaymentResult{Payment: payment, Replayed: true}, nil
	}

	log := s.logger.With(zap.String("payment_id", payment.ID), zap.String("idempotency_key", key))

	res, chargeErr := safeCharge(ctx, gw, gateway.ChargeRequest{
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		IdempotencyKey: key,
		PaymentToken:   req.PaymentToken,
		PurchaseID:     payment.PurchaseID,
	})

	now := s.now().UTC()
	var (
		evt    events.Event
		result error
	)
	switch {
	case chargeErr == nil && res.Success:
		payment.ProviderPaymentID = res.ProviderPaymentID
		if err := payment.Complete(now); err != nil {
			return nil, err
		}
		evt = completedEvent(payment, now)
	case chargeErr == nil:
		if err := payment.Fail(res.ErrorMessage, now); err != nil {
			return nil, err
		}
		evt = failedEvent(payment, false, now)
		result = fmt.Errorf("%w: %s", domain.ErrPaymentDeclined, res.ErrorMessage)
	case errors.Is(chargeErr, gateway.ErrConnectivity):
		log.Warn("Charge hit a connectivity failure, payment stays processing", zap.Error(chargeErr))
		var settled *domain.Payment
		if err := s.tx.WithinTx(ctx, func(q domain.Querier) error {
			current, err := s.paymentRepo.GetByIDForUpdateTx(ctx, q, payment.ID)
			if err != nil {
				return err
			}
			if current.Status.IsTerminal() {
				settled = current
				return nil
			}
			current.FailureReason = "gateway unavailable: " + chargeErr.Error()
			current.UpdatedAt = now
			return s.paymentRepo.UpdateTx(ctx, q, current)
		}); err != nil {
			log.Error("Failed to record connectivity failure", zap.Error(err))
		}
		if settled != nil {
			log.Info("Payment already settled by a concurrent charge", zap.String("status", string(settled.Status)))
			return &PaymentResult{Payment: settled, Replayed: true}, nil
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, chargeErr)
	default:
		if err := payment.Fail("system error: "+chargeErr.Error(), now); err != nil {
			return nil, err
		}
		evt = failedEvent(payment, false, now)
		result = systemError(chargeErr)
		log.Error("Charge failed unexpectedly, failing payment", zap.Error(chargeErr))
	}

	var settled *domain.Payment
	err = s.tx.WithinTx(ctx, func(q domain.Querier) error {
		current, err := s.paymentRepo.GetByIDForUpdateTx(ctx, q, payment.ID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			settled = current
			return nil
		}
		if err := s.paymentRepo.UpdateTx(ctx, q, payment); err != nil {
			return err
		}
		return s.outbox.Append(ctx, q, evt)
	})
	if err != nil {
		log.Error("Charge outcome not persisted, payment stays processing",
			zap.String("outcome", string(payment.Status)), zap.Error(err))
		return nil, fmt.Errorf("failed to persist charge outcome: %w", err)
	}
	if settled != nil {
		log.Info("Payment already settled by a concurrent charge, discarding outcome",
			zap.String("status", string(settled.Status)),
			zap.String("outcome", string(payment.Status)))
		return &PaymentResult{Payment: settled, Replayed: true}, nil
	}

	s.metrics.transition(payment.Status)
	log.Info("Charge finished", zap.String("status", string(payment.Status)))
	return &PaymentResult{Payment: payment, Replayed: replayed}, result
}

// startCharge returns the PROCESSING payment for key, creating it when the
// key is new.
func (s *paymentService) startCharge(ctx context.Context, key string, req PaymentRequest) (*domain.Payment, bool, error) {
	existing, err := s.paymentRepo.GetByIdempotencyKeyTx(ctx, s.tx.DB(), key)
	switch {
	case err == nil:
		if !existing.SameRequest(req.UserID, req.Amount, req.Currency, req.Provider) {
			return nil, false, fmt.Errorf("%w: key %s", domain.ErrIdempotencyConflict, key)
		}
		if existing.Status == domain.PaymentStatusPending {
			if err := existing.MarkProcessing(s.now().UTC()); err != nil {
				return nil, false, err
			}
			if err := s.tx.WithinTx(ctx, func(q domain.Querier) error {
				return s.paymentRepo.UpdateTx(ctx, q, existing)
			}); err != nil {
				return nil, false, fmt.Errorf("failed to mark payment processing: %w", err)
			}
		}
		return existing, true, nil
	case !errors.Is(err, domain.ErrPaymentNotFound):
		return nil, false, fmt.Errorf("failed to look up idempotency key: %w", err)
	}

	now := s.now().UTC()
	payment := &domain.Payment{
		ID:             uuid.NewString(),
		IdempotencyKey: key,
		UserID:         req.UserID,
		PurchaseID:     req.PurchaseID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Provider:       req.Provider,
		Status:         domain.PaymentStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = s.tx.WithinTx(ctx, func(q domain.Querier) error {
		if err := s.paymentRepo.CreateTx(ctx, q, payment); err != nil {
			return err
		}
		if err := payment.MarkProcessing(now); err != nil {
			return err
		}
		return s.paymentRepo.UpdateTx(ctx, q, payment)
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		res, err := s.raceWinner(ctx, key, req)
		if err != nil {
			return nil, false, err
		}
		return res.Payment, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create payment: %w", err)
	}
	s.metrics.transition(payment.Status)
	return payment, false, nil
}

func safeCharge(ctx context.Context, gw gateway.Gateway, req gateway.ChargeRequest) (res *gateway.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("gateway panic: %v", p)
		}
	}()
	res, err = gw.Charge(ctx, req)
	if err == nil && res == nil {
		err = errors.New("gateway returned no result")
	}
	return res, err
}

// CompletePayment applies a provider verdict. The row is locked for the
// transaction; terminal payments and already seen provider events are
// left untouched.
func (s *paymentService) CompletePayment(ctx context.Context, providerPaymentID string, outcome Outcome) (*domain.Payment, error) {
	var (
		payment *domain.Payment
		applied bool
	)
	log := s.logger.With(zap.String("provider_payment_id", providerPaymentID), zap.String("event_id", outcome.EventID))

	err := s.tx.WithinTx(ctx, func(q domain.Querier) error {
		var err error
		payment, err = s.paymentRepo.GetByProviderPaymentIDForUpdateTx(ctx, q, providerPaymentID)
		if err != nil {
			return err
		}
		now := s.now().UTC()

		if outcome.EventID != "" {
			fresh, err := s.inboxRepo.RecordTx(ctx, q, &domain.WebhookEvent{
				ID:         outcome.EventID,
				Provider:   payment.Provider,
				Type:       outcome.EventType,
				ReceivedAt: now,
			})
			if err != nil {
				return err
			}
			if !fresh {
				log.Info("Provider event already processed, skipping")
				return nil
			}
		}

		if payment.Status.IsTerminal() {
			log.Info("Payment already final, ignoring provider verdict", zap.String("status", string(payment.Status)))
			return nil
		}

		var evt events.Event
		if outcome.Succeeded {
			if err := payment.Complete(now); err != nil {
				return err
			}
			evt = completedEvent(payment, now)
		} else {
			reason := outcome.Reason
			if reason == "" {
				reason = "Payment failed"
			}
			if err := payment.Fail(reason, now); err != nil {
				return err
			}
			evt = failedEvent(payment, outcome.Expired, now)
		}

		if err := s.paymentRepo.UpdateTx(ctx, q, payment); err != nil {
			return err
		}
		if err := s.outbox.Append(ctx, q, evt); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			return nil, err
		}
		log.Error("Failed to apply provider verdict", zap.Error(err))
		return nil, fmt.Errorf("failed to complete payment: %w", err)
	}

	if applied {
		s.metrics.transition(payment.Status)
		log.Info("Payment finalized", zap.String("payment_id", payment.ID), zap.String("status", string(payment.Status)))
	}
	return payment, nil
}

func (s *paymentService) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, id)
	}
	return s.paymentRepo.GetByIDTx(ctx, s.tx.DB(), id)
}

func (s *paymentService) ListPayments(ctx context.Context, userID string) ([]*domain.Payment, error) {
	if userID == "" {
		return nil, invalid("user id is required")
	}
	return s.paymentRepo.ListByUserTx(ctx, s.tx.DB(), userID, listLimit)
}

func (s *paymentService) RefundPayment(ctx context.Context, id string) (*RefundResult, error) {
	payment, err := s.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: cannot refund a %s payment", domain.ErrInvalidTransition, payment.Status)
	}
	gw, err := s.resolve(payment.Provider)
	if err != nil {
		return nil, err
	}

	res, err := gw.Refund(ctx, gateway.RefundRequest{
		ProviderPaymentID: payment.ProviderPaymentID,
		Amount:            payment.Amount,
		IdempotencyKey:    "refund-" + payment.ID,
	})
	if err != nil {
		return nil, gatewayError(err)
	}
	if !res.Success {
		return nil, fmt.Errorf("%w: %s", domain.ErrPaymentDeclined, res.ErrorMessage)
	}

	s.logger.Info("Payment refunded", zap.String("payment_id", payment.ID), zap.String("refund_id", res.ProviderPaymentID))
	return &RefundResult{PaymentID: payment.ID, RefundID: res.ProviderPaymentID}, nil
}

func (s *paymentService) resolve(p domain.Provider) (gateway.Gateway, error) {
	gw, err := s.gateways.Get(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderMisconfigured, err)
	}
	return gw, nil
}

func gatewayError(err error) error {
	switch {
	case errors.Is(err, gateway.ErrConnectivity):
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	case errors.Is(err, gateway.ErrMisconfigured):
		return fmt.Errorf("%w: %v", domain.ErrProviderMisconfigured, err)
	case errors.Is(err, gateway.ErrNotSupported):
		return fmt.Errorf("%w: %v", domain.ErrNotSupported, err)
	default:
		return systemError(err)
	}
}

func systemError(err error) error {
	switch {
	case errors.Is(err, gateway.ErrMisconfigured):
		return fmt.Errorf("%w: %w: %v", domain.ErrSystem, domain.ErrProviderMisconfigured, err)
	case errors.Is(err, gateway.ErrNotSupported):
		return fmt.Errorf("%w: %w: %v", domain.ErrSystem, domain.ErrNotSupported, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrSystem, err)
	}
}

func completedEvent(p *domain.Payment, now time.Time) events.PaymentCompleted {
	return events.PaymentCompleted{
		ID:         uuid.NewString(),
		OccurredOn: now,
		PaymentID:  p.ID,
		PurchaseID: p.PurchaseID,
		Amount:     p.Amount,
		Currency:   p.Currency,
	}
}

func failedEvent(p *domain.Payment, expired bool, now time.Time) events.PaymentFailed {
	return events.PaymentFailed{
		ID:         uuid.NewString(),
		OccurredOn: now,
		PaymentID:  p.ID,
		PurchaseID: p.PurchaseID,
		Amount:     p.Amount,
		Currency:   p.Currency,
		Reason:     p.FailureReason,
		Expired:    expired,
	}
}
