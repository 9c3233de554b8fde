package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"policypay/internal/events"
	"policypay/payments/internal/domain"
	"policypay/payments/internal/gateway"
	"policypay/payments/internal/outbox"
)

type fixture struct {
	db      *memDB
	mock    *gateway.MockGateway
	svc     PaymentService
	metrics *Metrics
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T, outcome gateway.MockOutcome) *fixture {
	t.Helper()
	db := newMemDB()
	mock := gateway.NewMockGateway(gateway.MockConfig{Outcome: outcome})
	core, logs := observer.New(zapcore.InfoLevel)
	metrics := NewMetrics(prometheus.NewRegistry())
	svc := NewPaymentService(db, gateway.NewRegistryFrom(mock, panicGateway{}), db, db, outbox.NewWriter(db), metrics, zap.New(core))
	return &fixture{db: db, mock: mock, svc: svc, metrics: metrics, logs: logs}
}

func usd(amount string) PaymentRequest {
	return PaymentRequest{
		UserID:     "user-1",
		PurchaseID: "order-1",
		Amount:     decimal.RequireFromString(amount),
		Currency:   "USD",
		Provider:   domain.ProviderMock,
	}
}

func TestCheckoutThenWebhookCompletesPayment(t *testing.T) {
	f := newFixture(t, gateway.MockSuccess)
	ctx := context.Background()

	res, err := f.svc.ProcessPayment(ctx, "K1", usd("100.00"))
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	p := res.Payment
	if p.Status != domain.PaymentStatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", p.Status)
	}
	if p.ProviderPaymentID == "" || p.RedirectURL == "" {
		t.Fatalf("expected provider id and redirect, got %+v", p)
	}
	if n := len(f.db.outboxRows()); n != 0 {
		t.Fatalf("expected no outbox rows before completion, got %d", n)
	}

	done, err := f.svc.CompletePayment(ctx, p.ProviderPaymentID, Outcome{Succeeded: true, EventID: "evt_1", EventType: "checkout.session.completed"})
	if err != nil {
		t.Fatalf("CompletePayment: %v", err)
	}
	if done.Status != domain.PaymentStatusCompleted || done.CompletedAt == nil {
		t.Fatalf("expected COMPLETED with completed_at, got %+v", done)
	}

	rows := f.db.outboxRows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 outbox row, got %d", len(rows))
	}
	if rows[0].Type != events.TypePaymentCompleted || rows[0].AggregateID != p.ID {
		t.Errorf("unexpected outbox row %+v", rows[0])
	}
	evt, err := events.DecodePaymentCompleted(rows[0].Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.PaymentID != p.ID || evt.PurchaseID != "order-1" || evt.Currency != "USD" ||
		!evt.Amount.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("unexpected event %+v", evt)
	}
	if evt.ID != rows[0].ID {
		t.Errorf("event id %s differs from outbox id %s", evt.ID, rows[0].ID)
	}

	// Same provider event redelivered, then a different event for the
	// already completed payment: neither adds a row.
	for _, id := range []string{"evt_1", "evt_2"} {
		again, err := f.svc.CompletePayment(ctx, p.ProviderPaymentID, Outcome{Succeeded: false, Reason: "late", EventID: id})
		if err != nil {
			t.Fatalf("CompletePayment(%s): %v", id, err)
		}
		if again.Status != domain.PaymentStatusCompleted {
			t.Errorf("terminal status regressed to %s", again.Status)
		}
	}
	if n := len(f.db.outboxRows()); n != 1 {
		t.Errorf("expected 1 outbox row after redelivery, got %d", n)
	}
	if got := testutil.ToFloat64(f.metrics.transitions.WithLabelValues("COMPLETED")); got != 1 {
		t.Errorf("completed transitions = %v", got)
	}
}

func TestProcessPaymentReplaySameKey(t *testing.T) {
	f := newFixture(t, gateway.MockSuccess)
	ctx := context.Background()

	first, err := f.svc.ProcessPayment(ctx, "K1", usd("100.00"))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.svc.ProcessPayment(ctx, "K1", usd("100.00"))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.Payment.ID != second.Payment.ID {
		t.Errorf("expected same payment, got %s and %s", first.Payment.ID, second.Payment.ID)
	}
	if first.Replayed || !second.Replayed {
		t.Errorf("replayed flags = %v, %v", first.Replayed, second.Replayed)
	}
	if second.Payment.RedirectURL != first.Payment.RedirectURL {
		t.Errorf("redirect changed on replay")
	}
	if n := f.db.paymentCount(); n != 1 {
		t.Errorf("expected 1 row, got %d", n)
	}

	other := usd("150.00")
	if _, err := f.svc.ProcessPayment(ctx, "K1", other); !errors.Is(err, domain.ErrIdempotencyConflict) {
		t.Errorf("expected ErrIdempotencyConflict, got %v", err)
	}
}

func TestProcessPaymentReplayOfTerminalSkipsGateway(t *testing.T) {
	f := newFixture(t, gateway.MockSuccess)
	ctx := context.Background()

	res, err := f.svc.ProcessPayment(ctx, "K1", usd("10.00"))
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if _, err := f.svc.CompletePayment(ctx, res.Payment.ProviderPaymentID, Outcome{Succeeded: true}); err != nil {
		t.Fatalf("CompletePayment: %v", err)
	}

	f.mock.SetOutcome(gateway.MockConnectivity)
	replay, err := f.svc.ProcessPayment(ctx, "K1", usd("10.00"))
	if err != nil {
		t.Fatalf("replay of completed payment should not reach gateway: %v", err)
	}
	if replay.Payment.Status != domain.PaymentStatusCompleted || !replay.Replayed {
		t.Errorf("unexpected replay %+v", replay)
	}
}

func TestProcessPaymentConnectivityFailureLeavesNoRow(t *testing.T) {
	f := newFixture(t, gateway.MockConnectivity)
	ctx := context.Background()

	_, err := f.svc.ProcessPayment(ctx, "K2", usd("100.00"))
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if n := f.db.paymentCount(); n != 0 {
		t.Fatalf("expected no rows, got %d", n)
	}

	f.mock.SetOutcome(gateway.MockSuccess)
	res, err := f.svc.ProcessPayment(ctx, "K2", usd("100.00"))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Replayed || res.Payment.Status != domain.PaymentStatusProcessing {
		t.Errorf("unexpected retry result %+v", res)
	}
}

func TestProcessPaymentGatewayErrors(t *testing.T) {
	tests := []struct {
		name    string
		outcome gateway.MockOutcome
		want    error
	}{
		{"decline", gateway.MockDecline, domain.ErrPaymentDeclined},
		{"misconfigured", gateway.MockMisconfigured, domain.ErrProviderMisconfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.outcome)
			_, err := f.svc.ProcessPayment(context.Background(), "K", usd("5.00"))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if n := f.db.paymentCount(); n != 0 {
				t.Errorf("expected no rows, got %d", n)
			}
		})
	}
}

func TestProcessPaymentValidation(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		mutate func(*PaymentRequest)
	}{
		{"missing key", "", func(*PaymentRequest) {}},
		{"long key", strings.Repeat("k", 256), func(*PaymentRequest) {}},
		{"missing user", "K", func(r *PaymentRequest) { r.UserID = " " }},
		{"zero amount", "K", func(r *PaymentRequest) { r.Amount = decimal.Zero }},
		{"negative amount", "K", func(r *PaymentRequest) { r.Amount = decimal.NewFromInt(-1) }},
		{"sub-cent amount", "K", func(r *PaymentRequest) { r.Amount = decimal.RequireFromString("1.001") }},
		{"bad currency", "K", func(r *PaymentRequest) { r.Currency = "US" }},
		{"unknown provider", "K", func(r *PaymentRequest) { r.Provider = domain.ProviderUnknown }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, gateway.MockSuccess)
			req := usd("10.00")
			tt.mutate(&req)
			if _, err := f.svc.ProcessPayment(context.Background(), tt.key, req); !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestProcessPaymentNormalizesCurrency(t *testing.T) {
	f := newFixture(t, gateway.MockSuccess)
	req := usd("10.00")
	req.Currency = "usd"
	res, err := f.svc.ProcessPayment(context.Background(), "K", req)
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if res.Payment.Currency != "USD" {
		t.Errorf("currency = %q", res.Payment.Currency)
	}
}

func TestProcessPaymentProviderNotEnabled(t *testing.T) {
	f := newFixture(t, gateway.MockSuccess)
	req := usd("10.00")
	req.Provider = domain.ProviderMidtrans
	if _, err := f.svc.ProcessPayment(context.Background(), "K", req); !errors.Is(err, domain.ErrProviderMisconfigured) {
		t.Errorf("expected ErrProviderMisconfigured, got %v", err)
	}
}

func TestProcessPaymentConcurrentInsertReturnsWinner(t *testing.T) {
	f := newFixture(t, gateway.MockSuccess)
	winner := domain.Payment{
		ID:                "11111111-1111-1111-1111-111111111111",
		IdempotencyKey:    "K1",
		UserID:            "user-1",
		PurchaseID:        "order-1",
		Amount:            decimal.RequireFromString("100.00"),
		Currency:          "USD",
		Provider:          domain.ProviderMock,
		ProviderPaymentID: "mock_winner",
		Status:            domain.PaymentStatusProcessing,
	}
	f.db.onKeyMiss = func(db *memDB) { db.payments[winner.ID] = winner }

	res, err := f.svc.ProcessPayment(context.Background(), "K1", usd("100.00"))
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if res.Payment.ID != winner.ID || !res.Replayed {
		t.Errorf("expected winner replay, got %+v", res)
	}
	if n := f.db.paymentCount(); n != 1 {
		t.Errorf("expected 1 row, got %d", n)
	}
}

func TestProcessPaymentCommitFailureIsReported(t *testing.T) {
	f := newFixture(t, gateway.MockSuccess)
	f.db.commitErr = errors.New("connection lost")

	if _, err := f.svc.ProcessPayment(context.Background(), "K1", usd("100.00")); err == nil {
		t.Fatal("expected error")
	}
	if n := f.db.paymentCount(); n != 0 {
		t.Errorf("expected no rows, got %d", n)
	}
	entries := f.logs.FilterLevelExact(zapcore.ErrorLevel).FilterField(zap.String("idempotency_key", "K1")).All()
	if len(entries) != 1 {
		t.Fatalf("expected one error log, got %d", len(entries))
	}
	if _, ok := entries[0].ContextMap()["provider_payment_id"]; !ok {
		t.Errorf("error log misses provider_payment_id: %v", entries[0].ContextMap())
	}
}

func TestCompletePaymentRollsBackOnOutboxFailure(t *testing.T) {
	f := newFixture(t, gateway.MockSuccess)
	ctx := context.Background()

	res, err := f.svc.ProcessPayment(ctx, "K1", usd("100.00"))
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}

	f.db.outboxErr = errors.New("disk full")
	if _, err := f.svc.CompletePayment(ctx, res.Payment.ProviderPaymentID, Outcome{Succeeded: true, EventID: "evt_1"}); err == nil {
		t.Fatal("expected error")
	}
	stored, _ := f.db.GetByIDTx(ctx, nil, res.Payment.ID)
	if stored.Status != domain.PaymentStatusProcessing {
		t.Errorf("status after rollback = %s", stored.Status)
	}
	if len(f.db.outboxRows()) != 0 || len(f.db.inbox) != 0 {
		t.Errorf("rollback left outbox/inbox rows")
	}

	// The provider retries the same event once storage recovers.
	f.db.outboxErr = nil
	done, err := f.svc.CompletePayment(ctx, res.Payment.ProviderPaymentID, Outcome{Succeeded: true, EventID: "evt_1"})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if done.Status != domain.PaymentStatusCompleted || len(f.db.outboxRows()) != 1 {
		t.Errorf("retry did not complete payment: %+v", done)
	}
}

func TestCompletePaymentFailureAndExpiry(t *testing.T) {
	tests := []struct {
		name       string
		outcome    Outcome
		wantReason string
	}{
		{"declined", Outcome{Reason: "Your card was declined."}, "Your card was declined."},
		{"expired", Outcome{Reason: "Checkout session expired", Expired: true}, "Checkout session expired"},
		{"no reason", Outcome{}, "Payment failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, gateway.MockSuccess)
			ctx := context.Background()
			res, err := f.svc.ProcessPayment(ctx, "K", usd("20.00"))
			if err != nil {
				t.Fatalf("ProcessPayment: %v", err)
			}

			p, err := f.svc.CompletePayment(ctx, res.Payment.ProviderPaymentID, tt.outcome)
			if err != nil {
				t.Fatalf("CompletePayment: %v", err)
			}
			if p.Status != domain.PaymentStatusFailed || p.FailureReason != tt.wantReason {
				t.Errorf("got %s %q", p.Status, p.FailureReason)
			}

			rows := f.db.outboxRows()
			if len(rows) != 1 || rows[0].Type != events.TypePaymentFailed {
				t.Fatalf("expected one payment.failed row, got %+v", rows)
			}
			evt, err := events.DecodePaymentFailed(rows[0].Payload)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if evt.Expired != tt.outcome.Expired || evt.Reason != tt.wantReason {
				t.Errorf("unexpected event %+v", evt)
			}
		})
	}
}

func TestCompletePaymentUnknownProviderID(t *testing.T) {
	f := newFixture(t, gateway.MockSuccess)
	if _, err := f.svc.CompletePayment(context.Background(), "cs_missing", Outcome{Succeeded: true}); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Errorf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestChargePayment(t *testing.T) {
	tests := []struct {
		name       string
		outcome    gateway.MockOutcome
		wantErr    error
		wantStatus domain.PaymentStatus
		wantEvent  string
	}{
		{"success", gateway.MockSuccess, nil, domain.PaymentStatusCompleted, events.TypePaymentCompleted},
		{"decline", gateway.MockDecline, domain.ErrPaymentDeclined, domain.PaymentStatusFailed, events.TypePaymentFailed},
		{"misconfigured", gateway.MockMisconfigured, domain.ErrSystem, domain.PaymentStatusFailed, events.TypePaymentFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.outcome)
			res, err := f.svc.ChargePayment(context.Background(), "C1", usd("42.00"))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if res == nil || res.Payment.Status != tt.wantStatus {
				t.Fatalf("unexpected result %+v", res)
			}
			rows := f.db.outboxRows()
			if len(rows) != 1 || rows[0].Type != tt.wantEvent {
				t.Fatalf("expected one %s row, got %+v", tt.wantEvent, rows)
			}
			stored, _ := f.db.GetByIDTx(context.Background(), nil, res.Payment.ID)
			if stored.Status != tt.wantStatus {
				t.Errorf("stored status = %s", stored.Status)
			}
		})
	}
}

func TestChargePaymentConnectivityKeepsProcessing(t *testing.T) {
	f := newFixture(t, gateway.MockConnectivity)
	ctx := context.Background()

	_, err := f.svc.ChargePayment(ctx, "C2", usd("42.00"))
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	stored, err := f.db.GetByIdempotencyKeyTx(ctx, nil, "C2")
	if err != nil {
		t.Fatalf("expected a row: %v", err)
	}
	if stored.Status != domain.PaymentStatusProcessing || stored.FailureReason == "" {
		t.Errorf("expected PROCESSING with reason, got %s %q", stored.Status, stored.FailureReason)
	}
	if n := len(f.db.outboxRows()); n != 0 {
		t.Errorf("expected no outbox rows, got %d", n)
	}

	f.mock.SetOutcome(gateway.MockSuccess)
	res, err := f.svc.ChargePayment(ctx, "C2", usd("42.00"))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Payment.ID != stored.ID || !res.Replayed {
		t.Errorf("retry did not reuse payment: %+v", res)
	}
	if res.Payment.Status != domain.PaymentStatusCompleted || res.Payment.FailureReason != "" {
		t.Errorf("unexpected status after retry %s %q", res.Payment.Status, res.Payment.FailureReason)
	}
	if n := f.db.paymentCount(); n != 1 {
		t.Errorf("expected 1 row, got %d", n)
	}
}

func TestChargePaymentGatewayPanicFailsPayment(t *testing.T) {
	f := newFixture(t, gateway.MockSuccess)
	req := usd("42.00")
	req.Provider = domain.ProviderStripe

	res, err := f.svc.ChargePayment(context.Background(), "C3", req)
	if !errors.Is(err, domain.ErrSystem) {
		t.Fatalf("expected ErrSystem, got %v", err)
	}
	if res.Payment.Status != domain.PaymentStatusFailed || !strings.HasPrefix(res.Payment.FailureReason, "system error: ") {
		t.Errorf("unexpected payment %s %q", res.Payment.Status, res.Payment.FailureReason)
	}
	rows := f.db.outboxRows()
	if len(rows) != 1 || rows[0].Type != events.TypePaymentFailed {
		t.Errorf("expected payment.failed row, got %+v", rows)
	}
}

func TestChargePaymentReplayOfTerminal(t *testing.T) {
	f := newFixture(t, gateway.MockSuccess)
	ctx := context.Background()
	first, err := f.svc.ChargePayment(ctx, "C4", usd("1.00"))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.svc.ChargePayment(ctx, "C4", usd("1.00"))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Payment.ID != first.Payment.ID || !second.Replayed {
		t.Errorf("expected replay of %s, got %+v", first.Payment.ID, second)
	}
	if n := len(f.db.outboxRows()); n != 1 {
		t.Errorf("expected 1 outbox row, got %d", n)
	}
}

func TestChargePaymentOverlappingRetrySettlesOnce(t *testing.T) {
	tests := []struct {
		name  string
		first func() (*gateway.Result, error)
	}{
		{"late success", func() (*gateway.Result, error) {
			return &gateway.Result{Success: true, ProviderPaymentID: "pp-late"}, nil
		}},
		{"late decline", func() (*gateway.Result, error) {
			return &gateway.Result{Success: false, ErrorMessage: "card declined"}, nil
		}},
		{"late connectivity failure", func() (*gateway.Result, error) {
			return nil, fmt.Errorf("%w: connection reset", gateway.ErrConnectivity)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newMemDB()
			gw := newBlockingGateway(tt.first)
			svc := NewPaymentService(db, gateway.NewRegistryFrom(gw), db, db, outbox.NewWriter(db),
				NewMetrics(prometheus.NewRegistry()), zap.NewNop())
			ctx := context.Background()

			type outcome struct {
				res *PaymentResult
				err error
			}
			done := make(chan outcome, 1)
			go func() {
				res, err := svc.ChargePayment(ctx, "R1", usd("42.00"))
				done <- outcome{res, err}
			}()
			<-gw.entered

			second, err := svc.ChargePayment(ctx, "R1", usd("42.00"))
			if err != nil {
				t.Fatalf("second charge: %v", err)
			}
			if second.Payment.Status != domain.PaymentStatusCompleted {
				t.Fatalf("second charge status = %s", second.Payment.Status)
			}

			close(gw.release)
			first := <-done
			if first.err != nil {
				t.Fatalf("first charge: %v", first.err)
			}
			if !first.res.Replayed || first.res.Payment.Status != domain.PaymentStatusCompleted {
				t.Errorf("expected replay of completed payment, got %+v", first.res)
			}

			rows := db.outboxRows()
			if len(rows) != 1 || rows[0].Type != events.TypePaymentCompleted {
				t.Errorf("expected one payment.completed row, got %+v", rows)
			}
			stored, _ := db.GetByIDTx(ctx, nil, second.Payment.ID)
			if stored.Status != domain.PaymentStatusCompleted || stored.FailureReason != "" {
				t.Errorf("stored payment regressed: %s %q", stored.Status, stored.FailureReason)
			}
		})
	}
}

func TestRefundPayment(t *testing.T) {
	f := newFixture(t, gateway.MockSuccess)
	ctx := context.Background()

	res, err := f.svc.ProcessPayment(ctx, "R1", usd("9.99"))
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if _, err := f.svc.RefundPayment(ctx, res.Payment.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("refund of processing payment: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := f.svc.CompletePayment(ctx, res.Payment.ProviderPaymentID, Outcome{Succeeded: true}); err != nil {
		t.Fatalf("CompletePayment: %v", err)
	}
	refund, err := f.svc.RefundPayment(ctx, res.Payment.ID)
	if err != nil {
		t.Fatalf("RefundPayment: %v", err)
	}
	if refund.PaymentID != res.Payment.ID || refund.RefundID == "" {
		t.Errorf("unexpected refund %+v", refund)
	}
}

func TestGetAndListPayments(t *testing.T) {
	f := newFixture(t, gateway.MockSuccess)
	ctx := context.Background()

	if _, err := f.svc.GetPayment(ctx, "not-a-uuid"); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Errorf("expected ErrPaymentNotFound, got %v", err)
	}

	res, err := f.svc.ProcessPayment(ctx, "L1", usd("3.00"))
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	got, err := f.svc.GetPayment(ctx, res.Payment.ID)
	if err != nil || got.ID != res.Payment.ID {
		t.Fatalf("GetPayment = %+v, %v", got, err)
	}

	list, err := f.svc.ListPayments(ctx, "user-1")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListPayments = %d, %v", len(list), err)
	}
	if _, err := f.svc.ListPayments(ctx, ""); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}
