package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"policypay/payments/internal/domain"
	"policypay/payments/internal/gateway"
)

// memDB backs the repository fakes. WithinTx snapshots the state and
// restores it when fn fails, the way a rolled back transaction would.
type memDB struct {
	mu sync.Mutex

	payments map[string]domain.Payment
	outbox   []domain.OutboxMessage
	inbox    map[string]bool

	commitErr error
	outboxErr error
	// onKeyMiss runs once after a lookup by key found nothing, standing in
	// for a concurrent request that commits first.
	onKeyMiss func(db *memDB)
}

func newMemDB() *memDB {
	return &memDB{
		payments: map[string]domain.Payment{},
		inbox:    map[string]bool{},
	}
}

type memState struct {
	payments map[string]domain.Payment
	outbox   []domain.OutboxMessage
	inbox    map[string]bool
}

func (db *memDB) snapshot() memState {
	s := memState{
		payments: make(map[string]domain.Payment, len(db.payments)),
		outbox:   append([]domain.OutboxMessage(nil), db.outbox...),
		inbox:    make(map[string]bool, len(db.inbox)),
	}
	for k, v := range db.payments {
		s.payments[k] = v
	}
	for k, v := range db.inbox {
		s.inbox[k] = v
	}
	return s
}

func (db *memDB) restore(s memState) {
	db.payments, db.outbox, db.inbox = s.payments, s.outbox, s.inbox
}

func (db *memDB) DB() domain.Querier { return nil }

func (db *memDB) WithinTx(ctx context.Context, fn func(q domain.Querier) error) error {
	db.mu.Lock()
	snap := db.snapshot()
	db.mu.Unlock()

	if err := fn(nil); err != nil {
		db.mu.Lock()
		db.restore(snap)
		db.mu.Unlock()
		return err
	}
	if db.commitErr != nil {
		db.mu.Lock()
		db.restore(snap)
		db.mu.Unlock()
		return fmt.Errorf("failed to commit transaction: %w", db.commitErr)
	}
	return nil
}

func (db *memDB) CreateTx(_ context.Context, _ domain.Querier, p *domain.Payment) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, existing := range db.payments {
		if existing.IdempotencyKey == p.IdempotencyKey ||
			(p.ProviderPaymentID != "" && existing.ProviderPaymentID == p.ProviderPaymentID) {
			return fmt.Errorf("payment %s: %w", p.ID, domain.ErrAlreadyExists)
		}
	}
	db.payments[p.ID] = *p
	return nil
}

func (db *memDB) UpdateTx(_ context.Context, _ domain.Querier, p *domain.Payment) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.payments[p.ID]; !ok {
		return domain.ErrPaymentNotFound
	}
	db.payments[p.ID] = *p
	return nil
}

func (db *memDB) find(match func(domain.Payment) bool) (*domain.Payment, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, p := range db.payments {
		if match(p) {
			cp := p
			return &cp, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (db *memDB) GetByIDTx(_ context.Context, _ domain.Querier, id string) (*domain.Payment, error) {
	return db.find(func(p domain.Payment) bool { return p.ID == id })
}

func (db *memDB) GetByIDForUpdateTx(_ context.Context, _ domain.Querier, id string) (*domain.Payment, error) {
	return db.find(func(p domain.Payment) bool { return p.ID == id })
}

func (db *memDB) GetByIdempotencyKeyTx(_ context.Context, _ domain.Querier, key string) (*domain.Payment, error) {
	p, err := db.find(func(p domain.Payment) bool { return p.IdempotencyKey == key })
	if err != nil && db.onKeyMiss != nil {
		hook := db.onKeyMiss
		db.onKeyMiss = nil
		db.mu.Lock()
		hook(db)
		db.mu.Unlock()
	}
	return p, err
}

func (db *memDB) GetByProviderPaymentIDForUpdateTx(_ context.Context, _ domain.Querier, id string) (*domain.Payment, error) {
	return db.find(func(p domain.Payment) bool { return p.ProviderPaymentID == id })
}

func (db *memDB) ListByUserTx(_ context.Context, _ domain.Querier, userID string, limit int) ([]*domain.Payment, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*domain.Payment
	for _, p := range db.payments {
		if p.UserID == userID {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (db *memDB) RecordTx(_ context.Context, _ domain.Querier, evt *domain.WebhookEvent) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := evt.Provider.String() + "/" + evt.ID
	if db.inbox[key] {
		return false, nil
	}
	db.inbox[key] = true
	return true, nil
}

func (db *memDB) CreateMessageTx(_ context.Context, _ domain.Querier, msg *domain.OutboxMessage) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.outboxErr != nil {
		return db.outboxErr
	}
	db.outbox = append(db.outbox, *msg)
	return nil
}

func (db *memDB) paymentCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.payments)
}

func (db *memDB) outboxRows() []domain.OutboxMessage {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]domain.OutboxMessage(nil), db.outbox...)
}

// panicGateway stands in for a provider whose SDK blows up.
type panicGateway struct{}

func (panicGateway) Provider() domain.Provider { return domain.ProviderStripe }

func (panicGateway) CreateSession(context.Context, gateway.SessionRequest) (*gateway.Result, error) {
	return nil, errors.New("unexpected")
}

func (panicGateway) Charge(context.Context, gateway.ChargeRequest) (*gateway.Result, error) {
	panic("nil pointer in provider sdk")
}

func (panicGateway) Refund(context.Context, gateway.RefundRequest) (*gateway.Result, error) {
	return nil, gateway.ErrNotSupported
}

// blockingGateway holds its first Charge until release is closed, so a
// second charge for the same key can settle the payment in between.
type blockingGateway struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
	first   func() (*gateway.Result, error)
}

func newBlockingGateway(first func() (*gateway.Result, error)) *blockingGateway {
	return &blockingGateway{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		first:   first,
	}
}

func (g *blockingGateway) Provider() domain.Provider { return domain.ProviderMock }

func (g *blockingGateway) CreateSession(context.Context, gateway.SessionRequest) (*gateway.Result, error) {
	return nil, gateway.ErrNotSupported
}

func (g *blockingGateway) Charge(_ context.Context, req gateway.ChargeRequest) (*gateway.Result, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	if n == 1 {
		close(g.entered)
		<-g.release
		return g.first()
	}
	return &gateway.Result{Success: true, ProviderPaymentID: "pp-" + req.IdempotencyKey}, nil
}

func (g *blockingGateway) Refund(context.Context, gateway.RefundRequest) (*gateway.Result, error) {
	return nil, gateway.ErrNotSupported
}
