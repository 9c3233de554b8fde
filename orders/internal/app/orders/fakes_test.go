package orders

import (
	"context"
	"sync"
	"time"

	"policypay/orders/internal/domain"
	"policypay/orders/internal/paymentclient"
)

type memOrders struct {
	mu      sync.Mutex
	orders  map[string]*domain.Order
	seq     map[int]int
	failErr error
}

func newMemOrders() *memOrders {
	return &memOrders{orders: map[string]*domain.Order{}, seq: map[int]int{}}
}

func (m *memOrders) CreateOrder(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	year := o.CreatedAt.Year()
	m.seq[year]++
	o.OrderNumber = domain.FormatOrderNumber(year, m.seq[year])
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrders) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) ListByCustomer(_ context.Context, customerID string) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Order, 0)
	for _, o := range m.orders {
		if o.CustomerID == customerID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memOrders) SetPaymentReference(_ context.Context, id, ref string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != domain.OrderStatusPendingPayment {
		return domain.ErrOrderNotPending
	}
	o.PaymentReferenceID = ref
	o.UpdatedAt = at
	return nil
}

func (m *memOrders) ActivateOrder(_ context.Context, id, ref string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return false, m.failErr
	}
	o, ok := m.orders[id]
	if !ok || o.Status != domain.OrderStatusPendingPayment {
		return false, nil
	}
	o.Status = domain.OrderStatusActive
	o.PaymentReferenceID = ref
	o.ActivatedAt = &at
	o.UpdatedAt = at
	return true, nil
}

func (m *memOrders) CancelOrder(_ context.Context, id string, status domain.OrderStatus, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return false, m.failErr
	}
	o, ok := m.orders[id]
	if !ok || o.Status != domain.OrderStatusPendingPayment {
		return false, nil
	}
	o.Status = status
	o.FailureReason = reason
	o.UpdatedAt = at
	return true, nil
}

type memPolicies struct {
	mu       sync.Mutex
	policies map[string]*domain.Policy
}

func newMemPolicies() *memPolicies {
	return &memPolicies{policies: map[string]*domain.Policy{}}
}

func (m *memPolicies) CreatePolicy(_ context.Context, p *domain.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.policies[p.ID] = &cp
	return nil
}

func (m *memPolicies) GetPolicyByID(_ context.Context, id string) (*domain.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, domain.ErrPolicyNotFound
	}
	cp := *p
	return &cp, nil
}

type initiateCall struct {
	key string
	req paymentclient.InitiateRequest
}

type fakePayments struct {
	mu      sync.Mutex
	calls   []initiateCall
	err     error
	payment *paymentclient.Payment
}

func (f *fakePayments) InitiatePayment(_ context.Context, key string, req paymentclient.InitiateRequest) (*paymentclient.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, initiateCall{key: key, req: req})
	if f.err != nil {
		return f.payment, f.err
	}
	if f.payment != nil {
		return f.payment, nil
	}
	return &paymentclient.Payment{
		ID:          "pay-" + req.OrderID,
		Status:      "PROCESSING",
		RedirectURL: "https://checkout.example/" + req.OrderID,
	}, nil
}
