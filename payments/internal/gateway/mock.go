package gateway

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"

	"policypay/payments/internal/domain"
)

type MockOutcome string

const (
	MockRandom        MockOutcome = "random"
	MockSuccess       MockOutcome = "success"
	MockDecline       MockOutcome = "decline"
	MockConnectivity  MockOutcome = "connectivity"
	MockMisconfigured MockOutcome = "misconfigured"
)

const (
	defaultMockConnectivityRate = 0.10
	defaultMockDeclineRate      = 0.20
)

type MockConfig struct {
	Outcome          MockOutcome
	Seed             uint64
	ConnectivityRate float64
	DeclineRate      float64
	CheckoutBaseURL  string
}

// MockGateway simulates a provider. With a forced outcome every call ends
// the same way; in random mode a seeded generator splits calls between
// connectivity failures, declines and successes. Results are remembered
// per idempotency key the way a real provider deduplicates retries.
type MockGateway struct {
	mu      sync.Mutex
	cfg     MockConfig
	rng     *rand.Rand
	results map[string]*Result
}

func NewMockGateway(cfg MockConfig) *MockGateway {
	if cfg.Outcome == "" {
		cfg.Outcome = MockRandom
	}
	if cfg.ConnectivityRate == 0 && cfg.DeclineRate == 0 {
		cfg.ConnectivityRate = defaultMockConnectivityRate
		cfg.DeclineRate = defaultMockDeclineRate
	}
	if cfg.CheckoutBaseURL == "" {
		cfg.CheckoutBaseURL = "https://mock-gateway.local/checkout"
	}
	return &MockGateway{
		cfg:     cfg,
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		results: make(map[string]*Result),
	}
}

func (g *MockGateway) Provider() domain.Provider { return domain.ProviderMock }

// SetOutcome changes the forced outcome for subsequent calls.
func (g *MockGateway) SetOutcome(o MockOutcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg.Outcome = o
}

func (g *MockGateway) CreateSession(ctx context.Context, req SessionRequest) (*Result, error) {
	return g.respond(ctx, "session:"+req.IdempotencyKey, true)
}

func (g *MockGateway) Charge(ctx context.Context, req ChargeRequest) (*Result, error) {
	return g.respond(ctx, "charge:"+req.IdempotencyKey, false)
}

func (g *MockGateway) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	return &Result{Success: true, ProviderPaymentID: "mock_re_" + uuid.NewString()}, nil
}

func (g *MockGateway) respond(ctx context.Context, key string, withRedirect bool) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if res, ok := g.results[key]; ok {
		cp := *res
		return &cp, nil
	}

	switch g.pick() {
	case MockConnectivity:
		return nil, fmt.Errorf("%w: mock gateway connection refused", ErrConnectivity)
	case MockMisconfigured:
		return nil, fmt.Errorf("%w: mock gateway rejected credentials", ErrMisconfigured)
	case MockDecline:
		res := declined("Card declined by mock gateway")
		g.results[key] = res
		cp := *res
		return &cp, nil
	}

	id := "mock_" + uuid.NewString()
	res := &Result{Success: true, ProviderPaymentID: id}
	if withRedirect {
		res.RedirectURL = g.cfg.CheckoutBaseURL + "/" + id
	}
	g.results[key] = res
	cp := *res
	return &cp, nil
}

func (g *MockGateway) pick() MockOutcome {
	if g.cfg.Outcome != MockRandom {
		return g.cfg.Outcome
	}
	roll := g.rng.Float64()
	switch {
	case roll < g.cfg.ConnectivityRate:
		return MockConnectivity
	case roll < g.cfg.ConnectivityRate+g.cfg.DeclineRate:
		return MockDecline
	default:
		return MockSuccess
	}
}
