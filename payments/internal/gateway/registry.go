package gateway

import (
	"fmt"

	"go.uber.org/zap"

	"policypay/payments/internal/domain"
)

type Config struct {
	Enabled  []domain.Provider
	Stripe   StripeConfig
	Midtrans MidtransConfig
	Mock     MockConfig
}

// Registry resolves a Provider to its Gateway.
type Registry struct {
	gateways map[domain.Provider]Gateway
}

// NewRegistry builds one gateway per enabled provider. Any provider outside
// the closed set is a configuration error.
func NewRegistry(cfg Config, logger *zap.Logger) (*Registry, error) {
	r := &Registry{gateways: make(map[domain.Provider]Gateway, len(cfg.Enabled))}

	for _, p := range cfg.Enabled {
		var (
			gw  Gateway
			err error
		)
		switch p {
		case domain.ProviderStripe:
			gw, err = NewStripeGateway(cfg.Stripe, logger.With(zap.String("provider", p.String())))
		case domain.ProviderMidtrans:
			gw, err = NewMidtransGateway(cfg.Midtrans, logger.With(zap.String("provider", p.String())))
		case domain.ProviderMock:
			gw = NewMockGateway(cfg.Mock)
		default:
			return nil, fmt.Errorf("%w: unknown provider %d", ErrMisconfigured, int(p))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to configure %s gateway: %w", p, err)
		}
		r.gateways[p] = gw
	}

	return r, nil
}

// NewRegistryFrom wires already constructed gateways.
func NewRegistryFrom(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[domain.Provider]Gateway, len(gateways))}
	for _, gw := range gateways {
		r.gateways[gw.Provider()] = gw
	}
	return r
}

func (r *Registry) Get(p domain.Provider) (Gateway, error) {
	gw, ok := r.gateways[p]
	if !ok {
		return nil, fmt.Errorf("%w: provider %s is not enabled", ErrMisconfigured, p)
	}
	return gw, nil
}
