package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Provider is the closed set of payment providers. Numeric values are
// persisted and accepted on the wire.
type Provider int

const (
	ProviderUnknown  Provider = 0
	ProviderStripe   Provider = 1
	ProviderMidtrans Provider = 2
	ProviderMock     Provider = 3
)

func (p Provider) String() string {
	switch p {
	case ProviderStripe:
		return "stripe"
	case ProviderMidtrans:
		return "midtrans"
	case ProviderMock:
		return "mock"
	default:
		return "unknown"
	}
}

func (p Provider) Valid() bool {
	return p == ProviderStripe || p == ProviderMidtrans || p == ProviderMock
}

// ParseProvider accepts a provider name or its numeric id.
func ParseProvider(s string) (Provider, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "stripe":
		return ProviderStripe, nil
	case "midtrans":
		return ProviderMidtrans, nil
	case "mock":
		return ProviderMock, nil
	}
	if n, err := strconv.Atoi(s); err == nil && Provider(n).Valid() {
		return Provider(n), nil
	}
	return ProviderUnknown, fmt.Errorf("%w: unknown provider %q", ErrProviderMisconfigured, s)
}

func (p Provider) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Provider) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	parsed, err := ParseProvider(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
