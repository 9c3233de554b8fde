package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Policy struct {
	ID             string
	Name           string
	Premium        decimal.Decimal
	Currency       string
	DurationMonths int
	Active         bool
	CreatedAt      time.Time
}

func NewPolicy(id, name string, premium decimal.Decimal, currency string, durationMonths int, now time.Time) (*Policy, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	switch {
	case strings.TrimSpace(name) == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	case !premium.IsPositive():
		return nil, fmt.Errorf("%w: premium must be positive", ErrInvalidPolicy)
	case len(currency) != 3:
		return nil, fmt.Errorf("%w: currency must be a 3-letter ISO code", ErrInvalidPolicy)
	case durationMonths <= 0:
		return nil, fmt.Errorf("%w: duration must be at least one month", ErrInvalidPolicy)
	}
	return &Policy{
		ID:             id,
		Name:           strings.TrimSpace(name),
		Premium:        premium,
		Currency:       currency,
		DurationMonths: durationMonths,
		Active:         true,
		CreatedAt:      now.UTC(),
	}, nil
}

func (p *Policy) CoverageEnd(start time.Time) time.Time {
	return start.AddDate(0, p.DurationMonths, 0)
}
