package fee

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/docket/internal/domain"
	"github.com/shopspring/decimal"
)

// RateSnapshot is an immutable, versioned table of directed exchange rates.
// A→B and B→A are independent entries; nothing is inverted automatically.
type RateSnapshot struct {
	version string
	rates   map[string]decimal.Decimal
}

// NewRateSnapshot copies rates keyed by FROM and TO currency codes.
func NewRateSnapshot(version string, rates map[[2]string]decimal.Decimal) *RateSnapshot {
	s := &RateSnapshot{version: version, rates: make(map[string]decimal.Decimal, len(rates))}
	for pair, rate := range rates {
		s.rates[pairKey(pair[0], pair[1])] = rate
	}
	return s
}

// ParseRateSnapshot builds a snapshot from configuration. Keys are "FROM_TO".
func ParseRateSnapshot(cfg domain.ExchangeConfig) (*RateSnapshot, error) {
	s := &RateSnapshot{version: cfg.Version, rates: make(map[string]decimal.Decimal, len(cfg.Rates))}
	for key, raw := range cfg.Rates {
		from, to, ok := strings.Cut(key, "_")
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("%w: exchange rate key %q must be FROM_TO", domain.ErrInvalidArgument, key)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: exchange rate %s: %v", domain.ErrInvalidArgument, key, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("%w: exchange rate %s must be positive", domain.ErrInvalidArgument, key)
		}
		s.rates[pairKey(from, to)] = rate
	}
	return s, nil
}

func pairKey(from, to string) string {
	return strings.ToUpper(from) + "_" + strings.ToUpper(to)
}

// Version identifies the snapshot.
func (s *RateSnapshot) Version() string {
	if s == nil {
		return ""
	}
	return s.version
}

// Rate returns the directed rate from one currency to another.
// The same currency always converts at 1.
func (s *RateSnapshot) Rate(from, to string) (decimal.Decimal, bool) {
	if strings.EqualFold(from, to) {
		return decimal.NewFromInt(1), true
	}
	if s == nil {
		return decimal.Zero, false
	}
	rate, ok := s.rates[pairKey(from, to)]
	return rate, ok
}
