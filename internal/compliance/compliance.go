// Package compliance provides the regulatory constants the fee computer and
// the completion validator consult.
package compliance

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/docket/internal/domain"
	"github.com/shopspring/decimal"
)

// Table is an immutable snapshot of compliance constants.
// It implements domain.ComplianceRules.
type Table struct {
	version         string
	minimumRates    map[domain.Jurisdiction]decimal.Decimal
	contingencyCaps map[domain.Jurisdiction]decimal.Decimal
	taxRates        map[domain.Jurisdiction]map[string]decimal.Decimal
	courtApproval   decimal.Decimal
	phaseDocuments  map[domain.Phase][]string
}

// NewTable parses a ComplianceConfig into a Table.
// Jurisdictions and phases are matched case-insensitively, currencies are
// normalised to upper case.
func NewTable(cfg domain.ComplianceConfig) (*Table, error) {
	t := &Table{
		version:         cfg.Version,
		minimumRates:    make(map[domain.Jurisdiction]decimal.Decimal),
		contingencyCaps: make(map[domain.Jurisdiction]decimal.Decimal),
		taxRates:        make(map[domain.Jurisdiction]map[string]decimal.Decimal),
		phaseDocuments:  make(map[domain.Phase][]string),
	}

	for key, raw := range cfg.MinimumHourlyRate {
		j, err := jurisdiction(key)
		if err != nil {
			return nil, err
		}
		v, err := parseAmount("minimum hourly rate", key, raw)
		if err != nil {
			return nil, err
		}
		t.minimumRates[j] = v
	}

	for key, raw := range cfg.MaxContingencyPercentage {
		j, err := jurisdiction(key)
		if err != nil {
			return nil, err
		}
		v, err := parseAmount("contingency cap", key, raw)
		if err != nil {
			return nil, err
		}
		if v.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("%w: contingency cap for %s exceeds 100", domain.ErrInvalidArgument, key)
		}
		t.contingencyCaps[j] = v
	}

	for key, rates := range cfg.TaxRates {
		j, err := jurisdiction(key)
		if err != nil {
			return nil, err
		}
		byCurrency := make(map[string]decimal.Decimal, len(rates))
		for ccy, raw := range rates {
			v, err := parseAmount("tax rate", key+"/"+ccy, raw)
			if err != nil {
				return nil, err
			}
			byCurrency[strings.ToUpper(ccy)] = v
		}
		t.taxRates[j] = byCurrency
	}

	if cfg.CourtApprovalThreshold != "" {
		v, err := parseAmount("court approval threshold", "", cfg.CourtApprovalThreshold)
		if err != nil {
			return nil, err
		}
		t.courtApproval = v
	}

	for key, docs := range cfg.PhaseDocumentation {
		p := domain.Phase(strings.ToLower(key))
		if !p.Valid() {
			return nil, fmt.Errorf("%w: unknown phase %q in phase documentation", domain.ErrInvalidArgument, key)
		}
		t.phaseDocuments[p] = append([]string(nil), docs...)
	}

	return t, nil
}

// Default returns the table built from DefaultConfig.
func Default() *Table {
	t, err := NewTable(domain.DefaultConfig().Compliance)
	if err != nil {
		panic(err)
	}
	return t
}

func jurisdiction(key string) (domain.Jurisdiction, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty jurisdiction key", domain.ErrInvalidArgument)
	}
	return domain.ParseJurisdiction(strings.ToLower(key))
}

func parseAmount(what, key, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %s: %v", domain.ErrInvalidArgument, what, key, err)
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s %s must not be negative", domain.ErrInvalidArgument, what, key)
	}
	return v, nil
}

// Version identifies the regulatory rule set.
func (t *Table) Version() string {
	return t.version
}

// MinimumHourlyRate returns 0 when no floor is configured.
func (t *Table) MinimumHourlyRate(j domain.Jurisdiction) decimal.Decimal {
	return t.minimumRates[j]
}

// MaximumContingencyPercentage returns 100 when no cap is configured.
func (t *Table) MaximumContingencyPercentage(j domain.Jurisdiction) decimal.Decimal {
	if v, ok := t.contingencyCaps[j]; ok {
		return v
	}
	return decimal.NewFromInt(100)
}

// TaxRate returns 0 for unknown jurisdiction/currency pairs.
func (t *Table) TaxRate(j domain.Jurisdiction, currency string) decimal.Decimal {
	return t.taxRates[j][strings.ToUpper(currency)]
}

// CourtApprovalThreshold returns the settlement value above which a court
// must approve the fee.
func (t *Table) CourtApprovalThreshold() decimal.Decimal {
	return t.courtApproval
}

// PhaseDocumentation returns a copy of the documents a phase requires.
func (t *Table) PhaseDocumentation(p domain.Phase) []string {
	docs := t.phaseDocuments[p]
	if len(docs) == 0 {
		return nil
	}
	return append([]string(nil), docs...)
}

var _ domain.ComplianceRules = (*Table)(nil)
