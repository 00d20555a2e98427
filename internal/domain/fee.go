package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FeeType identifies a fee arrangement.
type FeeType string

const (
	FeeHourly      FeeType = "HOURLY"
	FeeFlat        FeeType = "FLAT"
	FeeContingency FeeType = "CONTINGENCY"
	FeeRetainer    FeeType = "RETAINER"
	FeeHybrid      FeeType = "HYBRID"
)

// Jurisdiction is the regulatory scope a fee is computed under.
type Jurisdiction string

const (
	JurisdictionLocal      Jurisdiction = "local"
	JurisdictionProvincial Jurisdiction = "provincial"
	JurisdictionNational   Jurisdiction = "national"
)

// Complexity grades the legal work.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Urgency grades the turnaround.
type Urgency string

const (
	UrgencyNormal    Urgency = "normal"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyExpedited Urgency = "expedited"
)

// ParseJurisdiction defaults an empty value to local.
func ParseJurisdiction(s string) (Jurisdiction, error) {
	switch j := Jurisdiction(s); j {
	case "":
		return JurisdictionLocal, nil
	case JurisdictionLocal, JurisdictionProvincial, JurisdictionNational:
		return j, nil
	default:
		return "", fmt.Errorf("%w: unknown jurisdiction %q", ErrInvalidArgument, s)
	}
}

// ParseComplexity defaults an empty value to simple.
func ParseComplexity(s string) (Complexity, error) {
	switch c := Complexity(s); c {
	case "":
		return ComplexitySimple, nil
	case ComplexitySimple, ComplexityMedium, ComplexityComplex:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unknown complexity %q", ErrInvalidArgument, s)
	}
}

// ParseUrgency defaults an empty value to normal.
func ParseUrgency(s string) (Urgency, error) {
	switch u := Urgency(s); u {
	case "":
		return UrgencyNormal, nil
	case UrgencyNormal, UrgencyUrgent, UrgencyExpedited:
		return u, nil
	default:
		return "", fmt.Errorf("%w: unknown urgency %q", ErrInvalidArgument, s)
	}
}

// Arrangement is a fee arrangement variant. Each variant carries exactly the
// parameters its fee type needs and is checked when constructed.
type Arrangement interface {
	FeeType() FeeType
	validate() error
}

// Hourly bills hours at a rate.
type Hourly struct {
	Hours decimal.Decimal `json:"hours"`
	Rate  decimal.Decimal `json:"rate"`
}

// Flat bills a fixed amount.
type Flat struct {
	BaseAmount decimal.Decimal `json:"baseAmount"`
}

// Contingency bills a percentage of a settlement.
type Contingency struct {
	SettlementAmount decimal.Decimal `json:"settlementAmount"`
	Percentage       decimal.Decimal `json:"percentage"`
}

// Retainer bills a refundable advance.
type Retainer struct {
	BaseAmount decimal.Decimal `json:"baseAmount"`
}

// Hybrid combines any subset of the other arrangements plus a success fee.
type Hybrid struct {
	Hourly      *Hourly          `json:"hourly,omitempty"`
	Flat        *Flat            `json:"flat,omitempty"`
	Contingency *Contingency     `json:"contingency,omitempty"`
	Retainer    *Retainer        `json:"retainer,omitempty"`
	SuccessFee  *decimal.Decimal `json:"successFee,omitempty"`
}

func (Hourly) FeeType() FeeType      { return FeeHourly }
func (Flat) FeeType() FeeType        { return FeeFlat }
func (Contingency) FeeType() FeeType { return FeeContingency }
func (Retainer) FeeType() FeeType    { return FeeRetainer }
func (Hybrid) FeeType() FeeType      { return FeeHybrid }

func (h Hourly) validate() error {
	if !h.Hours.IsPositive() {
		return fmt.Errorf("%w: hours must be positive", ErrInvalidArgument)
	}
	if h.Rate.IsNegative() {
		return fmt.Errorf("%w: rate must not be negative", ErrInvalidArgument)
	}
	return nil
}

func (f Flat) validate() error {
	if f.BaseAmount.IsNegative() {
		return fmt.Errorf("%w: baseAmount must not be negative", ErrInvalidArgument)
	}
	return nil
}

func (c Contingency) validate() error {
	if c.SettlementAmount.IsNegative() {
		return fmt.Errorf("%w: settlementAmount must not be negative", ErrInvalidArgument)
	}
	if c.Percentage.IsNegative() || c.Percentage.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: percentage must be between 0 and 100", ErrInvalidArgument)
	}
	return nil
}

func (r Retainer) validate() error {
	if r.BaseAmount.IsNegative() {
		return fmt.Errorf("%w: retainer amount must not be negative", ErrInvalidArgument)
	}
	return nil
}

func (h Hybrid) validate() error {
	empty := true
	if h.Hourly != nil {
		empty = false
		if err := h.Hourly.validate(); err != nil {
			return err
		}
	}
	if h.Flat != nil {
		empty = false
		if err := h.Flat.validate(); err != nil {
			return err
		}
	}
	if h.Contingency != nil {
		empty = false
		if err := h.Contingency.validate(); err != nil {
			return err
		}
	}
	if h.Retainer != nil {
		empty = false
		if err := h.Retainer.validate(); err != nil {
			return err
		}
	}
	if h.SuccessFee != nil {
		empty = false
		if h.SuccessFee.IsNegative() {
			return fmt.Errorf("%w: successFee must not be negative", ErrInvalidArgument)
		}
	}
	if empty {
		return fmt.Errorf("%w: hybrid fee needs at least one component", ErrInvalidArgument)
	}
	return nil
}

// NewHourly builds a validated hourly arrangement.
func NewHourly(hours, rate decimal.Decimal) (Hourly, error) {
	h := Hourly{Hours: hours, Rate: rate}
	return h, h.validate()
}

// NewContingency builds a validated contingency arrangement.
func NewContingency(settlement, percentage decimal.Decimal) (Contingency, error) {
	c := Contingency{SettlementAmount: settlement, Percentage: percentage}
	return c, c.validate()
}

// ValidateArrangement checks a variant built without a constructor.
func ValidateArrangement(a Arrangement) error {
	if a == nil {
		return fmt.Errorf("%w: fee arrangement is required", ErrInvalidArgument)
	}
	return a.validate()
}

// FeeParameters is the loose wire shape of fee parameters. ParseArrangement
// turns it into a typed variant.
type FeeParameters struct {
	Hours            *decimal.Decimal `json:"hours,omitempty"`
	Rate             *decimal.Decimal `json:"rate,omitempty"`
	BaseAmount       *decimal.Decimal `json:"baseAmount,omitempty"`
	SettlementAmount *decimal.Decimal `json:"settlementAmount,omitempty"`
	Percentage       *decimal.Decimal `json:"percentage,omitempty"`
	RetainerAmount   *decimal.Decimal `json:"retainerAmount,omitempty"`
	SuccessFee       *decimal.Decimal `json:"successFee,omitempty"`
}

// ParseArrangement builds the variant for feeType, failing with
// ErrInvalidArgument when a required parameter is missing.
func ParseArrangement(feeType FeeType, p FeeParameters) (Arrangement, error) {
	var a Arrangement
	switch feeType {
	case FeeHourly:
		if p.Hours == nil || p.Rate == nil {
			return nil, fmt.Errorf("%w: HOURLY requires hours and rate", ErrInvalidArgument)
		}
		a = Hourly{Hours: *p.Hours, Rate: *p.Rate}
	case FeeFlat:
		if p.BaseAmount == nil {
			return nil, fmt.Errorf("%w: FLAT requires baseAmount", ErrInvalidArgument)
		}
		a = Flat{BaseAmount: *p.BaseAmount}
	case FeeContingency:
		if p.SettlementAmount == nil || p.Percentage == nil {
			return nil, fmt.Errorf("%w: CONTINGENCY requires settlementAmount and percentage", ErrInvalidArgument)
		}
		a = Contingency{SettlementAmount: *p.SettlementAmount, Percentage: *p.Percentage}
	case FeeRetainer:
		amount := p.RetainerAmount
		if amount == nil {
			amount = p.BaseAmount
		}
		if amount == nil {
			return nil, fmt.Errorf("%w: RETAINER requires baseAmount", ErrInvalidArgument)
		}
		a = Retainer{BaseAmount: *amount}
	case FeeHybrid:
		h := Hybrid{SuccessFee: p.SuccessFee}
		if p.Hours != nil && p.Rate != nil {
			h.Hourly = &Hourly{Hours: *p.Hours, Rate: *p.Rate}
		}
		if p.BaseAmount != nil {
			h.Flat = &Flat{BaseAmount: *p.BaseAmount}
		}
		if p.SettlementAmount != nil && p.Percentage != nil {
			h.Contingency = &Contingency{SettlementAmount: *p.SettlementAmount, Percentage: *p.Percentage}
		}
		if p.RetainerAmount != nil {
			h.Retainer = &Retainer{BaseAmount: *p.RetainerAmount}
		}
		a = h
	default:
		return nil, fmt.Errorf("%w: unknown fee type %q", ErrInvalidArgument, feeType)
	}

	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// FeeRequest is the input to a fee computation.
type FeeRequest struct {
	Arrangement  Arrangement
	Jurisdiction Jurisdiction
	Complexity   Complexity
	Urgency      Urgency
	Currency     string
	Minimum      *decimal.Decimal
	Maximum      *decimal.Decimal
}

// Multipliers records the factors applied to a base fee.
type Multipliers struct {
	Complexity   decimal.Decimal `json:"complexity"`
	Urgency      decimal.Decimal `json:"urgency"`
	Jurisdiction decimal.Decimal `json:"jurisdiction"`
}

// Adjustment types recorded in a fee breakdown.
const (
	AdjustmentMinimumRate    = "minimum_rate"
	AdjustmentContingencyCap = "contingency_cap"
	AdjustmentJurisdiction   = "jurisdiction"
	AdjustmentComplexity     = "complexity"
	AdjustmentUrgency        = "urgency"
	AdjustmentSuccessFee     = "success_fee"
	AdjustmentMinimumClamp   = "minimum_fee"
	AdjustmentMaximumClamp   = "maximum_fee"
	AdjustmentTax            = "tax"
)

// Adjustment is a structured entry in a fee breakdown.
type Adjustment struct {
	Type       string           `json:"type"`
	Multiplier *decimal.Decimal `json:"multiplier,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Reason     string           `json:"reason"`
}

// Breakdown explains how a fee was computed.
type Breakdown struct {
	Steps           []string     `json:"steps"`
	Adjustments     []Adjustment `json:"adjustments"`
	ComplianceFlags []string     `json:"complianceFlags"`
}

// FeeCompliance is the regulatory snapshot attached to a fee result.
type FeeCompliance struct {
	MeetsMinimumWage      bool `json:"meetsMinimumWage"`
	WithinLegalLimits     bool `json:"withinLegalLimits"`
	DisclosureRequired    bool `json:"disclosureRequired"`
	CourtApprovalRequired bool `json:"courtApprovalRequired"`
}

// FeeResult is a fully itemised fee.
type FeeResult struct {
	FeeType      FeeType         `json:"feeType"`
	BaseFee      decimal.Decimal `json:"baseFee"`
	Multipliers  Multipliers     `json:"multipliers"`
	FinalFee     decimal.Decimal `json:"finalFee"`
	TaxRate      decimal.Decimal `json:"taxRate"`
	TaxAmount    decimal.Decimal `json:"taxAmount"`
	TotalWithTax decimal.Decimal `json:"totalWithTax"`
	Currency     string          `json:"currency"`
	Refundable   bool            `json:"refundable"`
	Breakdown    Breakdown       `json:"breakdown"`
	Compliance   FeeCompliance   `json:"compliance"`
}

// ContingencyRequest is the input to a contingency fee calculation.
type ContingencyRequest struct {
	SettlementAmount decimal.Decimal
	Percentage       decimal.Decimal
	Expenses         decimal.Decimal
	Jurisdiction     Jurisdiction
	Complexity       Complexity
	Urgency          Urgency
	Currency         string
}

// ContingencyResult extends a fee result with settlement figures.
type ContingencyResult struct {
	FeeResult
	EffectivePercentage   decimal.Decimal `json:"effectivePercentage"`
	RequiresCourtApproval bool            `json:"requiresCourtApproval"`
	Expenses              decimal.Decimal `json:"expenses"`
	ClientRecovery        decimal.Decimal `json:"clientRecovery"`
}

// RetainerRequest is the input to a retainer fee calculation.
type RetainerRequest struct {
	RetainerAmount   decimal.Decimal
	HourlyRate       *decimal.Decimal
	ReplenishPercent *decimal.Decimal
	Jurisdiction     Jurisdiction
	Currency         string
}

// RetainerResult extends a fee result with retainer figures.
type RetainerResult struct {
	FeeResult
	EffectiveHourlyRate    *decimal.Decimal `json:"effectiveHourlyRate,omitempty"`
	CoveredHours           *decimal.Decimal `json:"coveredHours,omitempty"`
	ReplenishmentThreshold decimal.Decimal  `json:"replenishmentThreshold"`
}

// Conversion is the result of a currency conversion.
type Conversion struct {
	Amount      decimal.Decimal `json:"amount"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Rate        decimal.Decimal `json:"rate"`
	Converted   decimal.Decimal `json:"converted"`
	RateVersion string          `json:"rateVersion"`
}
