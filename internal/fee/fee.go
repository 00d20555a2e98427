// Package fee computes itemised legal fees for every fee arrangement.
//
// All computations are pure: a Computer holds only the immutable compliance
// table and exchange-rate snapshot it was built with.
package fee

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/docket/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a request names no currency.
const DefaultCurrency = "USD"

// DefaultReplenishPercent is the share of a retainer below which it must be
// topped up.
const DefaultReplenishPercent = 20

// Compliance flags recorded in a fee breakdown.
const (
	FlagDisclosureRequired    = "disclosure_required"
	FlagMinimumRateApplied    = "minimum_rate_applied"
	FlagContingencyCapApplied = "contingency_cap_applied"
	FlagCourtApprovalRequired = "court_approval_required"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

var jurisdictionMultipliers = map[domain.Jurisdiction]decimal.Decimal{
	domain.JurisdictionLocal:      decimal.NewFromInt(1),
	domain.JurisdictionProvincial: decimal.RequireFromString("1.2"),
	domain.JurisdictionNational:   decimal.RequireFromString("1.5"),
}

var complexityMultipliers = map[domain.Complexity]decimal.Decimal{
	domain.ComplexitySimple:  decimal.NewFromInt(1),
	domain.ComplexityMedium:  decimal.RequireFromString("1.3"),
	domain.ComplexityComplex: decimal.RequireFromString("1.8"),
}

var urgencyMultipliers = map[domain.Urgency]decimal.Decimal{
	domain.UrgencyNormal:    decimal.NewFromInt(1),
	domain.UrgencyUrgent:    decimal.RequireFromString("1.2"),
	domain.UrgencyExpedited: decimal.RequireFromString("1.5"),
}

// Computer computes fees against a fixed compliance table and rate snapshot.
type Computer struct {
	rules domain.ComplianceRules
	rates *RateSnapshot
}

// NewComputer creates a fee computer. rates may be nil, in which case only
// same-currency conversions succeed.
func NewComputer(rules domain.ComplianceRules, rates *RateSnapshot) *Computer {
	return &Computer{rules: rules, rates: rates}
}

// calculation accumulates intermediate values so the breakdown steps and the
// structured adjustments come from the same numbers.
type calculation struct {
	feeType      domain.FeeType
	jurisdiction domain.Jurisdiction
	rules        domain.ComplianceRules

	base                decimal.Decimal
	jurisdictionApplied decimal.Decimal
	refundable          bool
	steps               []string
	adjustments         []domain.Adjustment
	flags               []string
	compliance          domain.FeeCompliance

	effectivePercentage *decimal.Decimal

	// contingencyShare is the contingency part of base; contingencyLimit is
	// settlement × cap / 100 and bounds that part after every multiplier.
	hasContingency   bool
	contingencyShare decimal.Decimal
	contingencyLimit decimal.Decimal
}

func (c *calculation) step(format string, args ...any) {
	c.steps = append(c.steps, fmt.Sprintf(format, args...))
}

func (c *calculation) adjust(adjType string, multiplier, amount *decimal.Decimal, reason string) {
	c.adjustments = append(c.adjustments, domain.Adjustment{
		Type:       adjType,
		Multiplier: multiplier,
		Amount:     amount,
		Reason:     reason,
	})
}

func (c *calculation) flag(name string) {
	for _, f := range c.flags {
		if f == name {
			return
		}
	}
	c.flags = append(c.flags, name)
}

func (c *calculation) hourly(h domain.Hourly) decimal.Decimal {
	floor := c.rules.MinimumHourlyRate(c.jurisdiction)
	rate := h.Rate
	if rate.LessThan(floor) {
		rate = floor
		amount := floor
		c.adjust(domain.AdjustmentMinimumRate, nil, &amount,
			fmt.Sprintf("rate %s is below the %s minimum hourly rate; %s applied",
				money(h.Rate), c.jurisdiction, money(floor)))
		if c.feeType == domain.FeeHourly {
			c.compliance.MeetsMinimumWage = false
		}
		c.flag(FlagMinimumRateApplied)
	}
	fee := h.Hours.Mul(rate)
	c.step("Hourly: %s hours × %s = %s", h.Hours.String(), money(rate), money(fee))
	return fee
}

func (c *calculation) flat(f domain.Flat) decimal.Decimal {
	m := jurisdictionMultipliers[c.jurisdiction]
	fee := f.BaseAmount.Mul(m)
	c.jurisdictionApplied = m
	c.step("Flat: %s × %s (%s jurisdiction) = %s", money(f.BaseAmount), m.String(), c.jurisdiction, money(fee))
	if !m.Equal(one) {
		mult := m
		c.adjust(domain.AdjustmentJurisdiction, &mult, nil,
			fmt.Sprintf("%s jurisdiction multiplier", c.jurisdiction))
	}
	return fee
}

func (c *calculation) contingency(ct domain.Contingency) decimal.Decimal {
	limit := c.rules.MaximumContingencyPercentage(c.jurisdiction)
	pct := ct.Percentage
	if pct.GreaterThan(limit) {
		pct = limit
		capped := limit
		c.adjust(domain.AdjustmentContingencyCap, nil, &capped,
			fmt.Sprintf("requested %s%% exceeds the %s contingency cap; %s%% applied",
				ct.Percentage.String(), c.jurisdiction, limit.String()))
		if c.feeType == domain.FeeContingency {
			c.compliance.WithinLegalLimits = false
		}
		c.flag(FlagContingencyCapApplied)
	}
	c.effectivePercentage = &pct
	fee := ct.SettlementAmount.Mul(pct).Div(hundred)
	c.step("Contingency: %s × %s%% = %s", money(ct.SettlementAmount), pct.String(), money(fee))

	c.hasContingency = true
	c.contingencyShare = c.contingencyShare.Add(fee)
	c.contingencyLimit = c.contingencyLimit.Add(ct.SettlementAmount.Mul(limit).Div(hundred))

	threshold := c.rules.CourtApprovalThreshold()
	if threshold.IsPositive() && ct.SettlementAmount.GreaterThan(threshold) {
		c.compliance.CourtApprovalRequired = true
		c.flag(FlagCourtApprovalRequired)
	}
	return fee
}

func (c *calculation) retainer(r domain.Retainer) decimal.Decimal {
	c.step("Retainer: %s (refundable)", money(r.BaseAmount))
	return r.BaseAmount
}

func (c *calculation) hybrid(h domain.Hybrid) decimal.Decimal {
	total := decimal.Zero
	if h.Hourly != nil {
		total = total.Add(c.hourly(*h.Hourly))
	}
	if h.Flat != nil {
		total = total.Add(c.flat(*h.Flat))
	}
	if h.Contingency != nil {
		total = total.Add(c.contingency(*h.Contingency))
	}
	if h.Retainer != nil {
		total = total.Add(c.retainer(*h.Retainer))
	}
	if h.SuccessFee != nil && h.SuccessFee.IsPositive() {
		amount := *h.SuccessFee
		total = total.Add(amount)
		c.step("Success fee: +%s", money(amount))
		c.adjust(domain.AdjustmentSuccessFee, nil, &amount, "success fee added to hybrid arrangement")
	}
	c.step("Hybrid base: %s", money(total))
	return total
}

// capContingency keeps the contingency share of fee within the legal cap once
// the complexity and urgency multipliers (factor) have been applied.
func (c *calculation) capContingency(fee, factor decimal.Decimal) decimal.Decimal {
	if !c.hasContingency {
		return fee
	}
	share := c.contingencyShare.Mul(factor)
	if !share.GreaterThan(c.contingencyLimit) {
		return fee
	}
	limit := c.contingencyLimit
	next := fee.Sub(share.Sub(limit))
	c.step("Contingency cap: share %s capped at %s = %s", money(share), money(limit), money(next))
	c.adjust(domain.AdjustmentContingencyCap, nil, &limit,
		fmt.Sprintf("contingency share exceeds the %s cap after multipliers; %s applied", c.jurisdiction, money(limit)))
	if c.feeType == domain.FeeContingency {
		c.compliance.WithinLegalLimits = false
	}
	c.flag(FlagContingencyCapApplied)
	return next
}

// ComputeFee computes an itemised fee. It fails with ErrInvalidArgument when
// the arrangement lacks required parameters or a grade is unknown.
func (c *Computer) ComputeFee(req domain.FeeRequest) (*domain.FeeResult, error) {
	res, _, err := c.compute(req)
	return res, err
}

func (c *Computer) compute(req domain.FeeRequest) (*domain.FeeResult, *calculation, error) {
	if err := domain.ValidateArrangement(req.Arrangement); err != nil {
		return nil, nil, err
	}
	j, err := domain.ParseJurisdiction(string(req.Jurisdiction))
	if err != nil {
		return nil, nil, err
	}
	cx, err := domain.ParseComplexity(string(req.Complexity))
	if err != nil {
		return nil, nil, err
	}
	u, err := domain.ParseUrgency(string(req.Urgency))
	if err != nil {
		return nil, nil, err
	}
	if req.Minimum != nil && req.Maximum != nil && req.Minimum.GreaterThan(*req.Maximum) {
		return nil, nil, fmt.Errorf("%w: minimum %s exceeds maximum %s",
			domain.ErrInvalidArgument, req.Minimum.String(), req.Maximum.String())
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = DefaultCurrency
	}

	calc := &calculation{
		feeType:             req.Arrangement.FeeType(),
		jurisdiction:        j,
		rules:               c.rules,
		jurisdictionApplied: one,
		compliance: domain.FeeCompliance{
			MeetsMinimumWage:   true,
			WithinLegalLimits:  true,
			DisclosureRequired: true,
		},
	}

	switch a := req.Arrangement.(type) {
	case domain.Hourly:
		calc.base = calc.hourly(a)
	case domain.Flat:
		calc.base = calc.flat(a)
	case domain.Contingency:
		calc.base = calc.contingency(a)
	case domain.Retainer:
		calc.base = calc.retainer(a)
		calc.refundable = true
	case domain.Hybrid:
		calc.base = calc.hybrid(a)
	default:
		return nil, nil, fmt.Errorf("%w: unsupported fee arrangement %T", domain.ErrInvalidArgument, req.Arrangement)
	}

	fee := calc.base

	cm := complexityMultipliers[cx]
	if !cm.Equal(one) {
		next := fee.Mul(cm)
		calc.step("Complexity (%s): %s × %s = %s", cx, money(fee), cm.String(), money(next))
		mult := cm
		calc.adjust(domain.AdjustmentComplexity, &mult, nil, fmt.Sprintf("%s complexity multiplier", cx))
		fee = next
	}

	um := urgencyMultipliers[u]
	if !um.Equal(one) {
		next := fee.Mul(um)
		calc.step("Urgency (%s): %s × %s = %s", u, money(fee), um.String(), money(next))
		mult := um
		calc.adjust(domain.AdjustmentUrgency, &mult, nil, fmt.Sprintf("%s urgency multiplier", u))
		fee = next
	}

	fee = calc.capContingency(fee, cm.Mul(um))

	if req.Minimum != nil && fee.LessThan(*req.Minimum) {
		floor := *req.Minimum
		// An agreed minimum never lifts a pure contingency fee over its cap.
		if calc.feeType == domain.FeeContingency && floor.GreaterThan(calc.contingencyLimit) {
			floor = calc.contingencyLimit
		}
		calc.step("Minimum fee: %s raised to %s", money(fee), money(floor))
		calc.adjust(domain.AdjustmentMinimumClamp, nil, &floor, "fee raised to the agreed minimum")
		fee = floor
	}
	if req.Maximum != nil && fee.GreaterThan(*req.Maximum) {
		ceiling := *req.Maximum
		calc.step("Maximum fee: %s capped at %s", money(fee), money(ceiling))
		calc.adjust(domain.AdjustmentMaximumClamp, nil, &ceiling, "fee capped at the agreed maximum")
		fee = ceiling
	}

	fee = fee.Round(2)

	taxRate := c.rules.TaxRate(j, currency)
	tax := fee.Mul(taxRate).Round(2)
	if taxRate.IsPositive() {
		calc.step("Tax (%s%%): %s × %s = %s", taxRate.Mul(hundred).String(), money(fee), taxRate.String(), money(tax))
		amount := tax
		calc.adjust(domain.AdjustmentTax, nil, &amount, fmt.Sprintf("%s tax for %s", currency, j))
	}
	calc.step("Total: %s %s", money(fee.Add(tax)), currency)

	calc.flag(FlagDisclosureRequired)

	return &domain.FeeResult{
		FeeType: req.Arrangement.FeeType(),
		BaseFee: calc.base.Round(2),
		Multipliers: domain.Multipliers{
			Complexity:   cm,
			Urgency:      um,
			Jurisdiction: calc.jurisdictionApplied,
		},
		FinalFee:     fee,
		TaxRate:      taxRate,
		TaxAmount:    tax,
		TotalWithTax: fee.Add(tax),
		Currency:     currency,
		Refundable:   calc.refundable,
		Breakdown: domain.Breakdown{
			Steps:           calc.steps,
			Adjustments:     nonNilAdjustments(calc.adjustments),
			ComplianceFlags: calc.flags,
		},
		Compliance: calc.compliance,
	}, calc, nil
}

// CalculateContingencyFee computes a contingency fee together with the
// client's net recovery.
func (c *Computer) CalculateContingencyFee(req domain.ContingencyRequest) (*domain.ContingencyResult, error) {
	if req.Expenses.IsNegative() {
		return nil, fmt.Errorf("%w: expenses must not be negative", domain.ErrInvalidArgument)
	}
	arrangement, err := domain.NewContingency(req.SettlementAmount, req.Percentage)
	if err != nil {
		return nil, err
	}

	res, calc, err := c.compute(domain.FeeRequest{
		Arrangement:  arrangement,
		Jurisdiction: req.Jurisdiction,
		Complexity:   req.Complexity,
		Urgency:      req.Urgency,
		Currency:     req.Currency,
	})
	if err != nil {
		return nil, err
	}

	recovery := req.SettlementAmount.Sub(res.FinalFee).Sub(req.Expenses).Round(2)
	res.Breakdown.Steps = append(res.Breakdown.Steps,
		fmt.Sprintf("Client recovery: %s − %s − %s expenses = %s",
			money(req.SettlementAmount), money(res.FinalFee), money(req.Expenses), money(recovery)))

	return &domain.ContingencyResult{
		FeeResult:             *res,
		EffectivePercentage:   *calc.effectivePercentage,
		RequiresCourtApproval: res.Compliance.CourtApprovalRequired,
		Expenses:              req.Expenses,
		ClientRecovery:        recovery,
	}, nil
}

// CalculateRetainerFee computes a retainer with the hours it covers and the
// balance at which it must be replenished.
func (c *Computer) CalculateRetainerFee(req domain.RetainerRequest) (*domain.RetainerResult, error) {
	if !req.RetainerAmount.IsPositive() {
		return nil, fmt.Errorf("%w: retainerAmount must be positive", domain.ErrInvalidArgument)
	}
	pct := decimal.NewFromInt(DefaultReplenishPercent)
	if req.ReplenishPercent != nil {
		pct = *req.ReplenishPercent
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return nil, fmt.Errorf("%w: replenishPercent must be between 0 and 100", domain.ErrInvalidArgument)
		}
	}
	if req.HourlyRate != nil && req.HourlyRate.IsNegative() {
		return nil, fmt.Errorf("%w: hourlyRate must not be negative", domain.ErrInvalidArgument)
	}

	res, _, err := c.compute(domain.FeeRequest{
		Arrangement:  domain.Retainer{BaseAmount: req.RetainerAmount},
		Jurisdiction: req.Jurisdiction,
		Currency:     req.Currency,
	})
	if err != nil {
		return nil, err
	}

	out := &domain.RetainerResult{
		FeeResult:              *res,
		ReplenishmentThreshold: req.RetainerAmount.Mul(pct).Div(hundred).Round(2),
	}
	out.Breakdown.Steps = append(out.Breakdown.Steps,
		fmt.Sprintf("Replenish below %s (%s%%)", money(out.ReplenishmentThreshold), pct.String()))

	if req.HourlyRate != nil {
		j, _ := domain.ParseJurisdiction(string(req.Jurisdiction))
		rate := decimal.Max(*req.HourlyRate, c.rules.MinimumHourlyRate(j))
		if rate.IsPositive() {
			hours := req.RetainerAmount.Div(rate).Round(2)
			out.EffectiveHourlyRate = &rate
			out.CoveredHours = &hours
			out.Breakdown.Steps = append(out.Breakdown.Steps,
				fmt.Sprintf("Covers %s hours at %s", hours.String(), money(rate)))
		}
	}
	return out, nil
}

// ConvertCurrency converts an amount with the directed rate snapshot.
// A missing pair fails with ErrInvalidArgument.
func (c *Computer) ConvertCurrency(amount decimal.Decimal, from, to string) (*domain.Conversion, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: source and target currencies are required", domain.ErrInvalidArgument)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must not be negative", domain.ErrInvalidArgument)
	}
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	rate, ok := c.rates.Rate(from, to)
	if !ok {
		return nil, fmt.Errorf("%w: no exchange rate from %s to %s", domain.ErrInvalidArgument, from, to)
	}
	return &domain.Conversion{
		Amount:      amount,
		From:        from,
		To:          to,
		Rate:        rate,
		Converted:   amount.Mul(rate).Round(2),
		RateVersion: c.rates.Version(),
	}, nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func nonNilAdjustments(in []domain.Adjustment) []domain.Adjustment {
	if in == nil {
		return []domain.Adjustment{}
	}
	return in
}
