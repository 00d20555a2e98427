package fee

import (
	"errors"
	"testing"

	"github.com/opensource-finance/docket/internal/compliance"
	"github.com/opensource-finance/docket/internal/domain"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func testComputer(t *testing.T) *Computer {
	t.Helper()
	table, err := compliance.NewTable(domain.ComplianceConfig{
		MinimumHourlyRate:        map[string]string{"local": "200", "provincial": "200", "national": "200"},
		MaxContingencyPercentage: map[string]string{"local": "30", "provincial": "30", "national": "30"},
		TaxRates:                 map[string]map[string]string{"local": {"CAD": "0.13"}},
		CourtApprovalThreshold:   "1000000",
	})
	if err != nil {
		t.Fatalf("failed to build compliance table: %v", err)
	}
	rates, err := ParseRateSnapshot(domain.ExchangeConfig{
		Version: "test-1",
		Rates:   map[string]string{"USD_CAD": "1.36", "CAD_USD": "0.73"},
	})
	if err != nil {
		t.Fatalf("failed to build rate snapshot: %v", err)
	}
	return NewComputer(table, rates)
}

func hasAdjustment(res *domain.FeeResult, adjType string) bool {
	for _, a := range res.Breakdown.Adjustments {
		if a.Type == adjType {
			return true
		}
	}
	return false
}

func TestHourlyMinimumRateFloor(t *testing.T) {
	c := testComputer(t)

	res, err := c.ComputeFee(domain.FeeRequest{
		Arrangement: domain.Hourly{Hours: d("10"), Rate: d("50")},
	})
	if err != nil {
		t.Fatalf("ComputeFee failed: %v", err)
	}

	if !res.BaseFee.Equal(d("2000")) {
		t.Errorf("expected base fee 2000, got %s", res.BaseFee)
	}
	if !res.FinalFee.Equal(d("2000")) {
		t.Errorf("expected final fee 2000, got %s", res.FinalFee)
	}
	if !hasAdjustment(res, domain.AdjustmentMinimumRate) {
		t.Error("expected a minimum_rate adjustment")
	}
	if res.Compliance.MeetsMinimumWage {
		t.Error("expected meetsMinimumWage=false when the requested rate is below the floor")
	}
	if !res.Compliance.DisclosureRequired {
		t.Error("expected disclosureRequired=true")
	}
	if res.Currency != DefaultCurrency {
		t.Errorf("expected default currency %s, got %s", DefaultCurrency, res.Currency)
	}
}

func TestHourlyAboveFloorHasNoAdjustment(t *testing.T) {
	c := testComputer(t)

	res, err := c.ComputeFee(domain.FeeRequest{
		Arrangement: domain.Hourly{Hours: d("3"), Rate: d("250")},
	})
	if err != nil {
		t.Fatalf("ComputeFee failed: %v", err)
	}
	if !res.FinalFee.Equal(d("750")) {
		t.Errorf("expected 750, got %s", res.FinalFee)
	}
	if hasAdjustment(res, domain.AdjustmentMinimumRate) {
		t.Error("unexpected minimum_rate adjustment")
	}
	if !res.Compliance.MeetsMinimumWage {
		t.Error("expected meetsMinimumWage=true")
	}
}

func TestFlatJurisdictionMultiplier(t *testing.T) {
	c := testComputer(t)

	tests := []struct {
		jurisdiction domain.Jurisdiction
		want         string
	}{
		{domain.JurisdictionLocal, "1000"},
		{domain.JurisdictionProvincial, "1200"},
		{domain.JurisdictionNational, "1500"},
	}

	for _, tt := range tests {
		t.Run(string(tt.jurisdiction), func(t *testing.T) {
			res, err := c.ComputeFee(domain.FeeRequest{
				Arrangement:  domain.Flat{BaseAmount: d("1000")},
				Jurisdiction: tt.jurisdiction,
			})
			if err != nil {
				t.Fatalf("ComputeFee failed: %v", err)
			}
			if !res.FinalFee.Equal(d(tt.want)) {
				t.Errorf("expected %s, got %s", tt.want, res.FinalFee)
			}
		})
	}
}

func TestComplexityAndUrgencyMultipliers(t *testing.T) {
	c := testComputer(t)

	res, err := c.ComputeFee(domain.FeeRequest{
		Arrangement: domain.Flat{BaseAmount: d("1000")},
		Complexity:  domain.ComplexityMedium,
		Urgency:     domain.UrgencyExpedited,
	})
	if err != nil {
		t.Fatalf("ComputeFee failed: %v", err)
	}

	// 1000 × 1.3 × 1.5
	if !res.FinalFee.Equal(d("1950")) {
		t.Errorf("expected 1950, got %s", res.FinalFee)
	}
	if !res.Multipliers.Complexity.Equal(d("1.3")) || !res.Multipliers.Urgency.Equal(d("1.5")) {
		t.Errorf("unexpected multipliers: %+v", res.Multipliers)
	}
	if !hasAdjustment(res, domain.AdjustmentComplexity) || !hasAdjustment(res, domain.AdjustmentUrgency) {
		t.Error("expected complexity and urgency adjustments")
	}
}

func TestClampAndTax(t *testing.T) {
	c := testComputer(t)

	t.Run("minimum clamp", func(t *testing.T) {
		res, err := c.ComputeFee(domain.FeeRequest{
			Arrangement: domain.Flat{BaseAmount: d("100")},
			Minimum:     dp("500"),
		})
		if err != nil {
			t.Fatalf("ComputeFee failed: %v", err)
		}
		if !res.FinalFee.Equal(d("500")) {
			t.Errorf("expected 500, got %s", res.FinalFee)
		}
		if !hasAdjustment(res, domain.AdjustmentMinimumClamp) {
			t.Error("expected minimum_fee adjustment")
		}
	})

	t.Run("maximum clamp", func(t *testing.T) {
		res, err := c.ComputeFee(domain.FeeRequest{
			Arrangement: domain.Flat{BaseAmount: d("10000")},
			Complexity:  domain.ComplexityComplex,
			Maximum:     dp("12000"),
		})
		if err != nil {
			t.Fatalf("ComputeFee failed: %v", err)
		}
		if !res.FinalFee.Equal(d("12000")) {
			t.Errorf("expected 12000, got %s", res.FinalFee)
		}
	})

	t.Run("tax rounded to two places", func(t *testing.T) {
		res, err := c.ComputeFee(domain.FeeRequest{
			Arrangement: domain.Flat{BaseAmount: d("333.33")},
			Currency:    "cad",
		})
		if err != nil {
			t.Fatalf("ComputeFee failed: %v", err)
		}
		// 333.33 × 0.13 = 43.3329
		if !res.TaxAmount.Equal(d("43.33")) {
			t.Errorf("expected tax 43.33, got %s", res.TaxAmount)
		}
		if !res.TotalWithTax.Equal(d("376.66")) {
			t.Errorf("expected total 376.66, got %s", res.TotalWithTax)
		}
		if res.Currency != "CAD" {
			t.Errorf("expected CAD, got %s", res.Currency)
		}
	})

	t.Run("unknown tax pair is zero", func(t *testing.T) {
		res, err := c.ComputeFee(domain.FeeRequest{
			Arrangement:  domain.Flat{BaseAmount: d("100")},
			Jurisdiction: domain.JurisdictionNational,
			Currency:     "JPY",
		})
		if err != nil {
			t.Fatalf("ComputeFee failed: %v", err)
		}
		if !res.TaxAmount.IsZero() {
			t.Errorf("expected zero tax, got %s", res.TaxAmount)
		}
	})

	t.Run("minimum above maximum", func(t *testing.T) {
		_, err := c.ComputeFee(domain.FeeRequest{
			Arrangement: domain.Flat{BaseAmount: d("100")},
			Minimum:     dp("500"),
			Maximum:     dp("200"),
		})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestRetainerIsRefundable(t *testing.T) {
	c := testComputer(t)

	res, err := c.ComputeFee(domain.FeeRequest{
		Arrangement: domain.Retainer{BaseAmount: d("5000")},
	})
	if err != nil {
		t.Fatalf("ComputeFee failed: %v", err)
	}
	if !res.Refundable {
		t.Error("expected retainer to be refundable")
	}
	if !res.FinalFee.Equal(d("5000")) {
		t.Errorf("expected 5000, got %s", res.FinalFee)
	}
}

func TestHybridSumsComponents(t *testing.T) {
	c := testComputer(t)

	a, err := domain.ParseArrangement(domain.FeeHybrid, domain.FeeParameters{
		Hours:      dp("2"),
		Rate:       dp("300"),
		BaseAmount: dp("1000"),
		SuccessFee: dp("250"),
	})
	if err != nil {
		t.Fatalf("ParseArrangement failed: %v", err)
	}

	res, err := c.ComputeFee(domain.FeeRequest{Arrangement: a})
	if err != nil {
		t.Fatalf("ComputeFee failed: %v", err)
	}
	// 2×300 + 1000 + 250
	if !res.FinalFee.Equal(d("1850")) {
		t.Errorf("expected 1850, got %s", res.FinalFee)
	}
	if !hasAdjustment(res, domain.AdjustmentSuccessFee) {
		t.Error("expected success_fee adjustment")
	}
}

func TestMissingParameters(t *testing.T) {
	tests := []struct {
		name    string
		feeType domain.FeeType
		params  domain.FeeParameters
	}{
		{"hourly without rate", domain.FeeHourly, domain.FeeParameters{Hours: dp("10")}},
		{"flat without amount", domain.FeeFlat, domain.FeeParameters{}},
		{"contingency without percentage", domain.FeeContingency, domain.FeeParameters{SettlementAmount: dp("1000")}},
		{"empty hybrid", domain.FeeHybrid, domain.FeeParameters{}},
		{"unknown type", domain.FeeType("BARTER"), domain.FeeParameters{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.ParseArrangement(tt.feeType, tt.params)
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}

	t.Run("nil arrangement", func(t *testing.T) {
		_, err := testComputer(t).ComputeFee(domain.FeeRequest{})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("unknown complexity", func(t *testing.T) {
		_, err := testComputer(t).ComputeFee(domain.FeeRequest{
			Arrangement: domain.Flat{BaseAmount: d("100")},
			Complexity:  "byzantine",
		})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestFeeMonotonicity(t *testing.T) {
	c := testComputer(t)

	prev := decimal.Zero
	for _, hours := range []string{"1", "2", "5", "10", "40"} {
		res, err := c.ComputeFee(domain.FeeRequest{
			Arrangement: domain.Hourly{Hours: d(hours), Rate: d("220")},
			Complexity:  domain.ComplexityMedium,
		})
		if err != nil {
			t.Fatalf("ComputeFee failed: %v", err)
		}
		if res.FinalFee.LessThan(prev) {
			t.Errorf("fee decreased at %s hours: %s < %s", hours, res.FinalFee, prev)
		}
		prev = res.FinalFee
	}

	prev = decimal.Zero
	for _, settlement := range []string{"1000", "50000", "900000", "2000000"} {
		res, err := c.ComputeFee(domain.FeeRequest{
			Arrangement: domain.Contingency{SettlementAmount: d(settlement), Percentage: d("25")},
		})
		if err != nil {
			t.Fatalf("ComputeFee failed: %v", err)
		}
		if res.FinalFee.LessThan(prev) {
			t.Errorf("fee decreased at settlement %s: %s < %s", settlement, res.FinalFee, prev)
		}
		prev = res.FinalFee
	}
}

func TestContingencyCap(t *testing.T) {
	c := testComputer(t)

	res, err := c.CalculateContingencyFee(domain.ContingencyRequest{
		SettlementAmount: d("2000000"),
		Percentage:       d("40"),
	})
	if err != nil {
		t.Fatalf("CalculateContingencyFee failed: %v", err)
	}

	if !res.FinalFee.Equal(d("600000")) {
		t.Errorf("expected 600000, got %s", res.FinalFee)
	}
	if !res.EffectivePercentage.Equal(d("30")) {
		t.Errorf("expected effective percentage 30, got %s", res.EffectivePercentage)
	}
	if !res.RequiresCourtApproval {
		t.Error("expected court approval for a settlement above the threshold")
	}
	if res.Compliance.WithinLegalLimits {
		t.Error("expected withinLegalLimits=false when the cap applied")
	}
	if !hasAdjustment(&res.FeeResult, domain.AdjustmentContingencyCap) {
		t.Error("expected contingency_cap adjustment")
	}
	if !res.ClientRecovery.Equal(d("1400000")) {
		t.Errorf("expected client recovery 1400000, got %s", res.ClientRecovery)
	}
}

func TestContingencyCapNeverExceeded(t *testing.T) {
	c := testComputer(t)

	complexities := []domain.Complexity{domain.ComplexitySimple, domain.ComplexityMedium, domain.ComplexityComplex}
	urgencies := []domain.Urgency{domain.UrgencyNormal, domain.UrgencyUrgent, domain.UrgencyExpedited}

	for _, pct := range []string{"10", "25", "30", "31", "50", "100"} {
		for _, cx := range complexities {
			for _, u := range urgencies {
				res, err := c.ComputeFee(domain.FeeRequest{
					Arrangement: domain.Contingency{SettlementAmount: d("100000"), Percentage: d(pct)},
					Complexity:  cx,
					Urgency:     u,
				})
				if err != nil {
					t.Fatalf("ComputeFee failed: %v", err)
				}
				if res.FinalFee.GreaterThan(d("30000")) {
					t.Errorf("fee %s exceeds cap at %s%% %s/%s", res.FinalFee, pct, cx, u)
				}
			}
		}
	}

	t.Run("multipliers push a compliant percentage over the cap", func(t *testing.T) {
		res, err := c.ComputeFee(domain.FeeRequest{
			Arrangement: domain.Contingency{SettlementAmount: d("100000"), Percentage: d("40")},
			Complexity:  domain.ComplexityComplex,
			Urgency:     domain.UrgencyExpedited,
		})
		if err != nil {
			t.Fatalf("ComputeFee failed: %v", err)
		}
		if !res.FinalFee.Equal(d("30000")) {
			t.Errorf("expected 30000, got %s", res.FinalFee)
		}
		if res.Compliance.WithinLegalLimits {
			t.Error("expected withinLegalLimits=false")
		}
		if !hasAdjustment(res, domain.AdjustmentContingencyCap) {
			t.Error("expected contingency_cap adjustment")
		}
	})

	t.Run("within cap after multipliers is untouched", func(t *testing.T) {
		// 100000 × 10% × 1.8 × 1.5 = 27000
		res, err := c.ComputeFee(domain.FeeRequest{
			Arrangement: domain.Contingency{SettlementAmount: d("100000"), Percentage: d("10")},
			Complexity:  domain.ComplexityComplex,
			Urgency:     domain.UrgencyExpedited,
		})
		if err != nil {
			t.Fatalf("ComputeFee failed: %v", err)
		}
		if !res.FinalFee.Equal(d("27000")) {
			t.Errorf("expected 27000, got %s", res.FinalFee)
		}
		if !res.Compliance.WithinLegalLimits {
			t.Error("expected withinLegalLimits=true")
		}
	})

	t.Run("agreed minimum does not lift the fee over the cap", func(t *testing.T) {
		res, err := c.ComputeFee(domain.FeeRequest{
			Arrangement: domain.Contingency{SettlementAmount: d("100000"), Percentage: d("20")},
			Minimum:     dp("50000"),
		})
		if err != nil {
			t.Fatalf("ComputeFee failed: %v", err)
		}
		if !res.FinalFee.Equal(d("30000")) {
			t.Errorf("expected 30000, got %s", res.FinalFee)
		}
	})

	t.Run("hybrid contingency component", func(t *testing.T) {
		a, err := domain.ParseArrangement(domain.FeeHybrid, domain.FeeParameters{
			BaseAmount:       dp("1000"),
			SettlementAmount: dp("100000"),
			Percentage:       dp("25"),
		})
		if err != nil {
			t.Fatalf("ParseArrangement failed: %v", err)
		}
		res, err := c.ComputeFee(domain.FeeRequest{
			Arrangement: a,
			Complexity:  domain.ComplexityComplex,
			Urgency:     domain.UrgencyExpedited,
		})
		if err != nil {
			t.Fatalf("ComputeFee failed: %v", err)
		}
		// flat 1000 × 2.7 = 2700, contingency 25000 × 2.7 capped at 30000
		if !res.FinalFee.Equal(d("32700")) {
			t.Errorf("expected 32700, got %s", res.FinalFee)
		}
		if !hasAdjustment(res, domain.AdjustmentContingencyCap) {
			t.Error("expected contingency_cap adjustment")
		}
		if !res.Compliance.WithinLegalLimits {
			t.Error("withinLegalLimits only tracks CONTINGENCY fees")
		}
	})
}

func TestHybridHourlyBelowFloorKeepsMinimumWage(t *testing.T) {
	c := testComputer(t)

	a, err := domain.ParseArrangement(domain.FeeHybrid, domain.FeeParameters{
		Hours:      dp("2"),
		Rate:       dp("50"),
		BaseAmount: dp("100"),
	})
	if err != nil {
		t.Fatalf("ParseArrangement failed: %v", err)
	}
	res, err := c.ComputeFee(domain.FeeRequest{Arrangement: a})
	if err != nil {
		t.Fatalf("ComputeFee failed: %v", err)
	}
	// 2 × 200 floor + 100
	if !res.FinalFee.Equal(d("500")) {
		t.Errorf("expected 500, got %s", res.FinalFee)
	}
	if !hasAdjustment(res, domain.AdjustmentMinimumRate) {
		t.Error("expected minimum_rate adjustment")
	}
	if !res.Compliance.MeetsMinimumWage {
		t.Error("meetsMinimumWage only tracks HOURLY fees")
	}
}

func TestContingencyExpensesAndSmallSettlement(t *testing.T) {
	c := testComputer(t)

	res, err := c.CalculateContingencyFee(domain.ContingencyRequest{
		SettlementAmount: d("100000"),
		Percentage:       d("25"),
		Expenses:         d("5000"),
	})
	if err != nil {
		t.Fatalf("CalculateContingencyFee failed: %v", err)
	}
	if res.RequiresCourtApproval {
		t.Error("did not expect court approval below the threshold")
	}
	if !res.ClientRecovery.Equal(d("70000")) {
		t.Errorf("expected 70000, got %s", res.ClientRecovery)
	}

	_, err = c.CalculateContingencyFee(domain.ContingencyRequest{
		SettlementAmount: d("100"),
		Percentage:       d("20"),
		Expenses:         d("-1"),
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for negative expenses, got %v", err)
	}
}

func TestCalculateRetainerFee(t *testing.T) {
	c := testComputer(t)

	t.Run("covered hours use the floor", func(t *testing.T) {
		res, err := c.CalculateRetainerFee(domain.RetainerRequest{
			RetainerAmount: d("10000"),
			HourlyRate:     dp("100"),
		})
		if err != nil {
			t.Fatalf("CalculateRetainerFee failed: %v", err)
		}
		if res.CoveredHours == nil || !res.CoveredHours.Equal(d("50")) {
			t.Errorf("expected 50 covered hours, got %v", res.CoveredHours)
		}
		if !res.ReplenishmentThreshold.Equal(d("2000")) {
			t.Errorf("expected default threshold 2000, got %s", res.ReplenishmentThreshold)
		}
		if !res.Refundable {
			t.Error("expected refundable retainer")
		}
	})

	t.Run("custom replenish percent", func(t *testing.T) {
		res, err := c.CalculateRetainerFee(domain.RetainerRequest{
			RetainerAmount:   d("8000"),
			ReplenishPercent: dp("25"),
		})
		if err != nil {
			t.Fatalf("CalculateRetainerFee failed: %v", err)
		}
		if !res.ReplenishmentThreshold.Equal(d("2000")) {
			t.Errorf("expected 2000, got %s", res.ReplenishmentThreshold)
		}
		if res.CoveredHours != nil {
			t.Error("expected no covered hours without a rate")
		}
	})

	t.Run("zero retainer", func(t *testing.T) {
		_, err := c.CalculateRetainerFee(domain.RetainerRequest{RetainerAmount: decimal.Zero})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestConvertCurrency(t *testing.T) {
	c := testComputer(t)

	t.Run("directed pair", func(t *testing.T) {
		conv, err := c.ConvertCurrency(d("100"), "usd", "CAD")
		if err != nil {
			t.Fatalf("ConvertCurrency failed: %v", err)
		}
		if !conv.Converted.Equal(d("136")) {
			t.Errorf("expected 136, got %s", conv.Converted)
		}
		if conv.RateVersion != "test-1" {
			t.Errorf("expected rate version test-1, got %s", conv.RateVersion)
		}
	})

	t.Run("reverse pair is independent", func(t *testing.T) {
		conv, err := c.ConvertCurrency(d("100"), "CAD", "USD")
		if err != nil {
			t.Fatalf("ConvertCurrency failed: %v", err)
		}
		if !conv.Converted.Equal(d("73")) {
			t.Errorf("expected 73, got %s", conv.Converted)
		}
	})

	t.Run("same currency", func(t *testing.T) {
		conv, err := c.ConvertCurrency(d("42.50"), "EUR", "EUR")
		if err != nil {
			t.Fatalf("ConvertCurrency failed: %v", err)
		}
		if !conv.Rate.Equal(d("1")) || !conv.Converted.Equal(d("42.5")) {
			t.Errorf("unexpected conversion: %+v", conv)
		}
	})

	t.Run("missing pair", func(t *testing.T) {
		_, err := c.ConvertCurrency(d("100"), "USD", "EUR")
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestParseRateSnapshotRejectsBadKeys(t *testing.T) {
	for _, key := range []string{"USDCAD", "_CAD", "USD_"} {
		_, err := ParseRateSnapshot(domain.ExchangeConfig{Rates: map[string]string{key: "1.1"}})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("key %q: expected ErrInvalidArgument, got %v", key, err)
		}
	}
	_, err := ParseRateSnapshot(domain.ExchangeConfig{Rates: map[string]string{"USD_CAD": "0"}})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for zero rate, got %v", err)
	}
}
