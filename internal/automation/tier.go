package automation

import (
	"strings"

	"github.com/opensource-finance/docket/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultMinimumAmount is the unbilled total below which consolidated
// invoices wait when partial billing is off.
var DefaultMinimumAmount = decimal.NewFromInt(5000)

// DefaultMaximumDelay is the reminder look-ahead, in days, when the
// configuration sets no grace period.
const DefaultMaximumDelay = 7

// ResolveAutomation derives the automation rule set from a configuration.
func ResolveAutomation(cfg *domain.StageBillingConfiguration) *domain.StageBillingAutomation {
	if cfg == nil {
		cfg = &domain.StageBillingConfiguration{ApprovalRequired: true}
	}

	tier := domain.TierSupervised
	switch {
	case cfg.AutoAdvance && !cfg.ApprovalRequired:
		tier = domain.TierAutomated
	case !cfg.ApprovalRequired:
		tier = domain.TierAssisted
	}

	minimum := DefaultMinimumAmount
	if cfg.AllowPartialBilling {
		minimum = decimal.Zero
	}

	delay := cfg.GracePeriod
	if delay <= 0 {
		delay = DefaultMaximumDelay
	}

	expr := cfg.InvoiceCondition
	if expr == "" {
		expr = DefaultInvoiceExpression
	}

	return &domain.StageBillingAutomation{
		Tier: tier,
		Rules: domain.AutomationRules{
			AutoGenerateInvoices: !cfg.ApprovalRequired,
			AutoSendReminders:    cfg.SendNotifications,
			AutoAdvanceStages:    cfg.AutoAdvance,
		},
		Conditions: domain.AutomationConditions{
			MinimumAmount:     minimum,
			MaximumDelay:      delay,
			InvoiceExpression: expr,
			Currency:          strings.ToUpper(cfg.Currency),
		},
	}
}
