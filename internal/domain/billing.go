package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Case is the subset of a legal case record the billing engine reads.
type Case struct {
	ID             string          `json:"id"`
	ClientID       string          `json:"clientId"`
	Name           string          `json:"name"`
	Phase          Phase           `json:"phase"`
	PhaseStartedAt time.Time       `json:"phaseStartedAt"`
	OpenedAt       time.Time       `json:"openedAt"`
	Jurisdiction   Jurisdiction    `json:"jurisdiction"`
	Currency       string          `json:"currency"`
	TotalValue     decimal.Decimal `json:"totalValue"`
	LeadAttorneyID string          `json:"leadAttorneyId"`
}

// BillingNode is a billable milestone attached to a case phase.
// Dependencies reference other nodes of the same case; Requirements and
// Triggers are named preconditions and downstream events.
type BillingNode struct {
	ID          string          `json:"id"`
	CaseID      string          `json:"caseId"`
	Phase       Phase           `json:"phase"`
	Order       int             `json:"order"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`

	Requirements []string `json:"requirements,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Triggers     []string `json:"triggers,omitempty"`

	Criteria CompletionCriteria `json:"completionCriteria"`

	IsActive       bool       `json:"isActive"`
	IsCompleted    bool       `json:"isCompleted"`
	CompletionDate *time.Time `json:"completionDate,omitempty"`

	// InvoiceID is set once the node has been billed.
	InvoiceID string `json:"invoiceId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Billed reports whether an invoice already covers the node.
func (n *BillingNode) Billed() bool {
	return n.InvoiceID != ""
}

// HasTrigger reports whether the node fires the named trigger on completion.
func (n *BillingNode) HasTrigger(name string) bool {
	for _, t := range n.Triggers {
		if t == name {
			return true
		}
	}
	return false
}

// CompletionCriteria constrains when a node may be completed.
type CompletionCriteria struct {
	// TimeThreshold is the minimum number of days since the phase started.
	TimeThreshold        *int     `json:"timeThreshold,omitempty"`
	DocumentRequirements []string `json:"documentRequirements,omitempty"`
	ApprovalRequirements []string `json:"approvalRequirements,omitempty"`
}

// Well-known trigger names.
const (
	TriggerGenerateInvoice = "generate_invoice"
)

// StageBillingConfiguration is the per-case billing policy.
type StageBillingConfiguration struct {
	CaseID              string    `json:"caseId"`
	AutoAdvance         bool      `json:"autoAdvance"`
	RequireCompletion   bool      `json:"requireCompletion"`
	AllowPartialBilling bool      `json:"allowPartialBilling"`
	SendNotifications   bool      `json:"sendNotifications"`
	ApprovalRequired    bool      `json:"approvalRequired"`
	GracePeriod         int       `json:"gracePeriod"` // days
	Currency            string    `json:"currency"`
	InvoiceCondition    string    `json:"invoiceCondition,omitempty"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// AutomationTier names the automation level derived from a configuration.
type AutomationTier string

const (
	TierAutomated  AutomationTier = "automated"
	TierAssisted   AutomationTier = "assisted"
	TierSupervised AutomationTier = "supervised"
)

// StageBillingAutomation is the rule set the automation runner evaluates.
type StageBillingAutomation struct {
	Tier       AutomationTier       `json:"tier"`
	Rules      AutomationRules      `json:"rules"`
	Conditions AutomationConditions `json:"conditions"`
}

// AutomationRules toggles each automation step.
type AutomationRules struct {
	AutoGenerateInvoices bool `json:"autoGenerateInvoices"`
	AutoSendReminders    bool `json:"autoSendReminders"`
	AutoAdvanceStages    bool `json:"autoAdvanceStages"`
}

// AutomationConditions parameterise the automation steps.
type AutomationConditions struct {
	MinimumAmount decimal.Decimal `json:"minimumAmount"`

	// MaximumDelay is the reminder look-ahead in days.
	MaximumDelay int `json:"maximumDelay"`

	// InvoiceExpression is a CEL expression gating consolidated invoices.
	InvoiceExpression string `json:"invoiceExpression"`

	// Currency of consolidated invoices; empty means the case currency.
	Currency string `json:"currency,omitempty"`
}

// Payment is a row of the case payment ledger.
type Payment struct {
	ID         string          `json:"id"`
	CaseID     string          `json:"caseId"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Reference  string          `json:"reference,omitempty"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// CompletionEvidence is what a caller supplies when completing a node.
type CompletionEvidence struct {
	CompletionDate  time.Time `json:"completionDate"`
	Documents       []string  `json:"documents,omitempty"`
	ApproverID      string    `json:"approverId,omitempty"`
	UserID          string    `json:"userId,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	GenerateInvoice bool      `json:"generateInvoice"`
}

// HasDocument reports whether name is among the supplied documents.
func (e CompletionEvidence) HasDocument(name string) bool {
	for _, d := range e.Documents {
		if d == name {
			return true
		}
	}
	return false
}

// StageCompliance is the regulatory snapshot attached to a completion.
type StageCompliance struct {
	Phase                  Phase           `json:"phase"`
	DocumentationRequired  []string        `json:"documentationRequired"`
	MissingDocumentation   []string        `json:"missingDocumentation,omitempty"`
	CourtApprovalRequired  bool            `json:"courtApprovalRequired"`
	CourtApprovalThreshold decimal.Decimal `json:"courtApprovalThreshold"`
}

// ValidationResult is the outcome of a completion validation.
type ValidationResult struct {
	IsValid         bool            `json:"isValid"`
	Errors          []string        `json:"errors"`
	Warnings        []string        `json:"warnings"`
	Recommendations []string        `json:"recommendations"`
	Compliance      StageCompliance `json:"compliance"`

	// DependencyErrors is the subset of Errors caused by unmet dependencies.
	DependencyErrors []string `json:"-"`
}

// StageBillingValidation reports problems with a node set at creation time.
type StageBillingValidation struct {
	IsValid         bool     `json:"isValid"`
	Errors          []string `json:"errors"`
	Warnings        []string `json:"warnings"`
	Recommendations []string `json:"recommendations"`
}
