package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CaseStore reads cases and persists billing-node state.
// Every method fails with ErrNotFound when the case or node is unknown.
type CaseStore interface {
	LoadCase(ctx context.Context, caseID string) (*Case, error)
	LoadNode(ctx context.Context, nodeID string) (*BillingNode, error)
	// LoadNodes returns the active nodes of a case.
	LoadNodes(ctx context.Context, caseID string) ([]*BillingNode, error)

	// SaveNodes stores a fresh node set and deactivates the case's
	// previous incomplete nodes.
	SaveNodes(ctx context.Context, caseID string, nodes []*BillingNode) error

	// PersistNodeCompletion marks a node completed only if it is not
	// completed yet. A lost race returns ErrAlreadyCompleted.
	PersistNodeCompletion(ctx context.Context, nodeID string, completedAt time.Time, validation *ValidationResult) error

	// MarkNodesBilled records the invoice that covers the nodes.
	MarkNodesBilled(ctx context.Context, nodeIDs []string, invoiceID string) error

	// AdvancePhase moves the case to the next lifecycle phase.
	AdvancePhase(ctx context.Context, caseID string) (Phase, error)

	SaveConfiguration(ctx context.Context, cfg *StageBillingConfiguration) error
	LoadConfiguration(ctx context.Context, caseID string) (*StageBillingConfiguration, error)

	// TotalPaid sums the payment ledger of a case.
	TotalPaid(ctx context.Context, caseID string) (decimal.Decimal, error)
}

// InvoiceIssuer creates invoices from itemised charges.
type InvoiceIssuer interface {
	Issue(ctx context.Context, req *IssueRequest) (*Invoice, error)
}

// ComplianceRules exposes jurisdiction-specific regulatory constants.
type ComplianceRules interface {
	MinimumHourlyRate(j Jurisdiction) decimal.Decimal
	MaximumContingencyPercentage(j Jurisdiction) decimal.Decimal
	// TaxRate returns 0 for unknown jurisdiction/currency pairs.
	TaxRate(j Jurisdiction, currency string) decimal.Decimal
	CourtApprovalThreshold() decimal.Decimal
	// PhaseDocumentation lists the documents a phase requires.
	PhaseDocumentation(p Phase) []string
}

// Reminder is a deadline reminder for a billing node.
type Reminder struct {
	UserID  string    `json:"userId"`
	CaseID  string    `json:"caseId"`
	NodeID  string    `json:"nodeId"`
	Name    string    `json:"name"`
	DueDate time.Time `json:"dueDate"`
}

// NotificationSink dispatches reminders. Callers log errors and move on.
type NotificationSink interface {
	Remind(ctx context.Context, reminder Reminder) error
}
