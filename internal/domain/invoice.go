package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceItem is a single charge on an invoice.
type InvoiceItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	UserID      string          `json:"userId,omitempty"`
	NodeID      string          `json:"nodeId,omitempty"`
}

// IssueRequest asks an InvoiceIssuer for a new invoice.
// Retries with the same IdempotencyKey return the original invoice.
type IssueRequest struct {
	CaseID         string        `json:"caseId"`
	ClientID       string        `json:"clientId"`
	Currency       string        `json:"currency"`
	Items          []InvoiceItem `json:"items"`
	IdempotencyKey string        `json:"idempotencyKey"`
}

// Invoice status values.
const (
	InvoiceStatusIssued = "issued"
	InvoiceStatusPaid   = "paid"
	InvoiceStatusVoid   = "void"
)

// Invoice is an issued invoice record.
type Invoice struct {
	ID             string          `json:"id"`
	Number         string          `json:"number"`
	CaseID         string          `json:"caseId"`
	ClientID       string          `json:"clientId"`
	Items          []InvoiceItem   `json:"items"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	IdempotencyKey string          `json:"idempotencyKey"`
	IssuedAt       time.Time       `json:"issuedAt"`
}

// NodeIDs returns the billing nodes covered by the invoice.
func (inv *Invoice) NodeIDs() []string {
	ids := make([]string, 0, len(inv.Items))
	for _, item := range inv.Items {
		if item.NodeID != "" {
			ids = append(ids, item.NodeID)
		}
	}
	return ids
}

// idempotencyNamespace scopes derived invoice keys.
var idempotencyNamespace = uuid.MustParse("6f1c7a52-3a0e-4d55-9b7e-2f4f3c1d8a90")

// IdempotencyKey derives a stable key from its parts, so a retried issuance
// for the same nodes maps onto the invoice already created.
func IdempotencyKey(parts ...string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(strings.Join(parts, "|"))).String()
}
