package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/docket/internal/domain"
	"github.com/shopspring/decimal"
)

// Issue creates an invoice from itemised charges. A request whose
// idempotency key was already used returns the invoice stored under it.
func (r *SQLRepository) Issue(ctx context.Context, req *domain.IssueRequest) (*domain.Invoice, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: invoice needs at least one item", domain.ErrInvalidArgument)
	}
	if err := r.caseExists(ctx, req.CaseID); err != nil {
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	}

	amount := decimal.Zero
	for _, item := range req.Items {
		if item.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: negative invoice item %q", domain.ErrInvalidArgument, item.Description)
		}
		amount = amount.Add(item.Amount)
	}

	now := time.Now().UTC()
	id := uuid.New().String()
	inv := &domain.Invoice{
		ID:             id,
		Number:         invoiceNumber(id, now),
		CaseID:         req.CaseID,
		ClientID:       req.ClientID,
		Items:          req.Items,
		Amount:         amount,
		Currency:       strings.ToUpper(req.Currency),
		Status:         domain.InvoiceStatusIssued,
		IdempotencyKey: key,
		IssuedAt:       now,
	}
	items, _ := json.Marshal(inv.Items)

	query := `
		INSERT INTO invoices (
			id, number, case_id, client_id, items, amount, currency, status, idempotency_key, issued_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		inv.ID, inv.Number, inv.CaseID, inv.ClientID, string(items),
		inv.Amount, inv.Currency, inv.Status, inv.IdempotencyKey, inv.IssuedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store invoice: %w", err)
	}
	if rows, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if rows == 1 {
		return inv, nil
	}

	// Key already used: hand back the original invoice.
	return r.invoiceByKey(ctx, key)
}

const invoiceColumns = `id, number, case_id, client_id, items, amount, currency, status, idempotency_key, issued_at`

func scanInvoice(s scanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	var items string
	if err := s.Scan(
		&inv.ID, &inv.Number, &inv.CaseID, &inv.ClientID, &items,
		&inv.Amount, &inv.Currency, &inv.Status, &inv.IdempotencyKey, &inv.IssuedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &inv.Items); err != nil {
		return nil, fmt.Errorf("failed to parse items for invoice %s: %w", inv.ID, err)
	}
	return &inv, nil
}

func (r *SQLRepository) invoiceByKey(ctx context.Context, key string) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE idempotency_key = ?`

	inv, err := scanInvoice(r.db.QueryRowContext(ctx, r.rebind(query), key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: invoice with key %s", domain.ErrNotFound, key)
	}
	return inv, err
}

// GetInvoice retrieves an invoice by ID.
func (r *SQLRepository) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`

	inv, err := scanInvoice(r.db.QueryRowContext(ctx, r.rebind(query), invoiceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: invoice %s", domain.ErrNotFound, invoiceID)
	}
	return inv, err
}

// ListInvoices returns the invoices of a case, oldest first.
func (r *SQLRepository) ListInvoices(ctx context.Context, caseID string) ([]*domain.Invoice, error) {
	if err := r.caseExists(ctx, caseID); err != nil {
		return nil, err
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE case_id = ? ORDER BY issued_at, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := []*domain.Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func invoiceNumber(id string, issuedAt time.Time) string {
	return fmt.Sprintf("INV-%s-%s", issuedAt.Format("20060102"), strings.ToUpper(id[:8]))
}
