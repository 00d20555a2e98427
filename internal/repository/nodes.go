package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/docket/internal/domain"
)

const nodeColumns = `id, case_id, phase, ord, name, description, amount, due_date,
	requirements, dependencies, triggers, criteria,
	is_active, is_completed, completion_date, invoice_id, created_at, updated_at`

func scanNode(s scanner) (*domain.BillingNode, error) {
	var n domain.BillingNode
	var phase string
	var description, invoiceID sql.NullString
	var dueDate, completionDate sql.NullTime
	var requirements, dependencies, triggers, criteria string
	var active, completed int

	if err := s.Scan(
		&n.ID, &n.CaseID, &phase, &n.Order, &n.Name, &description, &n.Amount, &dueDate,
		&requirements, &dependencies, &triggers, &criteria,
		&active, &completed, &completionDate, &invoiceID, &n.CreatedAt, &n.UpdatedAt,
	); err != nil {
		return nil, err
	}

	n.Phase = domain.Phase(phase)
	n.Description = description.String
	n.InvoiceID = invoiceID.String
	n.IsActive = active == 1
	n.IsCompleted = completed == 1
	if dueDate.Valid {
		t := dueDate.Time.UTC()
		n.DueDate = &t
	}
	if completionDate.Valid {
		t := completionDate.Time.UTC()
		n.CompletionDate = &t
	}

	if err := json.Unmarshal([]byte(requirements), &n.Requirements); err != nil {
		return nil, fmt.Errorf("failed to parse requirements for node %s: %w", n.ID, err)
	}
	if err := json.Unmarshal([]byte(dependencies), &n.Dependencies); err != nil {
		return nil, fmt.Errorf("failed to parse dependencies for node %s: %w", n.ID, err)
	}
	if err := json.Unmarshal([]byte(triggers), &n.Triggers); err != nil {
		return nil, fmt.Errorf("failed to parse triggers for node %s: %w", n.ID, err)
	}
	if err := json.Unmarshal([]byte(criteria), &n.Criteria); err != nil {
		return nil, fmt.Errorf("failed to parse criteria for node %s: %w", n.ID, err)
	}
	return &n, nil
}

// LoadNode retrieves a billing node by ID, active or not.
func (r *SQLRepository) LoadNode(ctx context.Context, nodeID string) (*domain.BillingNode, error) {
	query := `SELECT ` + nodeColumns + ` FROM billing_nodes WHERE id = ?`

	n, err := scanNode(r.db.QueryRowContext(ctx, r.rebind(query), nodeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: billing node %s", domain.ErrNotFound, nodeID)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// LoadNodes returns the active nodes of a case ordered by (order, id).
func (r *SQLRepository) LoadNodes(ctx context.Context, caseID string) ([]*domain.BillingNode, error) {
	if err := r.caseExists(ctx, caseID); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + nodeColumns + `
		FROM billing_nodes
		WHERE case_id = ? AND is_active = 1
		ORDER BY ord, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nodes := []*domain.BillingNode{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// SaveNodes stores a fresh node set in one transaction. Incomplete nodes of
// the previous set are deactivated; completed ones keep their history.
func (r *SQLRepository) SaveNodes(ctx context.Context, caseID string, nodes []*domain.BillingNode) error {
	if err := r.caseExists(ctx, caseID); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	deactivate := `
		UPDATE billing_nodes
		SET is_active = 0, updated_at = ?
		WHERE case_id = ? AND is_active = 1 AND is_completed = 0
	`
	if _, err := tx.ExecContext(ctx, r.rebind(deactivate), now, caseID); err != nil {
		return fmt.Errorf("failed to deactivate previous nodes: %w", err)
	}

	upsert := `
		INSERT INTO billing_nodes (
			id, case_id, phase, ord, name, description, amount, due_date,
			requirements, dependencies, triggers, criteria,
			is_active, is_completed, completion_date, invoice_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			ord = excluded.ord,
			name = excluded.name,
			description = excluded.description,
			amount = excluded.amount,
			due_date = excluded.due_date,
			requirements = excluded.requirements,
			dependencies = excluded.dependencies,
			triggers = excluded.triggers,
			criteria = excluded.criteria,
			is_active = excluded.is_active,
			is_completed = excluded.is_completed,
			completion_date = excluded.completion_date,
			invoice_id = excluded.invoice_id,
			updated_at = excluded.updated_at
		WHERE billing_nodes.case_id = excluded.case_id AND billing_nodes.is_completed = 0
	`

	for _, n := range nodes {
		requirements, _ := json.Marshal(nonNil(n.Requirements))
		dependencies, _ := json.Marshal(nonNil(n.Dependencies))
		triggers, _ := json.Marshal(nonNil(n.Triggers))
		criteria, _ := json.Marshal(n.Criteria)

		result, err := tx.ExecContext(ctx, r.rebind(upsert),
			n.ID, caseID, string(n.Phase), n.Order, n.Name, nullString(n.Description), n.Amount, nullTime(n.DueDate),
			string(requirements), string(dependencies), string(triggers), string(criteria),
			boolInt(n.IsActive), boolInt(n.IsCompleted), nullTime(n.CompletionDate), nullString(n.InvoiceID),
			n.CreatedAt.UTC(), now,
		)
		if err != nil {
			return fmt.Errorf("failed to save node %s: %w", n.ID, err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return err
		} else if affected == 0 {
			return r.saveConflict(ctx, tx, n.ID)
		}
	}

	return tx.Commit()
}

// saveConflict explains why an upsert left an existing row untouched: the id
// belongs to another case, or the node is already completed and immutable.
func (r *SQLRepository) saveConflict(ctx context.Context, tx *sql.Tx, nodeID string) error {
	var completed int
	err := tx.QueryRowContext(ctx,
		r.rebind(`SELECT is_completed FROM billing_nodes WHERE id = ?`), nodeID,
	).Scan(&completed)
	if err != nil {
		return fmt.Errorf("failed to inspect node %s: %w", nodeID, err)
	}
	if completed == 1 {
		return fmt.Errorf("%w: node %s is already completed", domain.ErrInvalidArgument, nodeID)
	}
	return fmt.Errorf("%w: node id %s belongs to another case", domain.ErrInvalidArgument, nodeID)
}

// PersistNodeCompletion marks a node completed with a compare-and-swap on
// is_completed, so exactly one of several concurrent callers succeeds.
func (r *SQLRepository) PersistNodeCompletion(ctx context.Context, nodeID string, completedAt time.Time, validation *domain.ValidationResult) error {
	var report []byte
	if validation != nil {
		report, _ = json.Marshal(validation)
	}

	query := `
		UPDATE billing_nodes
		SET is_completed = 1, completion_date = ?, validation = ?, updated_at = ?
		WHERE id = ? AND is_active = 1 AND is_completed = 0
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		completedAt.UTC(), nullString(string(report)), time.Now().UTC(), nodeID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	var active, completed int
	err = r.db.QueryRowContext(ctx,
		r.rebind(`SELECT is_active, is_completed FROM billing_nodes WHERE id = ?`), nodeID,
	).Scan(&active, &completed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: billing node %s", domain.ErrNotFound, nodeID)
	case err != nil:
		return err
	case completed == 1:
		return fmt.Errorf("%w: billing node %s", domain.ErrAlreadyCompleted, nodeID)
	default:
		return fmt.Errorf("%w: billing node %s is inactive", domain.ErrNotFound, nodeID)
	}
}

// MarkNodesBilled records the invoice that covers the nodes.
func (r *SQLRepository) MarkNodesBilled(ctx context.Context, nodeIDs []string, invoiceID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query := `UPDATE billing_nodes SET invoice_id = ?, updated_at = ? WHERE id = ?`
	for _, id := range nodeIDs {
		result, err := tx.ExecContext(ctx, r.rebind(query), invoiceID, now, id)
		if err != nil {
			return err
		}
		if rows, err := result.RowsAffected(); err != nil {
			return err
		} else if rows == 0 {
			return fmt.Errorf("%w: billing node %s", domain.ErrNotFound, id)
		}
	}

	return tx.Commit()
}

// SaveConfiguration inserts or replaces the billing policy of a case.
func (r *SQLRepository) SaveConfiguration(ctx context.Context, cfg *domain.StageBillingConfiguration) error {
	if err := r.caseExists(ctx, cfg.CaseID); err != nil {
		return err
	}
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO stage_billing_configs (
			case_id, auto_advance, require_completion, allow_partial_billing,
			send_notifications, approval_required, grace_period, currency,
			invoice_condition, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(case_id) DO UPDATE SET
			auto_advance = excluded.auto_advance,
			require_completion = excluded.require_completion,
			allow_partial_billing = excluded.allow_partial_billing,
			send_notifications = excluded.send_notifications,
			approval_required = excluded.approval_required,
			grace_period = excluded.grace_period,
			currency = excluded.currency,
			invoice_condition = excluded.invoice_condition,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		cfg.CaseID, boolInt(cfg.AutoAdvance), boolInt(cfg.RequireCompletion), boolInt(cfg.AllowPartialBilling),
		boolInt(cfg.SendNotifications), boolInt(cfg.ApprovalRequired), cfg.GracePeriod, cfg.Currency,
		nullString(cfg.InvoiceCondition), cfg.UpdatedAt.UTC(),
	)
	return err
}

// LoadConfiguration retrieves the billing policy of a case.
func (r *SQLRepository) LoadConfiguration(ctx context.Context, caseID string) (*domain.StageBillingConfiguration, error) {
	query := `
		SELECT case_id, auto_advance, require_completion, allow_partial_billing,
			   send_notifications, approval_required, grace_period, currency,
			   invoice_condition, updated_at
		FROM stage_billing_configs
		WHERE case_id = ?
	`

	var cfg domain.StageBillingConfiguration
	var autoAdvance, requireCompletion, partial, notify, approval int
	var condition sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), caseID).Scan(
		&cfg.CaseID, &autoAdvance, &requireCompletion, &partial,
		&notify, &approval, &cfg.GracePeriod, &cfg.Currency,
		&condition, &cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: billing configuration for case %s", domain.ErrNotFound, caseID)
	}
	if err != nil {
		return nil, err
	}

	cfg.AutoAdvance = autoAdvance == 1
	cfg.RequireCompletion = requireCompletion == 1
	cfg.AllowPartialBilling = partial == 1
	cfg.SendNotifications = notify == 1
	cfg.ApprovalRequired = approval == 1
	cfg.InvoiceCondition = condition.String

	return &cfg, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
