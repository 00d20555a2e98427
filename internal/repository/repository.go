// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/docket/internal/domain"
	"github.com/shopspring/decimal"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveCase inserts or updates a case record.
func (r *SQLRepository) SaveCase(ctx context.Context, c *domain.Case) error {
	if c.ID == "" {
		return fmt.Errorf("%w: case id is required", domain.ErrInvalidArgument)
	}
	if !c.Phase.Valid() {
		return fmt.Errorf("%w: unknown phase %q", domain.ErrInvalidArgument, c.Phase)
	}
	j, err := domain.ParseJurisdiction(string(c.Jurisdiction))
	if err != nil {
		return err
	}
	c.Jurisdiction = j

	now := time.Now().UTC()
	if c.OpenedAt.IsZero() {
		c.OpenedAt = now
	}
	if c.PhaseStartedAt.IsZero() {
		c.PhaseStartedAt = c.OpenedAt
	}
	c.Currency = strings.ToUpper(c.Currency)

	query := `
		INSERT INTO cases (
			id, client_id, name, phase, phase_started_at, opened_at,
			jurisdiction, currency, total_value, lead_attorney_id, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = excluded.client_id,
			name = excluded.name,
			phase = excluded.phase,
			phase_started_at = excluded.phase_started_at,
			jurisdiction = excluded.jurisdiction,
			currency = excluded.currency,
			total_value = excluded.total_value,
			lead_attorney_id = excluded.lead_attorney_id,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		c.ID, c.ClientID, c.Name, string(c.Phase), c.PhaseStartedAt.UTC(), c.OpenedAt.UTC(),
		string(c.Jurisdiction), c.Currency, c.TotalValue, c.LeadAttorneyID, now,
	)
	return err
}

const caseColumns = `id, client_id, name, phase, phase_started_at, opened_at,
	jurisdiction, currency, total_value, lead_attorney_id`

func scanCase(s scanner) (*domain.Case, error) {
	var c domain.Case
	var phase, jurisdiction string
	if err := s.Scan(
		&c.ID, &c.ClientID, &c.Name, &phase, &c.PhaseStartedAt, &c.OpenedAt,
		&jurisdiction, &c.Currency, &c.TotalValue, &c.LeadAttorneyID,
	); err != nil {
		return nil, err
	}
	c.Phase = domain.Phase(phase)
	c.Jurisdiction = domain.Jurisdiction(jurisdiction)
	return &c, nil
}

// LoadCase retrieves a case by ID.
func (r *SQLRepository) LoadCase(ctx context.Context, caseID string) (*domain.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = ?`

	c, err := scanCase(r.db.QueryRowContext(ctx, r.rebind(query), caseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: case %s", domain.ErrNotFound, caseID)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListOpenCases returns cases that have a billing configuration and have
// not reached a terminal phase.
func (r *SQLRepository) ListOpenCases(ctx context.Context) ([]*domain.Case, error) {
	query := `
		SELECT c.id, c.client_id, c.name, c.phase, c.phase_started_at, c.opened_at,
			   c.jurisdiction, c.currency, c.total_value, c.lead_attorney_id
		FROM cases c
		JOIN stage_billing_configs s ON s.case_id = c.id
		WHERE c.phase <> ?
		ORDER BY c.id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(domain.PhaseClosed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// AdvancePhase moves the case to the next lifecycle phase and restarts its
// phase clock.
func (r *SQLRepository) AdvancePhase(ctx context.Context, caseID string) (domain.Phase, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, r.rebind(`SELECT phase FROM cases WHERE id = ?`), caseID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: case %s", domain.ErrNotFound, caseID)
	}
	if err != nil {
		return "", err
	}

	next, err := domain.NextPhase(domain.Phase(current))
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	query := `UPDATE cases SET phase = ?, phase_started_at = ?, updated_at = ? WHERE id = ? AND phase = ?`
	result, err := tx.ExecContext(ctx, r.rebind(query), string(next), now, now, caseID, current)
	if err != nil {
		return "", err
	}
	if n, err := result.RowsAffected(); err != nil {
		return "", err
	} else if n == 0 {
		return "", fmt.Errorf("%w: case %s changed phase concurrently", domain.ErrAlreadyCompleted, caseID)
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return next, nil
}

// RecordPayment appends a payment to the case ledger.
func (r *SQLRepository) RecordPayment(ctx context.Context, p *domain.Payment) error {
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: payment amount must be positive", domain.ErrInvalidArgument)
	}
	if err := r.caseExists(ctx, p.CaseID); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = time.Now().UTC()
	}
	p.Currency = strings.ToUpper(p.Currency)

	query := `
		INSERT INTO payments (id, case_id, amount, currency, reference, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, p.CaseID, p.Amount, p.Currency, p.Reference, p.ReceivedAt.UTC(),
	)
	return err
}

// TotalPaid sums the payment ledger of a case.
func (r *SQLRepository) TotalPaid(ctx context.Context, caseID string) (decimal.Decimal, error) {
	if err := r.caseExists(ctx, caseID); err != nil {
		return decimal.Zero, err
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT amount FROM payments WHERE case_id = ?`), caseID)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) caseExists(ctx context.Context, caseID string) error {
	var one int
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT 1 FROM cases WHERE id = ?`), caseID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: case %s", domain.ErrNotFound, caseID)
	}
	return err
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
