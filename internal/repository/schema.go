package repository

// Schema definitions for the Docket database.
// Compatible with both SQLite and PostgreSQL. Money is stored as decimal
// text and booleans as INTEGER 0/1.

const schemaCases = `
CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    client_id TEXT NOT NULL,
    name TEXT NOT NULL,
    phase TEXT NOT NULL,
    phase_started_at TIMESTAMP NOT NULL,
    opened_at TIMESTAMP NOT NULL,
    jurisdiction TEXT NOT NULL,
    currency TEXT NOT NULL,
    total_value TEXT NOT NULL,
    lead_attorney_id TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_phase ON cases(phase);
`

const schemaBillingNodes = `
CREATE TABLE IF NOT EXISTS billing_nodes (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    phase TEXT NOT NULL,
    ord INTEGER NOT NULL DEFAULT 0,
    name TEXT NOT NULL,
    description TEXT,
    amount TEXT NOT NULL,
    due_date TIMESTAMP,
    requirements TEXT NOT NULL,
    dependencies TEXT NOT NULL,
    triggers TEXT NOT NULL,
    criteria TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    is_completed INTEGER NOT NULL DEFAULT 0,
    completion_date TIMESTAMP,
    validation TEXT,
    invoice_id TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_billing_nodes_case ON billing_nodes(case_id, is_active);
`

const schemaConfigurations = `
CREATE TABLE IF NOT EXISTS stage_billing_configs (
    case_id TEXT PRIMARY KEY,
    auto_advance INTEGER NOT NULL DEFAULT 0,
    require_completion INTEGER NOT NULL DEFAULT 0,
    allow_partial_billing INTEGER NOT NULL DEFAULT 0,
    send_notifications INTEGER NOT NULL DEFAULT 0,
    approval_required INTEGER NOT NULL DEFAULT 0,
    grace_period INTEGER NOT NULL DEFAULT 0,
    currency TEXT NOT NULL,
    invoice_condition TEXT,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaInvoices = `
CREATE TABLE IF NOT EXISTS invoices (
    id TEXT PRIMARY KEY,
    number TEXT NOT NULL,
    case_id TEXT NOT NULL,
    client_id TEXT NOT NULL,
    items TEXT NOT NULL,
    amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    status TEXT NOT NULL,
    idempotency_key TEXT NOT NULL UNIQUE,
    issued_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoices_case ON invoices(case_id, issued_at);
`

const schemaPayments = `
CREATE TABLE IF NOT EXISTS payments (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    reference TEXT,
    received_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payments_case ON payments(case_id);
`

// AllSchemas returns all schema definitions in order.
func AllSchemas() []string {
	return []string{
		schemaCases,
		schemaBillingNodes,
		schemaConfigurations,
		schemaInvoices,
		schemaPayments,
	}
}
