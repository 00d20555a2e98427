// Package domain defines the core interfaces and types for Docket.
package domain

import (
	"context"
	"time"
)

// Repository is the persistent store behind the billing engine. It serves as
// both the CaseStore and the InvoiceIssuer, plus the case and ledger records
// those collaborators read.
type Repository interface {
	CaseStore
	InvoiceIssuer

	// Case records
	SaveCase(ctx context.Context, c *Case) error
	ListOpenCases(ctx context.Context) ([]*Case, error)

	// Payment ledger
	RecordPayment(ctx context.Context, p *Payment) error

	// Invoices
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	ListInvoices(ctx context.Context, caseID string) ([]*Invoice, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgresHost"`
	PostgresPort     int    `mapstructure:"postgresPort"`
	PostgresUser     string `mapstructure:"postgresUser"`
	PostgresPassword string `mapstructure:"postgresPassword"`
	PostgresDB       string `mapstructure:"postgresDB"`
	PostgresSSLMode  string `mapstructure:"postgresSSLMode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
}
