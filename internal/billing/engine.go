// Package billing orchestrates stage-based billing: it creates a case's
// billing nodes, completes milestones, and reports progress and suggestions.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/docket/internal/automation"
	"github.com/opensource-finance/docket/internal/domain"
	"github.com/opensource-finance/docket/internal/graph"
	"github.com/opensource-finance/docket/internal/validation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("docket-billing")

// Engine is the stage-based billing engine.
type Engine struct {
	store     domain.CaseStore
	issuer    domain.InvoiceIssuer
	validator *validation.Validator
	runner    *automation.Runner
	bus       domain.EventBus
	now       func() time.Time
}

// NewEngine creates a billing engine. bus may be nil, in which case no
// events are published.
func NewEngine(store domain.CaseStore, issuer domain.InvoiceIssuer, rules domain.ComplianceRules, runner *automation.Runner, bus domain.EventBus) *Engine {
	return &Engine{
		store:     store,
		issuer:    issuer,
		validator: validation.New(rules),
		runner:    runner,
		bus:       bus,
		now:       time.Now,
	}
}

// SetClock overrides the engine's time source, including the runner's.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.runner.SetClock(now)
}

// DefaultConfiguration is used when a case is initialised without one.
func DefaultConfiguration(c *domain.Case) *domain.StageBillingConfiguration {
	return &domain.StageBillingConfiguration{
		CaseID:            c.ID,
		RequireCompletion: true,
		SendNotifications: true,
		GracePeriod:       automation.DefaultMaximumDelay,
		Currency:          c.Currency,
	}
}

// CreateResult is returned by CreateStageBillingSystem.
type CreateResult struct {
	Nodes         []*domain.BillingNode             `json:"nodes"`
	Validation    *domain.StageBillingValidation    `json:"validation"`
	Automation    *domain.StageBillingAutomation    `json:"automation"`
	Configuration *domain.StageBillingConfiguration `json:"configuration"`
}

// CreateStageBillingSystem replaces the case's billing nodes with a fresh,
// validated set and stores its configuration. Previous incomplete nodes are
// deactivated; completed ones are kept as history.
func (e *Engine) CreateStageBillingSystem(ctx context.Context, caseID string, nodes []*domain.BillingNode, cfg *domain.StageBillingConfiguration) (result *CreateResult, err error) {
	ctx, span := e.start(ctx, "CreateStageBillingSystem", attribute.String("case.id", caseID))
	defer func() { endSpan(span, err) }()

	c, err := e.store.LoadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if cfg == nil {
		cfg = DefaultConfiguration(c)
	}
	cfg.CaseID = caseID
	if err := e.checkConfiguration(cfg, c); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if n.ID == "" {
			n.ID = uuid.New().String()
		}
	}
	if err := graph.ValidateNodeSet(nodes); err != nil {
		return nil, err
	}

	// Completion is monotonic: a re-created set may not reuse a completed id.
	existing, err := e.store.LoadNodes(ctx, caseID)
	if err != nil {
		return nil, err
	}
	completed := make(map[string]bool, len(existing))
	for _, n := range existing {
		if n.IsCompleted {
			completed[n.ID] = true
		}
	}
	for _, n := range nodes {
		if completed[n.ID] {
			return nil, fmt.Errorf("%w: node %s is already completed", domain.ErrInvalidArgument, n.ID)
		}
	}

	for _, n := range nodes {
		if n.Phase == "" {
			n.Phase = c.Phase
		}
		if !n.Phase.Valid() {
			return nil, fmt.Errorf("%w: node %s has unknown phase %q", domain.ErrInvalidArgument, n.ID, n.Phase)
		}
		if n.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: node %s has a negative amount", domain.ErrInvalidArgument, n.ID)
		}
		if th := n.Criteria.TimeThreshold; th != nil && *th < 0 {
			return nil, fmt.Errorf("%w: node %s has a negative time threshold", domain.ErrInvalidArgument, n.ID)
		}
		n.CaseID = caseID
		n.IsActive = true
		n.IsCompleted = false
		n.CompletionDate = nil
		n.InvoiceID = ""
		n.CreatedAt = now
		n.UpdatedAt = now
	}

	if err := e.store.SaveNodes(ctx, caseID, nodes); err != nil {
		return nil, err
	}
	cfg.UpdatedAt = now
	if err := e.store.SaveConfiguration(ctx, cfg); err != nil {
		return nil, err
	}

	slog.Info("stage billing system created",
		"case_id", caseID,
		"node_count", len(nodes),
	)

	return &CreateResult{
		Nodes:         nodes,
		Validation:    assessNodeSet(c, cfg, nodes),
		Automation:    automation.ResolveAutomation(cfg),
		Configuration: cfg,
	}, nil
}

// UpdateConfiguration replaces a case's billing configuration.
func (e *Engine) UpdateConfiguration(ctx context.Context, caseID string, cfg *domain.StageBillingConfiguration) (result *domain.StageBillingAutomation, err error) {
	ctx, span := e.start(ctx, "UpdateConfiguration", attribute.String("case.id", caseID))
	defer func() { endSpan(span, err) }()

	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration is required", domain.ErrInvalidArgument)
	}
	c, err := e.store.LoadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	cfg.CaseID = caseID
	if err := e.checkConfiguration(cfg, c); err != nil {
		return nil, err
	}
	cfg.UpdatedAt = e.now().UTC()
	if err := e.store.SaveConfiguration(ctx, cfg); err != nil {
		return nil, err
	}
	return automation.ResolveAutomation(cfg), nil
}

func (e *Engine) checkConfiguration(cfg *domain.StageBillingConfiguration, c *domain.Case) error {
	if cfg.GracePeriod < 0 {
		return fmt.Errorf("%w: gracePeriod must not be negative", domain.ErrInvalidArgument)
	}
	if cfg.Currency == "" {
		cfg.Currency = c.Currency
	}
	return e.runner.Conditions().Validate(cfg.InvoiceCondition)
}

// assessNodeSet reports non-blocking observations about a node set that
// already passed structural validation.
func assessNodeSet(c *domain.Case, cfg *domain.StageBillingConfiguration, nodes []*domain.BillingNode) *domain.StageBillingValidation {
	v := &domain.StageBillingValidation{
		IsValid:         true,
		Errors:          []string{},
		Warnings:        []string{},
		Recommendations: []string{},
	}
	if len(nodes) == 0 {
		v.Warnings = append(v.Warnings, "no billing nodes defined")
		return v
	}

	current := c.Phase.Index()
	withoutDue := 0
	for _, n := range nodes {
		if n.Amount.IsZero() {
			v.Warnings = append(v.Warnings, fmt.Sprintf("node %s has no billable amount", n.ID))
		}
		if n.Phase.Index() < current {
			v.Warnings = append(v.Warnings, fmt.Sprintf("node %s belongs to past phase %s", n.ID, n.Phase))
		}
		if n.DueDate == nil {
			withoutDue++
		}
	}
	if withoutDue > 0 && cfg.SendNotifications {
		v.Recommendations = append(v.Recommendations,
			fmt.Sprintf("%d node(s) have no due date and will never trigger reminders", withoutDue))
	}
	if !cfg.AllowPartialBilling && !cfg.ApprovalRequired {
		v.Recommendations = append(v.Recommendations,
			fmt.Sprintf("consolidated invoices wait until unbilled work exceeds %s",
				automation.DefaultMinimumAmount.StringFixed(2)))
	}
	return v
}

// loadConfiguration returns nil when the case has no configuration yet.
func (e *Engine) loadConfiguration(ctx context.Context, caseID string) (*domain.StageBillingConfiguration, error) {
	cfg, err := e.store.LoadConfiguration(ctx, caseID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return cfg, err
}

func (e *Engine) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "billing."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
