package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/docket/internal/automation"
	"github.com/opensource-finance/docket/internal/domain"
	"github.com/opensource-finance/docket/internal/graph"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// UpcomingWindow is how far ahead GenerateBillingSuggestions looks for
// deadlines.
const UpcomingWindow = 14 * 24 * time.Hour

// Summary is the money side of a progress report.
type Summary struct {
	TotalBilled        decimal.Decimal `json:"totalBilled"`
	TotalPaid          decimal.Decimal `json:"totalPaid"`
	OutstandingBalance decimal.Decimal `json:"outstandingBalance"`
	UnbilledAmount     decimal.Decimal `json:"unbilledAmount"`
	Currency           string          `json:"currency"`
}

// Progress is returned by GetStageBillingProgress.
type Progress struct {
	CaseID string `json:"caseId"`
	*graph.Graph
	NextMilestone *domain.BillingNode `json:"nextMilestone,omitempty"`
	Summary       Summary             `json:"summary"`
}

// GetStageBillingProgress assembles the graph partitions and a billing
// summary. It changes nothing.
func (e *Engine) GetStageBillingProgress(ctx context.Context, caseID string) (result *Progress, err error) {
	ctx, span := e.start(ctx, "GetStageBillingProgress", attribute.String("case.id", caseID))
	defer func() { endSpan(span, err) }()

	c, g, cfg, err := e.loadGraph(ctx, caseID)
	if err != nil {
		return nil, err
	}
	paid, err := e.store.TotalPaid(ctx, caseID)
	if err != nil {
		return nil, err
	}

	billed := decimal.Zero
	for _, n := range g.Completed {
		billed = billed.Add(n.Amount)
	}
	unbilled := decimal.Zero
	for _, n := range g.Unbilled() {
		unbilled = unbilled.Add(n.Amount)
	}
	currency := c.Currency
	if cfg != nil && cfg.Currency != "" {
		currency = cfg.Currency
	}

	return &Progress{
		CaseID:        caseID,
		Graph:         g,
		NextMilestone: g.NextMilestone(),
		Summary: Summary{
			TotalBilled:        billed,
			TotalPaid:          paid,
			OutstandingBalance: billed.Sub(paid),
			UnbilledAmount:     unbilled,
			Currency:           currency,
		},
	}, nil
}

// Suggestions is returned by GenerateBillingSuggestions.
type Suggestions struct {
	CaseID            string                `json:"caseId"`
	ReadyToBill       []*domain.BillingNode `json:"readyToBill"`
	UpcomingDeadlines []*domain.BillingNode `json:"upcomingDeadlines"`
	OverdueItems      []*domain.BillingNode `json:"overdueItems"`
	GeneratedAt       time.Time             `json:"generatedAt"`
}

// GenerateBillingSuggestions lists what can be billed now, what is due soon
// and what is overdue.
func (e *Engine) GenerateBillingSuggestions(ctx context.Context, caseID string) (result *Suggestions, err error) {
	ctx, span := e.start(ctx, "GenerateBillingSuggestions", attribute.String("case.id", caseID))
	defer func() { endSpan(span, err) }()

	_, g, cfg, err := e.loadGraph(ctx, caseID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	grace := 0
	if cfg != nil {
		grace = cfg.GracePeriod
	}
	graceWindow := time.Duration(grace) * 24 * time.Hour

	s := &Suggestions{
		CaseID:            caseID,
		ReadyToBill:       []*domain.BillingNode{},
		UpcomingDeadlines: []*domain.BillingNode{},
		OverdueItems:      []*domain.BillingNode{},
		GeneratedAt:       now.UTC(),
	}

	for _, n := range g.Ready {
		if n.DueDate == nil || !now.Before(n.DueDate.Add(-graceWindow)) {
			s.ReadyToBill = append(s.ReadyToBill, n)
		}
	}

	horizon := now.Add(UpcomingWindow)
	for _, n := range append(append([]*domain.BillingNode{}, g.Ready...), g.Blocked...) {
		if n.DueDate == nil {
			continue
		}
		switch {
		case n.DueDate.Before(now):
			s.OverdueItems = append(s.OverdueItems, n)
		case !n.DueDate.After(horizon):
			s.UpcomingDeadlines = append(s.UpcomingDeadlines, n)
		}
	}

	return s, nil
}

// ProcessAutomation runs the case's automation rules against its current
// graph. A case without a configuration fails with ErrNotFound.
func (e *Engine) ProcessAutomation(ctx context.Context, caseID string) (result *automation.Result, err error) {
	ctx, span := e.start(ctx, "ProcessAutomation", attribute.String("case.id", caseID))
	defer func() { endSpan(span, err) }()

	c, g, cfg, err := e.loadGraph(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: case %s has no stage billing configuration", domain.ErrNotFound, caseID)
	}

	result = e.runner.Run(ctx, c, automation.ResolveAutomation(cfg), g)
	e.publishAutomation(ctx, caseID, result)
	return result, nil
}

func (e *Engine) loadGraph(ctx context.Context, caseID string) (*domain.Case, *graph.Graph, *domain.StageBillingConfiguration, error) {
	c, err := e.store.LoadCase(ctx, caseID)
	if err != nil {
		return nil, nil, nil, err
	}
	nodes, err := e.store.LoadNodes(ctx, caseID)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := e.loadConfiguration(ctx, caseID)
	if err != nil {
		return nil, nil, nil, err
	}
	return c, graph.Build(nodes, c.Phase), cfg, nil
}
