// Package automation evaluates a case's automation rules against its billing
// graph: consolidated invoicing, deadline reminders and phase advancement.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/docket/internal/domain"
	"github.com/opensource-finance/docket/internal/graph"
	"github.com/shopspring/decimal"
)

// Action names recorded in automation results.
const (
	ActionGenerateInvoice = "generate_invoice"
	ActionSendReminder    = "send_reminder"
	ActionAdvancePhase    = "advance_phase"
)

// ActionResult is the outcome of one automation action.
type ActionResult struct {
	Action  string              `json:"action"`
	Success bool                `json:"success"`
	NodeIDs []string            `json:"nodeIds,omitempty"`
	Invoice *domain.Invoice     `json:"invoice,omitempty"`
	From    domain.Phase        `json:"from,omitempty"`
	Phase   domain.Phase        `json:"phase,omitempty"`
	UserID  string              `json:"userId,omitempty"`
	Message string              `json:"message,omitempty"`
	Error   *domain.ErrorDetail `json:"error,omitempty"`
}

// Result collects every action taken in one automation pass.
type Result struct {
	Tier      domain.AutomationTier `json:"tier"`
	Processed int                   `json:"processed"` // successful actions
	Results   []ActionResult        `json:"results"`
	Errors    []domain.ErrorDetail  `json:"errors"`
}

func (r *Result) record(ar ActionResult, err error) {
	if err != nil {
		ar.Success = false
		ar.Error = domain.NewErrorDetail(err)
		r.Errors = append(r.Errors, *ar.Error)
	} else {
		ar.Success = true
		r.Processed++
	}
	r.Results = append(r.Results, ar)
}

// Runner executes automation steps against the case store, the invoice
// issuer and the notification sink.
type Runner struct {
	store      domain.CaseStore
	issuer     domain.InvoiceIssuer
	sink       domain.NotificationSink
	conditions *Conditions
	now        func() time.Time
}

// NewRunner creates an automation runner. sink may be nil, in which case
// reminders are skipped.
func NewRunner(store domain.CaseStore, issuer domain.InvoiceIssuer, sink domain.NotificationSink, conditions *Conditions) *Runner {
	return &Runner{
		store:      store,
		issuer:     issuer,
		sink:       sink,
		conditions: conditions,
		now:        time.Now,
	}
}

// SetClock overrides the runner's time source.
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Conditions returns the runner's expression cache.
func (r *Runner) Conditions() *Conditions {
	return r.conditions
}

// Run evaluates the steps in fixed order: invoices, reminders, advance.
// A failing step is recorded and never stops the steps after it.
func (r *Runner) Run(ctx context.Context, c *domain.Case, automation *domain.StageBillingAutomation, g *graph.Graph) *Result {
	res := &Result{
		Tier:    automation.Tier,
		Results: []ActionResult{},
		Errors:  []domain.ErrorDetail{},
	}

	if automation.Rules.AutoGenerateInvoices {
		r.invoiceStep(ctx, c, automation, g, res)
	}
	if automation.Rules.AutoSendReminders {
		r.reminderStep(ctx, c, automation, g, res)
	}
	if automation.Rules.AutoAdvanceStages {
		r.advanceStep(ctx, c, g, res)
	}

	if len(res.Results) > 0 {
		slog.Info("automation processed",
			"case_id", c.ID,
			"tier", automation.Tier,
			"processed", res.Processed,
			"errors", len(res.Errors),
		)
	}
	return res
}

func (r *Runner) invoiceStep(ctx context.Context, c *domain.Case, automation *domain.StageBillingAutomation, g *graph.Graph, res *Result) {
	unbilled := g.Unbilled()
	if len(unbilled) == 0 {
		return
	}

	total := decimal.Zero
	for _, n := range unbilled {
		total = total.Add(n.Amount)
	}

	facts := Facts{
		UnbilledAmount:  total.InexactFloat64(),
		MinimumAmount:   automation.Conditions.MinimumAmount.InexactFloat64(),
		UnbilledCount:   len(unbilled),
		CompletedCount:  len(g.Completed),
		ReadyCount:      len(g.Ready),
		BlockedCount:    len(g.Blocked),
		OverallProgress: g.OverallProgress,
		Phase:           c.Phase,
	}
	ok, err := r.conditions.Evaluate(automation.Conditions.InvoiceExpression, facts)
	if err != nil {
		res.record(ActionResult{Action: ActionGenerateInvoice}, err)
		return
	}
	if !ok {
		slog.Debug("invoice condition not met",
			"case_id", c.ID,
			"unbilled_amount", total.String(),
			"expression", automation.Conditions.InvoiceExpression,
		)
		return
	}

	ids := make([]string, 0, len(unbilled))
	items := make([]domain.InvoiceItem, 0, len(unbilled))
	for _, n := range unbilled {
		ids = append(ids, n.ID)
		items = append(items, domain.InvoiceItem{
			Description: n.Name,
			Amount:      n.Amount,
			NodeID:      n.ID,
		})
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	currency := automation.Conditions.Currency
	if currency == "" {
		currency = c.Currency
	}

	inv, err := r.issuer.Issue(ctx, &domain.IssueRequest{
		CaseID:         c.ID,
		ClientID:       c.ClientID,
		Currency:       currency,
		Items:          items,
		IdempotencyKey: domain.IdempotencyKey("consolidated", c.ID, strings.Join(sorted, ",")),
	})
	if err != nil {
		res.record(ActionResult{Action: ActionGenerateInvoice, NodeIDs: ids}, domain.WrapUpstream("issue consolidated invoice", err))
		return
	}
	if err := r.store.MarkNodesBilled(ctx, ids, inv.ID); err != nil {
		res.record(ActionResult{Action: ActionGenerateInvoice, NodeIDs: ids, Invoice: inv},
			fmt.Errorf("mark nodes billed: %w", err))
		return
	}
	for _, n := range unbilled {
		n.InvoiceID = inv.ID
	}

	res.record(ActionResult{
		Action:  ActionGenerateInvoice,
		NodeIDs: ids,
		Invoice: inv,
		Message: fmt.Sprintf("consolidated invoice %s for %s", inv.Number, inv.Amount.StringFixed(2)),
	}, nil)
}

func (r *Runner) reminderStep(ctx context.Context, c *domain.Case, automation *domain.StageBillingAutomation, g *graph.Graph, res *Result) {
	if r.sink == nil {
		return
	}
	horizon := r.now().Add(time.Duration(automation.Conditions.MaximumDelay) * 24 * time.Hour)

	pending := append(append([]*domain.BillingNode{}, g.Ready...), g.Blocked...)
	for _, n := range pending {
		if n.DueDate == nil || n.DueDate.After(horizon) {
			continue
		}
		reminder := domain.Reminder{
			UserID:  c.LeadAttorneyID,
			CaseID:  c.ID,
			NodeID:  n.ID,
			Name:    n.Name,
			DueDate: *n.DueDate,
		}
		ar := ActionResult{Action: ActionSendReminder, NodeIDs: []string{n.ID}, UserID: reminder.UserID}
		if err := r.sink.Remind(ctx, reminder); err != nil {
			slog.Warn("reminder dispatch failed",
				"case_id", c.ID,
				"node_id", n.ID,
				"error", err,
			)
			res.record(ar, domain.WrapUpstream("send reminder", err))
			continue
		}
		ar.Message = fmt.Sprintf("reminder for %s due %s", n.Name, n.DueDate.Format(time.DateOnly))
		res.record(ar, nil)
	}
}

func (r *Runner) advanceStep(ctx context.Context, c *domain.Case, g *graph.Graph, res *Result) {
	if c.Phase.Terminal() || !g.PhaseComplete(c.Phase) {
		return
	}
	from := c.Phase
	next, err := r.store.AdvancePhase(ctx, c.ID)
	if err != nil {
		res.record(ActionResult{Action: ActionAdvancePhase, Phase: from}, fmt.Errorf("advance phase: %w", err))
		return
	}
	c.Phase = next
	res.record(ActionResult{
		Action:  ActionAdvancePhase,
		From:    from,
		Phase:   next,
		Message: fmt.Sprintf("advanced from %s to %s", from, next),
	}, nil)
}
