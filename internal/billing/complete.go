package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/docket/internal/automation"
	"github.com/opensource-finance/docket/internal/domain"
	"github.com/opensource-finance/docket/internal/graph"
	"github.com/opensource-finance/docket/internal/validation"
	"go.opentelemetry.io/otel/attribute"
)

// CompletionResult is returned by CompleteBillingMilestone. Success is false
// when the node was completed but its invoice could not be issued.
type CompletionResult struct {
	Success      bool                     `json:"success"`
	Node         *domain.BillingNode      `json:"node"`
	Validation   *domain.ValidationResult `json:"validation"`
	Invoice      *domain.Invoice          `json:"invoice,omitempty"`
	InvoiceError *domain.ErrorDetail      `json:"invoiceError,omitempty"`
	NextNodes    []*domain.BillingNode    `json:"nextNodes"`
	Automation   *automation.Result       `json:"automation"`
}

// completionContext is everything loaded before a node is checked.
type completionContext struct {
	node  *domain.BillingNode
	nodes []*domain.BillingNode
	c     *domain.Case
	cfg   *domain.StageBillingConfiguration
}

func (e *Engine) loadForCompletion(ctx context.Context, nodeID string) (*completionContext, error) {
	node, err := e.store.LoadNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if !node.IsActive {
		return nil, fmt.Errorf("%w: billing node %s is inactive", domain.ErrNotFound, nodeID)
	}
	c, err := e.store.LoadCase(ctx, node.CaseID)
	if err != nil {
		return nil, err
	}
	cfg, err := e.loadConfiguration(ctx, node.CaseID)
	if err != nil {
		return nil, err
	}
	nodes, err := e.store.LoadNodes(ctx, node.CaseID)
	if err != nil {
		return nil, err
	}

	found := false
	for i, n := range nodes {
		if n.ID == node.ID {
			nodes[i] = node
			found = true
		}
	}
	if !found {
		nodes = append(nodes, node)
	}

	return &completionContext{node: node, nodes: nodes, c: c, cfg: cfg}, nil
}

func (e *Engine) validate(cc *completionContext, evidence domain.CompletionEvidence) *domain.ValidationResult {
	return e.validator.Validate(validation.Input{
		Node:     cc.node,
		Nodes:    cc.nodes,
		Case:     cc.c,
		Config:   cc.cfg,
		Evidence: evidence,
	})
}

// ValidateCompletion runs the completion checks without changing anything.
func (e *Engine) ValidateCompletion(ctx context.Context, nodeID string, evidence domain.CompletionEvidence) (result *domain.ValidationResult, err error) {
	ctx, span := e.start(ctx, "ValidateCompletion", attribute.String("node.id", nodeID))
	defer func() { endSpan(span, err) }()

	cc, err := e.loadForCompletion(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if evidence.CompletionDate.IsZero() {
		evidence.CompletionDate = e.now().UTC()
	}
	return e.validate(cc, evidence), nil
}

// CompleteBillingMilestone validates and completes a node, issues its
// invoice when asked to, and runs the case's automation.
//
// Completing an already-completed node fails with ErrAlreadyCompleted, also
// when two calls race: the store only flips nodes that are still incomplete.
// Unmet dependencies always block; other validation errors block only when
// the configuration requires completion criteria to be met.
func (e *Engine) CompleteBillingMilestone(ctx context.Context, nodeID string, evidence domain.CompletionEvidence) (result *CompletionResult, err error) {
	ctx, span := e.start(ctx, "CompleteBillingMilestone", attribute.String("node.id", nodeID))
	defer func() { endSpan(span, err) }()

	start := time.Now()

	cc, err := e.loadForCompletion(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if cc.node.IsCompleted {
		return nil, fmt.Errorf("%w: billing node %s", domain.ErrAlreadyCompleted, nodeID)
	}
	span.SetAttributes(attribute.String("case.id", cc.c.ID))

	if evidence.CompletionDate.IsZero() {
		evidence.CompletionDate = e.now().UTC()
	}

	vr := e.validate(cc, evidence)
	requireCompletion := cc.cfg != nil && cc.cfg.RequireCompletion
	if len(vr.DependencyErrors) > 0 || (!vr.IsValid && requireCompletion) {
		return nil, &domain.ValidationError{
			Kind:     domain.ErrValidationFailed,
			Errors:   vr.Errors,
			Warnings: vr.Warnings,
		}
	}

	before := graph.Build(cc.nodes, cc.c.Phase)

	if err := e.store.PersistNodeCompletion(ctx, nodeID, evidence.CompletionDate, vr); err != nil {
		return nil, err
	}
	completedAt := evidence.CompletionDate
	cc.node.IsCompleted = true
	cc.node.CompletionDate = &completedAt
	cc.node.UpdatedAt = e.now().UTC()

	result = &CompletionResult{
		Success:    true,
		Node:       cc.node,
		Validation: vr,
	}

	if evidence.GenerateInvoice || cc.node.HasTrigger(domain.TriggerGenerateInvoice) {
		// The node is already completed; its invoice attempt must run even if
		// the caller goes away now.
		inv, err := e.issueNodeInvoice(context.WithoutCancel(ctx), cc, evidence)
		if inv != nil {
			result.Invoice = inv
			cc.node.InvoiceID = inv.ID
		}
		if err != nil {
			result.Success = false
			result.InvoiceError = domain.NewErrorDetail(err)
			slog.Error("milestone invoice failed",
				"case_id", cc.c.ID,
				"node_id", nodeID,
				"error", err,
			)
		}
	}

	after := graph.Build(cc.nodes, cc.c.Phase)
	result.NextNodes = graph.NewlyReady(before, after)

	auto := automation.ResolveAutomation(cc.cfg)
	if cc.cfg != nil {
		result.Automation = e.runner.Run(ctx, cc.c, auto, after)
	} else {
		result.Automation = &automation.Result{Tier: auto.Tier, Results: []automation.ActionResult{}, Errors: []domain.ErrorDetail{}}
	}

	e.publishCompletion(ctx, cc, result)
	e.publishAutomation(ctx, cc.c.ID, result.Automation)

	slog.Info("milestone completed",
		"case_id", cc.c.ID,
		"node_id", nodeID,
		"invoiced", result.Invoice != nil,
		"next_nodes", len(result.NextNodes),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}

func (e *Engine) issueNodeInvoice(ctx context.Context, cc *completionContext, evidence domain.CompletionEvidence) (*domain.Invoice, error) {
	name := cc.node.Name
	if name == "" {
		name = fmt.Sprintf("%s milestone", cc.node.Phase)
	}
	inv, err := e.issuer.Issue(ctx, &domain.IssueRequest{
		CaseID:   cc.c.ID,
		ClientID: cc.c.ClientID,
		Currency: e.currency(cc),
		Items: []domain.InvoiceItem{{
			Description: name,
			Amount:      cc.node.Amount,
			UserID:      evidence.UserID,
			NodeID:      cc.node.ID,
		}},
		IdempotencyKey: domain.IdempotencyKey("node", cc.node.ID),
	})
	if err != nil {
		return nil, domain.WrapUpstream("issue invoice", err)
	}
	if err := e.store.MarkNodesBilled(ctx, []string{cc.node.ID}, inv.ID); err != nil {
		return inv, fmt.Errorf("mark node billed: %w", err)
	}
	return inv, nil
}

func (e *Engine) currency(cc *completionContext) string {
	if cc.cfg != nil && cc.cfg.Currency != "" {
		return cc.cfg.Currency
	}
	return cc.c.Currency
}
