package billing

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/docket/internal/automation"
	"github.com/opensource-finance/docket/internal/domain"
)

// publish is best effort: billing state is already committed when events go
// out, so failures are logged and dropped.
func (e *Engine) publish(ctx context.Context, topic string, v any) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := e.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish event", "topic", topic, "error", err)
	}
}

func (e *Engine) publishCompletion(ctx context.Context, cc *completionContext, res *CompletionResult) {
	ev := domain.MilestoneEvent{
		CaseID:    cc.c.ID,
		NodeID:    cc.node.ID,
		Name:      cc.node.Name,
		Phase:     cc.node.Phase,
		InvoiceID: cc.node.InvoiceID,
	}
	if cc.node.CompletionDate != nil {
		ev.CompletedAt = cc.node.CompletionDate.Format(time.RFC3339)
	}
	e.publish(ctx, domain.TopicMilestoneCompleted, ev)

	for _, trigger := range cc.node.Triggers {
		if trigger == domain.TriggerGenerateInvoice {
			continue
		}
		triggered := ev
		triggered.Trigger = trigger
		e.publish(ctx, domain.TopicMilestoneTriggered, triggered)
	}

	if res.Invoice != nil {
		e.publish(ctx, domain.TopicInvoiceIssued, res.Invoice)
	}
}

func (e *Engine) publishAutomation(ctx context.Context, caseID string, res *automation.Result) {
	if res == nil {
		return
	}
	for _, ar := range res.Results {
		if !ar.Success {
			continue
		}
		switch ar.Action {
		case automation.ActionGenerateInvoice:
			if ar.Invoice != nil {
				e.publish(ctx, domain.TopicInvoiceIssued, ar.Invoice)
			}
		case automation.ActionAdvancePhase:
			e.publish(ctx, domain.TopicPhaseAdvanced, domain.PhaseEvent{CaseID: caseID, From: ar.From, To: ar.Phase})
		}
	}
}
