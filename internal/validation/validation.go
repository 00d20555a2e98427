// Package validation checks whether a billing node may be completed.
package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/docket/internal/domain"
)

const day = 24 * time.Hour

// Input is everything a completion check looks at.
type Input struct {
	Node *domain.BillingNode

	// Nodes are the case's active nodes, used to resolve dependencies.
	Nodes    []*domain.BillingNode
	Case     *domain.Case
	Config   *domain.StageBillingConfiguration
	Evidence domain.CompletionEvidence
}

// Validator runs completion checks against a compliance table.
type Validator struct {
	rules domain.ComplianceRules
}

// New creates a Validator.
func New(rules domain.ComplianceRules) *Validator {
	return &Validator{rules: rules}
}

// Validate runs every check and accumulates all findings; it never stops at
// the first failure. The result is valid when it carries no errors.
func (v *Validator) Validate(in Input) *domain.ValidationResult {
	res := &domain.ValidationResult{
		Errors:           []string{},
		Warnings:         []string{},
		Recommendations:  []string{},
		DependencyErrors: []string{},
	}
	node := in.Node
	requireCompletion := in.Config != nil && in.Config.RequireCompletion

	v.checkDependencies(in, res)

	if th := node.Criteria.TimeThreshold; th != nil && in.Case != nil {
		start := in.Case.PhaseStartedAt
		if start.IsZero() {
			start = in.Case.OpenedAt
		}
		if !start.IsZero() {
			elapsed := int(in.Evidence.CompletionDate.Sub(start) / day)
			if elapsed < *th {
				msg := fmt.Sprintf("time threshold not met: %d of %d days elapsed", elapsed, *th)
				if requireCompletion {
					res.Errors = append(res.Errors, msg)
				} else {
					res.Warnings = append(res.Warnings, msg)
				}
			}
		}
	}

	for _, doc := range node.Criteria.DocumentRequirements {
		if !in.Evidence.HasDocument(doc) {
			res.Errors = append(res.Errors, fmt.Sprintf("missing required document: %s", doc))
		}
	}

	if len(node.Criteria.ApprovalRequirements) > 0 && in.Evidence.ApproverID == "" {
		for _, approval := range node.Criteria.ApprovalRequirements {
			res.Errors = append(res.Errors, fmt.Sprintf("approval required: %s", approval))
		}
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("Obtain approval (%s) and supply an approver before completing",
				strings.Join(node.Criteria.ApprovalRequirements, ", ")))
	}

	for _, req := range node.Requirements {
		if !in.Evidence.HasDocument(req) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("requirement not evidenced: %s", req))
		}
	}

	res.Compliance = v.compliance(node, in.Case, in.Evidence)
	for _, doc := range res.Compliance.MissingDocumentation {
		res.Warnings = append(res.Warnings, fmt.Sprintf("phase documentation missing: %s", doc))
	}
	if res.Compliance.CourtApprovalRequired {
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("Court approval required: case value exceeds %s",
				res.Compliance.CourtApprovalThreshold.StringFixed(2)))
	}

	if node.Amount.IsPositive() && !node.Billed() && !in.Evidence.GenerateInvoice && !node.HasTrigger(domain.TriggerGenerateInvoice) {
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("Generate an invoice for %s (%s)", node.Name, node.Amount.StringFixed(2)))
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

func (v *Validator) checkDependencies(in Input, res *domain.ValidationResult) {
	if len(in.Node.Dependencies) == 0 {
		return
	}
	byID := make(map[string]*domain.BillingNode, len(in.Nodes))
	for _, n := range in.Nodes {
		byID[n.ID] = n
	}
	for _, dep := range in.Node.Dependencies {
		d, ok := byID[dep]
		satisfied := ok && d.IsCompleted
		if satisfied && d.CompletionDate != nil && !in.Evidence.CompletionDate.IsZero() {
			satisfied = !d.CompletionDate.After(in.Evidence.CompletionDate)
		}
		if !satisfied {
			msg := fmt.Sprintf("dependency not satisfied: %s", dep)
			res.Errors = append(res.Errors, msg)
			res.DependencyErrors = append(res.DependencyErrors, msg)
		}
	}
}

func (v *Validator) compliance(node *domain.BillingNode, c *domain.Case, ev domain.CompletionEvidence) domain.StageCompliance {
	required := v.rules.PhaseDocumentation(node.Phase)
	if required == nil {
		required = []string{}
	}
	sc := domain.StageCompliance{
		Phase:                  node.Phase,
		DocumentationRequired:  required,
		CourtApprovalThreshold: v.rules.CourtApprovalThreshold(),
	}
	for _, doc := range required {
		if !ev.HasDocument(doc) {
			sc.MissingDocumentation = append(sc.MissingDocumentation, doc)
		}
	}
	if c != nil && sc.CourtApprovalThreshold.IsPositive() && c.TotalValue.GreaterThan(sc.CourtApprovalThreshold) {
		sc.CourtApprovalRequired = true
	}
	return sc
}
