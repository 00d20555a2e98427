package automation

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/docket/internal/domain"
)

// DefaultInvoiceExpression issues a consolidated invoice once the unbilled
// total exceeds the configured minimum.
const DefaultInvoiceExpression = "unbilled_amount > minimum_amount"

// Facts are the graph figures an invoice condition may reference.
type Facts struct {
	UnbilledAmount  float64
	MinimumAmount   float64
	UnbilledCount   int
	CompletedCount  int
	ReadyCount      int
	BlockedCount    int
	OverallProgress int
	Phase           domain.Phase
}

func (f Facts) activation() map[string]any {
	return map[string]any{
		"unbilled_amount":  f.UnbilledAmount,
		"minimum_amount":   f.MinimumAmount,
		"unbilled_count":   int64(f.UnbilledCount),
		"completed_count":  int64(f.CompletedCount),
		"ready_count":      int64(f.ReadyCount),
		"blocked_count":    int64(f.BlockedCount),
		"overall_progress": int64(f.OverallProgress),
		"phase":            string(f.Phase),
	}
}

// Conditions compiles invoice condition expressions once and caches the
// programs by source text.
type Conditions struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

// NewConditions creates the CEL environment for invoice conditions.
func NewConditions() (*Conditions, error) {
	env, err := cel.NewEnv(
		cel.Variable("unbilled_amount", cel.DoubleType),
		cel.Variable("minimum_amount", cel.DoubleType),
		cel.Variable("unbilled_count", cel.IntType),
		cel.Variable("completed_count", cel.IntType),
		cel.Variable("ready_count", cel.IntType),
		cel.Variable("blocked_count", cel.IntType),
		cel.Variable("overall_progress", cel.IntType),
		cel.Variable("phase", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Conditions{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Validate compiles an expression without evaluating it. Empty expressions
// are valid and fall back to DefaultInvoiceExpression.
func (c *Conditions) Validate(expr string) error {
	_, err := c.program(expr)
	return err
}

// Evaluate runs the expression against facts.
func (c *Conditions) Evaluate(expr string, facts Facts) (bool, error) {
	prg, err := c.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(facts.activation())
	if err != nil {
		return false, fmt.Errorf("evaluate invoice condition: %w", err)
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("%w: invoice condition returned %s", domain.ErrInvalidArgument, out.Type())
	}
	return bool(b), nil
}

func (c *Conditions) program(expr string) (cel.Program, error) {
	if expr == "" {
		expr = DefaultInvoiceExpression
	}

	c.mu.RLock()
	prg, ok := c.programs[expr]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: invoice condition %q: %v", domain.ErrInvalidArgument, expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: invoice condition %q must return bool, got %s", domain.ErrInvalidArgument, expr, ast.OutputType())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for invoice condition: %w", err)
	}

	c.mu.Lock()
	c.programs[expr] = prg
	c.mu.Unlock()
	return prg, nil
}

// Len returns the number of cached programs.
func (c *Conditions) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}
