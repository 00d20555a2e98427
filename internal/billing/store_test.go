package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/docket/internal/domain"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory CaseStore and InvoiceIssuer for engine tests.
type memStore struct {
	mu       sync.Mutex
	cases    map[string]*domain.Case
	nodes    map[string]*domain.BillingNode
	configs  map[string]*domain.StageBillingConfiguration
	payments map[string]decimal.Decimal
	invoices map[string]*domain.Invoice // by idempotency key
	issued   int
	issueErr error
}

func newMemStore() *memStore {
	return &memStore{
		cases:    make(map[string]*domain.Case),
		nodes:    make(map[string]*domain.BillingNode),
		configs:  make(map[string]*domain.StageBillingConfiguration),
		payments: make(map[string]decimal.Decimal),
		invoices: make(map[string]*domain.Invoice),
	}
}

func (s *memStore) LoadCase(_ context.Context, caseID string) (*domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return nil, fmt.Errorf("%w: case %s", domain.ErrNotFound, caseID)
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) LoadNode(_ context.Context, nodeID string) (*domain.BillingNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: node %s", domain.ErrNotFound, nodeID)
	}
	cp := *n
	return &cp, nil
}

func (s *memStore) LoadNodes(_ context.Context, caseID string) ([]*domain.BillingNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[caseID]; !ok {
		return nil, fmt.Errorf("%w: case %s", domain.ErrNotFound, caseID)
	}
	var out []*domain.BillingNode
	for _, n := range s.nodes {
		if n.CaseID == caseID && n.IsActive {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) SaveNodes(_ context.Context, caseID string, nodes []*domain.BillingNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		if prev, ok := s.nodes[n.ID]; ok && prev.IsCompleted {
			return fmt.Errorf("%w: node %s is already completed", domain.ErrInvalidArgument, n.ID)
		}
	}
	for _, n := range s.nodes {
		if n.CaseID == caseID && !n.IsCompleted {
			n.IsActive = false
		}
	}
	for _, n := range nodes {
		cp := *n
		s.nodes[n.ID] = &cp
	}
	return nil
}

func (s *memStore) PersistNodeCompletion(_ context.Context, nodeID string, completedAt time.Time, _ *domain.ValidationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: node %s", domain.ErrNotFound, nodeID)
	}
	if n.IsCompleted {
		return fmt.Errorf("%w: node %s", domain.ErrAlreadyCompleted, nodeID)
	}
	n.IsCompleted = true
	n.CompletionDate = &completedAt
	return nil
}

func (s *memStore) MarkNodesBilled(_ context.Context, nodeIDs []string, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range nodeIDs {
		if n, ok := s.nodes[id]; ok {
			n.InvoiceID = invoiceID
		}
	}
	return nil
}

func (s *memStore) AdvancePhase(_ context.Context, caseID string) (domain.Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return "", fmt.Errorf("%w: case %s", domain.ErrNotFound, caseID)
	}
	next, err := domain.NextPhase(c.Phase)
	if err != nil {
		return "", err
	}
	c.Phase = next
	return next, nil
}

func (s *memStore) SaveConfiguration(_ context.Context, cfg *domain.StageBillingConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.configs[cfg.CaseID] = &cp
	return nil
}

func (s *memStore) LoadConfiguration(_ context.Context, caseID string) (*domain.StageBillingConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[caseID]
	if !ok {
		return nil, fmt.Errorf("%w: configuration for %s", domain.ErrNotFound, caseID)
	}
	cp := *cfg
	return &cp, nil
}

func (s *memStore) TotalPaid(_ context.Context, caseID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payments[caseID], nil
}

func (s *memStore) Issue(_ context.Context, req *domain.IssueRequest) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.issueErr != nil {
		return nil, s.issueErr
	}
	if inv, ok := s.invoices[req.IdempotencyKey]; ok {
		return inv, nil
	}
	if len(req.Items) == 0 {
		return nil, errors.New("invoice has no items")
	}
	s.issued++
	total := decimal.Zero
	for _, item := range req.Items {
		total = total.Add(item.Amount)
	}
	inv := &domain.Invoice{
		ID:             fmt.Sprintf("inv-%d", s.issued),
		Number:         fmt.Sprintf("INV-%05d", s.issued),
		CaseID:         req.CaseID,
		ClientID:       req.ClientID,
		Items:          req.Items,
		Amount:         total,
		Currency:       req.Currency,
		Status:         domain.InvoiceStatusIssued,
		IdempotencyKey: req.IdempotencyKey,
	}
	s.invoices[req.IdempotencyKey] = inv
	return inv, nil
}

// recordingBus captures published topics.
type recordingBus struct {
	mu     sync.Mutex
	topics []string
}

func (b *recordingBus) Publish(_ context.Context, topic string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string, domain.MessageHandler) (domain.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) Ping(context.Context) error { return nil }
func (b *recordingBus) Close() error               { return nil }

func (b *recordingBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.topics {
		if t == topic {
			n++
		}
	}
	return n
}
