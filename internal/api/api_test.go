package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/docket/internal/automation"
	"github.com/opensource-finance/docket/internal/billing"
	"github.com/opensource-finance/docket/internal/bus"
	"github.com/opensource-finance/docket/internal/cache"
	"github.com/opensource-finance/docket/internal/compliance"
	"github.com/opensource-finance/docket/internal/domain"
	"github.com/opensource-finance/docket/internal/fee"
	"github.com/opensource-finance/docket/internal/repository"
	"github.com/shopspring/decimal"
)

// createTestServer wires a server against a throwaway SQLite database.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(100)
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	conds, err := automation.NewConditions()
	if err != nil {
		t.Fatalf("NewConditions failed: %v", err)
	}
	rules := compliance.Default()
	runner := automation.NewRunner(repo, repo, nil, conds)
	engine := billing.NewEngine(repo, repo, rules, runner, eventBus)

	rates, err := fee.ParseRateSnapshot(domain.DefaultConfig().Exchange)
	if err != nil {
		t.Fatalf("ParseRateSnapshot failed: %v", err)
	}

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	return NewServer(cfg, repo, lru, eventBus, engine, fee.NewComputer(rules, rates), "test-v1")
}

func do(t *testing.T, s *Server, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
}

func seedCase(t *testing.T, s *Server) {
	t.Helper()
	rr := do(t, s, http.MethodPut, "/cases/case-1", map[string]any{
		"clientId":       "client-1",
		"name":           "Doe v. Acme",
		"phase":          "intake",
		"currency":       "USD",
		"totalValue":     "250000",
		"leadAttorneyId": "atty-1",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for case upsert, got %d: %s", rr.Code, rr.Body.String())
	}
}

func seedStageBilling(t *testing.T, s *Server) {
	t.Helper()
	rr := do(t, s, http.MethodPost, "/cases/case-1/stage-billing", map[string]any{
		"nodes": []map[string]any{
			{"id": "N1", "phase": "intake", "order": 1, "name": "Engagement", "amount": "1000"},
			{"id": "N2", "phase": "intake", "order": 2, "name": "Case assessment", "amount": "1500", "dependencies": []string{"N1"}},
		},
		"configuration": map[string]any{
			"approvalRequired": true,
			"gracePeriod":      3,
		},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201 for stage billing, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp map[string]string
		decode(t, rr, &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %s", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp["version"])
		}
		if rr.Header().Get(RequestIDHeader) == "" || rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected request and trace id headers")
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("NotReadyWithoutEngine", func(t *testing.T) {
		bare := NewServer(domain.ServerConfig{}, nil, nil, nil, nil, nil, "test-v1")
		rr := do(t, bare, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
		rr = do(t, bare, http.MethodGet, "/cases/case-1/stage-billing/progress", nil)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestStageBillingFlow(t *testing.T) {
	server := createTestServer(t)
	seedCase(t, server)
	seedStageBilling(t, server)

	t.Run("DependencyBlocksCompletion", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/billing-nodes/N2/complete", nil)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp ErrorResponse
		decode(t, rr, &resp)
		if resp.Code != domain.CodeValidationFailed {
			t.Errorf("expected validation_failed, got %s", resp.Code)
		}
		if len(resp.Details) != 1 {
			t.Errorf("expected one detail, got %v", resp.Details)
		}
	})

	t.Run("ValidateWithoutBody", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/billing-nodes/N1/validate", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var res domain.ValidationResult
		decode(t, rr, &res)
		if !res.IsValid {
			t.Errorf("expected N1 to be valid, got errors %v", res.Errors)
		}
	})

	var invoiceID string
	t.Run("CompleteWithInvoice", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/billing-nodes/N1/complete", map[string]any{
			"generateInvoice": true,
			"userId":          "atty-1",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var res billing.CompletionResult
		decode(t, rr, &res)
		if !res.Success || !res.Node.IsCompleted {
			t.Fatalf("expected successful completion, got %+v", res)
		}
		if res.Invoice == nil {
			t.Fatal("expected an invoice")
		}
		if !res.Invoice.Amount.Equal(decimal.NewFromInt(1000)) {
			t.Errorf("expected invoice amount 1000, got %s", res.Invoice.Amount)
		}
		if len(res.NextNodes) != 1 || res.NextNodes[0].ID != "N2" {
			t.Errorf("expected N2 to become ready, got %v", res.NextNodes)
		}
		invoiceID = res.Invoice.ID
	})

	t.Run("CompleteTwiceConflicts", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/billing-nodes/N1/complete", nil)
		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("GetInvoice", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/invoices/"+invoiceID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var inv domain.Invoice
		decode(t, rr, &inv)
		if inv.CaseID != "case-1" || inv.Currency != "USD" {
			t.Errorf("unexpected invoice %+v", inv)
		}

		rr = do(t, server, http.MethodGet, "/cases/case-1/invoices", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Payments", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/cases/case-1/payments", map[string]any{
			"amount":   "400",
			"currency": "USD",
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = do(t, server, http.MethodPost, "/cases/case-1/payments", map[string]any{"amount": "-5"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for negative payment, got %d", rr.Code)
		}
	})

	t.Run("Progress", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/cases/case-1/stage-billing/progress", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			Summary billing.Summary `json:"summary"`
		}
		decode(t, rr, &resp)
		if !resp.Summary.TotalPaid.Equal(decimal.NewFromInt(400)) {
			t.Errorf("expected total paid 400, got %s", resp.Summary.TotalPaid)
		}
	})

	t.Run("Suggestions", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/cases/case-1/stage-billing/suggestions", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp billing.Suggestions
		decode(t, rr, &resp)
		if resp.CaseID != "case-1" {
			t.Errorf("expected caseId case-1, got %s", resp.CaseID)
		}
	})

	t.Run("Automation", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/cases/case-1/stage-billing/automation", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var res automation.Result
		decode(t, rr, &res)
		if res.Tier != domain.TierSupervised {
			t.Errorf("expected supervised tier, got %s", res.Tier)
		}
	})

	t.Run("UpdateConfiguration", func(t *testing.T) {
		rr := do(t, server, http.MethodPut, "/cases/case-1/stage-billing/config", map[string]any{
			"autoAdvance":       true,
			"requireCompletion": true,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			Automation domain.StageBillingAutomation `json:"automation"`
		}
		decode(t, rr, &resp)
		if resp.Automation.Tier != domain.TierAutomated {
			t.Errorf("expected automated tier, got %s", resp.Automation.Tier)
		}

		rr = do(t, server, http.MethodPut, "/cases/case-1/stage-billing/config", map[string]any{
			"invoiceCondition": "completedAmount >",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for bad condition, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestStageBillingErrors(t *testing.T) {
	server := createTestServer(t)
	seedCase(t, server)

	t.Run("UnknownCase", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/cases/missing/stage-billing", map[string]any{"nodes": []any{}})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp ErrorResponse
		decode(t, rr, &resp)
		if resp.Code != domain.CodeNotFound {
			t.Errorf("expected not_found, got %s", resp.Code)
		}
	})

	t.Run("DependencyCycle", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/cases/case-1/stage-billing", map[string]any{
			"nodes": []map[string]any{
				{"id": "A", "name": "A", "amount": "10", "dependencies": []string{"B"}},
				{"id": "B", "name": "B", "amount": "10", "dependencies": []string{"A"}},
			},
		})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp ErrorResponse
		decode(t, rr, &resp)
		if resp.Code != domain.CodeDependencyCycle {
			t.Errorf("expected dependency_cycle, got %s", resp.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/cases/case-1/stage-billing", "not-json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownNode", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/billing-nodes/nope/validate", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("BadPhase", func(t *testing.T) {
		rr := do(t, server, http.MethodPut, "/cases/case-2", map[string]any{"phase": "sentencing"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestFeeEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Hourly", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/fees/calculate", map[string]any{
			"feeType":    "HOURLY",
			"parameters": map[string]any{"hours": "10", "rate": "200"},
			"currency":   "USD",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var res domain.FeeResult
		decode(t, rr, &res)
		if !res.FinalFee.Equal(decimal.NewFromInt(2000)) {
			t.Errorf("expected final fee 2000, got %s", res.FinalFee)
		}
		if !res.TaxAmount.Equal(decimal.NewFromInt(160)) {
			t.Errorf("expected tax 160, got %s", res.TaxAmount)
		}
	})

	t.Run("MissingParameter", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/fees/calculate", map[string]any{
			"feeType":    "HOURLY",
			"parameters": map[string]any{"hours": "10"},
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownFeeType", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/fees/calculate", map[string]any{"feeType": "BARTER"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Contingency", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/fees/contingency", map[string]any{
			"settlementAmount": "100000",
			"percentage":       "30",
			"expenses":         "5000",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var res domain.ContingencyResult
		decode(t, rr, &res)
		if !res.ClientRecovery.IsPositive() {
			t.Errorf("expected positive client recovery, got %s", res.ClientRecovery)
		}

		rr = do(t, server, http.MethodPost, "/fees/contingency", map[string]any{
			"settlementAmount": "100000",
			"percentage":       "150",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for percentage over 100, got %d", rr.Code)
		}
	})

	t.Run("Retainer", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/fees/retainer", map[string]any{
			"retainerAmount": "5000",
			"hourlyRate":     "250",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var res domain.RetainerResult
		decode(t, rr, &res)
		if !res.Refundable {
			t.Error("expected a refundable retainer")
		}
		if res.CoveredHours == nil || !res.CoveredHours.Equal(decimal.NewFromInt(20)) {
			t.Errorf("expected 20 covered hours, got %v", res.CoveredHours)
		}
	})

	t.Run("Convert", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/fees/convert", map[string]any{
			"amount": "100", "from": "usd", "to": "CAD",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var res domain.Conversion
		decode(t, rr, &res)
		if !res.Converted.Equal(decimal.NewFromInt(136)) {
			t.Errorf("expected 136, got %s", res.Converted)
		}

		rr = do(t, server, http.MethodPost, "/fees/convert", map[string]any{
			"amount": "100", "from": "CAD", "to": "EUR",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for missing pair, got %d", rr.Code)
		}
	})
}

func TestIdempotencyReplay(t *testing.T) {
	server := createTestServer(t)
	seedCase(t, server)
	seedStageBilling(t, server)

	body := map[string]any{"amount": "250", "currency": "USD"}
	first := do(t, server, http.MethodPost, "/cases/case-1/payments", body, IdempotencyKeyHeader, "pay-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", first.Code, first.Body.String())
	}
	if first.Header().Get(IdempotentReplayHeader) != "" {
		t.Error("first response must not be a replay")
	}

	second := do(t, server, http.MethodPost, "/cases/case-1/payments", body, IdempotencyKeyHeader, "pay-1")
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed status 201, got %d", second.Code)
	}
	if second.Header().Get(IdempotentReplayHeader) != "true" {
		t.Error("expected replay header")
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Errorf("expected identical bodies, got %s and %s", first.Body.String(), second.Body.String())
	}

	// Only one payment reached the ledger.
	rr := do(t, server, http.MethodGet, "/cases/case-1/stage-billing/progress", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Summary billing.Summary `json:"summary"`
	}
	decode(t, rr, &resp)
	if !resp.Summary.TotalPaid.Equal(decimal.NewFromInt(250)) {
		t.Errorf("expected total paid 250, got %s", resp.Summary.TotalPaid)
	}

	t.Run("DifferentKeyRunsAgain", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/cases/case-1/payments", body, IdempotencyKeyHeader, "pay-2")
		if rr.Header().Get(IdempotentReplayHeader) != "" {
			t.Error("a new key must not replay")
		}
	})

	t.Run("ClientErrorsAreReplayed", func(t *testing.T) {
		bad := map[string]any{"amount": "-1"}
		first := do(t, server, http.MethodPost, "/cases/case-1/payments", bad, IdempotencyKeyHeader, "pay-bad")
		second := do(t, server, http.MethodPost, "/cases/case-1/payments", bad, IdempotencyKeyHeader, "pay-bad")
		if first.Code != http.StatusBadRequest || second.Code != http.StatusBadRequest {
			t.Errorf("expected 400 twice, got %d and %d", first.Code, second.Code)
		}
		if second.Header().Get(IdempotentReplayHeader) != "true" {
			t.Error("expected replay header")
		}
	})
}
