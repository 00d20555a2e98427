package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/docket/internal/billing"
	"github.com/opensource-finance/docket/internal/domain"
	"github.com/opensource-finance/docket/internal/fee"
	"github.com/shopspring/decimal"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *billing.Engine
	fees    *fee.Computer
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *billing.Engine, fees *fee.Computer, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  engine,
		fees:    fees,
		version: version,
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code     string   `json:"code"`
	Message  string   `json:"error"`
	Details  []string `json:"details,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	TraceID  string   `json:"traceId,omitempty"`
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil || h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// UpsertCase handles PUT /cases/{caseID}.
func (h *Handler) UpsertCase(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	var c domain.Case
	if !decodeJSON(w, r, &c) {
		return
	}
	c.ID = chi.URLParam(r, "caseID")

	if err := h.repo.SaveCase(r.Context(), &c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// PaymentRequest is the request body for POST /cases/{caseID}/payments.
type PaymentRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Reference  string          `json:"reference,omitempty"`
	ReceivedAt *time.Time      `json:"receivedAt,omitempty"`
}

// RecordPayment handles POST /cases/{caseID}/payments.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	var req PaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p := &domain.Payment{
		CaseID:    chi.URLParam(r, "caseID"),
		Amount:    req.Amount,
		Currency:  req.Currency,
		Reference: req.Reference,
	}
	if req.ReceivedAt != nil {
		p.ReceivedAt = req.ReceivedAt.UTC()
	}

	if err := h.repo.RecordPayment(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListInvoices handles GET /cases/{caseID}/invoices.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	invoices, err := h.repo.ListInvoices(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"invoices": invoices,
		"count":    len(invoices),
	})
}

// GetInvoice handles GET /invoices/{id}.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	inv, err := h.repo.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// CreateStageBillingRequest is the request body for
// POST /cases/{caseID}/stage-billing. A missing configuration gets the
// engine defaults.
type CreateStageBillingRequest struct {
	Nodes         []*domain.BillingNode             `json:"nodes"`
	Configuration *domain.StageBillingConfiguration `json:"configuration,omitempty"`
}

// CreateStageBilling handles POST /cases/{caseID}/stage-billing.
func (h *Handler) CreateStageBilling(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}
	var req CreateStageBillingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.engine.CreateStageBillingSystem(r.Context(), chi.URLParam(r, "caseID"), req.Nodes, req.Configuration)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// UpdateConfiguration handles PUT /cases/{caseID}/stage-billing/config.
func (h *Handler) UpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}
	var cfg domain.StageBillingConfiguration
	if !decodeJSON(w, r, &cfg) {
		return
	}

	auto, err := h.engine.UpdateConfiguration(r.Context(), chi.URLParam(r, "caseID"), &cfg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"configuration": cfg,
		"automation":    auto,
	})
}

// GetProgress handles GET /cases/{caseID}/stage-billing/progress.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}
	progress, err := h.engine.GetStageBillingProgress(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// GetSuggestions handles GET /cases/{caseID}/stage-billing/suggestions.
func (h *Handler) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}
	suggestions, err := h.engine.GenerateBillingSuggestions(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

// ProcessAutomation handles POST /cases/{caseID}/stage-billing/automation.
func (h *Handler) ProcessAutomation(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}
	res, err := h.engine.ProcessAutomation(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ValidateCompletion handles POST /billing-nodes/{nodeID}/validate. An empty
// body validates with no evidence.
func (h *Handler) ValidateCompletion(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}
	var evidence domain.CompletionEvidence
	if !decodeOptionalJSON(w, r, &evidence) {
		return
	}

	res, err := h.engine.ValidateCompletion(r.Context(), chi.URLParam(r, "nodeID"), evidence)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CompleteMilestone handles POST /billing-nodes/{nodeID}/complete.
func (h *Handler) CompleteMilestone(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}
	var evidence domain.CompletionEvidence
	if !decodeOptionalJSON(w, r, &evidence) {
		return
	}

	res, err := h.engine.CompleteBillingMilestone(r.Context(), chi.URLParam(r, "nodeID"), evidence)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Code:    domain.CodeInternal,
			Message: "repository not available",
		})
		return false
	}
	return true
}

func (h *Handler) requireEngine(w http.ResponseWriter) bool {
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Code:    domain.CodeInternal,
			Message: "billing engine not available",
		})
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Code:    domain.CodeInvalidArgument,
			Message: "invalid JSON request body",
			TraceID: GetTraceID(r.Context()),
		})
		return false
	}
	return true
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Code:    domain.CodeInvalidArgument,
		Message: "invalid JSON request body",
		TraceID: GetTraceID(r.Context()),
	})
	return false
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(code string) int {
	switch code {
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeAlreadyCompleted:
		return http.StatusConflict
	case domain.CodeValidationFailed, domain.CodeDependencyCycle:
		return http.StatusUnprocessableEntity
	case domain.CodeUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	resp := ErrorResponse{
		Code:    code,
		Message: err.Error(),
		TraceID: GetTraceID(r.Context()),
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Details = verr.Errors
		resp.Warnings = verr.Warnings
	}

	status := statusFor(code)
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"trace_id", resp.TraceID,
			"error", err,
		)
		resp.Message = "internal server error"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
