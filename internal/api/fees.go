package api

import (
	"net/http"

	"github.com/opensource-finance/docket/internal/domain"
	"github.com/shopspring/decimal"
)

// FeeCalculationRequest is the request body for POST /fees/calculate.
type FeeCalculationRequest struct {
	FeeType      domain.FeeType       `json:"feeType"`
	Parameters   domain.FeeParameters `json:"parameters"`
	Jurisdiction string               `json:"jurisdiction,omitempty"`
	Complexity   string               `json:"complexity,omitempty"`
	Urgency      string               `json:"urgency,omitempty"`
	Currency     string               `json:"currency,omitempty"`
	Minimum      *decimal.Decimal     `json:"minimum,omitempty"`
	Maximum      *decimal.Decimal     `json:"maximum,omitempty"`
}

// ContingencyFeeRequest is the request body for POST /fees/contingency.
type ContingencyFeeRequest struct {
	SettlementAmount decimal.Decimal `json:"settlementAmount"`
	Percentage       decimal.Decimal `json:"percentage"`
	Expenses         decimal.Decimal `json:"expenses"`
	Jurisdiction     string          `json:"jurisdiction,omitempty"`
	Complexity       string          `json:"complexity,omitempty"`
	Urgency          string          `json:"urgency,omitempty"`
	Currency         string          `json:"currency,omitempty"`
}

// RetainerFeeRequest is the request body for POST /fees/retainer.
type RetainerFeeRequest struct {
	RetainerAmount   decimal.Decimal  `json:"retainerAmount"`
	HourlyRate       *decimal.Decimal `json:"hourlyRate,omitempty"`
	ReplenishPercent *decimal.Decimal `json:"replenishPercent,omitempty"`
	Jurisdiction     string           `json:"jurisdiction,omitempty"`
	Currency         string           `json:"currency,omitempty"`
}

// ConversionRequest is the request body for POST /fees/convert.
type ConversionRequest struct {
	Amount decimal.Decimal `json:"amount"`
	From   string          `json:"from"`
	To     string          `json:"to"`
}

// CalculateFee handles POST /fees/calculate.
func (h *Handler) CalculateFee(w http.ResponseWriter, r *http.Request) {
	if !h.requireFees(w) {
		return
	}
	var req FeeCalculationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	arrangement, err := domain.ParseArrangement(req.FeeType, req.Parameters)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.fees.ComputeFee(domain.FeeRequest{
		Arrangement:  arrangement,
		Jurisdiction: domain.Jurisdiction(req.Jurisdiction),
		Complexity:   domain.Complexity(req.Complexity),
		Urgency:      domain.Urgency(req.Urgency),
		Currency:     req.Currency,
		Minimum:      req.Minimum,
		Maximum:      req.Maximum,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CalculateContingency handles POST /fees/contingency.
func (h *Handler) CalculateContingency(w http.ResponseWriter, r *http.Request) {
	if !h.requireFees(w) {
		return
	}
	var req ContingencyFeeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.fees.CalculateContingencyFee(domain.ContingencyRequest{
		SettlementAmount: req.SettlementAmount,
		Percentage:       req.Percentage,
		Expenses:         req.Expenses,
		Jurisdiction:     domain.Jurisdiction(req.Jurisdiction),
		Complexity:       domain.Complexity(req.Complexity),
		Urgency:          domain.Urgency(req.Urgency),
		Currency:         req.Currency,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CalculateRetainer handles POST /fees/retainer.
func (h *Handler) CalculateRetainer(w http.ResponseWriter, r *http.Request) {
	if !h.requireFees(w) {
		return
	}
	var req RetainerFeeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.fees.CalculateRetainerFee(domain.RetainerRequest{
		RetainerAmount:   req.RetainerAmount,
		HourlyRate:       req.HourlyRate,
		ReplenishPercent: req.ReplenishPercent,
		Jurisdiction:     domain.Jurisdiction(req.Jurisdiction),
		Currency:         req.Currency,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ConvertCurrency handles POST /fees/convert.
func (h *Handler) ConvertCurrency(w http.ResponseWriter, r *http.Request) {
	if !h.requireFees(w) {
		return
	}
	var req ConversionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.fees.ConvertCurrency(req.Amount, req.From, req.To)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) requireFees(w http.ResponseWriter) bool {
	if h.fees == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Code:    domain.CodeInternal,
			Message: "fee computer not available",
		})
		return false
	}
	return true
}
