package handler

import (
	"strconv"

	"custody-engine/internal/adapter/http/dto"
	"custody-engine/internal/adapter/http/middleware"
	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"
	"custody-engine/pkg/response"

	"github.com/gin-gonic/gin"
)

// PaymentHandler handles payment endpoints.
type PaymentHandler struct {
	custodySvc ports.CustodyService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(custodySvc ports.CustodyService) *PaymentHandler {
	return &PaymentHandler{custodySvc: custodySvc}
}

// ProcessPayment handles POST /api/v1/payments.
func (h *PaymentHandler) ProcessPayment(c *gin.Context) {
	caller, ok := middleware.CallerAccount(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidAccessKey())
		return
	}

	var req dto.ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	payment, err := toPaymentRequest(caller, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	id, err := h.custodySvc.ProcessPayment(c.Request.Context(), payment)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxResourceID, strconv.FormatUint(id, 10))
	response.Created(c, dto.ProcessPaymentResponse{PaymentID: id})
}

// GetPayment handles GET /api/v1/payments/:id.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id, ok := paymentIDParam(c)
	if !ok {
		return
	}

	rec, err := h.custodySvc.GetPayment(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewPaymentResponse(rec))
}

// GetPaymentStatus handles GET /api/v1/payments/:id/status.
func (h *PaymentHandler) GetPaymentStatus(c *gin.Context) {
	id, ok := paymentIDParam(c)
	if !ok {
		return
	}

	paid, err := h.custodySvc.GetPaymentStatus(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.PaymentStatusResponse{ID: id, Paid: paid})
}

func toPaymentRequest(caller domain.AccountID, req dto.ProcessPaymentRequest) (ports.PaymentRequest, error) {
	out := ports.PaymentRequest{
		Caller:    caller,
		SessionID: req.SessionID,
		Amount:    req.Amount,
	}

	var err error
	if out.Provider, err = parseAccount("provider", req.Provider); err != nil {
		return out, err
	}
	if out.Patient, err = parseAccount("patient", req.Patient); err != nil {
		return out, err
	}
	if out.Funder, err = parseAccount("funder", req.Funder); err != nil {
		return out, err
	}
	// Undecodable hex carries no bytes and fails the engine's session hash check.
	out.SessionHash, _ = domain.DecodeHex(req.SessionHash)
	return out, nil
}

func parseAccount(field, raw string) (domain.AccountID, error) {
	a, err := domain.ParseAccountID(raw)
	if err != nil {
		return "", apperror.Validation("invalid " + field)
	}
	return a, nil
}

// paymentIDParam parses :id and writes the error response itself on failure.
func paymentIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, apperror.Validation("payment id must be an unsigned integer"))
		return 0, false
	}
	return id, true
}
