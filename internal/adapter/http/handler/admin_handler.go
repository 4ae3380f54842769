package handler

import (
	"context"

	"custody-engine/internal/adapter/http/dto"
	"custody-engine/internal/adapter/http/middleware"
	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"
	"custody-engine/pkg/response"

	"github.com/gin-gonic/gin"
)

// AdminHandler handles the authority-gated configuration endpoints.
type AdminHandler struct {
	custodySvc ports.CustodyService
}

func NewAdminHandler(custodySvc ports.CustodyService) *AdminHandler {
	return &AdminHandler{custodySvc: custodySvc}
}

// SetAuthority handles POST /api/v1/admin/authority.
func (h *AdminHandler) SetAuthority(c *gin.Context) {
	caller, ok := middleware.CallerAccount(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.SetAuthorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	authority, err := parseAccount("authority", req.Authority)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.custodySvc.SetAuthority(c.Request.Context(), caller, authority); err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxResourceID, authority.String())
	h.respondConfig(c)
}

// SetMinAmount handles PUT /api/v1/admin/limits/min.
func (h *AdminHandler) SetMinAmount(c *gin.Context) {
	h.setValue(c, h.custodySvc.SetMinAmount)
}

// SetMaxAmount handles PUT /api/v1/admin/limits/max.
func (h *AdminHandler) SetMaxAmount(c *gin.Context) {
	h.setValue(c, h.custodySvc.SetMaxAmount)
}

// SetFee handles PUT /api/v1/admin/fee.
func (h *AdminHandler) SetFee(c *gin.Context) {
	h.setValue(c, h.custodySvc.SetFee)
}

// IncrementIdentifier handles POST /api/v1/admin/identifier/increment.
func (h *AdminHandler) IncrementIdentifier(c *gin.Context) {
	caller, ok := middleware.CallerAccount(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	next, err := h.custodySvc.IncrementIdentifier(c.Request.Context(), caller)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.IncrementIdentifierResponse{NextPaymentID: next})
}

// GetConfig handles GET /api/v1/config.
func (h *AdminHandler) GetConfig(c *gin.Context) {
	h.respondConfig(c)
}

// VerifyReceipts handles GET /api/v1/admin/receipts/verify.
func (h *AdminHandler) VerifyReceipts(c *gin.Context) {
	report, err := h.custodySvc.VerifyReceiptChain(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

func (h *AdminHandler) setValue(c *gin.Context, set func(ctx context.Context, caller domain.AccountID, v uint64) error) {
	caller, ok := middleware.CallerAccount(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.SetValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	if err := set(c.Request.Context(), caller, req.Value); err != nil {
		response.Error(c, err)
		return
	}
	h.respondConfig(c)
}

func (h *AdminHandler) respondConfig(c *gin.Context) {
	state, err := h.custodySvc.GetConfig(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewConfigResponse(state))
}
