package handler

import (
	"custody-engine/internal/adapter/http/dto"
	"custody-engine/internal/adapter/http/middleware"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"
	"custody-engine/pkg/response"

	"github.com/gin-gonic/gin"
)

// FundHandler handles funder balance endpoints.
type FundHandler struct {
	custodySvc ports.CustodyService
}

func NewFundHandler(custodySvc ports.CustodyService) *FundHandler {
	return &FundHandler{custodySvc: custodySvc}
}

// UpdateFundBalance handles POST /api/v1/funds.
func (h *FundHandler) UpdateFundBalance(c *gin.Context) {
	caller, ok := middleware.CallerAccount(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidAccessKey())
		return
	}

	var req dto.UpdateFundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	funder, err := parseAccount("funder", req.Funder)
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.custodySvc.UpdateFundBalance(c.Request.Context(), caller, funder, req.Amount); err != nil {
		response.Error(c, err)
		return
	}

	balance, err := h.custodySvc.GetFundBalance(c.Request.Context(), funder)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxResourceID, funder.String())
	response.OK(c, dto.FundBalanceResponse{Funder: funder.String(), Balance: balance})
}

// GetFundBalance handles GET /api/v1/funds/:funder. Unknown funders read as zero.
func (h *FundHandler) GetFundBalance(c *gin.Context) {
	funder, err := parseAccount("funder", c.Param("funder"))
	if err != nil {
		response.Error(c, err)
		return
	}

	balance, err := h.custodySvc.GetFundBalance(c.Request.Context(), funder)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FundBalanceResponse{Funder: funder.String(), Balance: balance})
}
