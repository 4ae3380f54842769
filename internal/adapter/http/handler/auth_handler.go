package handler

import (
	"net/http"

	"custody-engine/internal/adapter/http/dto"
	"custody-engine/internal/adapter/http/middleware"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"
	"custody-engine/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthHandler exchanges signed client requests for admin bearer tokens.
type AuthHandler struct {
	clientSvc ports.ClientService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(clientSvc ports.ClientService) *AuthHandler {
	return &AuthHandler{clientSvc: clientSvc}
}

// IssueToken handles POST /api/v1/auth/token. The request is already HMAC-verified.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	clientID, ok := middleware.ClientID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidAccessKey())
		return
	}

	token, expiresAt, err := h.clientSvc.IssueToken(c.Request.Context(), clientID)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxResourceID, clientID.String())
	response.Created(c, dto.TokenResponse{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
	})
}

// HealthCheck handles GET /health. It pings every dependency.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus, len(checkers))
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status, httpCode := "healthy", http.StatusOK
		if !allHealthy {
			status, httpCode = "degraded", http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
