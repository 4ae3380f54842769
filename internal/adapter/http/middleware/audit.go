package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog records successful write requests once the handler has finished.
// Handlers may set CtxResourceID to name the affected resource.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < 200 || status >= 300 {
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}

		action, resourceType := mapRouteToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		var caller *domain.AccountID
		if a, ok := CallerAccount(c); ok {
			caller = &a
		}

		details, _ := json.Marshal(map[string]any{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"request_id": c.GetString(response.RequestIDKey),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			Caller:       caller,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.GetString(CtxResourceID),
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		})
	}
}

func mapRouteToAction(route, method string) (domain.AuditAction, string) {
	switch {
	case route == "/api/v1/payments" && method == http.MethodPost:
		return domain.AuditActionProcessPayment, "payment"
	case route == "/api/v1/funds" && method == http.MethodPost:
		return domain.AuditActionUpdateFundBalance, "fund_balance"
	case route == "/api/v1/auth/token" && method == http.MethodPost:
		return domain.AuditActionIssueToken, "api_client"
	case route == "/api/v1/admin/authority" && method == http.MethodPost:
		return domain.AuditActionSetAuthority, "custody_state"
	case route == "/api/v1/admin/limits/min" && method == http.MethodPut:
		return domain.AuditActionSetMinAmount, "custody_state"
	case route == "/api/v1/admin/limits/max" && method == http.MethodPut:
		return domain.AuditActionSetMaxAmount, "custody_state"
	case route == "/api/v1/admin/fee" && method == http.MethodPut:
		return domain.AuditActionSetFee, "custody_state"
	case route == "/api/v1/admin/identifier/increment" && method == http.MethodPost:
		return domain.AuditActionIncrementIdentifier, "custody_state"
	}
	return "", ""
}
