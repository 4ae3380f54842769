package handler

import (
	"custody-engine/config"
	"custody-engine/internal/adapter/http/middleware"
	redisStore "custody-engine/internal/adapter/storage/redis"
	"custody-engine/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	CustodySvc     ports.CustodyService
	ClientSvc      ports.ClientService
	ClientRepo     ports.ClientRepository
	EncSvc         ports.EncryptionService
	SigSvc         ports.SignatureService
	NonceStore     ports.NonceStore
	TokenSvc       ports.TokenService
	Security       config.SecurityConfig
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = audit logging disabled
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20))
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimitStore == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- HMAC-authenticated routes (service callers) ---
	hmacAuth := middleware.HMACAuth(deps.ClientRepo, deps.EncSvc, deps.SigSvc, deps.NonceStore, deps.Security, deps.Logger)

	paymentHandler := NewPaymentHandler(deps.CustodySvc)
	payments := v1.Group("/payments", hmacAuth)
	{
		payments.POST("", rl("payments"), paymentHandler.ProcessPayment)
		payments.GET("/:id", rl("reads"), paymentHandler.GetPayment)
		payments.GET("/:id/status", rl("reads"), paymentHandler.GetPaymentStatus)
	}

	fundHandler := NewFundHandler(deps.CustodySvc)
	funds := v1.Group("/funds", hmacAuth)
	{
		funds.POST("", rl("funds"), fundHandler.UpdateFundBalance)
		funds.GET("/:funder", rl("reads"), fundHandler.GetFundBalance)
	}

	authHandler := NewAuthHandler(deps.ClientSvc)
	v1.POST("/auth/token", hmacAuth, rl("auth_token"), authHandler.IssueToken)

	// --- JWT-authenticated routes (authority administration) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	adminHandler := NewAdminHandler(deps.CustodySvc)

	v1.GET("/config", jwtAuth, rl("reads"), adminHandler.GetConfig)

	admin := v1.Group("/admin", jwtAuth, rl("admin"))
	{
		admin.POST("/authority", adminHandler.SetAuthority)
		admin.PUT("/limits/min", adminHandler.SetMinAmount)
		admin.PUT("/limits/max", adminHandler.SetMaxAmount)
		admin.PUT("/fee", adminHandler.SetFee)
		admin.POST("/identifier/increment", adminHandler.IncrementIdentifier)
		admin.GET("/receipts/verify", adminHandler.VerifyReceipts)
	}

	return r
}
