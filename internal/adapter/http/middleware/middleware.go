package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"custody-engine/config"
	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"
	"custody-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Header names for HMAC authentication
	HeaderAccessKey = "X-Access-Key"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
	HeaderRequestID = "X-Request-ID"

	defaultTimestampDrift = 60 * time.Second
	defaultNonceTTL       = 120 * time.Second

	// Context keys
	CtxClientID   = "client_id"
	CtxAccount    = "account"
	CtxClient     = "api_client"
	CtxResourceID = "audit_resource_id"
)

// HMACAuth verifies HMAC-SHA256 signed requests from API clients and binds the
// caller account to the context.
// Pipeline: check timestamp -> look up client -> check nonce -> verify signature.
func HMACAuth(
	clientRepo ports.ClientRepository,
	encSvc ports.EncryptionService,
	sigSvc ports.SignatureService,
	nonceStore ports.NonceStore,
	sec config.SecurityConfig,
	log zerolog.Logger,
) gin.HandlerFunc {
	drift := sec.MaxTimestampDrift
	if drift <= 0 {
		drift = defaultTimestampDrift
	}
	nonceTTL := sec.NonceTTL
	if nonceTTL <= 0 {
		nonceTTL = defaultNonceTTL
	}

	return func(c *gin.Context) {
		accessKey := c.GetHeader(HeaderAccessKey)
		signature := c.GetHeader(HeaderSignature)
		timestampStr := c.GetHeader(HeaderTimestamp)
		nonce := c.GetHeader(HeaderNonce)

		if accessKey == "" || signature == "" || timestampStr == "" || nonce == "" {
			abort(c, apperror.ErrInvalidAccessKey())
			return
		}

		timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
		if err != nil {
			abort(c, apperror.ErrTimestampExpired())
			return
		}
		skew := time.Since(time.Unix(timestamp, 0))
		if skew < -drift || skew > drift {
			abort(c, apperror.ErrTimestampExpired())
			return
		}

		client, err := clientRepo.GetByAccessKey(c.Request.Context(), accessKey)
		if err != nil {
			log.Error().Err(err).Msg("failed to fetch api client")
			abort(c, apperror.InternalError(err))
			return
		}
		if client == nil {
			abort(c, apperror.ErrInvalidAccessKey())
			return
		}
		if !client.IsActive() {
			abort(c, apperror.ErrClientSuspended())
			return
		}

		isNew, err := nonceStore.CheckAndSet(c.Request.Context(), client.ID.String(), nonce, nonceTTL)
		if err != nil {
			log.Warn().Err(err).Msg("nonce store error, allowing request")
		} else if !isNew {
			abort(c, apperror.ErrNonceUsed())
			return
		}

		secretKey, err := encSvc.Decrypt(client.SecretKeyEnc)
		if err != nil {
			log.Error().Err(err).Str("client_id", client.ID.String()).Msg("failed to decrypt client secret")
			abort(c, apperror.ErrEncryptionFailure(err))
			return
		}

		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			abort(c, apperror.Validation("cannot read request body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

		canonical := sigSvc.BuildCanonicalString(
			c.Request.Method,
			c.Request.URL.Path,
			timestamp,
			nonce,
			string(bodyBytes),
		)
		if !sigSvc.Verify(secretKey, canonical, signature) {
			abort(c, apperror.ErrInvalidSignature())
			return
		}

		c.Set(CtxClientID, client.ID)
		c.Set(CtxAccount, client.Account)
		c.Set(CtxClient, client)
		c.Next()
	}
}

// JWTAuth validates admin bearer tokens.
func JWTAuth(tokenSvc ports.TokenService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || tokenStr == "" {
			abort(c, apperror.ErrInvalidToken())
			return
		}

		claims, err := tokenSvc.Validate(tokenStr)
		if err != nil {
			log.Debug().Err(err).Msg("rejected bearer token")
			abort(c, apperror.ErrInvalidToken())
			return
		}

		c.Set(CtxClientID, claims.ClientID)
		c.Set(CtxAccount, claims.Account)
		c.Next()
	}
}

// CallerAccount returns the authenticated caller bound by HMACAuth or JWTAuth.
func CallerAccount(c *gin.Context) (domain.AccountID, bool) {
	v, exists := c.Get(CtxAccount)
	if !exists {
		return "", false
	}
	a, ok := v.(domain.AccountID)
	return a, ok
}

// ClientID returns the authenticated API client id.
func ClientID(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get(CtxClientID)
	if !exists {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// RequestID propagates X-Request-ID or assigns a fresh one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.New().String()
		}
		c.Set(response.RequestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// RequestLogger logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		event.
			Str("request_id", response.RequestID(c)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// Recovery turns panics into SYS_001 responses.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.ErrorResponse{
					ErrorCode: "SYS_001",
					Message:   "Internal server error",
					RequestID: response.RequestID(c),
					Timestamp: time.Now().UTC().Format(time.RFC3339),
				})
			}
		}()
		c.Next()
	}
}

func abort(c *gin.Context, err *apperror.AppError) {
	response.Error(c, err)
	c.Abort()
}
