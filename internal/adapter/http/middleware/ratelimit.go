package middleware

import (
	"fmt"
	"strconv"
	"time"

	redisStore "custody-engine/internal/adapter/storage/redis"
	"custody-engine/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimitRule defines a rate limit for a route group.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// DefaultRateLimitRules returns the per-group limits.
func DefaultRateLimitRules() map[string]RateLimitRule {
	return map[string]RateLimitRule{
		"payments":   {Limit: 100, Window: time.Minute},
		"funds":      {Limit: 60, Window: time.Minute},
		"reads":      {Limit: 300, Window: time.Minute},
		"auth_token": {Limit: 10, Window: time.Minute},
		"admin":      {Limit: 30, Window: time.Minute},
	}
}

// RateLimiter creates a rate-limiting middleware for a route group.
// Store errors degrade to allowing the request.
func RateLimiter(store *redisStore.RateLimitStore, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("%s:%s", extractIdentifier(c), group)

		result, err := store.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit check failed, allowing request")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			retryAfter := max(result.ResetAt-time.Now().Unix(), 1)
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			abort(c, apperror.ErrRateLimitExceeded())
			return
		}

		c.Next()
	}
}

func extractIdentifier(c *gin.Context) string {
	if ak := c.GetHeader(HeaderAccessKey); ak != "" {
		return ak
	}
	if id, ok := ClientID(c); ok {
		return id.String()
	}
	return c.ClientIP()
}
