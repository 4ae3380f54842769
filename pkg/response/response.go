package response

import (
	"errors"
	"net/http"
	"time"

	"custody-engine/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDKey is the gin context key holding the correlation id of the current request.
const RequestIDKey = "request_id"

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id"`
	Timestamp string      `json:"timestamp"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// OK sends a 200 response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, success(c, data))
}

// Created sends a 201 response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, success(c, data))
}

// Error sends an error response. *apperror.AppError values (wrapped or not) keep their
// code and status; anything else becomes a 500 without leaking the cause.
func Error(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, ErrorResponse{
			ErrorCode: appErr.Code,
			Message:   appErr.Message,
			RequestID: RequestID(c),
			Timestamp: now(),
		})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{
		ErrorCode: "SYS_000",
		Message:   "Internal server error",
		RequestID: RequestID(c),
		Timestamp: now(),
	})
}

// RequestID retrieves the request ID from context, or generates one.
func RequestID(c *gin.Context) string {
	if id, exists := c.Get(RequestIDKey); exists {
		if s, ok := id.(string); ok && s != "" {
			return s
		}
	}
	return uuid.New().String()
}

func success(c *gin.Context, data interface{}) SuccessResponse {
	return SuccessResponse{
		Data:      data,
		RequestID: RequestID(c),
		Timestamp: now(),
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
