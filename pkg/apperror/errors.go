package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err (or anything it wraps) is an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Custody error codes. Stable across releases; clients switch on them.
const (
	CodeNotAuthorized               = "CUS_001"
	CodeInvalidAmount               = "CUS_002"
	CodeInsufficientFunds           = "CUS_003"
	CodeServiceNotFound             = "CUS_004"
	CodeAlreadyPaid                 = "CUS_005"
	CodeInvalidSessionHash          = "CUS_006"
	CodeInvalidVerification         = "CUS_007"
	CodeFunderNotFound              = "CUS_008"
	CodeInvalidTimestamp            = "CUS_009"
	CodeAuthorityNotVerified        = "CUS_010"
	CodeInvalidPaymentStatus        = "CUS_011"
	CodeAuthorityAlreadySet         = "CUS_012"
	CodeInsufficientSettlementFunds = "CUS_013"
	CodeNotFound                    = "CUS_014"
)

// CodeValidation marks malformed requests rejected before any custody rule runs.
const CodeValidation = "VAL_001"

// ---- Security & Authentication (SEC) ----

func ErrInvalidAccessKey() *AppError {
	return New("SEC_001", "Invalid access key", http.StatusUnauthorized)
}

func ErrInvalidSignature() *AppError {
	return New("SEC_002", "Invalid signature", http.StatusUnauthorized)
}

func ErrTimestampExpired() *AppError {
	return New("SEC_003", "Request timestamp expired", http.StatusForbidden)
}

func ErrNonceUsed() *AppError {
	return New("SEC_004", "Nonce has already been used", http.StatusForbidden)
}

// ---- Custody Business Logic (CUS) ----

func ErrNotAuthorized() *AppError {
	return New(CodeNotAuthorized, "Caller is not authorized for this operation", http.StatusForbidden)
}

func ErrInvalidAmount() *AppError {
	return New(CodeInvalidAmount, "Invalid amount", http.StatusBadRequest)
}

// InvalidAmount is ErrInvalidAmount with a specific message.
func InvalidAmount(message string) *AppError {
	return New(CodeInvalidAmount, message, http.StatusBadRequest)
}

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient funder balance", http.StatusPaymentRequired)
}

func ErrServiceNotFound() *AppError {
	return New(CodeServiceNotFound, "Service not found", http.StatusNotFound)
}

func ErrAlreadyPaid() *AppError {
	return New(CodeAlreadyPaid, "Payment identifier already settled", http.StatusConflict)
}

func ErrInvalidSessionHash() *AppError {
	return New(CodeInvalidSessionHash, "Invalid session hash", http.StatusUnprocessableEntity)
}

func ErrInvalidVerification() *AppError {
	return New(CodeInvalidVerification, "Patient verification failed", http.StatusUnprocessableEntity)
}

func ErrFunderNotFound() *AppError {
	return New(CodeFunderNotFound, "Funder not found", http.StatusNotFound)
}

func ErrInvalidTimestamp() *AppError {
	return New(CodeInvalidTimestamp, "Invalid ledger timestamp", http.StatusUnprocessableEntity)
}

func ErrAuthorityNotVerified() *AppError {
	return New(CodeAuthorityNotVerified, "Authority has not been set", http.StatusPreconditionFailed)
}

func ErrInvalidPaymentStatus() *AppError {
	return New(CodeInvalidPaymentStatus, "Invalid payment status", http.StatusConflict)
}

func ErrAuthorityAlreadySet() *AppError {
	return New(CodeAuthorityAlreadySet, "Authority is already set", http.StatusConflict)
}

func ErrInsufficientSettlementFunds() *AppError {
	return New(CodeInsufficientSettlementFunds, "Insufficient settlement-layer funds", http.StatusPaymentRequired)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrClientSuspended() *AppError {
	return New("AUTH_004", "API client is suspended", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrLockTimeout(err error) *AppError {
	return Wrap("SYS_002", "Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

func ErrSettlementUnavailable(err error) *AppError {
	return Wrap("SYS_004", "Settlement layer unavailable", http.StatusBadGateway, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation reports a malformed request: bad body, path parameter or identifier.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}
