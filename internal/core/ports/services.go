package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"
	"time"

	"custody-engine/internal/core/domain"

	"github.com/google/uuid"
)

// --- Collaborator Ports (external systems) ---

// SessionVerifier checks a session against the service registry.
type SessionVerifier interface {
	VerifySession(ctx context.Context, sessionID uint64, patient domain.AccountID, sessionHash domain.Bytes32) (bool, error)
}

// PatientVerifier reports whether a patient attended a session.
type PatientVerifier interface {
	IsVerified(ctx context.Context, sessionID uint64, patient domain.AccountID) (bool, error)
}

// SettlementTransfer moves real value on the settlement layer. A shortfall is reported as
// apperror.ErrInsufficientSettlementFunds; anything else means the layer is unavailable.
type SettlementTransfer interface {
	Transfer(ctx context.Context, amount uint64, from, to domain.AccountID) (string, error)
}

// --- Infrastructure Ports ---

// EncryptionService handles AES-256-GCM encryption/decryption.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(clientID uuid.UUID, account domain.AccountID) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	ClientID uuid.UUID
	Account  domain.AccountID
}

// PaymentCache is the Redis read-through cache for receipts.
type PaymentCache interface {
	Get(ctx context.Context, id uint64) (*domain.PaymentRecord, error) // nil on miss
	Set(ctx context.Context, record *domain.PaymentRecord, ttl time.Duration) error
}

// NonceStore manages nonce uniqueness for replay attack prevention.
type NonceStore interface {
	// CheckAndSet atomically checks if nonce exists, sets it if not.
	// Returns true if nonce is new (valid), false if already used.
	CheckAndSet(ctx context.Context, clientID string, nonce string, ttl time.Duration) (bool, error)
}

// EventPublisher fans committed events out to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// HealthChecker reports whether a backing dependency can serve custody traffic.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Name() string // e.g. "postgresql", "redis"
}

// --- Service Ports (Business Logic) ---

// CustodyService is the custody engine: configuration guard, fund ledger, identifier
// allocator, payment registry and transfer engine behind one exclusive lock.
type CustodyService interface {
	SetAuthority(ctx context.Context, caller, authority domain.AccountID) error
	SetMinAmount(ctx context.Context, caller domain.AccountID, value uint64) error
	SetMaxAmount(ctx context.Context, caller domain.AccountID, value uint64) error
	SetFee(ctx context.Context, caller domain.AccountID, value uint64) error
	IncrementIdentifier(ctx context.Context, caller domain.AccountID) (uint64, error)

	ProcessPayment(ctx context.Context, req PaymentRequest) (uint64, error)
	UpdateFundBalance(ctx context.Context, caller, funder domain.AccountID, amount uint64) error

	GetPayment(ctx context.Context, id uint64) (*domain.PaymentRecord, error)
	GetPaymentStatus(ctx context.Context, id uint64) (bool, error)
	GetFundBalance(ctx context.Context, funder domain.AccountID) (uint64, error)
	GetConfig(ctx context.Context) (*domain.LedgerState, error)
	VerifyReceiptChain(ctx context.Context) (*ChainReport, error)
}

// PaymentRequest holds validated input for payment processing.
type PaymentRequest struct {
	Caller      domain.AccountID
	SessionID   uint64
	Provider    domain.AccountID
	Patient     domain.AccountID
	Funder      domain.AccountID
	Amount      uint64
	// SessionHash is the decoded hash as received. The engine requires exactly 32 non-zero bytes.
	SessionHash []byte
}

// ChainReport summarizes a receipt hash-chain walk.
type ChainReport struct {
	Checked     int            `json:"checked"`
	Valid       bool           `json:"valid"`
	BrokenAt    *uint64        `json:"broken_at,omitempty"`
	HeadDigest  domain.Bytes32 `json:"head_digest"`
	StateDigest domain.Bytes32 `json:"state_digest"`
}

// VerificationGateway runs both verification collaborators in order.
type VerificationGateway interface {
	Verify(ctx context.Context, sessionID uint64, patient domain.AccountID, sessionHash domain.Bytes32) error
}

// SettlementExecutor performs the two-recipient disbursement as one unit. If any leg fails,
// legs already sent are reversed before the error is returned.
type SettlementExecutor interface {
	Disburse(ctx context.Context, d Disbursement) error
	// Reverse sends every leg of a completed disbursement back to its source.
	Reverse(ctx context.Context, d Disbursement) error
}

// Disbursement describes the provider and fee legs of one payment.
type Disbursement struct {
	From      domain.AccountID
	Provider  domain.AccountID
	Authority domain.AccountID
	Amount    uint64
	Fee       uint64
}

// EventDispatcher delivers committed events to subscribers. It never fails the caller.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event domain.Event)
}

// AuditService records audited actions asynchronously.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// ClientService provisions API clients.
type ClientService interface {
	Create(ctx context.Context, req CreateClientRequest) (*ClientCredentials, error)
	IssueToken(ctx context.Context, clientID uuid.UUID) (string, time.Time, error)
}

// CreateClientRequest holds input for client provisioning.
type CreateClientRequest struct {
	Name    string
	Account domain.AccountID
}

// ClientCredentials holds the provisioning result shown once.
type ClientCredentials struct {
	ClientID  uuid.UUID
	AccessKey string
	SecretKey string // Plaintext, shown only at creation
}
