package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const chainPageSize = 500

// TimestampPolicy decides whether the ledger position a request was admitted at is still
// acceptable at the position it commits at.
type TimestampPolicy func(observed, current uint64) bool

// samePosition accepts any position at or after the observed one. The engine observes and
// commits under the same lock, so this always passes.
func samePosition(observed, current uint64) bool {
	return current >= observed
}

// CustodyServiceImpl implements ports.CustodyService.
// All mutating operations hold mu and the custody_state row lock for their whole duration.
type CustodyServiceImpl struct {
	stateRepo   ports.StateRepository
	fundRepo    ports.FundRepository
	paymentRepo ports.PaymentRepository
	transactor  ports.DBTransactor
	verifier    ports.VerificationGateway
	settlement  ports.SettlementExecutor
	dispatcher  ports.EventDispatcher
	cache       ports.PaymentCache
	cacheTTL    time.Duration
	log         zerolog.Logger

	mu              sync.Mutex
	timestampPolicy TimestampPolicy
	now             func() time.Time
}

// NewCustodyService creates a new CustodyServiceImpl.
func NewCustodyService(
	stateRepo ports.StateRepository,
	fundRepo ports.FundRepository,
	paymentRepo ports.PaymentRepository,
	transactor ports.DBTransactor,
	verifier ports.VerificationGateway,
	settlement ports.SettlementExecutor,
	dispatcher ports.EventDispatcher,
	cache ports.PaymentCache,
	cacheTTL time.Duration,
	log zerolog.Logger,
) *CustodyServiceImpl {
	return &CustodyServiceImpl{
		stateRepo:       stateRepo,
		fundRepo:        fundRepo,
		paymentRepo:     paymentRepo,
		transactor:      transactor,
		verifier:        verifier,
		settlement:      settlement,
		dispatcher:      dispatcher,
		cache:           cache,
		cacheTTL:        cacheTTL,
		log:             log,
		timestampPolicy: samePosition,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// WithTimestampPolicy replaces the ledger timestamp policy.
func (s *CustodyServiceImpl) WithTimestampPolicy(p TimestampPolicy) *CustodyServiceImpl {
	s.timestampPolicy = p
	return s
}

// WithClock replaces the wall clock used for record and state timestamps.
func (s *CustodyServiceImpl) WithClock(now func() time.Time) *CustodyServiceImpl {
	s.now = now
	return s
}

// lockState begins a transaction and locks the ledger state row.
// Callers must defer Rollback on the returned tx.
func (s *CustodyServiceImpl) lockState(ctx context.Context) (pgx.Tx, *domain.LedgerState, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	state, err := s.stateRepo.GetForUpdate(ctx, dbTx)
	if err != nil {
		dbTx.Rollback(ctx) //nolint:errcheck
		return nil, nil, apperror.ErrLockTimeout(fmt.Errorf("lock ledger state: %w", err))
	}
	if state == nil {
		dbTx.Rollback(ctx) //nolint:errcheck
		return nil, nil, apperror.ErrNotFound("Ledger state")
	}
	return dbTx, state, nil
}

// commitState writes next and commits.
func (s *CustodyServiceImpl) commitState(ctx context.Context, dbTx pgx.Tx, next *domain.LedgerState) error {
	if err := s.stateRepo.Update(ctx, dbTx, next); err != nil {
		return apperror.InternalError(fmt.Errorf("update ledger state: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// ==================== Configuration Guard ====================

// SetAuthority assigns the authority exactly once. The null account is never accepted.
func (s *CustodyServiceImpl) SetAuthority(ctx context.Context, caller, authority domain.AccountID) error {
	if authority.IsNull() {
		return apperror.ErrNotAuthorized()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dbTx, state, err := s.lockState(ctx)
	if err != nil {
		return err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if state.HasAuthority() {
		return apperror.ErrAuthorityAlreadySet()
	}

	next := state.Clone()
	next.Authority = &authority
	next.Advance(s.now())
	if err := s.commitState(ctx, dbTx, next); err != nil {
		return err
	}

	s.log.Info().
		Str("authority", authority.String()).
		Str("caller", caller.String()).
		Uint64("sequence", next.Sequence).
		Msg("authority set")
	return nil
}

// SetMinAmount updates the lower payable bound.
func (s *CustodyServiceImpl) SetMinAmount(ctx context.Context, caller domain.AccountID, value uint64) error {
	if value == 0 {
		return apperror.InvalidAmount("min amount must be positive")
	}
	return s.updateBound(ctx, caller, "min_amount", func(next *domain.LedgerState) error {
		if value > next.MaxAmount {
			return apperror.InvalidAmount(fmt.Sprintf("min amount %d exceeds max amount %d", value, next.MaxAmount))
		}
		next.MinAmount = value
		return nil
	})
}

// SetMaxAmount updates the upper payable bound.
func (s *CustodyServiceImpl) SetMaxAmount(ctx context.Context, caller domain.AccountID, value uint64) error {
	if value == 0 {
		return apperror.InvalidAmount("max amount must be positive")
	}
	return s.updateBound(ctx, caller, "max_amount", func(next *domain.LedgerState) error {
		if value < next.MinAmount {
			return apperror.InvalidAmount(fmt.Sprintf("max amount %d is below min amount %d", value, next.MinAmount))
		}
		next.MaxAmount = value
		return nil
	})
}

// SetFee updates the flat fee charged per payment. Zero disables the fee leg.
func (s *CustodyServiceImpl) SetFee(ctx context.Context, caller domain.AccountID, value uint64) error {
	return s.updateBound(ctx, caller, "fee_amount", func(next *domain.LedgerState) error {
		next.FeeAmount = value
		return nil
	})
}

func (s *CustodyServiceImpl) updateBound(
	ctx context.Context,
	caller domain.AccountID,
	field string,
	apply func(next *domain.LedgerState) error,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dbTx, state, err := s.lockState(ctx)
	if err != nil {
		return err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if !state.HasAuthority() {
		return apperror.ErrAuthorityNotVerified()
	}
	if !state.IsAuthority(caller) {
		return apperror.ErrNotAuthorized()
	}

	next := state.Clone()
	if err := apply(next); err != nil {
		return err
	}
	next.Advance(s.now())
	if err := s.commitState(ctx, dbTx, next); err != nil {
		return err
	}

	s.log.Info().
		Str("field", field).
		Uint64("min_amount", next.MinAmount).
		Uint64("max_amount", next.MaxAmount).
		Uint64("fee_amount", next.FeeAmount).
		Uint64("sequence", next.Sequence).
		Msg("custody config updated")
	return nil
}

// IncrementIdentifier burns the next payment id without recording a payment. It shares the
// locked allocator with ProcessPayment, so ids stay unique but may leave gaps.
// Returns the id that will be allocated next.
func (s *CustodyServiceImpl) IncrementIdentifier(ctx context.Context, caller domain.AccountID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dbTx, state, err := s.lockState(ctx)
	if err != nil {
		return 0, err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if !state.HasAuthority() {
		return 0, apperror.ErrAuthorityNotVerified()
	}
	if !state.IsAuthority(caller) {
		return 0, apperror.ErrNotAuthorized()
	}

	next := state.Clone()
	skipped := next.AllocatePaymentID()
	next.Advance(s.now())
	if err := s.commitState(ctx, dbTx, next); err != nil {
		return 0, err
	}

	s.log.Warn().
		Uint64("skipped_id", skipped).
		Uint64("next_payment_id", next.NextPaymentID).
		Str("caller", caller.String()).
		Msg("payment identifier advanced manually")
	return next.NextPaymentID, nil
}

// ==================== Fund Ledger ====================

// UpdateFundBalance credits a funder's bookkeeping balance.
func (s *CustodyServiceImpl) UpdateFundBalance(ctx context.Context, caller, funder domain.AccountID, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dbTx, state, err := s.lockState(ctx)
	if err != nil {
		return err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if !state.HasAuthority() {
		return apperror.ErrAuthorityNotVerified()
	}
	if amount == 0 || !state.AmountInBounds(amount) {
		return apperror.ErrInvalidAmount()
	}

	bal, err := s.fundRepo.GetForUpdate(ctx, dbTx, funder)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock fund balance: %w", err))
	}
	if bal == nil {
		bal = &domain.FundBalance{Funder: funder}
	}

	now := s.now()
	if err := bal.Credit(amount, now); err != nil {
		return apperror.InvalidAmount(err.Error())
	}
	if err := s.fundRepo.Save(ctx, dbTx, bal); err != nil {
		return apperror.InternalError(fmt.Errorf("save fund balance: %w", err))
	}

	next := state.Clone()
	seq := next.Advance(now)
	if err := s.commitState(ctx, dbTx, next); err != nil {
		return err
	}

	s.dispatcher.Dispatch(ctx, domain.NewFundBalanceUpdatedEvent(funder, amount, seq, now))

	s.log.Info().
		Str("funder", funder.String()).
		Str("caller", caller.String()).
		Uint64("amount", amount).
		Uint64("balance", bal.Balance).
		Uint64("sequence", seq).
		Msg("fund balance updated")
	return nil
}

// GetFundBalance returns the bookkeeping balance, zero for unknown funders.
func (s *CustodyServiceImpl) GetFundBalance(ctx context.Context, funder domain.AccountID) (uint64, error) {
	bal, err := s.fundRepo.Get(ctx, funder)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("get fund balance: %w", err))
	}
	if bal == nil {
		return 0, nil
	}
	return bal.Balance, nil
}

// ==================== Transfer Engine ====================

// ProcessPayment verifies, settles and records one disbursement. Preconditions are checked in
// a fixed order and the first failure wins. Nothing is persisted unless every step succeeds.
func (s *CustodyServiceImpl) ProcessPayment(ctx context.Context, req ports.PaymentRequest) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dbTx, state, err := s.lockState(ctx)
	if err != nil {
		return 0, err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	observed := state.Sequence

	if !state.HasAuthority() {
		return 0, apperror.ErrAuthorityNotVerified()
	}
	if !state.AmountInBounds(req.Amount) {
		return 0, apperror.ErrInvalidAmount()
	}
	sessionHash, err := domain.BytesToBytes32(req.SessionHash)
	if err != nil || sessionHash.IsZero() {
		return 0, apperror.ErrInvalidSessionHash()
	}
	if !s.timestampPolicy(observed, state.Sequence) {
		return 0, apperror.ErrInvalidTimestamp()
	}

	total, ok := state.TotalCharge(req.Amount)
	if !ok {
		return 0, apperror.ErrInsufficientFunds()
	}
	bal, err := s.fundRepo.GetForUpdate(ctx, dbTx, req.Funder)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("lock fund balance: %w", err))
	}
	if bal == nil || !bal.Covers(total) {
		return 0, apperror.ErrInsufficientFunds()
	}

	settled, err := s.paymentRepo.IsSettled(ctx, dbTx, state.NextPaymentID)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("check payment status: %w", err))
	}
	if settled {
		return 0, apperror.ErrAlreadyPaid()
	}

	if err := s.verifier.Verify(ctx, req.SessionID, req.Patient, sessionHash); err != nil {
		return 0, err
	}

	// From here the payment runs to commit or full reversal even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	// Stage every mutation on copies; the settlement legs go out last so that only a
	// commit failure needs a full reversal.
	now := s.now()
	next := state.Clone()
	id := next.AllocatePaymentID()
	seq := next.Advance(now)

	record := &domain.PaymentRecord{
		ID:             id,
		SessionID:      req.SessionID,
		Provider:       req.Provider,
		Patient:        req.Patient,
		Funder:         req.Funder,
		Caller:         req.Caller,
		Amount:         req.Amount,
		FeeCharged:     state.FeeAmount,
		SequenceNumber: seq,
		Status:         domain.PaymentStatusCompleted,
		SessionHash:    sessionHash,
		CreatedAt:      now,
	}
	record.ReceiptDigest = ReceiptDigest(state.LastReceiptDigest, record)
	next.LastReceiptDigest = record.ReceiptDigest

	debited := *bal
	if err := debited.Debit(total, now); err != nil {
		return 0, apperror.ErrInsufficientFunds()
	}

	if err := s.fundRepo.Save(ctx, dbTx, &debited); err != nil {
		return 0, apperror.InternalError(fmt.Errorf("debit fund balance: %w", err))
	}
	if err := s.paymentRepo.Create(ctx, dbTx, record); err != nil {
		return 0, apperror.InternalError(fmt.Errorf("insert payment: %w", err))
	}
	if err := s.stateRepo.Update(ctx, dbTx, next); err != nil {
		return 0, apperror.InternalError(fmt.Errorf("update ledger state: %w", err))
	}

	disbursement := ports.Disbursement{
		From:      req.Caller,
		Provider:  req.Provider,
		Authority: *state.Authority,
		Amount:    req.Amount,
		Fee:       state.FeeAmount,
	}
	if err := s.settlement.Disburse(ctx, disbursement); err != nil {
		return 0, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		if revErr := s.settlement.Reverse(ctx, disbursement); revErr != nil {
			s.log.Error().Err(revErr).
				Uint64("payment_id", id).
				Str("caller", req.Caller.String()).
				Msg("settlement reversal failed after commit error, manual reconciliation required")
		}
		return 0, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	// Post-process: cache in Redis (best-effort)
	if err := s.cache.Set(ctx, record, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Uint64("payment_id", id).Msg("failed to cache payment in redis")
	}

	s.dispatcher.Dispatch(ctx, domain.NewPaymentProcessedEvent(record))

	s.log.Info().
		Uint64("payment_id", id).
		Uint64("session_id", req.SessionID).
		Str("funder", req.Funder.String()).
		Str("provider", req.Provider.String()).
		Uint64("amount", req.Amount).
		Uint64("fee", state.FeeAmount).
		Uint64("sequence", seq).
		Msg("payment processed successfully")

	return id, nil
}

// ==================== Payment Registry ====================

// GetPayment returns a receipt, reading through the cache.
func (s *CustodyServiceImpl) GetPayment(ctx context.Context, id uint64) (*domain.PaymentRecord, error) {
	record, err := s.lookupPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, apperror.ErrNotFound("Payment")
	}
	return record, nil
}

// GetPaymentStatus reports whether id has been settled. Unknown ids are false.
func (s *CustodyServiceImpl) GetPaymentStatus(ctx context.Context, id uint64) (bool, error) {
	record, err := s.lookupPayment(ctx, id)
	if err != nil {
		return false, err
	}
	return record != nil && record.IsCompleted(), nil
}

func (s *CustodyServiceImpl) lookupPayment(ctx context.Context, id uint64) (*domain.PaymentRecord, error) {
	cached, err := s.cache.Get(ctx, id)
	if err != nil {
		s.log.Warn().Err(err).Uint64("payment_id", id).Msg("redis payment lookup failed, falling through to DB")
	}
	if cached != nil {
		return cached, nil
	}

	record, err := s.paymentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get payment: %w", err))
	}
	if record == nil {
		return nil, nil
	}

	if err := s.cache.Set(ctx, record, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Uint64("payment_id", id).Msg("failed to cache payment in redis")
	}
	return record, nil
}

// GetConfig returns the current ledger state.
func (s *CustodyServiceImpl) GetConfig(ctx context.Context) (*domain.LedgerState, error) {
	state, err := s.stateRepo.Get(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get ledger state: %w", err))
	}
	if state == nil {
		return nil, apperror.ErrNotFound("Ledger state")
	}
	return state, nil
}

// VerifyReceiptChain recomputes every receipt digest in id order and compares the head with
// the digest stored on the ledger state.
func (s *CustodyServiceImpl) VerifyReceiptChain(ctx context.Context) (*ports.ChainReport, error) {
	state, err := s.GetConfig(ctx)
	if err != nil {
		return nil, err
	}

	report := &ports.ChainReport{StateDigest: state.LastReceiptDigest}
	var prev domain.Bytes32
	var from uint64
	for {
		page, err := s.paymentRepo.ListFrom(ctx, from, chainPageSize)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("list payments: %w", err))
		}
		idx, head := ChainBreak(prev, page)
		if idx >= 0 {
			broken := page[idx].ID
			report.Checked += idx
			report.BrokenAt = &broken
			report.HeadDigest = head
			return report, nil
		}
		report.Checked += len(page)
		prev = head
		if len(page) < chainPageSize {
			break
		}
		from = page[len(page)-1].ID + 1
	}

	report.HeadDigest = prev
	report.Valid = prev == state.LastReceiptDigest
	return report, nil
}
