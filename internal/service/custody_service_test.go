package service

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/internal/core/ports/mocks"
	"custody-engine/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	authorityA = domain.AccountID("0xaaaa")
	funderF    = domain.AccountID("0xf00d")
	providerP  = domain.AccountID("0xbeef")
	patientPt  = domain.AccountID("0xcafe")
	callerC    = domain.AccountID("0xc0de")
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type custodyTestDeps struct {
	svc         *CustodyServiceImpl
	stateRepo   *mocks.MockStateRepository
	fundRepo    *mocks.MockFundRepository
	paymentRepo *mocks.MockPaymentRepository
	transactor  *mocks.MockDBTransactor
	verifier    *mocks.MockVerificationGateway
	settlement  *mocks.MockSettlementExecutor
	dispatcher  *mocks.MockEventDispatcher
	cache       *mocks.MockPaymentCache
	tx          *mockTx
}

func setupCustodyService(t *testing.T) *custodyTestDeps {
	ctrl := gomock.NewController(t)
	d := &custodyTestDeps{
		stateRepo:   mocks.NewMockStateRepository(ctrl),
		fundRepo:    mocks.NewMockFundRepository(ctrl),
		paymentRepo: mocks.NewMockPaymentRepository(ctrl),
		transactor:  mocks.NewMockDBTransactor(ctrl),
		verifier:    mocks.NewMockVerificationGateway(ctrl),
		settlement:  mocks.NewMockSettlementExecutor(ctrl),
		dispatcher:  mocks.NewMockEventDispatcher(ctrl),
		cache:       mocks.NewMockPaymentCache(ctrl),
		tx:          &mockTx{},
	}
	d.svc = NewCustodyService(
		d.stateRepo, d.fundRepo, d.paymentRepo, d.transactor,
		d.verifier, d.settlement, d.dispatcher, d.cache, time.Hour, newTestLogger(),
	).WithClock(func() time.Time { return fixedNow })
	return d
}

// mockTx implements pgx.Tx for testing
type mockTx struct {
	pgx.Tx
	committed bool
	commitErr error
}

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.committed = true
	return nil
}

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}

func configuredState(fee uint64) *domain.LedgerState {
	a := authorityA
	return &domain.LedgerState{
		Authority: &a,
		MinAmount: 100,
		MaxAmount: 10_000,
		FeeAmount: fee,
		Sequence:  2,
	}
}

func validHash() domain.Bytes32 {
	var h domain.Bytes32
	for i := range h {
		h[i] = byte(i + 1)
	}
	return h
}

func paymentRequest(amount uint64) ports.PaymentRequest {
	hash := validHash()
	return ports.PaymentRequest{
		Caller:      callerC,
		SessionID:   1,
		Provider:    providerP,
		Patient:     patientPt,
		Funder:      funderF,
		Amount:      amount,
		SessionHash: hash[:],
	}
}

// expectLock sets up Begin + locked state read.
func (d *custodyTestDeps) expectLock(ctx context.Context, state *domain.LedgerState) {
	d.transactor.EXPECT().Begin(ctx).Return(d.tx, nil)
	d.stateRepo.EXPECT().GetForUpdate(ctx, d.tx).Return(state, nil)
}

// ==================== ProcessPayment Tests ====================

func TestCustodyService_ProcessPayment_Success(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	state := configuredState(500)

	var saved *domain.FundBalance
	var record *domain.PaymentRecord
	var nextState *domain.LedgerState
	var disbursed ports.Disbursement
	var event domain.Event

	d.expectLock(ctx, state)
	gomock.InOrder(
		d.fundRepo.EXPECT().GetForUpdate(gomock.Any(), d.tx, funderF).Return(&domain.FundBalance{Funder: funderF, Balance: 2000}, nil),
		d.paymentRepo.EXPECT().IsSettled(ctx, d.tx, uint64(0)).Return(false, nil),
		d.verifier.EXPECT().Verify(ctx, uint64(1), patientPt, validHash()).Return(nil),
		d.fundRepo.EXPECT().Save(gomock.Any(), d.tx, gomock.Any()).DoAndReturn(func(_ context.Context, _ pgx.Tx, b *domain.FundBalance) error {
			saved = b
			return nil
		}),
		d.paymentRepo.EXPECT().Create(gomock.Any(), d.tx, gomock.Any()).DoAndReturn(func(_ context.Context, _ pgx.Tx, r *domain.PaymentRecord) error {
			record = r
			return nil
		}),
		d.stateRepo.EXPECT().Update(gomock.Any(), d.tx, gomock.Any()).DoAndReturn(func(_ context.Context, _ pgx.Tx, s *domain.LedgerState) error {
			nextState = s
			return nil
		}),
		d.settlement.EXPECT().Disburse(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, dis ports.Disbursement) error {
			disbursed = dis
			return nil
		}),
		d.cache.EXPECT().Set(gomock.Any(), gomock.Any(), time.Hour).Return(nil),
		d.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Do(func(_ context.Context, e domain.Event) {
			event = e
		}),
	)

	id, err := d.svc.ProcessPayment(ctx, paymentRequest(1000))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)
	assert.True(t, d.tx.committed)

	// Balance after = before - (amount + fee) = sum of the two transfers.
	require.NotNil(t, saved)
	assert.Equal(t, uint64(500), saved.Balance)
	assert.Equal(t, uint64(2000)-saved.Balance, disbursed.Amount+disbursed.Fee)
	assert.Equal(t, ports.Disbursement{
		From: callerC, Provider: providerP, Authority: authorityA, Amount: 1000, Fee: 500,
	}, disbursed)

	require.NotNil(t, record)
	assert.Equal(t, uint64(0), record.ID)
	assert.Equal(t, uint64(1), record.SessionID)
	assert.Equal(t, uint64(500), record.FeeCharged)
	assert.Equal(t, uint64(3), record.SequenceNumber)
	assert.Equal(t, domain.PaymentStatusCompleted, record.Status)
	assert.Equal(t, ReceiptDigest(domain.Bytes32{}, record), record.ReceiptDigest)

	require.NotNil(t, nextState)
	assert.Equal(t, uint64(1), nextState.NextPaymentID)
	assert.Equal(t, uint64(3), nextState.Sequence)
	assert.Equal(t, record.ReceiptDigest, nextState.LastReceiptDigest)

	// The locked snapshot itself is untouched.
	assert.Equal(t, uint64(0), state.NextPaymentID)

	assert.Equal(t, domain.EventPaymentProcessed, event.Type)
	require.NotNil(t, event.PaymentProcessed)
	assert.Equal(t, uint64(0), event.PaymentProcessed.PaymentID)
	assert.Equal(t, uint64(1), event.PaymentProcessed.SessionID)
}

func TestCustodyService_ProcessPayment_AmountBelowMin(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.expectLock(ctx, configuredState(500))

	_, err := d.svc.ProcessPayment(ctx, paymentRequest(50))
	assertAppError(t, err, apperror.CodeInvalidAmount)
	assert.False(t, d.tx.committed)
}

func TestCustodyService_ProcessPayment_AmountAboveMax(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.expectLock(ctx, configuredState(500))

	_, err := d.svc.ProcessPayment(ctx, paymentRequest(10_001))
	assertAppError(t, err, apperror.CodeInvalidAmount)
}

func TestCustodyService_ProcessPayment_NoAuthority(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.expectLock(ctx, &domain.LedgerState{MinAmount: 100, MaxAmount: 10_000})

	// Fails on authority first even though the amount and hash are also invalid.
	req := paymentRequest(5)
	req.SessionHash = make([]byte, 16)
	_, err := d.svc.ProcessPayment(ctx, req)
	assertAppError(t, err, apperror.CodeAuthorityNotVerified)
}

func TestCustodyService_ProcessPayment_InsufficientFunds(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.expectLock(ctx, configuredState(500))
	d.fundRepo.EXPECT().GetForUpdate(gomock.Any(), d.tx, funderF).Return(&domain.FundBalance{Funder: funderF, Balance: 100}, nil)

	_, err := d.svc.ProcessPayment(ctx, paymentRequest(1000))
	assertAppError(t, err, apperror.CodeInsufficientFunds)
}

func TestCustodyService_ProcessPayment_FeePushesOverBalance(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.expectLock(ctx, configuredState(500))
	d.fundRepo.EXPECT().GetForUpdate(gomock.Any(), d.tx, funderF).Return(&domain.FundBalance{Funder: funderF, Balance: 1499}, nil)

	_, err := d.svc.ProcessPayment(ctx, paymentRequest(1000))
	assertAppError(t, err, apperror.CodeInsufficientFunds)
}

func TestCustodyService_ProcessPayment_UnknownFunder(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.expectLock(ctx, configuredState(0))
	d.fundRepo.EXPECT().GetForUpdate(gomock.Any(), d.tx, funderF).Return(nil, nil)

	_, err := d.svc.ProcessPayment(ctx, paymentRequest(1000))
	assertAppError(t, err, apperror.CodeInsufficientFunds)
}

func TestCustodyService_ProcessPayment_EmptyHashSkipsVerifiers(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.expectLock(ctx, configuredState(500))

	req := paymentRequest(1000)
	req.SessionHash = nil
	_, err := d.svc.ProcessPayment(ctx, req)
	assertAppError(t, err, apperror.CodeInvalidSessionHash)
}

func TestCustodyService_ProcessPayment_SessionHashChecks(t *testing.T) {
	tests := []struct {
		name   string
		hash   []byte
		amount uint64
		want   string
	}{
		{"zero hash", make([]byte, 32), 1000, apperror.CodeInvalidSessionHash},
		{"16 bytes", bytes.Repeat([]byte{0x11}, 16), 1000, apperror.CodeInvalidSessionHash},
		{"33 bytes", bytes.Repeat([]byte{0x11}, 33), 1000, apperror.CodeInvalidSessionHash},
		{"amount checked before hash", bytes.Repeat([]byte{0x11}, 16), 50, apperror.CodeInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupCustodyService(t)
			ctx := context.Background()
			d.expectLock(ctx, configuredState(500))

			req := paymentRequest(tt.amount)
			req.SessionHash = tt.hash
			_, err := d.svc.ProcessPayment(ctx, req)
			assertAppError(t, err, tt.want)
		})
	}
}

func TestCustodyService_ProcessPayment_TimestampPolicy(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.svc.WithTimestampPolicy(func(_, _ uint64) bool { return false })
	d.expectLock(ctx, configuredState(500))

	_, err := d.svc.ProcessPayment(ctx, paymentRequest(1000))
	assertAppError(t, err, apperror.CodeInvalidTimestamp)
}

func TestSamePosition_AlwaysPassesForOneObservation(t *testing.T) {
	for _, seq := range []uint64{0, 1, 99} {
		assert.True(t, samePosition(seq, seq))
	}
	assert.False(t, samePosition(5, 4))
}

func TestCustodyService_ProcessPayment_AlreadyPaid(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	state := configuredState(500)
	state.NextPaymentID = 7
	d.expectLock(ctx, state)
	d.fundRepo.EXPECT().GetForUpdate(gomock.Any(), d.tx, funderF).Return(&domain.FundBalance{Funder: funderF, Balance: 5000}, nil)
	d.paymentRepo.EXPECT().IsSettled(ctx, d.tx, uint64(7)).Return(true, nil)

	_, err := d.svc.ProcessPayment(ctx, paymentRequest(1000))
	assertAppError(t, err, apperror.CodeAlreadyPaid)
}

func TestCustodyService_ProcessPayment_VerificationFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"session rejected", apperror.ErrInvalidSessionHash(), apperror.CodeInvalidSessionHash},
		{"patient rejected", apperror.ErrInvalidVerification(), apperror.CodeInvalidVerification},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupCustodyService(t)
			ctx := context.Background()
			d.expectLock(ctx, configuredState(500))
			d.fundRepo.EXPECT().GetForUpdate(gomock.Any(), d.tx, funderF).Return(&domain.FundBalance{Funder: funderF, Balance: 2000}, nil)
			d.paymentRepo.EXPECT().IsSettled(ctx, d.tx, uint64(0)).Return(false, nil)
			d.verifier.EXPECT().Verify(ctx, uint64(1), patientPt, validHash()).Return(tt.err)

			_, err := d.svc.ProcessPayment(ctx, paymentRequest(1000))
			assertAppError(t, err, tt.code)
			assert.False(t, d.tx.committed)
		})
	}
}

func TestCustodyService_ProcessPayment_SettlementFailureAborts(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.expectLock(ctx, configuredState(500))
	d.fundRepo.EXPECT().GetForUpdate(gomock.Any(), d.tx, funderF).Return(&domain.FundBalance{Funder: funderF, Balance: 2000}, nil)
	d.paymentRepo.EXPECT().IsSettled(ctx, d.tx, uint64(0)).Return(false, nil)
	d.verifier.EXPECT().Verify(ctx, uint64(1), patientPt, validHash()).Return(nil)
	d.fundRepo.EXPECT().Save(gomock.Any(), d.tx, gomock.Any()).Return(nil)
	d.paymentRepo.EXPECT().Create(gomock.Any(), d.tx, gomock.Any()).Return(nil)
	d.stateRepo.EXPECT().Update(gomock.Any(), d.tx, gomock.Any()).Return(nil)
	d.settlement.EXPECT().Disburse(gomock.Any(), gomock.Any()).Return(apperror.ErrInsufficientSettlementFunds())

	_, err := d.svc.ProcessPayment(ctx, paymentRequest(1000))
	assertAppError(t, err, apperror.CodeInsufficientSettlementFunds)
	assert.False(t, d.tx.committed, "staged writes must be rolled back")
}

func TestCustodyService_ProcessPayment_CommitFailureReversesSettlement(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.tx.commitErr = errors.New("connection reset")
	d.expectLock(ctx, configuredState(500))
	d.fundRepo.EXPECT().GetForUpdate(gomock.Any(), d.tx, funderF).Return(&domain.FundBalance{Funder: funderF, Balance: 2000}, nil)
	d.paymentRepo.EXPECT().IsSettled(ctx, d.tx, uint64(0)).Return(false, nil)
	d.verifier.EXPECT().Verify(ctx, uint64(1), patientPt, validHash()).Return(nil)
	d.fundRepo.EXPECT().Save(gomock.Any(), d.tx, gomock.Any()).Return(nil)
	d.paymentRepo.EXPECT().Create(gomock.Any(), d.tx, gomock.Any()).Return(nil)
	d.stateRepo.EXPECT().Update(gomock.Any(), d.tx, gomock.Any()).Return(nil)
	d.settlement.EXPECT().Disburse(gomock.Any(), gomock.Any()).Return(nil)
	d.settlement.EXPECT().Reverse(gomock.Any(), ports.Disbursement{
		From: callerC, Provider: providerP, Authority: authorityA, Amount: 1000, Fee: 500,
	}).Return(nil)

	_, err := d.svc.ProcessPayment(ctx, paymentRequest(1000))
	assertAppError(t, err, "SYS_001")
}

// recordingTransfer honours cancellation like a network client would.
type recordingTransfer struct {
	legs   []string
	onSent func(to domain.AccountID)
}

func (f *recordingTransfer) Transfer(ctx context.Context, _ uint64, from, to domain.AccountID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.legs = append(f.legs, from.String()+"->"+to.String())
	if f.onSent != nil {
		f.onSent(to)
	}
	return "ref", nil
}

// ctxTx fails Commit on a cancelled context like a pgx connection does.
type ctxTx struct {
	pgx.Tx
	commitErr error
	committed bool
}

func (m *ctxTx) Rollback(_ context.Context) error { return nil }
func (m *ctxTx) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.commitErr != nil {
		return m.commitErr
	}
	m.committed = true
	return nil
}

func TestCustodyService_ProcessPayment_CallerCancelAfterSettlement(t *testing.T) {
	tests := []struct {
		name      string
		commitErr error
		wantErr   bool
		wantLegs  []string
	}{
		{
			name:     "commit still lands",
			wantLegs: []string{"0xc0de->0xbeef", "0xc0de->0xaaaa"},
		},
		{
			name:      "commit failure still reverses",
			commitErr: errors.New("connection reset"),
			wantErr:   true,
			wantLegs:  []string{"0xc0de->0xbeef", "0xc0de->0xaaaa", "0xaaaa->0xc0de", "0xbeef->0xc0de"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupCustodyService(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			transfer := &recordingTransfer{onSent: func(to domain.AccountID) {
				if to == authorityA {
					cancel()
				}
			}}
			tx := &ctxTx{commitErr: tt.commitErr}
			d.svc.settlement = NewSettlementExecutor(transfer, newTestLogger())

			d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
			d.stateRepo.EXPECT().GetForUpdate(ctx, tx).Return(configuredState(500), nil)
			d.fundRepo.EXPECT().GetForUpdate(ctx, tx, funderF).Return(&domain.FundBalance{Funder: funderF, Balance: 2000}, nil)
			d.paymentRepo.EXPECT().IsSettled(ctx, tx, uint64(0)).Return(false, nil)
			d.verifier.EXPECT().Verify(ctx, uint64(1), patientPt, validHash()).Return(nil)
			d.fundRepo.EXPECT().Save(gomock.Any(), tx, gomock.Any()).Return(nil)
			d.paymentRepo.EXPECT().Create(gomock.Any(), tx, gomock.Any()).Return(nil)
			d.stateRepo.EXPECT().Update(gomock.Any(), tx, gomock.Any()).Return(nil)
			if !tt.wantErr {
				d.cache.EXPECT().Set(gomock.Any(), gomock.Any(), time.Hour).Return(nil)
				d.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any())
			}

			_, err := d.svc.ProcessPayment(ctx, paymentRequest(1000))
			if tt.wantErr {
				assertAppError(t, err, "SYS_001")
				assert.False(t, tx.committed)
			} else {
				require.NoError(t, err)
				assert.True(t, tx.committed)
			}
			assert.ErrorIs(t, ctx.Err(), context.Canceled)
			assert.Equal(t, tt.wantLegs, transfer.legs)
		})
	}
}

func TestCustodyService_ProcessPayment_CacheFailureIsNotFatal(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.expectLock(ctx, configuredState(0))
	d.fundRepo.EXPECT().GetForUpdate(gomock.Any(), d.tx, funderF).Return(&domain.FundBalance{Funder: funderF, Balance: 1000}, nil)
	d.paymentRepo.EXPECT().IsSettled(ctx, d.tx, uint64(0)).Return(false, nil)
	d.verifier.EXPECT().Verify(ctx, uint64(1), patientPt, validHash()).Return(nil)
	d.fundRepo.EXPECT().Save(gomock.Any(), d.tx, gomock.Any()).Return(nil)
	d.paymentRepo.EXPECT().Create(gomock.Any(), d.tx, gomock.Any()).Return(nil)
	d.stateRepo.EXPECT().Update(gomock.Any(), d.tx, gomock.Any()).Return(nil)
	d.settlement.EXPECT().Disburse(gomock.Any(), gomock.Any()).Return(nil)
	d.cache.EXPECT().Set(gomock.Any(), gomock.Any(), time.Hour).Return(errors.New("redis down"))
	d.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any())

	id, err := d.svc.ProcessPayment(ctx, paymentRequest(1000))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)
}

func TestCustodyService_ProcessPayment_LockFailure(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.transactor.EXPECT().Begin(ctx).Return(d.tx, nil)
	d.stateRepo.EXPECT().GetForUpdate(ctx, d.tx).Return(nil, errors.New("lock timeout"))

	_, err := d.svc.ProcessPayment(ctx, paymentRequest(1000))
	assertAppError(t, err, "SYS_002")
}

// ==================== Fund Ledger Tests ====================

func TestCustodyService_UpdateFundBalance_NewFunder(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.expectLock(ctx, configuredState(500))

	var saved *domain.FundBalance
	var event domain.Event
	d.fundRepo.EXPECT().GetForUpdate(ctx, d.tx, funderF).Return(nil, nil)
	d.fundRepo.EXPECT().Save(ctx, d.tx, gomock.Any()).DoAndReturn(func(_ context.Context, _ pgx.Tx, b *domain.FundBalance) error {
		saved = b
		return nil
	})
	d.stateRepo.EXPECT().Update(ctx, d.tx, gomock.Any()).DoAndReturn(func(_ context.Context, _ pgx.Tx, s *domain.LedgerState) error {
		assert.Equal(t, uint64(3), s.Sequence)
		return nil
	})
	d.dispatcher.EXPECT().Dispatch(ctx, gomock.Any()).Do(func(_ context.Context, e domain.Event) {
		event = e
	})

	require.NoError(t, d.svc.UpdateFundBalance(ctx, callerC, funderF, 2000))
	assert.True(t, d.tx.committed)
	assert.Equal(t, uint64(2000), saved.Balance)
	assert.Equal(t, domain.EventFundBalanceUpdated, event.Type)
	assert.Equal(t, funderF, event.FundBalanceUpdated.Funder)
	assert.Equal(t, uint64(2000), event.FundBalanceUpdated.Amount)
}

func TestCustodyService_UpdateFundBalance_AddsToExisting(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.expectLock(ctx, configuredState(500))
	d.fundRepo.EXPECT().GetForUpdate(ctx, d.tx, funderF).Return(&domain.FundBalance{Funder: funderF, Balance: 300}, nil)
	d.fundRepo.EXPECT().Save(ctx, d.tx, gomock.Any()).DoAndReturn(func(_ context.Context, _ pgx.Tx, b *domain.FundBalance) error {
		assert.Equal(t, uint64(2300), b.Balance)
		return nil
	})
	d.stateRepo.EXPECT().Update(ctx, d.tx, gomock.Any()).Return(nil)
	d.dispatcher.EXPECT().Dispatch(ctx, gomock.Any())

	require.NoError(t, d.svc.UpdateFundBalance(ctx, callerC, funderF, 2000))
}

func TestCustodyService_UpdateFundBalance_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		state  *domain.LedgerState
		amount uint64
		code   string
	}{
		{"no authority", &domain.LedgerState{MinAmount: 100, MaxAmount: 10_000}, 2000, apperror.CodeAuthorityNotVerified},
		{"zero amount", configuredState(0), 0, apperror.CodeInvalidAmount},
		{"below min", configuredState(0), 99, apperror.CodeInvalidAmount},
		{"above max", configuredState(0), 10_001, apperror.CodeInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupCustodyService(t)
			ctx := context.Background()
			d.expectLock(ctx, tt.state)

			err := d.svc.UpdateFundBalance(ctx, callerC, funderF, tt.amount)
			assertAppError(t, err, tt.code)
			assert.False(t, d.tx.committed)
		})
	}
}

func TestCustodyService_UpdateFundBalance_Overflow(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.expectLock(ctx, configuredState(0))
	d.fundRepo.EXPECT().GetForUpdate(ctx, d.tx, funderF).Return(&domain.FundBalance{Funder: funderF, Balance: math.MaxUint64 - 10}, nil)

	err := d.svc.UpdateFundBalance(ctx, callerC, funderF, 100)
	assertAppError(t, err, apperror.CodeInvalidAmount)
	assert.False(t, d.tx.committed)
}

func TestCustodyService_GetFundBalance(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()

	d.fundRepo.EXPECT().Get(ctx, funderF).Return(&domain.FundBalance{Balance: 750}, nil)
	d.fundRepo.EXPECT().Get(ctx, domain.AccountID("0xnew")).Return(nil, nil)

	bal, err := d.svc.GetFundBalance(ctx, funderF)
	require.NoError(t, err)
	assert.Equal(t, uint64(750), bal)

	bal, err = d.svc.GetFundBalance(ctx, "0xnew")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), bal)
}

// ==================== Configuration Guard Tests ====================

func TestCustodyService_SetAuthority_Success(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.expectLock(ctx, &domain.LedgerState{MinAmount: 100, MaxAmount: 10_000})
	d.stateRepo.EXPECT().Update(ctx, d.tx, gomock.Any()).DoAndReturn(func(_ context.Context, _ pgx.Tx, s *domain.LedgerState) error {
		require.NotNil(t, s.Authority)
		assert.Equal(t, authorityA, *s.Authority)
		assert.Equal(t, uint64(1), s.Sequence)
		return nil
	})

	require.NoError(t, d.svc.SetAuthority(ctx, callerC, authorityA))
	assert.True(t, d.tx.committed)
}

func TestCustodyService_SetAuthority_Twice(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.expectLock(ctx, configuredState(0))

	err := d.svc.SetAuthority(ctx, callerC, "0xother")
	assertAppError(t, err, apperror.CodeAuthorityAlreadySet)
}

func TestCustodyService_SetAuthority_NullAccount(t *testing.T) {
	d := setupCustodyService(t)

	err := d.svc.SetAuthority(context.Background(), callerC, domain.NullAccount)
	assertAppError(t, err, apperror.CodeNotAuthorized)
}

func TestCustodyService_Setters_WithoutAuthority(t *testing.T) {
	setters := map[string]func(s *CustodyServiceImpl, ctx context.Context) error{
		"min": func(s *CustodyServiceImpl, ctx context.Context) error { return s.SetMinAmount(ctx, callerC, 200) },
		"max": func(s *CustodyServiceImpl, ctx context.Context) error { return s.SetMaxAmount(ctx, callerC, 200) },
		"fee": func(s *CustodyServiceImpl, ctx context.Context) error { return s.SetFee(ctx, callerC, 200) },
		"increment": func(s *CustodyServiceImpl, ctx context.Context) error {
			_, err := s.IncrementIdentifier(ctx, callerC)
			return err
		},
	}

	for name, call := range setters {
		t.Run(name, func(t *testing.T) {
			d := setupCustodyService(t)
			ctx := context.Background()
			d.expectLock(ctx, &domain.LedgerState{MinAmount: 100, MaxAmount: 10_000})

			assertAppError(t, call(d.svc, ctx), apperror.CodeAuthorityNotVerified)
			assert.False(t, d.tx.committed)
		})
	}
}

func TestCustodyService_Setters_RequireAuthorityCaller(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.expectLock(ctx, configuredState(0))

	err := d.svc.SetFee(ctx, callerC, 10)
	assertAppError(t, err, apperror.CodeNotAuthorized)
}

func TestCustodyService_SetMinMax_ZeroRejectedBeforeLock(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()

	assertAppError(t, d.svc.SetMinAmount(ctx, authorityA, 0), apperror.CodeInvalidAmount)
	assertAppError(t, d.svc.SetMaxAmount(ctx, authorityA, 0), apperror.CodeInvalidAmount)
}

func TestCustodyService_SetMinMax_CrossBound(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()

	d.expectLock(ctx, configuredState(0))
	assertAppError(t, d.svc.SetMinAmount(ctx, authorityA, 10_001), apperror.CodeInvalidAmount)

	d.expectLock(ctx, configuredState(0))
	assertAppError(t, d.svc.SetMaxAmount(ctx, authorityA, 99), apperror.CodeInvalidAmount)
	assert.False(t, d.tx.committed)
}

func TestCustodyService_SetBounds_Success(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()

	d.expectLock(ctx, configuredState(0))
	d.stateRepo.EXPECT().Update(ctx, d.tx, gomock.Any()).DoAndReturn(func(_ context.Context, _ pgx.Tx, s *domain.LedgerState) error {
		assert.Equal(t, uint64(500), s.MinAmount)
		return nil
	})
	require.NoError(t, d.svc.SetMinAmount(ctx, authorityA, 500))

	d.expectLock(ctx, configuredState(0))
	d.stateRepo.EXPECT().Update(ctx, d.tx, gomock.Any()).DoAndReturn(func(_ context.Context, _ pgx.Tx, s *domain.LedgerState) error {
		assert.Equal(t, uint64(20_000), s.MaxAmount)
		return nil
	})
	require.NoError(t, d.svc.SetMaxAmount(ctx, authorityA, 20_000))

	d.expectLock(ctx, configuredState(0))
	d.stateRepo.EXPECT().Update(ctx, d.tx, gomock.Any()).DoAndReturn(func(_ context.Context, _ pgx.Tx, s *domain.LedgerState) error {
		assert.Equal(t, uint64(0), s.FeeAmount)
		return nil
	})
	require.NoError(t, d.svc.SetFee(ctx, authorityA, 0))
}

func TestCustodyService_IncrementIdentifier(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	state := configuredState(0)
	state.NextPaymentID = 4
	d.expectLock(ctx, state)
	d.stateRepo.EXPECT().Update(ctx, d.tx, gomock.Any()).DoAndReturn(func(_ context.Context, _ pgx.Tx, s *domain.LedgerState) error {
		assert.Equal(t, uint64(5), s.NextPaymentID)
		assert.Equal(t, uint64(3), s.Sequence)
		return nil
	})

	next, err := d.svc.IncrementIdentifier(ctx, authorityA)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), next)
}

// ==================== Payment Registry Tests ====================

func TestCustodyService_GetPayment_CacheHit(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	rec := &domain.PaymentRecord{ID: 3, Status: domain.PaymentStatusCompleted}
	d.cache.EXPECT().Get(ctx, uint64(3)).Return(rec, nil)

	got, err := d.svc.GetPayment(ctx, 3)
	require.NoError(t, err)
	assert.Same(t, rec, got)
}

func TestCustodyService_GetPayment_CacheMissFillsCache(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	rec := &domain.PaymentRecord{ID: 3, Status: domain.PaymentStatusCompleted}
	d.cache.EXPECT().Get(ctx, uint64(3)).Return(nil, errors.New("redis down"))
	d.paymentRepo.EXPECT().GetByID(ctx, uint64(3)).Return(rec, nil)
	d.cache.EXPECT().Set(ctx, rec, time.Hour).Return(nil)

	got, err := d.svc.GetPayment(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestCustodyService_GetPayment_NotFound(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.cache.EXPECT().Get(ctx, uint64(9)).Return(nil, nil)
	d.paymentRepo.EXPECT().GetByID(ctx, uint64(9)).Return(nil, nil)

	_, err := d.svc.GetPayment(ctx, 9)
	assertAppError(t, err, apperror.CodeNotFound)
}

func TestCustodyService_GetPaymentStatus(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.cache.EXPECT().Get(ctx, uint64(0)).Return(&domain.PaymentRecord{ID: 0, Status: domain.PaymentStatusCompleted}, nil)
	d.cache.EXPECT().Get(ctx, uint64(1)).Return(nil, nil)
	d.paymentRepo.EXPECT().GetByID(ctx, uint64(1)).Return(nil, nil)

	paid, err := d.svc.GetPaymentStatus(ctx, 0)
	require.NoError(t, err)
	assert.True(t, paid)

	paid, err = d.svc.GetPaymentStatus(ctx, 1)
	require.NoError(t, err)
	assert.False(t, paid)
}

func TestCustodyService_GetConfig(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	d.stateRepo.EXPECT().Get(ctx).Return(configuredState(500), nil)
	d.stateRepo.EXPECT().Get(ctx).Return(nil, nil)

	cfg, err := d.svc.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), cfg.FeeAmount)

	_, err = d.svc.GetConfig(ctx)
	assertAppError(t, err, apperror.CodeNotFound)
}

func TestCustodyService_VerifyReceiptChain(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	records := chainOf(3)
	state := configuredState(0)
	state.LastReceiptDigest = records[2].ReceiptDigest

	d.stateRepo.EXPECT().Get(ctx).Return(state, nil)
	d.paymentRepo.EXPECT().ListFrom(ctx, uint64(0), chainPageSize).Return(records, nil)

	report, err := d.svc.VerifyReceiptChain(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 3, report.Checked)
	assert.Nil(t, report.BrokenAt)
}

func TestCustodyService_VerifyReceiptChain_Tampered(t *testing.T) {
	d := setupCustodyService(t)
	ctx := context.Background()
	records := chainOf(3)
	state := configuredState(0)
	state.LastReceiptDigest = records[2].ReceiptDigest
	records[1].Provider = "0xevil"

	d.stateRepo.EXPECT().Get(ctx).Return(state, nil)
	d.paymentRepo.EXPECT().ListFrom(ctx, uint64(0), chainPageSize).Return(records, nil)

	report, err := d.svc.VerifyReceiptChain(ctx)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.NotNil(t, report.BrokenAt)
	assert.Equal(t, uint64(1), *report.BrokenAt)
	assert.Equal(t, 1, report.Checked)
}
