package handler_test

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"custody-engine/internal/core/domain"
	"custody-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// --- Transactions ---

// memTx buffers writes until Commit. Rollback after Commit is a no-op, as with pgx.
type memTx struct {
	mu      sync.Mutex
	pending []func()
	done    bool
}

func stage(tx pgx.Tx, apply func()) error {
	mt, ok := tx.(*memTx)
	if !ok {
		return fmt.Errorf("unexpected tx type %T", tx)
	}
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.done {
		return pgx.ErrTxClosed
	}
	mt.pending = append(mt.pending, apply)
	return nil
}

func (t *memTx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	for _, apply := range t.pending {
		apply()
	}
	t.pending, t.done = nil, true
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending, t.done = nil, true
	return nil
}

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *memTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *memTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *memTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t *memTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (t *memTx) Conn() *pgx.Conn                                               { return nil }

type memTransactor struct{}

func (memTransactor) Begin(ctx context.Context) (pgx.Tx, error) { return &memTx{}, nil }

// --- State ---

type memStateRepo struct {
	mu    sync.RWMutex
	state *domain.LedgerState
}

func (r *memStateRepo) Get(ctx context.Context) (*domain.LedgerState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state == nil {
		return nil, nil
	}
	return r.state.Clone(), nil
}

func (r *memStateRepo) GetForUpdate(ctx context.Context, tx pgx.Tx) (*domain.LedgerState, error) {
	return r.Get(ctx)
}

func (r *memStateRepo) Update(ctx context.Context, tx pgx.Tx, state *domain.LedgerState) error {
	next := state.Clone()
	return stage(tx, func() {
		r.mu.Lock()
		r.state = next
		r.mu.Unlock()
	})
}

func (r *memStateRepo) Bootstrap(ctx context.Context, state *domain.LedgerState) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != nil {
		return false, nil
	}
	r.state = state.Clone()
	return true, nil
}

// --- Funds ---

type memFundRepo struct {
	mu       sync.RWMutex
	balances map[domain.AccountID]domain.FundBalance
}

func newMemFundRepo() *memFundRepo {
	return &memFundRepo{balances: make(map[domain.AccountID]domain.FundBalance)}
}

func (r *memFundRepo) Get(ctx context.Context, funder domain.AccountID) (*domain.FundBalance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.balances[funder]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r *memFundRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, funder domain.AccountID) (*domain.FundBalance, error) {
	return r.Get(ctx, funder)
}

func (r *memFundRepo) Save(ctx context.Context, tx pgx.Tx, balance *domain.FundBalance) error {
	b := *balance
	return stage(tx, func() {
		r.mu.Lock()
		r.balances[b.Funder] = b
		r.mu.Unlock()
	})
}

// --- Payments ---

type memPaymentRepo struct {
	mu       sync.RWMutex
	payments map[uint64]domain.PaymentRecord
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{payments: make(map[uint64]domain.PaymentRecord)}
}

func (r *memPaymentRepo) Create(ctx context.Context, tx pgx.Tx, record *domain.PaymentRecord) error {
	r.mu.RLock()
	_, exists := r.payments[record.ID]
	r.mu.RUnlock()
	if exists {
		return fmt.Errorf("payment %d already exists", record.ID)
	}
	rec := *record
	return stage(tx, func() {
		r.mu.Lock()
		r.payments[rec.ID] = rec
		r.mu.Unlock()
	})
}

func (r *memPaymentRepo) GetByID(ctx context.Context, id uint64) (*domain.PaymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *memPaymentRepo) IsSettled(ctx context.Context, tx pgx.Tx, id uint64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.payments[id]
	return ok, nil
}

func (r *memPaymentRepo) ListFrom(ctx context.Context, fromID uint64, limit int) ([]domain.PaymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PaymentRecord, 0)
	for id, rec := range r.payments {
		if id >= fromID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memPaymentRepo) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.payments)
}

// tamper overwrites a stored receipt outside any transaction.
func (r *memPaymentRepo) tamper(id uint64, amount uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.payments[id]
	rec.Amount = amount
	r.payments[id] = rec
}

// --- Clients ---

type memClientRepo struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*domain.APIClient
}

func newMemClientRepo() *memClientRepo {
	return &memClientRepo{clients: make(map[uuid.UUID]*domain.APIClient)}
}

func (r *memClientRepo) Create(ctx context.Context, c *domain.APIClient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.clients {
		if existing.AccessKey == c.AccessKey {
			return fmt.Errorf("access key already exists")
		}
	}
	r.clients[c.ID] = c
	return nil
}

func (r *memClientRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.APIClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[id], nil
}

func (r *memClientRepo) GetByAccessKey(ctx context.Context, accessKey string) (*domain.APIClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		if c.AccessKey == accessKey {
			return c, nil
		}
	}
	return nil, nil
}

func (r *memClientRepo) suspend(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id].Status = domain.ClientStatusSuspended
}

// --- Audit ---

type memAuditRepo struct {
	mu   sync.Mutex
	logs []domain.AuditLog
}

func (r *memAuditRepo) Create(ctx context.Context, log *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *log)
	return nil
}

func (r *memAuditRepo) actions() []domain.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuditAction, 0, len(r.logs))
	for _, l := range r.logs {
		out = append(out, l.Action)
	}
	return out
}

// --- Collaborators ---

// fakeRegistry answers for both the session registry and the patient verifier.
type fakeRegistry struct {
	mu              sync.Mutex
	sessionValid    bool
	patientVerified bool
}

func (f *fakeRegistry) VerifySession(ctx context.Context, sessionID uint64, patient domain.AccountID, sessionHash domain.Bytes32) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionValid, nil
}

func (f *fakeRegistry) IsVerified(ctx context.Context, sessionID uint64, patient domain.AccountID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.patientVerified, nil
}

func (f *fakeRegistry) set(session, patient bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionValid, f.patientVerified = session, patient
}

// fakeLedger is a settlement layer holding real balances.
type fakeLedger struct {
	mu       sync.Mutex
	balances map[domain.AccountID]uint64
	seq      int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[domain.AccountID]uint64)}
}

func (l *fakeLedger) Transfer(ctx context.Context, amount uint64, from, to domain.AccountID) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[from] < amount {
		return "", apperror.ErrInsufficientSettlementFunds()
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	l.seq++
	return fmt.Sprintf("stl-%d", l.seq), nil
}

func (l *fakeLedger) fund(account domain.AccountID, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

func (l *fakeLedger) balance(account domain.AccountID) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}
