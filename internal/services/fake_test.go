package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/poolstake/backend/internal/execution"
	"github.com/poolstake/backend/internal/ledger"
	"github.com/poolstake/backend/internal/models"
)

// ---------------------------------------------------------------------------
// fakeDB is an in-memory database shared by the store fakes below.
// Transactions are serialized by txMu, which stands in for the pool row lock;
// Rollback restores the snapshot taken at Begin.
// ---------------------------------------------------------------------------

type fakeState struct {
	pools    map[uuid.UUID]*models.Pool
	entries  []*models.Entry
	ledgers  map[uuid.UUID]*models.SettlementLedger // by pool
	payouts  map[uuid.UUID][]models.SettlementPayout
	wallets  map[uuid.UUID]int64
	walletTx map[string]uuid.UUID
	rollover int64
	credits  []models.RolloverCredit
	apps     []models.RolloverApplication
	jobs     []execution.FinalizeSettlementArgs
	settings models.Settings
}

func (s *fakeState) clone() *fakeState {
	c := &fakeState{
		pools:    make(map[uuid.UUID]*models.Pool, len(s.pools)),
		ledgers:  make(map[uuid.UUID]*models.SettlementLedger, len(s.ledgers)),
		payouts:  make(map[uuid.UUID][]models.SettlementPayout, len(s.payouts)),
		wallets:  make(map[uuid.UUID]int64, len(s.wallets)),
		walletTx: make(map[string]uuid.UUID, len(s.walletTx)),
		rollover: s.rollover,
		credits:  append([]models.RolloverCredit(nil), s.credits...),
		apps:     append([]models.RolloverApplication(nil), s.apps...),
		jobs:     append([]execution.FinalizeSettlementArgs(nil), s.jobs...),
		settings: s.settings,
	}
	for id, p := range s.pools {
		cp := *p
		cp.Options = append([]models.Option(nil), p.Options...)
		c.pools[id] = &cp
	}
	for _, e := range s.entries {
		cp := *e
		c.entries = append(c.entries, &cp)
	}
	for id, l := range s.ledgers {
		cp := *l
		c.ledgers[id] = &cp
	}
	for id, p := range s.payouts {
		c.payouts[id] = append([]models.SettlementPayout(nil), p...)
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.walletTx {
		c.walletTx[k] = v
	}
	return c
}

type fakeDB struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *fakeState

	clock time.Time

	// beginFailures makes the next n Begin calls fail transiently.
	beginFailures int
	// failCreditCall fails the nth Credit call (1-based); 0 never fails.
	failCreditCall int
	creditCalls    int
	begins         int
	// commitFailures makes the next n commits apply their writes and then
	// report a transient error anyway.
	commitFailures int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		st: &fakeState{
			pools:    map[uuid.UUID]*models.Pool{},
			ledgers:  map[uuid.UUID]*models.SettlementLedger{},
			payouts:  map[uuid.UUID][]models.SettlementPayout{},
			wallets:  map[uuid.UUID]int64{},
			walletTx: map[string]uuid.UUID{},
			settings: models.Settings{CompanyCutPercent: cutTenPercent, RolloverEnabled: true},
		},
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// tick returns a strictly increasing timestamp. Caller holds mu.
func (f *fakeDB) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeDB) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tick()
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	f.mu.Lock()
	f.begins++
	if f.beginFailures > 0 {
		f.beginFailures--
		f.mu.Unlock()
		return nil, &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	}
	f.mu.Unlock()

	f.txMu.Lock()
	f.mu.Lock()
	snap := f.st.clone()
	f.mu.Unlock()
	return &fakeTx{db: f, snapshot: snap}, nil
}

// fakeTx satisfies pgx.Tx; only Commit and Rollback are called.
type fakeTx struct {
	db       *fakeDB
	snapshot *fakeState
	done     bool
}

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) { return nil, errors.New("nested tx") }
func (t *fakeTx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.mu.Lock()
	lost := t.db.commitFailures > 0
	if lost {
		t.db.commitFailures--
	}
	t.db.mu.Unlock()
	t.db.txMu.Unlock()
	if lost {
		return &pgconn.PgError{Code: "40001", Message: "connection lost after commit"}
	}
	return nil
}
func (t *fakeTx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.mu.Lock()
	t.db.st = t.snapshot
	t.db.mu.Unlock()
	t.db.txMu.Unlock()
	return nil
}
func (t *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *fakeTx) Conn() *pgx.Conn { return nil }

func (f *fakeDB) enqueue(_ context.Context, _ pgx.Tx, args execution.FinalizeSettlementArgs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st.jobs = append(f.st.jobs, args)
	return nil
}

// poolView returns a copy of the pool with the aggregates the real query
// computes. Caller holds mu.
func (f *fakeDB) poolView(id uuid.UUID) (*models.Pool, error) {
	p, ok := f.st.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: pool %s", models.ErrNotFound, id)
	}
	cp := *p
	cp.Options = append([]models.Option(nil), p.Options...)
	cp.TotalPot, cp.Participants = 0, 0
	users := map[uuid.UUID]bool{}
	for _, e := range f.st.entries {
		if e.PoolID != id || e.Status == models.EntryStatusRefunded {
			continue
		}
		cp.TotalPot += e.Amount
		users[e.UserID] = true
		for i := range cp.Options {
			if cp.Options[i].ID == e.OptionID {
				cp.Options[i].TotalStake += e.Amount
				cp.Options[i].EntryCount++
			}
		}
	}
	cp.Participants = len(users)
	return &cp, nil
}

// --- test inspection helpers ---

func (f *fakeDB) balance(user uuid.UUID) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.wallets[user]
}

func (f *fakeDB) fund(user uuid.UUID, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st.wallets[user] += amount
}

func (f *fakeDB) rolloverBalance() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.rollover
}

func (f *fakeDB) setRollover(amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st.rollover = amount
}

// walletKeys returns the applied idempotency keys with the given prefix.
func (f *fakeDB) walletKeys(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.st.walletTx {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeDB) entry(id uuid.UUID) models.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.st.entries {
		if e.ID == id {
			return *e
		}
	}
	return models.Entry{}
}

func (f *fakeDB) jobs() []execution.FinalizeSettlementArgs {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]execution.FinalizeSettlementArgs(nil), f.st.jobs...)
}

func (f *fakeDB) poolCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.st.pools)
}

func (f *fakeDB) rolloverCredits() []models.RolloverCredit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RolloverCredit(nil), f.st.credits...)
}

// ---------------------------------------------------------------------------
// PoolStore
// ---------------------------------------------------------------------------

type fakePools struct{ *fakeDB }

func (f fakePools) CreateTx(_ context.Context, _ pgx.Tx, p *models.Pool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.st.pools[p.ID]; ok {
		return fmt.Errorf("insert pool: %w", &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint \"pools_pkey\""})
	}
	p.CreatedAt = f.tick()
	p.UpdatedAt = p.CreatedAt
	for i := range p.Options {
		o := &p.Options[i]
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		o.PoolID = p.ID
		o.CreatedAt = p.CreatedAt
	}
	cp := *p
	cp.Options = append([]models.Option(nil), p.Options...)
	f.st.pools[p.ID] = &cp
	return nil
}

func (f fakePools) GetByID(_ context.Context, id uuid.UUID) (*models.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.poolView(id)
}

func (f fakePools) GetForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.poolView(id)
}

func (f fakePools) List(_ context.Context, filter models.PoolFilter) ([]*models.Pool, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Pool
	for id, p := range f.st.pools {
		if filter.Kind != "" && p.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		v, _ := f.poolView(id)
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}

func (f fakePools) UpdateStatusTx(_ context.Context, _ pgx.Tx, id uuid.UUID, status models.PoolStatus, reason *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.st.pools[id]
	if !ok {
		return models.ErrNotFound
	}
	p.Status = status
	p.RefundReason = reason
	return nil
}

func (f fakePools) SetRolloverBonusTx(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.st.pools[id]
	if !ok {
		return models.ErrNotFound
	}
	p.RolloverBonus += amount
	return nil
}

func (f fakePools) AddOptionTx(_ context.Context, _ pgx.Tx, o *models.Option) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.st.pools[o.PoolID]
	if !ok {
		return models.ErrNotFound
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.CreatedAt = f.tick()
	p.Options = append(p.Options, *o)
	return nil
}

func (f fakePools) RenameOptionTx(_ context.Context, _ pgx.Tx, poolID, optionID uuid.UUID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.st.pools[poolID]
	if !ok {
		return models.ErrNotFound
	}
	for i := range p.Options {
		if p.Options[i].ID == optionID {
			p.Options[i].Title = title
			return nil
		}
	}
	return models.ErrInvalidOption
}

func (f fakePools) EliminateOptionTx(_ context.Context, _ pgx.Tx, poolID, optionID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.st.pools[poolID]
	if !ok {
		return models.ErrNotFound
	}
	for i := range p.Options {
		if p.Options[i].ID == optionID {
			p.Options[i].Eliminated = true
			p.Options[i].EliminatedAt = &at
			return nil
		}
	}
	return models.ErrInvalidOption
}

// ---------------------------------------------------------------------------
// EntryStore
// ---------------------------------------------------------------------------

type fakeEntries struct{ *fakeDB }

func (f fakeEntries) CreateTx(_ context.Context, _ pgx.Tx, e *models.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.Status = models.EntryStatusActive
	e.CreatedAt = f.tick()
	cp := *e
	f.st.entries = append(f.st.entries, &cp)
	return nil
}

func (f fakeEntries) ListByPoolTx(_ context.Context, _ pgx.Tx, poolID uuid.UUID) ([]*models.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Entry
	for _, e := range f.st.entries {
		if e.PoolID == poolID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f fakeEntries) ListByPool(ctx context.Context, poolID uuid.UUID, limit int) ([]*models.Entry, error) {
	out, _ := f.ListByPoolTx(ctx, nil, poolID)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeEntries) CountByPoolTx(ctx context.Context, tx pgx.Tx, poolID uuid.UUID) (int, error) {
	out, _ := f.ListByPoolTx(ctx, tx, poolID)
	return len(out), nil
}

func (f fakeEntries) SetStatusTx(_ context.Context, _ pgx.Tx, id uuid.UUID, status models.EntryStatus, payout *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.st.entries {
		if e.ID == id {
			e.Status = status
			e.PayoutAmount = nil
			if payout != nil {
				v := *payout
				e.PayoutAmount = &v
			}
			return nil
		}
	}
	return models.ErrNotFound
}

// ---------------------------------------------------------------------------
// SettlementStore
// ---------------------------------------------------------------------------

type fakeSettlements struct{ *fakeDB }

func (f fakeSettlements) GetByPool(_ context.Context, poolID uuid.UUID) (*models.SettlementLedger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.st.ledgers[poolID]
	if !ok {
		return nil, fmt.Errorf("%w: settlement for pool %s", models.ErrNotFound, poolID)
	}
	cp := *l
	return &cp, nil
}

func (f fakeSettlements) GetByPoolTx(ctx context.Context, _ pgx.Tx, poolID uuid.UUID) (*models.SettlementLedger, error) {
	return f.GetByPool(ctx, poolID)
}

func (f fakeSettlements) CreateTx(_ context.Context, _ pgx.Tx, l *models.SettlementLedger, payouts []models.SettlementPayout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.st.ledgers[l.PoolID]; ok {
		return fmt.Errorf("%w: duplicate settlement", models.ErrInvalidState)
	}
	cp := *l
	f.st.ledgers[l.PoolID] = &cp
	f.st.payouts[l.ID] = append([]models.SettlementPayout(nil), payouts...)
	return nil
}

func (f fakeSettlements) ListPayoutsTx(_ context.Context, _ pgx.Tx, settlementID uuid.UUID) ([]models.SettlementPayout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SettlementPayout(nil), f.st.payouts[settlementID]...), nil
}

func (f fakeSettlements) MarkPayoutCreditedTx(_ context.Context, _ pgx.Tx, settlementID, entryID, walletTxID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.st.payouts[settlementID] {
		if f.st.payouts[settlementID][i].EntryID == entryID {
			id := walletTxID
			f.st.payouts[settlementID][i].WalletTxID = &id
		}
	}
	return nil
}

func (f fakeSettlements) MarkDoneTx(_ context.Context, _ pgx.Tx, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.st.ledgers {
		if l.ID == id && !l.PayoutsDone {
			l.PayoutsDone = true
			l.SettledAt = &at
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Wallet
// ---------------------------------------------------------------------------

type fakeWallet struct{ *fakeDB }

var errWalletDown = errors.New("wallet service down")

func (f fakeWallet) Credit(_ context.Context, _ pgx.Tx, user uuid.UUID, amount int64, _, _, key string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creditCalls++
	if f.failCreditCall > 0 && f.creditCalls == f.failCreditCall {
		return uuid.Nil, errWalletDown
	}
	if id, ok := f.st.walletTx[key]; ok {
		return id, nil
	}
	id := uuid.New()
	f.st.walletTx[key] = id
	f.st.wallets[user] += amount
	return id, nil
}

func (f fakeWallet) Debit(_ context.Context, _ pgx.Tx, user uuid.UUID, amount int64, _, _, key string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.st.walletTx[key]; ok {
		return id, nil
	}
	if f.st.wallets[user] < amount {
		return uuid.Nil, models.ErrInsufficientFunds
	}
	id := uuid.New()
	f.st.walletTx[key] = id
	f.st.wallets[user] -= amount
	return id, nil
}

// ---------------------------------------------------------------------------
// ledger.Store
// ---------------------------------------------------------------------------

type fakeRollover struct{ *fakeDB }

func (f fakeRollover) LockBalance(context.Context, pgx.Tx) (int64, error) {
	return f.rolloverBalance(), nil
}

func (f fakeRollover) Balance(context.Context) (models.RolloverBalance, error) {
	return models.RolloverBalance{CurrentBalance: f.rolloverBalance()}, nil
}

func (f fakeRollover) AddTx(_ context.Context, _ pgx.Tx, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.st.rollover+delta < 0 {
		return 0, fmt.Errorf("%w: rollover balance would go negative", models.ErrInvalidState)
	}
	f.st.rollover += delta
	return f.st.rollover, nil
}

func (f fakeRollover) InsertCreditTx(_ context.Context, _ pgx.Tx, c *models.RolloverCredit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = f.tick()
	f.st.credits = append(f.st.credits, *c)
	return nil
}

func (f fakeRollover) InsertApplicationTx(_ context.Context, _ pgx.Tx, a *models.RolloverApplication) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = f.tick()
	f.st.apps = append(f.st.apps, *a)
	return nil
}

func (f fakeRollover) HasApplicationTx(_ context.Context, _ pgx.Tx, poolID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.st.apps {
		if a.PoolID == poolID {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeRollover) ListApplications(_ context.Context, after *ledger.Cursor, limit int) ([]models.RolloverApplication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := append([]models.RolloverApplication(nil), f.st.apps...)
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	var out []models.RolloverApplication
	for _, a := range all {
		if after != nil && !a.CreatedAt.Before(after.CreatedAt) {
			continue
		}
		out = append(out, a)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// SettingsStore
// ---------------------------------------------------------------------------

type fakeSettings struct{ *fakeDB }

func (f fakeSettings) Get(context.Context) (models.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.settings, nil
}

func (f fakeSettings) GetTx(ctx context.Context, _ pgx.Tx) (models.Settings, error) {
	return f.Get(ctx)
}

func (f fakeSettings) UpdateTx(_ context.Context, _ pgx.Tx, s *models.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.UpdatedAt = f.tick()
	f.st.settings = *s
	return nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type recMetrics struct {
	mu          sync.Mutex
	transitions map[string]int
	finalized   int
	failed      map[string]int
	retries     int
}

func newRecMetrics() *recMetrics {
	return &recMetrics{transitions: map[string]int{}, failed: map[string]int{}}
}

func (m *recMetrics) PoolTransition(cmd string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[cmd]++
}
func (m *recMetrics) SettlementFinalized(models.PoolStatus, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized++
}
func (m *recMetrics) SettlementFailed(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[reason]++
}
func (m *recMetrics) RolloverMoved(string, int64) {}
func (m *recMetrics) StoreRetry(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

type harness struct {
	db       *fakeDB
	metrics  *recMetrics
	pools    *PoolService
	rollover *RolloverService
	engine   *SettlementEngine
	machine  *PoolMachine
	settings *SettingsService
}

var admin = models.Principal{AdminID: uuid.MustParse("00000000-0000-0000-0000-0000000000a1"), Role: models.RoleAdmin}

func newHarness() *harness {
	db := newFakeDB()
	m := newRecMetrics()
	d := Deps{
		DB:          db,
		Pools:       fakePools{db},
		Entries:     fakeEntries{db},
		Settlements: fakeSettlements{db},
		Wallet:      fakeWallet{db},
		Ledger:      ledger.NewService(fakeRollover{db}),
		Retry: RetryPolicy{
			Timeout:     time.Second,
			MaxAttempts: 3,
			Backoff:     time.Millisecond,
			OnRetry:     func(op string, _ int, _ error) { m.StoreRetry(op) },
		},
		Metrics:  m,
		Now:      db.now,
		Settings: fakeSettings{db},
	}
	rollover := NewRolloverService(d)
	pools := NewPoolService(d, rollover)
	engine := NewSettlementEngine(d, cutTenPercent, db.enqueue, nil)
	return &harness{
		db:       db,
		metrics:  m,
		pools:    pools,
		rollover: rollover,
		engine:   engine,
		machine:  NewPoolMachine(pools, engine),
		settings: NewSettingsService(d),
	}
}
