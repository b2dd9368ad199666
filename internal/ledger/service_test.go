package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/poolstake/backend/internal/models"
)

// memStore is an in-memory Store. Transactions are ignored.
type memStore struct {
	mu       sync.Mutex
	balance  int64
	credits  []models.RolloverCredit
	apps     []models.RolloverApplication
	listErr  error
	listCall int
}

func (m *memStore) LockBalance(context.Context, pgx.Tx) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

func (m *memStore) Balance(context.Context) (models.RolloverBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.RolloverBalance{CurrentBalance: m.balance}, nil
}

func (m *memStore) AddTx(_ context.Context, _ pgx.Tx, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balance+delta < 0 {
		return 0, errNegativeBalance
	}
	m.balance += delta
	return m.balance, nil
}

func (m *memStore) InsertCreditTx(_ context.Context, _ pgx.Tx, c *models.RolloverCredit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credits = append(m.credits, *c)
	return nil
}

func (m *memStore) InsertApplicationTx(_ context.Context, _ pgx.Tx, a *models.RolloverApplication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	m.apps = append(m.apps, *a)
	return nil
}

func (m *memStore) HasApplicationTx(_ context.Context, _ pgx.Tx, poolID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.apps {
		if a.PoolID == poolID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListApplications(_ context.Context, after *Cursor, limit int) ([]models.RolloverApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCall++
	if m.listErr != nil {
		return nil, m.listErr
	}
	sorted := append([]models.RolloverApplication(nil), m.apps...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID.String() > sorted[j].ID.String()
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	var out []models.RolloverApplication
	for _, a := range sorted {
		if after != nil {
			if a.CreatedAt.After(after.CreatedAt) {
				continue
			}
			if a.CreatedAt.Equal(after.CreatedAt) && a.ID.String() >= after.ID.String() {
				continue
			}
		}
		out = append(out, a)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func seedApps(m *memStore, n int) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		m.apps = append(m.apps, models.RolloverApplication{
			ID:        uuid.New(),
			PoolID:    uuid.New(),
			Amount:    int64(i + 1),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
}

func TestHistory_ReverseChronologicalAcrossPages(t *testing.T) {
	m := &memStore{}
	seedApps(m, 7)
	svc := NewService(m)

	var amounts []int64
	for a, err := range svc.History(context.Background(), 3) {
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		amounts = append(amounts, a.Amount)
	}
	want := []int64{7, 6, 5, 4, 3, 2, 1}
	if len(amounts) != len(want) {
		t.Fatalf("got %v, want %v", amounts, want)
	}
	for i := range want {
		if amounts[i] != want[i] {
			t.Fatalf("got %v, want %v", amounts, want)
		}
	}
}

func TestHistory_LazyAndRestartable(t *testing.T) {
	m := &memStore{}
	seedApps(m, 10)
	svc := NewService(m)

	seq := svc.History(context.Background(), 4)
	if m.listCall != 0 {
		t.Fatalf("History queried before ranging: %d calls", m.listCall)
	}

	for a, err := range seq {
		if err != nil {
			t.Fatal(err)
		}
		if a.Amount != 10 {
			t.Fatalf("first item: got %d, want 10", a.Amount)
		}
		break
	}
	if m.listCall != 1 {
		t.Fatalf("early break should fetch one page, got %d", m.listCall)
	}

	n := 0
	for range seq {
		n++
	}
	if n != 10 {
		t.Fatalf("second range: got %d items, want 10", n)
	}
}

func TestHistory_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	m := &memStore{listErr: boom}
	svc := NewService(m)

	for _, err := range svc.History(context.Background(), 0) {
		if !errors.Is(err, boom) {
			t.Fatalf("got %v, want boom", err)
		}
	}
}

func TestForfeit(t *testing.T) {
	m := &memStore{}
	svc := NewService(m)
	pool := uuid.New()

	if err := svc.Forfeit(context.Background(), nil, pool, 0, models.RolloverReasonRemainder); err != nil {
		t.Fatal(err)
	}
	if len(m.credits) != 0 {
		t.Fatal("zero forfeit should not record a credit")
	}
	if err := svc.Forfeit(context.Background(), nil, pool, 700, models.RolloverReasonNoWinners); err != nil {
		t.Fatal(err)
	}
	if m.balance != 700 || len(m.credits) != 1 || m.credits[0].Reason != models.RolloverReasonNoWinners {
		t.Fatalf("unexpected state: balance=%d credits=%+v", m.balance, m.credits)
	}
}

func TestApply_ZeroesBalance(t *testing.T) {
	m := &memStore{balance: 5000}
	svc := NewService(m)
	pool, admin := uuid.New(), uuid.New()

	app, err := svc.Apply(context.Background(), nil, pool, admin, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if app.Amount != 5000 || app.PoolID != pool || app.AdminID != admin {
		t.Fatalf("unexpected application %+v", app)
	}
	if m.balance != 0 {
		t.Fatalf("balance: got %d, want 0", m.balance)
	}
}
