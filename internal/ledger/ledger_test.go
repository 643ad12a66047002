package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/challenge-wager-engine/internal/shared/errs"
	"github.com/radieske/challenge-wager-engine/internal/shared/statestore"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	return New(DefaultConfig, statestore.NewMemory(), nil, clock, nil), clock
}

// failingStore aceita loads mas recusa saves quando fail=true.
type failingStore struct {
	*statestore.Memory
	fail bool
}

func (f *failingStore) Save(ctx context.Context, key string, v any) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Memory.Save(ctx, key, v)
}

func TestOpenAndBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	a, err := l.Open(ctx, "u1", Balances{Coins: 100, Tokens: 5, Credits: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(100), a.GoldCoins)
	assert.Len(t, a.History, 3)

	bal, err := l.Balance(ctx, "u1", Tokens)
	require.NoError(t, err)
	assert.Equal(t, int64(5), bal)

	_, err = l.Open(ctx, "u1", Balances{})
	assert.ErrorIs(t, err, errs.ErrAccountExists)

	_, err = l.Balance(ctx, "ghost", Coins)
	assert.ErrorIs(t, err, errs.ErrUnknownAccount)

	_, err = l.Open(ctx, "u2", Balances{Coins: -1})
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
}

func TestConservation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Open(ctx, "u1", Balances{Coins: 100})
	require.NoError(t, err)

	ops := []struct {
		credit bool
		amount int64
	}{
		{false, 30}, {true, 15}, {false, 200}, {false, 85}, {true, 7}, {false, 1},
	}
	want := int64(100)
	for _, op := range ops {
		if op.credit {
			_, err := l.Credit(ctx, "u1", Coins, op.amount, "test")
			require.NoError(t, err)
			want += op.amount
			continue
		}
		before, _ := l.Balance(ctx, "u1", Coins)
		_, err := l.Debit(ctx, "u1", Coins, op.amount, "test")
		if errors.Is(err, errs.ErrInsufficientFunds) {
			after, _ := l.Balance(ctx, "u1", Coins)
			assert.Equal(t, before, after, "rejected debit must not move the balance")
			continue
		}
		require.NoError(t, err)
		want -= op.amount
	}
	got, err := l.Balance(ctx, "u1", Coins)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDebitRejectsInvalidAmounts(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Open(ctx, "u1", Balances{Coins: 10})
	require.NoError(t, err)

	_, err = l.Debit(ctx, "u1", Coins, 0, "")
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
	_, err = l.Credit(ctx, "u1", Coins, -3, "")
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
	_, err = l.Credit(ctx, "u1", "gems", 3, "")
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
	_, err = l.Debit(ctx, "ghost", Coins, 1, "")
	assert.ErrorIs(t, err, errs.ErrUnknownAccount)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	for i := 0; i < 50; i++ {
		l, _ := newTestLedger(t)
		ctx := context.Background()
		_, err := l.Open(ctx, "u1", Balances{Coins: 100})
		require.NoError(t, err)

		var wg sync.WaitGroup
		results := make([]error, 2)
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				_, results[j] = l.Debit(ctx, "u1", Coins, 60, "race")
			}(j)
		}
		wg.Wait()

		ok, insufficient := 0, 0
		for _, err := range results {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, errs.ErrInsufficientFunds):
				insufficient++
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, insufficient)
		bal, err := l.Balance(ctx, "u1", Coins)
		require.NoError(t, err)
		assert.Equal(t, int64(40), bal)
	}
}

func TestDailyCreditCapAndExpiry(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Open(ctx, "u1", Balances{Credits: 20})
	require.NoError(t, err)

	_, err = l.Credit(ctx, "u1", Credits, 30, "daily")
	require.NoError(t, err)
	_, err = l.Credit(ctx, "u1", Credits, 1, "daily")
	assert.ErrorIs(t, err, errs.ErrDailyCapExceeded)

	// gastar créditos não libera espaço no limite diário
	_, err = l.Debit(ctx, "u1", Credits, 10, "entry")
	require.NoError(t, err)
	_, err = l.Credit(ctx, "u1", Credits, 1, "daily")
	assert.ErrorIs(t, err, errs.ErrDailyCapExceeded)

	clock.Advance(24 * time.Hour)
	bal, err := l.Balance(ctx, "u1", Credits)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)

	_, err = l.Credit(ctx, "u1", Credits, 50, "daily")
	require.NoError(t, err)
}

func TestExpireCreditsSweep(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Open(ctx, "u1", Balances{Credits: 10})
	require.NoError(t, err)
	_, err = l.Open(ctx, "u2", Balances{Coins: 10})
	require.NoError(t, err)

	n, err := l.ExpireCredits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Advance(25 * time.Hour)
	n, err = l.ExpireCredits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a, err := l.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.DailyCredits)
	last := a.History[len(a.History)-1]
	assert.Equal(t, EntryExpire, last.Type)
	assert.Equal(t, int64(-10), last.Amount)
	assert.Equal(t, int64(0), last.BalanceAfter)
}

func TestExchange(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Open(ctx, "u1", Balances{Coins: 125, Tokens: 100})
	require.NoError(t, err)

	a, err := l.Exchange(ctx, "u1", Coins, Tokens, 125)
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.GoldCoins)
	assert.Equal(t, int64(110), a.PlatformTokens)

	a, err = l.Exchange(ctx, "u1", Tokens, Credits, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(10), a.PlatformTokens)
	assert.Equal(t, int64(10), a.DailyCredits)

	_, err = l.Exchange(ctx, "u1", Tokens, Credits, 5)
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
	_, err = l.Exchange(ctx, "u1", Credits, Coins, 5)
	assert.ErrorIs(t, err, errs.ErrNoConversionPath)
	_, err = l.Exchange(ctx, "u1", Tokens, Credits, 1000)
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)

	a, err = l.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), a.PlatformTokens)
}

func TestRecordOutcome(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Open(ctx, "u1", Balances{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = l.RecordOutcome(ctx, "u1", true)
		require.NoError(t, err)
	}
	a, _ := l.Snapshot(ctx, "u1")
	assert.Equal(t, int64(3), a.WinStreak)

	streak, err := l.RecordOutcome(ctx, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), streak)
}

func TestFailedSaveLeavesStateUnchanged(t *testing.T) {
	store := &failingStore{Memory: statestore.NewMemory()}
	l := New(DefaultConfig, store, nil, clockwork.NewFakeClockAt(t0), nil)
	ctx := context.Background()
	_, err := l.Open(ctx, "u1", Balances{Coins: 100})
	require.NoError(t, err)

	store.fail = true
	_, err = l.Debit(ctx, "u1", Coins, 30, "")
	require.Error(t, err)
	assert.Equal(t, errs.KindInternal, errs.Kind(err))

	store.fail = false
	bal, err := l.Balance(ctx, "u1", Coins)
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)
}

func TestHydratesFromStore(t *testing.T) {
	store := statestore.NewMemory()
	ctx := context.Background()
	first := New(DefaultConfig, store, nil, clockwork.NewFakeClockAt(t0), nil)
	_, err := first.Open(ctx, "u1", Balances{Coins: 70})
	require.NoError(t, err)

	second := New(DefaultConfig, store, nil, clockwork.NewFakeClockAt(t0), nil)
	bal, err := second.Balance(ctx, "u1", Coins)
	require.NoError(t, err)
	assert.Equal(t, int64(70), bal)

	_, err = second.Open(ctx, "u1", Balances{})
	assert.ErrorIs(t, err, errs.ErrAccountExists)
}

func TestUnknownIdsDoNotLeaveSlots(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Open(ctx, "u1", Balances{Coins: 10})
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		_, err := l.Balance(ctx, fmt.Sprintf("ghost-%d", i), Coins)
		require.ErrorIs(t, err, errs.ErrUnknownAccount)
		_, err = l.Debit(ctx, fmt.Sprintf("ghost-%d", i), Coins, 1, "x")
		require.ErrorIs(t, err, errs.ErrUnknownAccount)
	}
	// abertura com saldo inválido também não deixa slot
	_, err = l.Open(ctx, "u2", Balances{Coins: -1})
	require.Error(t, err)

	l.mu.Lock()
	assert.Len(t, l.accounts, 1)
	l.mu.Unlock()

	n, err := l.ExpireCredits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHistoryIsBounded(t *testing.T) {
	cfg := DefaultConfig
	cfg.HistoryLimit = 5
	l := New(cfg, nil, nil, clockwork.NewFakeClockAt(t0), nil)
	ctx := context.Background()
	_, err := l.Open(ctx, "u1", Balances{Coins: 1})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err := l.Credit(ctx, "u1", Coins, 1, "")
		require.NoError(t, err)
	}
	a, _ := l.Snapshot(ctx, "u1")
	assert.Len(t, a.History, 5)
	assert.Equal(t, int64(21), a.History[4].BalanceAfter)
}
