package market

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

	"github.com/radieske/challenge-wager-engine/internal/conversion"
	"github.com/radieske/challenge-wager-engine/internal/eligibility"
	"github.com/radieske/challenge-wager-engine/internal/ledger"
	"github.com/radieske/challenge-wager-engine/internal/odds"
	"github.com/radieske/challenge-wager-engine/internal/progression"
	"github.com/radieske/challenge-wager-engine/internal/shared/errs"
	"github.com/radieske/challenge-wager-engine/internal/shared/statestore"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	book   *Book
	ledger *ledger.Ledger
	clock  *clockwork.FakeClock
	store  *flakyStore
}

type flakyStore struct {
	*statestore.Memory
	mu   sync.Mutex
	fail bool
}

func (f *flakyStore) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *flakyStore) Save(ctx context.Context, key string, v any) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("write timeout")
	}
	return f.Memory.Save(ctx, key, v)
}

func newFixture(t *testing.T, accounts map[string]int64) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(t0)
	l := ledger.New(ledger.DefaultConfig, statestore.NewMemory(), nil, clock, nil)
	for id, coins := range accounts {
		_, err := l.Open(ctx, id, ledger.Balances{Coins: coins})
		require.NoError(t, err)
	}
	store := &flakyStore{Memory: statestore.NewMemory()}
	return &fixture{book: NewBook(l, store, clock, nil), ledger: l, clock: clock, store: store}
}

func (f *fixture) create(t *testing.T, id string, virtual int64) Market {
	t.Helper()
	m, err := f.book.Create(context.Background(), Params{
		ID:           id,
		Kind:         odds.Binary,
		MinBet:       1,
		MaxBet:       100,
		EndTime:      t0.Add(time.Hour),
		VirtualStake: virtual,
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) coins(t *testing.T, id string) int64 {
	t.Helper()
	bal, err := f.ledger.Balance(context.Background(), id, conversion.Coins)
	require.NoError(t, err)
	return bal
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	end := t0.Add(time.Hour)

	_, err := f.book.Create(ctx, Params{Kind: "trifecta", MinBet: 1, MaxBet: 10, EndTime: end})
	assert.ErrorIs(t, err, errs.ErrInvalidSide)
	_, err = f.book.Create(ctx, Params{Kind: odds.Binary, MinBet: 0, MaxBet: 10, EndTime: end})
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
	_, err = f.book.Create(ctx, Params{Kind: odds.Binary, MinBet: 10, MaxBet: 5, EndTime: end})
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
	_, err = f.book.Create(ctx, Params{Kind: odds.Binary, MinBet: 1, MaxBet: 10, EndTime: end, Currency: conversion.Credits})
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
	_, err = f.book.Create(ctx, Params{Kind: odds.Binary, MinBet: 1, MaxBet: 10, EndTime: t0})
	assert.ErrorIs(t, err, errs.ErrMarketClosed)

	m := f.create(t, "m1", 0)
	assert.Equal(t, StateOpen, m.State)
	assert.Equal(t, conversion.Coins, m.Currency)
	assert.Contains(t, m.Sides, odds.Yes)
	assert.Contains(t, m.Sides, odds.No)

	_, err = f.book.Create(ctx, Params{ID: "m1", Kind: odds.Duel, MinBet: 1, MaxBet: 10, EndTime: end})
	assert.ErrorIs(t, err, errs.ErrMarketExists)

	_, err = f.book.Get(ctx, "nope")
	assert.ErrorIs(t, err, errs.ErrUnknownMarket)
}

func TestZeroPoolFirstBet(t *testing.T) {
	f := newFixture(t, map[string]int64{"u1": 100})
	ctx := context.Background()
	f.create(t, "literal", 0)
	f.create(t, "seeded", 1)

	p, err := f.book.PlaceBet(ctx, "literal", "u1", odds.Yes, 20)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.Wager.OddsAtPlacement)
	assert.Equal(t, int64(80), p.NewBalance)
	assert.Equal(t, int64(20), p.Pool)

	p, err = f.book.PlaceBet(ctx, "seeded", "u1", odds.Yes, 20)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.Wager.OddsAtPlacement)

	st, err := f.book.Settle(ctx, "literal", odds.Yes)
	require.NoError(t, err)
	require.Len(t, st.Results, 1)
	assert.True(t, st.Results[0].Won)
	assert.Equal(t, int64(0), st.Results[0].Payout)
	assert.Equal(t, int64(60), f.coins(t, "u1"))
}

func TestOddsAtPlacementUsesPreBetPool(t *testing.T) {
	f := newFixture(t, map[string]int64{"a": 100, "b": 100, "c": 100})
	ctx := context.Background()
	f.create(t, "m", 0)

	_, err := f.book.PlaceBet(ctx, "m", "a", odds.Yes, 80)
	require.NoError(t, err)
	_, err = f.book.PlaceBet(ctx, "m", "b", odds.No, 20)
	require.NoError(t, err)

	o, err := f.book.Odds(ctx, "m")
	require.NoError(t, err)
	assert.InDelta(t, 1.235, o[odds.Yes], 0.001)
	assert.InDelta(t, 4.76, o[odds.No], 0.01)

	p, err := f.book.PlaceBet(ctx, "m", "c", odds.Yes, 10)
	require.NoError(t, err)
	assert.InDelta(t, 100.0/81.0, p.Wager.OddsAtPlacement, 1e-9)
	assert.Equal(t, int64(110), p.Pool)
	assert.InDelta(t, 110.0/91.0, p.Odds[odds.Yes], 1e-9)

	m, err := f.book.Get(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, m.Pool, m.Sides[odds.Yes].TotalStaked+m.Sides[odds.No].TotalStaked)
	assert.Equal(t, 2, m.Sides[odds.Yes].BetCount)
	assert.Len(t, m.Wagers, 3)

	st, err := f.book.Settle(ctx, "m", odds.Yes)
	require.NoError(t, err)
	assert.Equal(t, int64(110), st.Pool)
	// a: 80 * 0 = 0, c: floor(10 * 1.2345) = 12
	assert.Equal(t, int64(12), st.TotalPayout)
	assert.Equal(t, 2, st.Winners)
	assert.Equal(t, 1, st.Losers)
	assert.Equal(t, int64(20), f.coins(t, "a"))
	assert.Equal(t, int64(80), f.coins(t, "b"))
	assert.Equal(t, int64(102), f.coins(t, "c"))
}

func TestPayoutUsesExactOdds(t *testing.T) {
	f := newFixture(t, map[string]int64{"a": 100, "b": 100, "c": 100})
	ctx := context.Background()
	f.create(t, "m", 0)

	_, err := f.book.PlaceBet(ctx, "m", "a", odds.Yes, 80)
	require.NoError(t, err)
	_, err = f.book.PlaceBet(ctx, "m", "b", odds.No, 20)
	require.NoError(t, err)
	p, err := f.book.PlaceBet(ctx, "m", "c", odds.Yes, 81)
	require.NoError(t, err)
	assert.Equal(t, odds.Ratio{Num: 100, Den: 81}, p.Wager.OddsRatio)

	// 81 * 100/81 = 100 exatos; pelo float daria 99
	st, err := f.book.Settle(ctx, "m", odds.Yes)
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.TotalPayout)
	assert.Equal(t, int64(119), f.coins(t, "c"))
}

func TestSettleOpenMarketClosesInline(t *testing.T) {
	f := newFixture(t, map[string]int64{"u1": 100})
	ctx := context.Background()
	f.create(t, "m", 0)
	_, err := f.book.PlaceBet(ctx, "m", "u1", odds.No, 10)
	require.NoError(t, err)

	_, err = f.book.Settle(ctx, "m", odds.No)
	require.NoError(t, err)
	m, err := f.book.Get(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, StateSettled, m.State)
	require.NotNil(t, m.ClosedAt)
	require.NotNil(t, m.SettledAt)
	assert.Equal(t, *m.ClosedAt, *m.SettledAt)
}

func TestUnknownIdsDoNotLeaveSlots(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.create(t, "m", 0)
	for i := 0; i < 100; i++ {
		_, err := f.book.Get(ctx, fmt.Sprintf("ghost-%d", i))
		require.ErrorIs(t, err, errs.ErrUnknownMarket)
	}
	f.book.mu.Lock()
	n := len(f.book.markets)
	f.book.mu.Unlock()
	assert.Equal(t, 1, n)

	_, err := f.book.Get(ctx, "m")
	require.NoError(t, err)
}

func TestPlaceBetRejectionsLeaveStateUnchanged(t *testing.T) {
	f := newFixture(t, map[string]int64{"u1": 30})
	ctx := context.Background()
	f.create(t, "m", 0)

	_, err := f.book.PlaceBet(ctx, "m", "u1", odds.Yes, 0)
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
	_, err = f.book.PlaceBet(ctx, "m", "u1", odds.Yes, 101)
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
	_, err = f.book.PlaceBet(ctx, "m", "u1", odds.Blue, 10)
	assert.ErrorIs(t, err, errs.ErrInvalidSide)
	_, err = f.book.PlaceBet(ctx, "m", "u1", odds.Yes, 31)
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
	_, err = f.book.PlaceBet(ctx, "m", "ghost", odds.Yes, 10)
	assert.ErrorIs(t, err, errs.ErrUnknownAccount)
	_, err = f.book.PlaceBet(ctx, "nope", "u1", odds.Yes, 10)
	assert.ErrorIs(t, err, errs.ErrUnknownMarket)

	m, _ := f.book.Get(ctx, "m")
	assert.Equal(t, int64(0), m.Pool)
	assert.Empty(t, m.Wagers)
	assert.Equal(t, int64(30), f.coins(t, "u1"))
}

func TestSettleTwiceIsRejected(t *testing.T) {
	f := newFixture(t, map[string]int64{"a": 100, "b": 100})
	ctx := context.Background()
	f.create(t, "m", 0)
	_, err := f.book.PlaceBet(ctx, "m", "a", odds.Yes, 40)
	require.NoError(t, err)
	_, err = f.book.PlaceBet(ctx, "m", "b", odds.No, 10)
	require.NoError(t, err)

	_, err = f.book.Close(ctx, "m")
	require.NoError(t, err)
	st, err := f.book.Settle(ctx, "m", odds.No)
	require.NoError(t, err)
	// b apostou com pool (40, 0): (40+0)/(0+1) = 40
	assert.Equal(t, int64(400), st.TotalPayout)

	a, b := f.coins(t, "a"), f.coins(t, "b")
	_, err = f.book.Settle(ctx, "m", odds.No)
	assert.ErrorIs(t, err, errs.ErrAlreadySettled)
	_, err = f.book.Settle(ctx, "m", odds.Yes)
	assert.ErrorIs(t, err, errs.ErrAlreadySettled)
	assert.Equal(t, a, f.coins(t, "a"))
	assert.Equal(t, b, f.coins(t, "b"))

	_, err = f.book.PlaceBet(ctx, "m", "a", odds.Yes, 10)
	assert.ErrorIs(t, err, errs.ErrMarketClosed)
	_, err = f.book.Close(ctx, "m")
	assert.ErrorIs(t, err, errs.ErrAlreadySettled)

	m, _ := f.book.Get(ctx, "m")
	assert.Equal(t, StateSettled, m.State)
	assert.Equal(t, int64(50), m.Pool)
	for _, w := range m.Wagers {
		require.NotNil(t, w.Settled)
	}
}

func TestSettleRejectsForeignOutcome(t *testing.T) {
	f := newFixture(t, nil)
	f.create(t, "m", 0)
	_, err := f.book.Settle(context.Background(), "m", odds.Red)
	assert.ErrorIs(t, err, errs.ErrInvalidSide)
	m, _ := f.book.Get(context.Background(), "m")
	assert.Equal(t, StateOpen, m.State)
}

func TestAutoCloseAtEndTime(t *testing.T) {
	f := newFixture(t, map[string]int64{"u1": 100})
	ctx := context.Background()
	f.create(t, "m1", 0)
	f.create(t, "m2", 0)

	f.clock.Advance(time.Hour)
	_, err := f.book.PlaceBet(ctx, "m1", "u1", odds.Yes, 10)
	assert.ErrorIs(t, err, errs.ErrMarketClosed)
	assert.Equal(t, int64(100), f.coins(t, "u1"))

	m, _ := f.book.Get(ctx, "m1")
	assert.Equal(t, StateClosed, m.State)

	closed, err := f.book.CloseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, closed)

	_, err = f.book.Close(ctx, "m2")
	assert.ErrorIs(t, err, errs.ErrMarketClosed)
}

func TestConcurrentBetsAndSettle(t *testing.T) {
	accounts := make(map[string]int64)
	for i := 0; i < 40; i++ {
		accounts[fmt.Sprintf("u%d", i)] = 100
	}
	f := newFixture(t, accounts)
	ctx := context.Background()
	f.create(t, "m", 0)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted = map[string]int64{}
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			side := odds.Yes
			if i%2 == 1 {
				side = odds.No
			}
			id := fmt.Sprintf("u%d", i)
			p, err := f.book.PlaceBet(ctx, "m", id, side, 10)
			if err != nil {
				assert.ErrorIs(t, err, errs.ErrMarketClosed)
				return
			}
			mu.Lock()
			accepted[p.Wager.ID] = p.Wager.Amount
			mu.Unlock()
		}(i)
	}
	var st Settlement
	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		st, err = f.book.Settle(ctx, "m", odds.Yes)
		assert.NoError(t, err)
	}()
	wg.Wait()

	m, err := f.book.Get(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, StateSettled, m.State)
	assert.Len(t, m.Wagers, len(accepted))
	assert.Len(t, st.Results, len(accepted))

	var staked int64
	for _, w := range m.Wagers {
		amt, ok := accepted[w.ID]
		require.True(t, ok)
		staked += amt
	}
	assert.Equal(t, staked, m.Pool)
	assert.Equal(t, m.Pool, m.Sides[odds.Yes].TotalStaked+m.Sides[odds.No].TotalStaked)

	var total int64
	for id := range accounts {
		total += f.coins(t, id)
	}
	assert.Equal(t, int64(4000)-staked+st.TotalPayout, total)
}

func TestPlaceBetRefundsWhenSaveFails(t *testing.T) {
	f := newFixture(t, map[string]int64{"u1": 100})
	ctx := context.Background()
	f.create(t, "m", 0)

	f.store.setFail(true)
	_, err := f.book.PlaceBet(ctx, "m", "u1", odds.Yes, 25)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errs.ErrInsufficientFunds)
	assert.Equal(t, int64(100), f.coins(t, "u1"))

	m, _ := f.book.Get(ctx, "m")
	assert.Equal(t, int64(0), m.Pool)
	assert.Empty(t, m.Wagers)
}

func TestSettleRollsBackWhenSaveFails(t *testing.T) {
	f := newFixture(t, map[string]int64{"a": 100, "b": 100})
	ctx := context.Background()
	f.create(t, "m", 0)
	_, err := f.book.PlaceBet(ctx, "m", "a", odds.Yes, 50)
	require.NoError(t, err)
	_, err = f.book.PlaceBet(ctx, "m", "b", odds.No, 50)
	require.NoError(t, err)

	f.store.setFail(true)
	_, err = f.book.Settle(ctx, "m", odds.No)
	require.Error(t, err)
	assert.Equal(t, int64(50), f.coins(t, "b"))

	m, _ := f.book.Get(ctx, "m")
	assert.Equal(t, StateOpen, m.State)

	f.store.setFail(false)
	st, err := f.book.Settle(ctx, "m", odds.No)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), st.TotalPayout)
	assert.Equal(t, int64(2550), f.coins(t, "b"))
}

func TestHydrate(t *testing.T) {
	f := newFixture(t, map[string]int64{"u1": 100})
	ctx := context.Background()
	f.create(t, "m1", 0)
	f.create(t, "m2", 0)
	_, err := f.book.PlaceBet(ctx, "m1", "u1", odds.No, 15)
	require.NoError(t, err)

	fresh := NewBook(f.ledger, f.store, f.clock, nil)
	n, err := fresh.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = fresh.Get(ctx, "ghost")
	require.ErrorIs(t, err, errs.ErrUnknownMarket)

	list, err := fresh.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	m, _ := fresh.Get(ctx, "m1")
	assert.Equal(t, int64(15), m.Sides[odds.No].TotalStaked)
}

type denyGate struct{ calls int }

func (g *denyGate) Admit(_ context.Context, _ string, req eligibility.Challenge) error {
	g.calls++
	return fmt.Errorf("requires %s: %w", req.RequiredTier, errs.ErrTierTooLow)
}

func TestRequirementIsCheckedUnderLock(t *testing.T) {
	f := newFixture(t, map[string]int64{"u1": 100})
	ctx := context.Background()
	g := &denyGate{}
	f.book.SetGate(g)

	_, err := f.book.Create(ctx, Params{
		ID:          "gated",
		Kind:        odds.Duel,
		MinBet:      1,
		MaxBet:      50,
		EndTime:     t0.Add(time.Hour),
		Requirement: &eligibility.Challenge{RequiredTier: progression.Expert},
	})
	require.NoError(t, err)

	_, err = f.book.PlaceBet(ctx, "gated", "u1", odds.Blue, 10)
	assert.ErrorIs(t, err, errs.ErrTierTooLow)
	assert.Equal(t, 1, g.calls)
	assert.Equal(t, int64(100), f.coins(t, "u1"))

	f.create(t, "open", 0)
	_, err = f.book.PlaceBet(ctx, "open", "u1", odds.Yes, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, g.calls)
}
