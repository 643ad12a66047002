package market

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/radieske/challenge-wager-engine/internal/conversion"
	"github.com/radieske/challenge-wager-engine/internal/eligibility"
	"github.com/radieske/challenge-wager-engine/internal/odds"
	"github.com/radieske/challenge-wager-engine/internal/shared/errs"
	"github.com/radieske/challenge-wager-engine/internal/shared/statestore"
)

const indexKey = "markets:index"

func key(id string) string { return "market:" + id }

// Funds é o pedaço do ledger que o mercado movimenta.
type Funds interface {
	Debit(ctx context.Context, accountID string, c conversion.Currency, amount int64, ref string) (int64, error)
	Credit(ctx context.Context, accountID string, c conversion.Currency, amount int64, ref string) (int64, error)
}

// Gate revalida os requisitos de entrada com o lock do mercado já adquirido.
type Gate interface {
	Admit(ctx context.Context, accountID string, req eligibility.Challenge) error
}

// Book guarda os mercados, cada um com seu próprio lock.
// Ordem de locks: mercado antes da conta; o ledger nunca chama de volta.
type Book struct {
	funds Funds
	store statestore.Store
	clock clockwork.Clock
	log   *zap.Logger
	gate  Gate

	mu      sync.Mutex
	markets map[string]*slot
	index   []string
}

type slot struct {
	mu   sync.Mutex
	m    *Market
	gone bool
}

func NewBook(funds Funds, store statestore.Store, clock clockwork.Clock, log *zap.Logger) *Book {
	if store == nil {
		store = statestore.NewMemory()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Book{funds: funds, store: store, clock: clock, log: log, markets: make(map[string]*slot)}
}

// SetGate liga a checagem de elegibilidade dentro do PlaceBet.
func (b *Book) SetGate(g Gate) { b.gate = g }

// lockSlot trava o slot do mercado. Com s.mu travado pode-se pegar b.mu
// (release, índice); o contrário nunca.
func (b *Book) lockSlot(id string) *slot {
	for {
		b.mu.Lock()
		s, ok := b.markets[id]
		if !ok {
			s = &slot{}
			b.markets[id] = s
		}
		b.mu.Unlock()
		s.mu.Lock()
		if !s.gone {
			return s
		}
		s.mu.Unlock()
	}
}

// release destrava o slot; slot sem mercado sai do mapa.
func (b *Book) release(id string, s *slot) {
	if s.m == nil {
		b.mu.Lock()
		if b.markets[id] == s {
			delete(b.markets, id)
		}
		b.mu.Unlock()
		s.gone = true
	}
	s.mu.Unlock()
}

func (b *Book) acquire(ctx context.Context, id string) (*slot, error) {
	s := b.lockSlot(id)
	if s.m != nil {
		return s, nil
	}
	var m Market
	found, err := b.store.Load(ctx, key(id), &m)
	if err != nil {
		b.release(id, s)
		return nil, fmt.Errorf("load market %s: %w", id, err)
	}
	if !found {
		b.release(id, s)
		return nil, fmt.Errorf("market %s: %w", id, errs.ErrUnknownMarket)
	}
	s.m = &m
	return s, nil
}

// ids vem do índice: slots criados por consultas a ids desconhecidos ficam de fora.
func (b *Book) ids() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.index...)
}

func validate(params Params, now time.Time) error {
	if _, err := params.Kind.Sides(); err != nil {
		return err
	}
	if !params.Currency.Valid() || params.Currency == conversion.Credits {
		return fmt.Errorf("market currency %q: %w", params.Currency, errs.ErrInvalidAmount)
	}
	if params.MinBet <= 0 || params.MaxBet < params.MinBet {
		return fmt.Errorf("bet bounds [%d, %d]: %w", params.MinBet, params.MaxBet, errs.ErrInvalidAmount)
	}
	if params.VirtualStake < 0 {
		return fmt.Errorf("virtual stake %d: %w", params.VirtualStake, errs.ErrInvalidAmount)
	}
	if !params.EndTime.After(now) {
		return fmt.Errorf("end time %s: %w", params.EndTime.Format(time.RFC3339), errs.ErrMarketClosed)
	}
	return nil
}

// Create abre um mercado novo e registra o id no índice persistido.
func (b *Book) Create(ctx context.Context, params Params) (Market, error) {
	if params.ID == "" {
		params.ID = uuid.NewString()
	}
	if params.Currency == "" {
		params.Currency = conversion.Coins
	}
	now := b.clock.Now()
	if err := validate(params, now); err != nil {
		return Market{}, fmt.Errorf("create market %s: %w", params.ID, err)
	}
	sides, _ := params.Kind.Sides()

	s := b.lockSlot(params.ID)
	defer b.release(params.ID, s)
	if s.m != nil {
		return Market{}, fmt.Errorf("create market %s: %w", params.ID, errs.ErrMarketExists)
	}
	var existing Market
	found, err := b.store.Load(ctx, key(params.ID), &existing)
	if err != nil {
		return Market{}, fmt.Errorf("load market %s: %w", params.ID, err)
	}
	if found {
		s.m = &existing
		return Market{}, fmt.Errorf("create market %s: %w", params.ID, errs.ErrMarketExists)
	}

	m := Market{
		ID:           params.ID,
		Title:        params.Title,
		Kind:         params.Kind,
		Currency:     params.Currency,
		MinBet:       params.MinBet,
		MaxBet:       params.MaxBet,
		State:        StateOpen,
		EndTime:      params.EndTime.UTC(),
		VirtualStake: params.VirtualStake,
		Sides:        map[odds.Side]odds.Pool{sides[0]: {}, sides[1]: {}},
		Requirement:  params.Requirement,
		CreatedAt:    now,
	}
	m = m.clone()
	if err := b.store.Save(ctx, key(m.ID), m); err != nil {
		return Market{}, fmt.Errorf("save market %s: %w", m.ID, err)
	}

	b.mu.Lock()
	index := append(append([]string(nil), b.index...), m.ID)
	sort.Strings(index)
	err = b.store.Save(ctx, indexKey, index)
	if err == nil {
		b.index = index
	}
	b.mu.Unlock()
	if err != nil {
		if derr := b.store.Delete(ctx, key(m.ID)); derr != nil {
			b.log.Error("market rollback failed", zap.String("market_id", m.ID), zap.Error(derr))
		}
		return Market{}, fmt.Errorf("save market index: %w", err)
	}

	stored := m.clone()
	s.m = &stored
	b.log.Info("market created",
		zap.String("market_id", m.ID),
		zap.String("kind", string(m.Kind)),
		zap.Time("end_time", m.EndTime))
	return m, nil
}

// Hydrate carrega do store todos os mercados listados no índice.
func (b *Book) Hydrate(ctx context.Context) (int, error) {
	var index []string
	if _, err := b.store.Load(ctx, indexKey, &index); err != nil {
		return 0, fmt.Errorf("load market index: %w", err)
	}
	b.mu.Lock()
	b.index = append([]string(nil), index...)
	b.mu.Unlock()

	n := 0
	for _, id := range index {
		s, err := b.acquire(ctx, id)
		if err != nil {
			return n, err
		}
		s.mu.Unlock()
		n++
	}
	return n, nil
}

// Get devolve uma cópia do mercado.
func (b *Book) Get(ctx context.Context, id string) (Market, error) {
	s, err := b.acquire(ctx, id)
	if err != nil {
		return Market{}, err
	}
	defer s.mu.Unlock()
	return s.m.clone(), nil
}

// List devolve os mercados em memória ordenados por criação.
func (b *Book) List(ctx context.Context) ([]Market, error) {
	var out []Market
	for _, id := range b.ids() {
		m, err := b.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Odds é a projeção atual dos lados.
func (b *Book) Odds(ctx context.Context, id string) (odds.Odds, error) {
	m, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.Odds()
}

// PlaceBet debita o apostador e registra o wager com as odds pré-aposta.
// Roda inteiro sob o lock do mercado: ou a aposta entra antes de um
// close/settle ou é recusada com MarketClosed.
func (b *Book) PlaceBet(ctx context.Context, marketID, accountID string, side odds.Side, amount int64) (Placement, error) {
	if accountID == "" {
		return Placement{}, fmt.Errorf("place bet: %w", errs.ErrUnknownAccount)
	}
	s, err := b.acquire(ctx, marketID)
	if err != nil {
		return Placement{}, err
	}
	defer s.mu.Unlock()

	now := b.clock.Now()
	cur := s.m
	if cur.State == StateOpen && !now.Before(cur.EndTime) {
		if err := b.closeLocked(ctx, s, now); err != nil {
			return Placement{}, err
		}
	}
	if cur.State != StateOpen {
		return Placement{}, fmt.Errorf("place bet on %s (%s): %w", marketID, cur.State, errs.ErrMarketClosed)
	}
	if !cur.Kind.Has(side) {
		return Placement{}, fmt.Errorf("place bet on %s: side %q: %w", marketID, side, errs.ErrInvalidSide)
	}
	if amount < cur.MinBet || amount > cur.MaxBet {
		return Placement{}, fmt.Errorf("place bet on %s: amount %d outside [%d, %d]: %w",
			marketID, amount, cur.MinBet, cur.MaxBet, errs.ErrInvalidAmount)
	}
	if cur.Requirement != nil && b.gate != nil {
		if err := b.gate.Admit(ctx, accountID, *cur.Requirement); err != nil {
			return Placement{}, fmt.Errorf("place bet on %s: %w", marketID, err)
		}
	}

	pre, err := cur.exactOdds()
	if err != nil {
		return Placement{}, err
	}
	w := Wager{
		ID:              uuid.NewString(),
		MarketID:        marketID,
		AccountID:       accountID,
		Side:            side,
		Amount:          amount,
		OddsAtPlacement: pre[side].Float(),
		OddsRatio:       pre[side],
		PlacedAt:        now,
	}
	ref := "wager:" + w.ID

	bal, err := b.funds.Debit(ctx, accountID, cur.Currency, amount, ref)
	if err != nil {
		return Placement{}, fmt.Errorf("place bet on %s: %w", marketID, err)
	}

	next := cur.clone()
	p := next.Sides[side]
	p.TotalStaked += amount
	p.BetCount++
	next.Sides[side] = p
	next.Pool += amount
	next.Wagers = append(next.Wagers, w)

	if err := b.store.Save(ctx, key(marketID), next); err != nil {
		if _, rerr := b.funds.Credit(ctx, accountID, cur.Currency, amount, "refund:"+ref); rerr != nil {
			b.log.Error("wager refund failed",
				zap.String("market_id", marketID),
				zap.String("account_id", accountID),
				zap.Int64("amount", amount),
				zap.Error(rerr))
		}
		return Placement{}, fmt.Errorf("save market %s: %w", marketID, err)
	}
	*s.m = next

	post, _ := next.Odds()
	return Placement{Wager: w, Odds: post, Pool: next.Pool, NewBalance: bal}, nil
}

func (b *Book) closeLocked(ctx context.Context, s *slot, now time.Time) error {
	next := s.m.clone()
	next.State = StateClosed
	next.ClosedAt = &now
	if err := b.store.Save(ctx, key(next.ID), next); err != nil {
		return fmt.Errorf("save market %s: %w", next.ID, err)
	}
	*s.m = next
	b.log.Info("market closed", zap.String("market_id", next.ID), zap.Int64("pool", next.Pool))
	return nil
}

// Close fecha o mercado por decisão do operador.
func (b *Book) Close(ctx context.Context, id string) (Market, error) {
	s, err := b.acquire(ctx, id)
	if err != nil {
		return Market{}, err
	}
	defer s.mu.Unlock()
	switch s.m.State {
	case StateSettled:
		return Market{}, fmt.Errorf("close market %s: %w", id, errs.ErrAlreadySettled)
	case StateClosed:
		return Market{}, fmt.Errorf("close market %s: %w", id, errs.ErrMarketClosed)
	}
	if err := b.closeLocked(ctx, s, b.clock.Now()); err != nil {
		return Market{}, err
	}
	return s.m.clone(), nil
}

// CloseExpired fecha os mercados abertos cujo endTime já passou.
func (b *Book) CloseExpired(ctx context.Context) ([]string, error) {
	var closed []string
	for _, id := range b.ids() {
		s := b.lockSlot(id)
		now := b.clock.Now()
		if s.m == nil || s.m.State != StateOpen || now.Before(s.m.EndTime) {
			b.release(id, s)
			continue
		}
		err := b.closeLocked(ctx, s, now)
		b.release(id, s)
		if err != nil {
			return closed, err
		}
		closed = append(closed, id)
	}
	return closed, nil
}

// Settle liquida o mercado com o lado vencedor.
//
// Pré-condição relaxada: além de closed, aceita um mercado ainda open e o
// fecha no mesmo passo, sob o mesmo lock (nenhuma aposta entra entre o close
// e o settle). settled recusa com ErrAlreadySettled. Se algum crédito ou o
// save falhar, os pagamentos já feitos são estornados e o mercado fica como
// estava.
func (b *Book) Settle(ctx context.Context, id string, outcome odds.Side) (Settlement, error) {
	s, err := b.acquire(ctx, id)
	if err != nil {
		return Settlement{}, err
	}
	defer s.mu.Unlock()

	cur := s.m
	if cur.State == StateSettled {
		return Settlement{}, fmt.Errorf("settle market %s: %w", id, errs.ErrAlreadySettled)
	}
	if !cur.Kind.Has(outcome) {
		return Settlement{}, fmt.Errorf("settle market %s: outcome %q: %w", id, outcome, errs.ErrInvalidSide)
	}

	now := b.clock.Now()
	next := cur.clone()
	if next.State == StateOpen {
		next.ClosedAt = &now
	}
	next.State = StateSettled
	next.Outcome = outcome
	next.SettledAt = &now

	st := Settlement{MarketID: id, Outcome: outcome, Pool: next.Pool, Results: make([]Result, 0, len(next.Wagers))}
	for i := range next.Wagers {
		w := &next.Wagers[i]
		won := w.Side == outcome
		var payout int64
		if won {
			payout = w.payout()
		}
		w.Settled = &WagerResult{Won: won, Payout: payout, SettledAt: now}
		if won {
			st.Winners++
		} else {
			st.Losers++
		}
		st.TotalPayout += payout
		st.Results = append(st.Results, Result{
			WagerID: w.ID, AccountID: w.AccountID, Side: w.Side, Amount: w.Amount, Won: won, Payout: payout,
		})
	}

	var paid []Result
	rollback := func() {
		for _, r := range paid {
			if _, err := b.funds.Debit(ctx, r.AccountID, next.Currency, r.Payout, "reversal:payout:"+r.WagerID); err != nil {
				b.log.Error("payout reversal failed",
					zap.String("market_id", id),
					zap.String("wager_id", r.WagerID),
					zap.Error(err))
			}
		}
	}
	for _, r := range st.Results {
		if r.Payout <= 0 {
			continue
		}
		if _, err := b.funds.Credit(ctx, r.AccountID, next.Currency, r.Payout, "payout:"+r.WagerID); err != nil {
			rollback()
			return Settlement{}, fmt.Errorf("settle market %s: pay %s: %w", id, r.WagerID, err)
		}
		paid = append(paid, r)
	}

	if err := b.store.Save(ctx, key(id), next); err != nil {
		rollback()
		return Settlement{}, fmt.Errorf("save market %s: %w", id, err)
	}
	*s.m = next

	b.log.Info("market settled",
		zap.String("market_id", id),
		zap.String("outcome", string(outcome)),
		zap.Int64("pool", st.Pool),
		zap.Int64("total_payout", st.TotalPayout),
		zap.Int("wagers", len(st.Results)))
	return st, nil
}
