// Package engine é o EngineState: junta ledger, mercados, progressão e
// elegibilidade atrás de uma única fachada, com relógio, logger, métricas e
// publicação de eventos injetados.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/radieske/challenge-wager-engine/internal/conversion"
	"github.com/radieske/challenge-wager-engine/internal/eligibility"
	"github.com/radieske/challenge-wager-engine/internal/ledger"
	"github.com/radieske/challenge-wager-engine/internal/market"
	"github.com/radieske/challenge-wager-engine/internal/odds"
	"github.com/radieske/challenge-wager-engine/internal/progression"
	"github.com/radieske/challenge-wager-engine/internal/shared/errs"
	"github.com/radieske/challenge-wager-engine/internal/shared/statestore"
	"github.com/radieske/challenge-wager-engine/pkg/contracts/events"
	"github.com/radieske/challenge-wager-engine/pkg/contracts/topics"
)

// Publisher recebe os eventos de domínio depois do commit (Kafka no serviço).
type Publisher interface {
	Publish(ctx context.Context, topic, key string, v any) error
}

type Topics struct {
	WagerPlaced   string
	MarketSettled string
	OddsUpdates   string
	Progression   string
}

var DefaultTopics = Topics{
	WagerPlaced:   topics.WagerPlaced,
	MarketSettled: topics.MarketSettled,
	OddsUpdates:   topics.OddsUpdates,
	Progression:   topics.ProgressionEvents,
}

type Config struct {
	Ledger       ledger.Config
	Progression  progression.Config
	VirtualStake int64 // aplicado a mercados criados sem VirtualStake próprio
	XPPerBet     int64
	XPPerWin     int64
	Topics       Topics
}

var DefaultConfig = Config{
	Ledger:      ledger.DefaultConfig,
	Progression: progression.DefaultConfig,
	XPPerBet:    10,
	XPPerWin:    25,
	Topics:      DefaultTopics,
}

// Deps são os colaboradores externos; qualquer um pode ser nil.
type Deps struct {
	Store     statestore.Store
	Rules     *conversion.Rules
	Clock     clockwork.Clock
	Log       *zap.Logger
	Metrics   *Metrics
	Publisher Publisher
}

type Engine struct {
	cfg Config

	Ledger      *ledger.Ledger
	Markets     *market.Book
	Progression *progression.Engine

	store   statestore.Store
	clock   clockwork.Clock
	log     *zap.Logger
	metrics *Metrics
	pub     Publisher

	// OnOddsChanged é chamado depois de qualquer mudança de pool ou estado de mercado.
	OnOddsChanged func(events.OddsUpdate)
}

// Profile é a visão consolidada de um usuário.
type Profile struct {
	Account     ledger.Account    `json:"account"`
	Progression progression.State `json:"progression"`
}

func New(cfg Config, d Deps) *Engine {
	if d.Store == nil {
		d.Store = statestore.NewMemory()
	}
	if d.Rules == nil {
		d.Rules = conversion.Default()
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
	if cfg.Topics == (Topics{}) {
		cfg.Topics = DefaultTopics
	}

	l := ledger.New(cfg.Ledger, d.Store, d.Rules, d.Clock, d.Log.Named("ledger"))
	e := &Engine{
		cfg:         cfg,
		Ledger:      l,
		Markets:     market.NewBook(l, d.Store, d.Clock, d.Log.Named("market")),
		Progression: progression.New(cfg.Progression, l, d.Store, d.Clock, d.Log.Named("progression")),
		store:       d.Store,
		clock:       d.Clock,
		log:         d.Log,
		metrics:     d.Metrics,
		pub:         d.Publisher,
	}
	e.Markets.SetGate(e)
	return e
}

// observe conta a operação e loga rejeições com o tipo do erro.
func (e *Engine) observe(op string, err error) {
	if err == nil {
		e.metrics.Ops.WithLabelValues(op, "ok").Inc()
		return
	}
	kind := errs.Kind(err)
	e.metrics.Ops.WithLabelValues(op, kind).Inc()
	if kind == errs.KindInternal {
		e.log.Error("operation failed", zap.String("op", op), zap.Error(err))
		return
	}
	e.log.Debug("operation rejected", zap.String("op", op), zap.String("kind", kind), zap.Error(err))
}

func (e *Engine) emit(ctx context.Context, topic, key string, v any) {
	if e.pub == nil || topic == "" {
		return
	}
	if err := e.pub.Publish(ctx, topic, key, v); err != nil {
		e.log.Warn("event publish failed", zap.String("topic", topic), zap.String("key", key), zap.Error(err))
	}
}

func (e *Engine) oddsChanged(ctx context.Context, m market.Market) {
	o, err := m.Odds()
	if err != nil {
		return
	}
	upd := events.OddsUpdate{
		MarketID:  m.ID,
		Kind:      string(m.Kind),
		State:     string(m.State),
		Odds:      make(map[string]float64, len(o)),
		Staked:    make(map[string]int64, len(m.Sides)),
		Pool:      m.Pool,
		UpdatedAt: e.clock.Now(),
		Version:   len(m.Wagers),
	}
	for s, v := range o {
		upd.Odds[string(s)] = v
	}
	for s, p := range m.Sides {
		upd.Staked[string(s)] = p.TotalStaked
	}
	e.emit(ctx, e.cfg.Topics.OddsUpdates, m.ID, upd)
	if e.OnOddsChanged != nil {
		e.OnOddsChanged(upd)
	}
}

// ---------- contas ----------

// OpenAccount cria conta e progressão do usuário.
func (e *Engine) OpenAccount(ctx context.Context, id string, opening ledger.Balances, startingClass string) (p Profile, err error) {
	defer func() { e.observe("open_account", err) }()
	if id == "" {
		return Profile{}, fmt.Errorf("open account: empty id: %w", errs.ErrUnknownAccount)
	}
	if opening.Coins < 0 || opening.Tokens < 0 || opening.Credits < 0 {
		return Profile{}, fmt.Errorf("open account %s: %w", id, errs.ErrInvalidAmount)
	}
	// recusas do ledger validadas antes de criar a progressão
	if c := e.cfg.Ledger.DailyCreditCap; c > 0 && opening.Credits > c {
		return Profile{}, fmt.Errorf("open account %s: %w", id, errs.ErrDailyCapExceeded)
	}
	prog, err := e.Progression.Open(ctx, id, startingClass)
	if err != nil {
		return Profile{}, err
	}
	acct, err := e.Ledger.Open(ctx, id, opening)
	if err != nil {
		// sem conta no ledger a progressão recém-criada não pode ficar
		if derr := e.Progression.Discard(ctx, id); derr != nil {
			e.log.Error("progression rollback failed", zap.String("account_id", id), zap.Error(derr))
		}
		return Profile{}, err
	}
	e.log.Info("account opened", zap.String("account_id", id), zap.String("class", prog.CurrentClass))
	return Profile{Account: acct, Progression: prog}, nil
}

// Profile devolve conta e progressão.
func (e *Engine) Profile(ctx context.Context, id string) (Profile, error) {
	acct, err := e.Ledger.Snapshot(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	prog, err := e.Progression.Get(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Account: acct, Progression: prog}, nil
}

func (e *Engine) Balance(ctx context.Context, id string, c conversion.Currency) (int64, error) {
	return e.Ledger.Balance(ctx, id, c)
}

func (e *Engine) Credit(ctx context.Context, id string, c conversion.Currency, amount int64, ref string) (bal int64, err error) {
	defer func() { e.observe("credit", err) }()
	return e.Ledger.Credit(ctx, id, c, amount, ref)
}

func (e *Engine) Debit(ctx context.Context, id string, c conversion.Currency, amount int64, ref string) (bal int64, err error) {
	defer func() { e.observe("debit", err) }()
	return e.Ledger.Debit(ctx, id, c, amount, ref)
}

// Convert troca amount de from para to pelas taxas configuradas.
func (e *Engine) Convert(ctx context.Context, id string, from, to conversion.Currency, amount int64) (a ledger.Account, err error) {
	defer func() { e.observe("convert", err) }()
	return e.Ledger.Exchange(ctx, id, from, to, amount)
}

// ExpireCredits zera os créditos diários com janela vencida.
func (e *Engine) ExpireCredits(ctx context.Context) (int, error) {
	n, err := e.Ledger.ExpireCredits(ctx)
	e.observe("expire_credits", err)
	if n > 0 {
		e.log.Info("daily credits expired", zap.Int("accounts", n))
	}
	return n, err
}

// ---------- elegibilidade ----------

// CheckEligibility avalia o desafio contra o estado atual do usuário.
func (e *Engine) CheckEligibility(ctx context.Context, accountID string, ch eligibility.Challenge) error {
	p, err := e.Profile(ctx, accountID)
	if err != nil {
		return err
	}
	return eligibility.Check(p.Account, p.Progression, ch)
}

// CanParticipate só falha para ids desconhecidos; requisitos não atendidos viram false.
func (e *Engine) CanParticipate(ctx context.Context, accountID string, ch eligibility.Challenge) (bool, error) {
	p, err := e.Profile(ctx, accountID)
	if err != nil {
		return false, err
	}
	return eligibility.CanParticipate(p.Account, p.Progression, ch), nil
}

// Admit é o Gate do Book: roda com o lock do mercado já adquirido.
// A recusa carrega ErrNotEligible junto do motivo (tier, classe ou saldo).
func (e *Engine) Admit(ctx context.Context, accountID string, req eligibility.Challenge) error {
	p, err := e.Profile(ctx, accountID)
	if err != nil {
		return err
	}
	if err := eligibility.Check(p.Account, p.Progression, req); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrNotEligible, err)
	}
	return nil
}

// ---------- mercados ----------

func (e *Engine) CreateMarket(ctx context.Context, params market.Params) (m market.Market, err error) {
	defer func() { e.observe("create_market", err) }()
	if params.VirtualStake == 0 {
		params.VirtualStake = e.cfg.VirtualStake
	}
	m, err = e.Markets.Create(ctx, params)
	if err != nil {
		return market.Market{}, err
	}
	e.metrics.OpenMarkets.Inc()
	e.oddsChanged(ctx, m)
	return m, nil
}

func (e *Engine) Market(ctx context.Context, id string) (market.Market, error) {
	return e.Markets.Get(ctx, id)
}

// ListMarkets devolve os mercados conhecidos, mais antigos primeiro.
func (e *Engine) ListMarkets(ctx context.Context) ([]market.Market, error) {
	return e.Markets.List(ctx)
}

func (e *Engine) Odds(ctx context.Context, id string) (odds.Odds, error) {
	return e.Markets.Odds(ctx, id)
}

// PlaceBet: elegibilidade -> mercado (debita e registra) -> XP -> eventos.
func (e *Engine) PlaceBet(ctx context.Context, marketID, accountID string, side odds.Side, amount int64) (p market.Placement, err error) {
	defer func() { e.observe("place_bet", err) }()

	m, err := e.Markets.Get(ctx, marketID)
	if err != nil {
		return market.Placement{}, err
	}
	if m.Requirement != nil {
		// checagem antecipada; o Book revalida com o lock
		if err := e.Admit(ctx, accountID, *m.Requirement); err != nil {
			return market.Placement{}, fmt.Errorf("place bet on %s: %w", marketID, err)
		}
	}

	p, err = e.Markets.PlaceBet(ctx, marketID, accountID, side, amount)
	if err != nil {
		if m.State == market.StateOpen && errors.Is(err, errs.ErrMarketClosed) {
			// a aposta encontrou o endTime vencido e o Book fechou o mercado
			_ = e.countOpen(ctx)
			if cur, gerr := e.Markets.Get(ctx, marketID); gerr == nil {
				e.oddsChanged(ctx, cur)
			}
		}
		return market.Placement{}, err
	}
	e.metrics.Wagered.WithLabelValues(string(m.Currency)).Add(float64(amount))

	if e.cfg.XPPerBet > 0 {
		e.award(ctx, accountID, e.cfg.XPPerBet)
	}
	e.emit(ctx, e.cfg.Topics.WagerPlaced, p.Wager.ID, events.WagerPlaced{
		WagerID:         p.Wager.ID,
		MarketID:        marketID,
		AccountID:       accountID,
		Side:            string(side),
		Amount:          amount,
		Currency:        string(m.Currency),
		OddsAtPlacement: p.Wager.OddsAtPlacement,
		Pool:            p.Pool,
		TsUnixMs:        p.Wager.PlacedAt.UnixMilli(),
	})
	if cur, err := e.Markets.Get(ctx, marketID); err == nil {
		e.oddsChanged(ctx, cur)
	}
	return p, nil
}

func (e *Engine) CloseMarket(ctx context.Context, id string) (m market.Market, err error) {
	defer func() { e.observe("close_market", err) }()
	m, err = e.Markets.Close(ctx, id)
	if err != nil {
		return market.Market{}, err
	}
	e.metrics.OpenMarkets.Dec()
	e.oddsChanged(ctx, m)
	return m, nil
}

// CloseExpired fecha os mercados vencidos; chamado pelo scheduler.
func (e *Engine) CloseExpired(ctx context.Context) ([]string, error) {
	ids, err := e.Markets.CloseExpired(ctx)
	e.observe("close_expired", err)
	for _, id := range ids {
		e.metrics.OpenMarkets.Dec()
		if m, gerr := e.Markets.Get(ctx, id); gerr == nil {
			e.oddsChanged(ctx, m)
		}
	}
	return ids, err
}

// Settle liquida o mercado e depois atualiza streaks e XP dos apostadores.
func (e *Engine) Settle(ctx context.Context, id string, outcome odds.Side) (st market.Settlement, err error) {
	defer func() { e.observe("settle", err) }()

	before, err := e.Markets.Get(ctx, id)
	if err != nil {
		return market.Settlement{}, err
	}
	st, err = e.Markets.Settle(ctx, id, outcome)
	if err != nil {
		return market.Settlement{}, err
	}
	if before.State == market.StateOpen {
		e.metrics.OpenMarkets.Dec()
	}
	e.metrics.PaidOut.WithLabelValues(string(before.Currency)).Add(float64(st.TotalPayout))

	for _, r := range st.Results {
		if _, err := e.Ledger.RecordOutcome(ctx, r.AccountID, r.Won); err != nil {
			e.log.Warn("record outcome failed", zap.String("account_id", r.AccountID), zap.Error(err))
		}
		if r.Won && e.cfg.XPPerWin > 0 {
			e.award(ctx, r.AccountID, e.cfg.XPPerWin)
		}
	}

	e.emit(ctx, e.cfg.Topics.MarketSettled, id, events.MarketSettled{
		MarketID:    id,
		Outcome:     string(outcome),
		Pool:        st.Pool,
		TotalPayout: st.TotalPayout,
		Winners:     st.Winners,
		Losers:      st.Losers,
		Ts:          e.clock.Now(),
	})
	if m, gerr := e.Markets.Get(ctx, id); gerr == nil {
		e.oddsChanged(ctx, m)
	}
	return st, nil
}

// Hydrate recarrega os mercados persistidos (startup).
func (e *Engine) Hydrate(ctx context.Context) (int, error) {
	n, err := e.Markets.Hydrate(ctx)
	if err != nil {
		return n, err
	}
	if err := e.countOpen(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// countOpen recalcula o gauge de mercados abertos a partir do Book.
func (e *Engine) countOpen(ctx context.Context) error {
	ms, err := e.Markets.List(ctx)
	if err != nil {
		return err
	}
	open := 0
	for _, m := range ms {
		if m.State == market.StateOpen {
			open++
		}
	}
	e.metrics.OpenMarkets.Set(float64(open))
	return nil
}

// ---------- progressão ----------

// award soma XP de recompensa; falha aqui não desfaz a operação principal.
func (e *Engine) award(ctx context.Context, accountID string, xp int64) {
	if _, err := e.AddXP(ctx, accountID, xp); err != nil {
		e.log.Warn("xp award failed", zap.String("account_id", accountID), zap.Int64("xp", xp), zap.Error(err))
	}
}

func (e *Engine) AddXP(ctx context.Context, accountID string, amount int64) (adv progression.Advance, err error) {
	defer func() { e.observe("add_xp", err) }()

	adv, err = e.Progression.AddXP(ctx, accountID, amount)
	if err != nil {
		return progression.Advance{}, err
	}
	if len(adv.TiersGained) > 0 {
		for _, t := range adv.TiersGained {
			e.metrics.TierUps.WithLabelValues(string(t)).Inc()
		}
		e.emit(ctx, e.cfg.Topics.Progression, accountID, events.TierAdvanced{
			AccountID: accountID,
			From:      string(adv.From),
			To:        string(adv.State.CurrentTier),
			TotalXP:   adv.State.TotalXP,
			Unlocked:  adv.Unlocked,
			Ts:        e.clock.Now(),
		})
	}
	return adv, nil
}

func (e *Engine) ChangeClass(ctx context.Context, accountID, classID string) (st progression.State, cost int64, err error) {
	defer func() { e.observe("change_class", err) }()

	st, cost, err = e.Progression.ChangeClass(ctx, accountID, classID)
	if err != nil {
		return progression.State{}, 0, err
	}
	e.emit(ctx, e.cfg.Topics.Progression, accountID, events.ClassChanged{
		AccountID: accountID,
		From:      st.PreviousClass,
		To:        st.CurrentClass,
		Cost:      cost,
		Ts:        e.clock.Now(),
	})
	return st, cost, nil
}

// Now expõe o relógio do engine (handlers e scheduler usam o mesmo).
func (e *Engine) Now() time.Time { return e.clock.Now() }
