package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/radieske/challenge-wager-engine/internal/conversion"
	"github.com/radieske/challenge-wager-engine/internal/shared/errs"
	"github.com/radieske/challenge-wager-engine/internal/shared/statestore"
)

type Config struct {
	DailyCreditCap int64         // 0 desliga o limite
	CreditWindow   time.Duration // janela móvel dos créditos
	HistoryLimit   int           // linhas de histórico mantidas no snapshot
}

var DefaultConfig = Config{
	DailyCreditCap: 50,
	CreditWindow:   24 * time.Hour,
	HistoryLimit:   100,
}

// Ledger guarda os saldos por conta. Cada conta é um recurso com mutex próprio:
// operações em contas diferentes rodam em paralelo, na mesma conta serializam.
// O Ledger nunca chama markets nem progression, então quem segura o lock de
// market/progression pode pegar o lock da conta sem risco de deadlock.
type Ledger struct {
	cfg   Config
	store statestore.Store
	rules *conversion.Rules
	clock clockwork.Clock
	log   *zap.Logger

	mu       sync.Mutex
	accounts map[string]*slot
}

type slot struct {
	mu   sync.Mutex
	acct *Account
	gone bool // saiu do mapa; quem estava esperando pega outro
}

func New(cfg Config, store statestore.Store, rules *conversion.Rules, clock clockwork.Clock, log *zap.Logger) *Ledger {
	if store == nil {
		store = statestore.NewMemory()
	}
	if rules == nil {
		rules = conversion.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CreditWindow <= 0 {
		cfg.CreditWindow = DefaultConfig.CreditWindow
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig.HistoryLimit
	}
	return &Ledger{
		cfg:      cfg,
		store:    store,
		rules:    rules,
		clock:    clock,
		log:      log,
		accounts: make(map[string]*slot),
	}
}

func key(id string) string { return "account:" + id }

// lockSlot devolve o slot da conta já travado. O chamador libera com release.
func (l *Ledger) lockSlot(id string) *slot {
	for {
		l.mu.Lock()
		s, ok := l.accounts[id]
		if !ok {
			s = &slot{}
			l.accounts[id] = s
		}
		l.mu.Unlock()
		s.mu.Lock()
		if !s.gone {
			return s
		}
		s.mu.Unlock()
	}
}

// release destrava o slot. Slot sem conta sai do mapa, senão ids
// desconhecidos vindos da API ficariam acumulando.
func (l *Ledger) release(id string, s *slot) {
	if s.acct == nil {
		l.mu.Lock()
		if l.accounts[id] == s {
			delete(l.accounts, id)
		}
		l.mu.Unlock()
		s.gone = true
	}
	s.mu.Unlock()
}

// acquire trava a conta e hidrata do store se ainda não estiver em memória.
func (l *Ledger) acquire(ctx context.Context, id string) (*slot, error) {
	s := l.lockSlot(id)
	if s.acct != nil {
		return s, nil
	}
	var a Account
	found, err := l.store.Load(ctx, key(id), &a)
	if err != nil {
		l.release(id, s)
		return nil, fmt.Errorf("load account %s: %w", id, err)
	}
	if !found {
		l.release(id, s)
		return nil, fmt.Errorf("account %s: %w", id, errs.ErrUnknownAccount)
	}
	s.acct = &a
	return s, nil
}

// Open cria a conta com os saldos de abertura.
func (l *Ledger) Open(ctx context.Context, id string, opening Balances) (Account, error) {
	if id == "" {
		return Account{}, fmt.Errorf("open account: empty id: %w", errs.ErrUnknownAccount)
	}
	if opening.Coins < 0 || opening.Tokens < 0 || opening.Credits < 0 {
		return Account{}, fmt.Errorf("open account %s: %w", id, errs.ErrInvalidAmount)
	}
	if l.cfg.DailyCreditCap > 0 && opening.Credits > l.cfg.DailyCreditCap {
		return Account{}, fmt.Errorf("open account %s: %w", id, errs.ErrDailyCapExceeded)
	}

	s := l.lockSlot(id)
	defer l.release(id, s)

	if s.acct != nil {
		return Account{}, fmt.Errorf("open account %s: %w", id, errs.ErrAccountExists)
	}
	var existing Account
	found, err := l.store.Load(ctx, key(id), &existing)
	if err != nil {
		return Account{}, fmt.Errorf("load account %s: %w", id, err)
	}
	if found {
		s.acct = &existing
		return Account{}, fmt.Errorf("open account %s: %w", id, errs.ErrAccountExists)
	}

	now := l.clock.Now()
	a := Account{
		ID:             id,
		GoldCoins:      opening.Coins,
		PlatformTokens: opening.Tokens,
		DailyCredits:   opening.Credits,
		CreditsGranted: opening.Credits,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if opening.Credits > 0 {
		a.CreditWindowStart = now
	}
	for _, c := range []Currency{Coins, Tokens, Credits} {
		if v := a.Balance(c); v > 0 {
			l.appendEntry(&a, c, v, EntryOpen, "open", now)
		}
	}
	if err := l.store.Save(ctx, key(id), a); err != nil {
		return Account{}, fmt.Errorf("save account %s: %w", id, err)
	}
	s.acct = &a
	l.log.Debug("account opened", zap.String("account_id", id),
		zap.Int64("coins", a.GoldCoins), zap.Int64("tokens", a.PlatformTokens), zap.Int64("credits", a.DailyCredits))
	return a.clone(), nil
}

// mutate aplica fn em uma cópia da conta e só publica a cópia se o save der certo.
// Qualquer erro deixa o estado intacto.
func (l *Ledger) mutate(ctx context.Context, id string, fn func(a *Account, now time.Time) error) (Account, error) {
	s, err := l.acquire(ctx, id)
	if err != nil {
		return Account{}, err
	}
	defer s.mu.Unlock()

	now := l.clock.Now()
	next := s.acct.clone()
	l.expire(&next, now)
	if err := fn(&next, now); err != nil {
		return Account{}, err
	}
	next.Version++
	next.UpdatedAt = now
	if err := l.store.Save(ctx, key(id), next); err != nil {
		return Account{}, fmt.Errorf("save account %s: %w", id, err)
	}
	*s.acct = next
	return next.clone(), nil
}

func validAmount(c Currency, amount int64) error {
	if !c.Valid() {
		return fmt.Errorf("unknown currency %q: %w", c, errs.ErrInvalidAmount)
	}
	if amount <= 0 {
		return fmt.Errorf("amount %d: %w", amount, errs.ErrInvalidAmount)
	}
	return nil
}

// Credit soma amount ao saldo e devolve o novo saldo.
func (l *Ledger) Credit(ctx context.Context, id string, c Currency, amount int64, ref string) (int64, error) {
	if err := validAmount(c, amount); err != nil {
		return 0, fmt.Errorf("credit %s: %w", id, err)
	}
	a, err := l.mutate(ctx, id, func(a *Account, now time.Time) error {
		return l.credit(a, c, amount, EntryCredit, ref, now)
	})
	if err != nil {
		return 0, err
	}
	return a.Balance(c), nil
}

// Debit subtrai amount; falha com ErrInsufficientFunds se amount > saldo.
func (l *Ledger) Debit(ctx context.Context, id string, c Currency, amount int64, ref string) (int64, error) {
	if err := validAmount(c, amount); err != nil {
		return 0, fmt.Errorf("debit %s: %w", id, err)
	}
	a, err := l.mutate(ctx, id, func(a *Account, now time.Time) error {
		return l.debit(a, c, amount, EntryDebit, ref, now)
	})
	if err != nil {
		return 0, err
	}
	return a.Balance(c), nil
}

// Exchange converte amount de from para to usando as ConversionRules, sob um único lock.
func (l *Ledger) Exchange(ctx context.Context, id string, from, to Currency, amount int64) (Account, error) {
	if err := validAmount(from, amount); err != nil {
		return Account{}, fmt.Errorf("exchange %s: %w", id, err)
	}
	converted, err := l.rules.Convert(amount, from, to)
	if err != nil {
		return Account{}, fmt.Errorf("exchange %s: %w", id, err)
	}
	if converted == 0 {
		return Account{}, fmt.Errorf("exchange %s: %d %s converts to nothing: %w", id, amount, from, errs.ErrInvalidAmount)
	}
	ref := fmt.Sprintf("exchange:%s->%s", from, to)
	return l.mutate(ctx, id, func(a *Account, now time.Time) error {
		if err := l.debit(a, from, amount, EntryExchangeOut, ref, now); err != nil {
			return err
		}
		return l.credit(a, to, converted, EntryExchangeIn, ref, now)
	})
}

// RecordOutcome atualiza a sequência de vitórias: +1 em vitória, zera em derrota.
func (l *Ledger) RecordOutcome(ctx context.Context, id string, won bool) (int64, error) {
	a, err := l.mutate(ctx, id, func(a *Account, _ time.Time) error {
		if won {
			a.WinStreak++
		} else {
			a.WinStreak = 0
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return a.WinStreak, nil
}

// Balance é leitura pura; créditos vencidos aparecem como zero.
func (l *Ledger) Balance(ctx context.Context, id string, c Currency) (int64, error) {
	a, err := l.Snapshot(ctx, id)
	if err != nil {
		return 0, err
	}
	return a.Balance(c), nil
}

// Snapshot devolve uma cópia da conta com a expiração de créditos aplicada.
func (l *Ledger) Snapshot(ctx context.Context, id string) (Account, error) {
	s, err := l.acquire(ctx, id)
	if err != nil {
		return Account{}, err
	}
	defer s.mu.Unlock()
	a := s.acct.clone()
	l.expire(&a, l.clock.Now())
	return a, nil
}

// ExpireCredits varre as contas em memória e zera os créditos com janela vencida.
func (l *Ledger) ExpireCredits(ctx context.Context) (int, error) {
	l.mu.Lock()
	ids := make([]string, 0, len(l.accounts))
	for id, s := range l.accounts {
		if s != nil {
			ids = append(ids, id)
		}
	}
	l.mu.Unlock()

	expired := 0
	for _, id := range ids {
		s := l.lockSlot(id)
		if s.acct == nil || !l.windowLapsed(*s.acct, l.clock.Now()) {
			l.release(id, s)
			continue
		}
		l.release(id, s)
		if _, err := l.mutate(ctx, id, func(*Account, time.Time) error { return nil }); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (l *Ledger) windowLapsed(a Account, now time.Time) bool {
	return !a.CreditWindowStart.IsZero() && now.Sub(a.CreditWindowStart) >= l.cfg.CreditWindow
}

func (l *Ledger) expire(a *Account, now time.Time) {
	if !l.windowLapsed(*a, now) {
		return
	}
	lost := a.DailyCredits
	a.DailyCredits = 0
	if lost > 0 {
		l.appendEntry(a, Credits, -lost, EntryExpire, "credit-window", now)
	}
	a.CreditsGranted = 0
	a.CreditWindowStart = time.Time{}
}

func (l *Ledger) credit(a *Account, c Currency, amount int64, t EntryType, ref string, now time.Time) error {
	bal := a.Balance(c)
	if bal > math.MaxInt64-amount {
		return fmt.Errorf("credit %s %d %s: overflow: %w", a.ID, amount, c, errs.ErrInvalidAmount)
	}
	if c == Credits {
		if l.cfg.DailyCreditCap > 0 && a.CreditsGranted+amount > l.cfg.DailyCreditCap {
			return fmt.Errorf("credit %s %d credits (granted %d of %d): %w",
				a.ID, amount, a.CreditsGranted, l.cfg.DailyCreditCap, errs.ErrDailyCapExceeded)
		}
		if a.CreditWindowStart.IsZero() {
			a.CreditWindowStart = now
		}
		a.CreditsGranted += amount
	}
	a.set(c, bal+amount)
	l.appendEntry(a, c, amount, t, ref, now)
	return nil
}

func (l *Ledger) debit(a *Account, c Currency, amount int64, t EntryType, ref string, now time.Time) error {
	bal := a.Balance(c)
	if amount > bal {
		return fmt.Errorf("debit %s %d %s (balance %d): %w", a.ID, amount, c, bal, errs.ErrInsufficientFunds)
	}
	a.set(c, bal-amount)
	l.appendEntry(a, c, -amount, t, ref, now)
	return nil
}

func (l *Ledger) appendEntry(a *Account, c Currency, amount int64, t EntryType, ref string, now time.Time) {
	a.History = append(a.History, Entry{
		ID:           uuid.NewString(),
		Currency:     c,
		Amount:       amount,
		BalanceAfter: a.Balance(c),
		Type:         t,
		Ref:          ref,
		CreatedAt:    now,
	})
	if n := len(a.History) - l.cfg.HistoryLimit; n > 0 {
		a.History = append([]Entry(nil), a.History[n:]...)
	}
}
