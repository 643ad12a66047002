package progression

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/radieske/challenge-wager-engine/internal/conversion"
	"github.com/radieske/challenge-wager-engine/internal/shared/errs"
	"github.com/radieske/challenge-wager-engine/internal/shared/statestore"
)

// State é o ProgressionState de um usuário. CurrentTier nunca é setado
// diretamente: sai do XP via tabela de thresholds.
type State struct {
	AccountID       string     `json:"accountId"`
	Level           int        `json:"level"`
	TotalXP         int64      `json:"totalXP"`
	CurrentTierXP   int64      `json:"currentTierXP"`
	CurrentTier     Tier       `json:"currentTier"`
	CurrentClass    string     `json:"currentClass"`
	UnlockedClasses []string   `json:"unlockedClasses"`
	ClassChanges    int        `json:"classChanges"`
	PreviousClass   string     `json:"previousClass,omitempty"`
	LastLevelUpAt   *time.Time `json:"lastLevelUpAt,omitempty"`
	LastTierUpAt    *time.Time `json:"lastTierUpAt,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Unlocked diz se a classe está liberada para o usuário.
func (s State) Unlocked(classID string) bool {
	for _, c := range s.UnlockedClasses {
		if c == classID {
			return true
		}
	}
	return false
}

func (s State) clone() State {
	out := s
	out.UnlockedClasses = append([]string(nil), s.UnlockedClasses...)
	return out
}

// Advance descreve o efeito de um AddXP.
type Advance struct {
	State        State    `json:"state"`
	From         Tier     `json:"from"` // tier antes do XP, lido sob o lock
	LevelsGained int      `json:"levelsGained"`
	TiersGained  []Tier   `json:"tiersGained,omitempty"`
	Unlocked     []string `json:"unlocked,omitempty"`
}

type Config struct {
	Thresholds          map[Tier]int64
	Classes             []Class
	ClassChangeBaseCost int64
	ClassChangeCurrency conversion.Currency
}

var DefaultConfig = Config{
	Thresholds:          DefaultThresholds,
	Classes:             DefaultClasses,
	ClassChangeBaseCost: 100,
	ClassChangeCurrency: conversion.Coins,
}

// Funds é o pedaço do ledger usado na troca de classe.
type Funds interface {
	Debit(ctx context.Context, accountID string, c conversion.Currency, amount int64, ref string) (int64, error)
	Credit(ctx context.Context, accountID string, c conversion.Currency, amount int64, ref string) (int64, error)
}

// Engine guarda o estado de progressão por usuário, com lock por usuário.
// Ordem de locks: progressão antes da conta no ledger.
type Engine struct {
	cfg   Config
	funds Funds
	store statestore.Store
	clock clockwork.Clock
	log   *zap.Logger

	mu     sync.Mutex
	states map[string]*slot
}

type slot struct {
	mu   sync.Mutex
	st   *State
	gone bool
}

func New(cfg Config, funds Funds, store statestore.Store, clock clockwork.Clock, log *zap.Logger) *Engine {
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds
	}
	if cfg.Classes == nil {
		cfg.Classes = DefaultClasses
	}
	if cfg.ClassChangeCurrency == "" {
		cfg.ClassChangeCurrency = conversion.Coins
	}
	if store == nil {
		store = statestore.NewMemory()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, funds: funds, store: store, clock: clock, log: log, states: make(map[string]*slot)}
}

func key(id string) string { return "progression:" + id }

func (e *Engine) class(id string) (Class, bool) {
	for _, c := range e.cfg.Classes {
		if c.ID == id {
			return c, true
		}
	}
	return Class{}, false
}

// Classes devolve o catálogo configurado.
func (e *Engine) Classes() []Class { return append([]Class(nil), e.cfg.Classes...) }

// CostFor é o custo de troca de classe: base * max(1, level).
func (e *Engine) CostFor(level int) int64 {
	if level < 1 {
		level = 1
	}
	return e.cfg.ClassChangeBaseCost * int64(level)
}

func (e *Engine) lockSlot(id string) *slot {
	for {
		e.mu.Lock()
		s, ok := e.states[id]
		if !ok {
			s = &slot{}
			e.states[id] = s
		}
		e.mu.Unlock()
		s.mu.Lock()
		if !s.gone {
			return s
		}
		s.mu.Unlock()
	}
}

// release destrava o slot; slot sem estado sai do mapa.
func (e *Engine) release(id string, s *slot) {
	if s.st == nil {
		e.mu.Lock()
		if e.states[id] == s {
			delete(e.states, id)
		}
		e.mu.Unlock()
		s.gone = true
	}
	s.mu.Unlock()
}

func (e *Engine) acquire(ctx context.Context, id string) (*slot, error) {
	s := e.lockSlot(id)
	if s.st != nil {
		return s, nil
	}
	var st State
	found, err := e.store.Load(ctx, key(id), &st)
	if err != nil {
		e.release(id, s)
		return nil, fmt.Errorf("load progression %s: %w", id, err)
	}
	if !found {
		e.release(id, s)
		return nil, fmt.Errorf("progression %s: %w", id, errs.ErrUnknownAccount)
	}
	s.st = &st
	return s, nil
}

// Open cria o estado com os defaults: nível 1, apprentice, classe inicial liberada.
// startingClass vazio escolhe a primeira classe de apprentice do catálogo.
func (e *Engine) Open(ctx context.Context, accountID, startingClass string) (State, error) {
	if startingClass == "" {
		for _, c := range e.cfg.Classes {
			if c.MinTier == Apprentice {
				startingClass = c.ID
				break
			}
		}
	}
	c, ok := e.class(startingClass)
	if !ok {
		return State{}, fmt.Errorf("open progression %s: class %q: %w", accountID, startingClass, errs.ErrUnknownClass)
	}
	if c.MinTier != Apprentice {
		return State{}, fmt.Errorf("open progression %s: class %q: %w", accountID, startingClass, errs.ErrClassLocked)
	}

	s := e.lockSlot(accountID)
	defer e.release(accountID, s)
	if s.st != nil {
		return State{}, fmt.Errorf("open progression %s: %w", accountID, errs.ErrAccountExists)
	}
	var existing State
	found, err := e.store.Load(ctx, key(accountID), &existing)
	if err != nil {
		return State{}, fmt.Errorf("load progression %s: %w", accountID, err)
	}
	if found {
		s.st = &existing
		return State{}, fmt.Errorf("open progression %s: %w", accountID, errs.ErrAccountExists)
	}

	st := State{
		AccountID:    accountID,
		Level:        1,
		CurrentTier:  Apprentice,
		CurrentClass: startingClass,
		UpdatedAt:    e.clock.Now(),
	}
	st.UnlockedClasses = e.unlockedAt(Apprentice, []string{startingClass})
	if err := e.store.Save(ctx, key(accountID), st); err != nil {
		return State{}, fmt.Errorf("save progression %s: %w", accountID, err)
	}
	s.st = &st
	return st.clone(), nil
}

// Discard desfaz um Open cujo restante da abertura de conta falhou.
func (e *Engine) Discard(ctx context.Context, accountID string) error {
	s := e.lockSlot(accountID)
	defer e.release(accountID, s)
	if err := e.store.Delete(ctx, key(accountID)); err != nil {
		return fmt.Errorf("delete progression %s: %w", accountID, err)
	}
	s.st = nil
	return nil
}

// Get devolve uma cópia do estado.
func (e *Engine) Get(ctx context.Context, accountID string) (State, error) {
	s, err := e.acquire(ctx, accountID)
	if err != nil {
		return State{}, err
	}
	defer s.mu.Unlock()
	return s.st.clone(), nil
}

// AddXP soma XP, recalcula nível e avança tiers carregando o excedente.
func (e *Engine) AddXP(ctx context.Context, accountID string, amount int64) (Advance, error) {
	if amount <= 0 || amount > MaxXPGrant {
		return Advance{}, fmt.Errorf("add xp %s: %d: %w", accountID, amount, errs.ErrInvalidAmount)
	}
	s, err := e.acquire(ctx, accountID)
	if err != nil {
		return Advance{}, err
	}
	defer s.mu.Unlock()

	if s.st.TotalXP > MaxTotalXP-amount {
		return Advance{}, fmt.Errorf("add xp %s: total %d + %d passes %d: %w",
			accountID, s.st.TotalXP, amount, MaxTotalXP, errs.ErrInvalidAmount)
	}

	now := e.clock.Now()
	next := s.st.clone()
	next.TotalXP += amount
	next.CurrentTierXP += amount

	adv := Advance{From: next.CurrentTier}
	if lvl := LevelFor(next.TotalXP); lvl > next.Level {
		adv.LevelsGained = lvl - next.Level
		next.Level = lvl
		next.LastLevelUpAt = &now
	}
	for {
		need, ok := e.cfg.Thresholds[next.CurrentTier]
		if !ok || need <= 0 || next.CurrentTierXP < need {
			break
		}
		tier, ok := next.CurrentTier.next()
		if !ok {
			break
		}
		next.CurrentTierXP -= need
		next.CurrentTier = tier
		next.LastTierUpAt = &now
		adv.TiersGained = append(adv.TiersGained, tier)
	}
	if len(adv.TiersGained) > 0 {
		before := next.UnlockedClasses
		next.UnlockedClasses = e.unlockedAt(next.CurrentTier, before)
		adv.Unlocked = diff(next.UnlockedClasses, before)
	}
	next.UpdatedAt = now

	if err := e.store.Save(ctx, key(accountID), next); err != nil {
		return Advance{}, fmt.Errorf("save progression %s: %w", accountID, err)
	}
	*s.st = next
	adv.State = next.clone()

	if len(adv.TiersGained) > 0 {
		e.log.Info("tier advanced",
			zap.String("account_id", accountID),
			zap.String("tier", string(next.CurrentTier)),
			zap.Int64("total_xp", next.TotalXP))
	}
	return adv, nil
}

// ChangeClass troca a profissão cobrando CostFor(level) na moeda configurada.
func (e *Engine) ChangeClass(ctx context.Context, accountID, classID string) (State, int64, error) {
	if _, ok := e.class(classID); !ok {
		return State{}, 0, fmt.Errorf("change class %s: %q: %w", accountID, classID, errs.ErrUnknownClass)
	}
	s, err := e.acquire(ctx, accountID)
	if err != nil {
		return State{}, 0, err
	}
	defer s.mu.Unlock()

	cur := s.st
	if cur.CurrentClass == classID {
		return State{}, 0, fmt.Errorf("change class %s: %q: %w", accountID, classID, errs.ErrAlreadyThisClass)
	}
	if !cur.Unlocked(classID) {
		return State{}, 0, fmt.Errorf("change class %s: %q: %w", accountID, classID, errs.ErrClassLocked)
	}

	cost := e.CostFor(cur.Level)
	ref := "class-change:" + classID
	if cost > 0 {
		if _, err := e.funds.Debit(ctx, accountID, e.cfg.ClassChangeCurrency, cost, ref); err != nil {
			return State{}, 0, fmt.Errorf("change class %s: %w", accountID, err)
		}
	}

	next := cur.clone()
	next.PreviousClass = cur.CurrentClass
	next.CurrentClass = classID
	next.ClassChanges++
	next.UpdatedAt = e.clock.Now()
	if err := e.store.Save(ctx, key(accountID), next); err != nil {
		if cost > 0 {
			if _, rerr := e.funds.Credit(ctx, accountID, e.cfg.ClassChangeCurrency, cost, "refund:"+ref); rerr != nil {
				e.log.Error("class change refund failed", zap.String("account_id", accountID), zap.Error(rerr))
			}
		}
		return State{}, 0, fmt.Errorf("save progression %s: %w", accountID, err)
	}
	*s.st = next
	return next.clone(), cost, nil
}

// unlockedAt une as classes já liberadas com todas as de MinTier <= tier.
func (e *Engine) unlockedAt(tier Tier, have []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, id := range have {
		set[id] = struct{}{}
	}
	for _, c := range e.cfg.Classes {
		if c.MinTier.Rank() <= tier.Rank() {
			set[c.ID] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func diff(after, before []string) []string {
	seen := make(map[string]struct{}, len(before))
	for _, id := range before {
		seen[id] = struct{}{}
	}
	var out []string
	for _, id := range after {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
