package market

import (
	"time"

	"github.com/radieske/challenge-wager-engine/internal/conversion"
	"github.com/radieske/challenge-wager-engine/internal/eligibility"
	"github.com/radieske/challenge-wager-engine/internal/odds"
)

// State só anda para frente: open -> closed -> settled.
type State string

const (
	StateOpen    State = "open"
	StateClosed  State = "closed"
	StateSettled State = "settled"
)

// Params é o que o operador informa para abrir um mercado.
type Params struct {
	ID           string                 `json:"id"`
	Title        string                 `json:"title"`
	Kind         odds.Kind              `json:"kind"`
	Currency     conversion.Currency    `json:"currency"`
	MinBet       int64                  `json:"minBet"`
	MaxBet       int64                  `json:"maxBet"`
	EndTime      time.Time              `json:"endTime"`
	VirtualStake int64                  `json:"virtualStake"`
	Requirement  *eligibility.Challenge `json:"requirement,omitempty"`
}

// WagerResult é preenchido uma única vez, no settle.
type WagerResult struct {
	Won       bool      `json:"won"`
	Payout    int64     `json:"payout"`
	SettledAt time.Time `json:"settledAt"`
}

// Wager é imutável depois de criado, exceto por Settled.
type Wager struct {
	ID              string       `json:"id"`
	MarketID        string       `json:"marketId"`
	AccountID       string       `json:"accountId"`
	Side            odds.Side    `json:"side"`
	Amount          int64        `json:"amount"`
	OddsAtPlacement float64      `json:"oddsAtPlacement"`
	OddsRatio       odds.Ratio   `json:"oddsRatio"` // exata; é a que paga
	PlacedAt        time.Time    `json:"placedAt"`
	Settled         *WagerResult `json:"settled,omitempty"`
}

// Market é o snapshot persistido. Pool == soma dos lados sempre.
type Market struct {
	ID           string                  `json:"id"`
	Title        string                  `json:"title,omitempty"`
	Kind         odds.Kind               `json:"kind"`
	Currency     conversion.Currency     `json:"currency"`
	MinBet       int64                   `json:"minBet"`
	MaxBet       int64                   `json:"maxBet"`
	State        State                   `json:"state"`
	EndTime      time.Time               `json:"endTime"`
	VirtualStake int64                   `json:"virtualStake"`
	Sides        map[odds.Side]odds.Pool `json:"sides"`
	Pool         int64                   `json:"pool"`
	Wagers       []Wager                 `json:"wagers,omitempty"`
	Outcome      odds.Side               `json:"outcome,omitempty"`
	Requirement  *eligibility.Challenge  `json:"requirement,omitempty"`
	CreatedAt    time.Time               `json:"createdAt"`
	ClosedAt     *time.Time              `json:"closedAt,omitempty"`
	SettledAt    *time.Time              `json:"settledAt,omitempty"`
}

// Odds recalcula a projeção a partir dos totais dos lados.
func (m Market) Odds() (odds.Odds, error) {
	return odds.Compute(m.Kind, m.Sides, m.VirtualStake)
}

func (m Market) exactOdds() (map[odds.Side]odds.Ratio, error) {
	return odds.Exact(m.Kind, m.Sides, m.VirtualStake)
}

// payout paga pela razão exata; apostas antigas sem ela caem no float.
func (w Wager) payout() int64 {
	if w.OddsRatio.Den > 0 {
		return conversion.FloorRatio(w.Amount, w.OddsRatio.Num, w.OddsRatio.Den)
	}
	return conversion.FloorMul(w.Amount, w.OddsAtPlacement)
}

func (m Market) clone() Market {
	out := m
	out.Sides = make(map[odds.Side]odds.Pool, len(m.Sides))
	for k, v := range m.Sides {
		out.Sides[k] = v
	}
	if m.Wagers != nil {
		out.Wagers = make([]Wager, len(m.Wagers))
		for i, w := range m.Wagers {
			if w.Settled != nil {
				r := *w.Settled
				w.Settled = &r
			}
			out.Wagers[i] = w
		}
	}
	if m.Requirement != nil {
		r := *m.Requirement
		out.Requirement = &r
	}
	return out
}

// Placement é o resultado de uma aposta aceita.
type Placement struct {
	Wager      Wager     `json:"wager"`
	Odds       odds.Odds `json:"odds"` // odds depois da aposta
	Pool       int64     `json:"pool"`
	NewBalance int64     `json:"newBalance"`
}

// Result é a liquidação de uma aposta individual.
type Result struct {
	WagerID   string    `json:"wagerId"`
	AccountID string    `json:"accountId"`
	Side      odds.Side `json:"side"`
	Amount    int64     `json:"amount"`
	Won       bool      `json:"won"`
	Payout    int64     `json:"payout"`
}

// Settlement resume o settle de um mercado.
type Settlement struct {
	MarketID    string    `json:"marketId"`
	Outcome     odds.Side `json:"outcome"`
	Pool        int64     `json:"pool"`
	TotalPayout int64     `json:"totalPayout"`
	Winners     int       `json:"winners"`
	Losers      int       `json:"losers"`
	Results     []Result  `json:"results"`
}
