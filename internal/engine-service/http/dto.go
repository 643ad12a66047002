package httpapi

import (
	"time"

	"github.com/radieske/challenge-wager-engine/internal/conversion"
	"github.com/radieske/challenge-wager-engine/internal/eligibility"
	"github.com/radieske/challenge-wager-engine/internal/ledger"
	"github.com/radieske/challenge-wager-engine/internal/odds"
)

type OpenAccountRequest struct {
	ID            string          `json:"id"`
	Balances      ledger.Balances `json:"balances"`
	StartingClass string          `json:"startingClass"`
}

// AmountRequest serve credit e debit.
type AmountRequest struct {
	Currency conversion.Currency `json:"currency"`
	Amount   int64               `json:"amount"`
	Ref      string              `json:"ref"`
}

type BalanceResponse struct {
	AccountID string              `json:"accountId"`
	Currency  conversion.Currency `json:"currency"`
	Balance   int64               `json:"balance"`
}

type ConvertRequest struct {
	From   conversion.Currency `json:"from"`
	To     conversion.Currency `json:"to"`
	Amount int64               `json:"amount"`
}

type XPRequest struct {
	Amount int64 `json:"amount"`
}

type ClassRequest struct {
	ClassID string `json:"classId"`
}

type ClassResponse struct {
	CurrentClass string `json:"currentClass"`
	Cost         int64  `json:"cost"`
	Level        int    `json:"level"`
}

type EligibilityResponse struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

type CreateMarketRequest struct {
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

type PlaceBetRequest struct {
	AccountID string    `json:"accountId"`
	Side      odds.Side `json:"side"`
	Amount    int64     `json:"amount"`
}

type SettleRequest struct {
	Outcome odds.Side `json:"outcome"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
