package ledger

import (
	"time"

	"github.com/radieske/challenge-wager-engine/internal/conversion"
)

type Currency = conversion.Currency

const (
	Coins   = conversion.Coins
	Tokens  = conversion.Tokens
	Credits = conversion.Credits
)

type EntryType string

const (
	EntryCredit      EntryType = "CREDIT"
	EntryDebit       EntryType = "DEBIT"
	EntryExchangeOut EntryType = "EXCHANGE_OUT"
	EntryExchangeIn  EntryType = "EXCHANGE_IN"
	EntryExpire      EntryType = "EXPIRE"
	EntryOpen        EntryType = "OPEN"
)

// Entry é uma linha do histórico da conta (equivalente ao wallet_ledger).
// Amount é assinado: negativo para saídas.
type Entry struct {
	ID           string    `json:"id"`
	Currency     Currency  `json:"currency"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balanceAfter"`
	Type         EntryType `json:"type"`
	Ref          string    `json:"ref,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Balances são os saldos de abertura de uma conta.
type Balances struct {
	Coins   int64 `json:"coins"`
	Tokens  int64 `json:"tokens"`
	Credits int64 `json:"credits"`
}

// Account é o snapshot persistido de um usuário. Nenhum saldo fica negativo.
type Account struct {
	ID             string `json:"id"`
	GoldCoins      int64  `json:"goldCoins"`
	PlatformTokens int64  `json:"platformTokens"`
	DailyCredits   int64  `json:"dailyCredits"`
	WinStreak      int64  `json:"winStreak"`

	// janela móvel dos créditos diários
	CreditWindowStart time.Time `json:"creditWindowStart"`
	CreditsGranted    int64     `json:"creditsGranted"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	History   []Entry   `json:"history,omitempty"`
}

// Balance devolve o saldo da moeda pedida.
func (a Account) Balance(c Currency) int64 {
	switch c {
	case Coins:
		return a.GoldCoins
	case Tokens:
		return a.PlatformTokens
	case Credits:
		return a.DailyCredits
	}
	return 0
}

func (a *Account) set(c Currency, v int64) {
	switch c {
	case Coins:
		a.GoldCoins = v
	case Tokens:
		a.PlatformTokens = v
	case Credits:
		a.DailyCredits = v
	}
}

func (a Account) clone() Account {
	out := a
	if a.History != nil {
		out.History = make([]Entry, len(a.History))
		copy(out.History, a.History)
	}
	return out
}
