package conversion

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/radieske/challenge-wager-engine/internal/shared/errs"
)

// Currency identifica um tipo de saldo da conta.
type Currency string

const (
	Coins   Currency = "coins"   // gold coins, conversíveis
	Tokens  Currency = "tokens"  // platform tokens, nunca expiram
	Credits Currency = "credits" // créditos diários, expiram na janela
)

// Valid diz se a moeda é conhecida pelo engine.
func (c Currency) Valid() bool {
	switch c {
	case Coins, Tokens, Credits:
		return true
	}
	return false
}

// ExchangeRate é configuração estática: 1 unidade de From vale Rate unidades de To.
type ExchangeRate struct {
	From Currency        `json:"from"`
	To   Currency        `json:"to"`
	Rate decimal.Decimal `json:"rate"`
}

// DefaultRates: 10 coins -> 0.8 tokens; 100 tokens -> 10 credits.
var DefaultRates = []ExchangeRate{
	{From: Coins, To: Tokens, Rate: decimal.RequireFromString("0.08")},
	{From: Tokens, To: Credits, Rate: decimal.RequireFromString("0.1")},
}

type pair struct{ from, to Currency }

// Rules resolve conversões entre moedas. Imutável depois de criado.
type Rules struct {
	rates map[pair]decimal.Decimal
}

// NewRules monta a tabela; taxas não positivas são recusadas.
func NewRules(rates []ExchangeRate) (*Rules, error) {
	r := &Rules{rates: make(map[pair]decimal.Decimal, len(rates))}
	for _, x := range rates {
		if !x.From.Valid() || !x.To.Valid() || x.From == x.To {
			return nil, fmt.Errorf("exchange rate %s->%s: invalid pair", x.From, x.To)
		}
		if !x.Rate.IsPositive() {
			return nil, fmt.Errorf("exchange rate %s->%s: rate must be positive", x.From, x.To)
		}
		r.rates[pair{x.From, x.To}] = x.Rate
	}
	return r, nil
}

// Default retorna as regras com DefaultRates.
func Default() *Rules {
	r, err := NewRules(DefaultRates)
	if err != nil {
		panic(err)
	}
	return r
}

// Convert aplica a taxa e trunca em direção a zero. O resto fracionário é descartado.
func (r *Rules) Convert(amount int64, from, to Currency) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("convert %d %s: %w", amount, from, errs.ErrInvalidAmount)
	}
	rate, ok := r.rates[pair{from, to}]
	if !ok {
		return 0, fmt.Errorf("convert %s->%s: %w", from, to, errs.ErrNoConversionPath)
	}
	return decimal.NewFromInt(amount).Mul(rate).Truncate(0).IntPart(), nil
}

// Rate expõe a taxa configurada (para a UI exibir cotação).
func (r *Rules) Rate(from, to Currency) (decimal.Decimal, error) {
	rate, ok := r.rates[pair{from, to}]
	if !ok {
		return decimal.Zero, fmt.Errorf("rate %s->%s: %w", from, to, errs.ErrNoConversionPath)
	}
	return rate, nil
}

// FloorRatio calcula floor(amount * num / den) sem passar por float.
// É o pagamento de uma aposta vencedora; den <= 0 paga zero.
func FloorRatio(amount, num, den int64) int64 {
	if amount <= 0 || num <= 0 || den <= 0 {
		return 0
	}
	q, _ := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(num)).QuoRem(decimal.NewFromInt(den), 0)
	return q.IntPart()
}

// FloorMul calcula floor(amount * multiplier) com um multiplicador em float.
// Só serve a apostas gravadas sem a razão exata.
func FloorMul(amount int64, multiplier float64) int64 {
	if amount <= 0 || multiplier <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(decimal.NewFromFloat(multiplier)).Floor().IntPart()
}
