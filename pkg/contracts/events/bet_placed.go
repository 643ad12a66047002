package events

// WagerPlaced é publicado a cada aposta aceita em um mercado.
type WagerPlaced struct {
	WagerID         string  `json:"wager_id"`
	MarketID        string  `json:"market_id"`
	AccountID       string  `json:"account_id"`
	Side            string  `json:"side"`
	Amount          int64   `json:"amount"`
	Currency        string  `json:"currency"`
	OddsAtPlacement float64 `json:"odds_at_placement"`
	Pool            int64   `json:"pool"` // pool depois da aposta
	TsUnixMs        int64   `json:"ts_unix_ms"`
}
