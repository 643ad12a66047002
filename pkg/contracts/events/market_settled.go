package events

import "time"

// Evento emitido depois que um mercado é liquidado e os prêmios creditados.
type MarketSettled struct {
	MarketID    string    `json:"marketId"`
	Outcome     string    `json:"outcome"`
	Pool        int64     `json:"pool"`
	TotalPayout int64     `json:"totalPayout"`
	Winners     int       `json:"winners"`
	Losers      int       `json:"losers"`
	Ts          time.Time `json:"ts"`
}

// MarketResolution chega pelo tópico market_resolutions e dispara o settle.
type MarketResolution struct {
	MarketID   string    `json:"marketId"`
	Outcome    string    `json:"outcome"`
	Source     string    `json:"source,omitempty"` // ex.: "resolution-feeder"
	ResolvedAt time.Time `json:"resolvedAt"`
}
