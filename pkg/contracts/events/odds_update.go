package events

import "time"

// Evento publicado no tópico "odds_updates" e repassado ao WS via Redis Pub/Sub
type OddsUpdate struct {
	MarketID  string             `json:"market_id"`
	Kind      string             `json:"kind"` // "binary" | "duel"
	State     string             `json:"state"`
	Odds      map[string]float64 `json:"odds"`
	Staked    map[string]int64   `json:"staked"`
	Pool      int64              `json:"pool"`
	UpdatedAt time.Time          `json:"updated_at"`
	Version   int                `json:"version"` // número de apostas no mercado
}
