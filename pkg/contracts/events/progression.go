package events

import "time"

type TierAdvanced struct {
	AccountID string    `json:"accountId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	TotalXP   int64     `json:"totalXP"`
	Unlocked  []string  `json:"unlocked,omitempty"`
	Ts        time.Time `json:"ts"`
}

type ClassChanged struct {
	AccountID string    `json:"accountId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Cost      int64     `json:"cost"`
	Ts        time.Time `json:"ts"`
}
