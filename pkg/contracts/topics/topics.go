package topics

const (
	// Odds
	OddsUpdates = "odds_updates"

	// Mercados
	WagerPlaced       = "wager_placed"
	MarketSettled     = "market_settled"
	MarketResolutions = "market_resolutions"

	// Progressão
	ProgressionEvents = "progression_events"

	// DLQs
	MarketResolutionsDLQ = "market_resolutions_dlq"
)
