package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/challenge-wager-engine/internal/shared/config"
	"github.com/radieske/challenge-wager-engine/internal/shared/kafka"
	"github.com/radieske/challenge-wager-engine/internal/shared/logger"
	"github.com/radieske/challenge-wager-engine/pkg/contracts/events"
)

// resolution-feeder publica a resolução de um mercado no tópico consumido pelo engine-service.
//
//	resolution-feeder -market m1 -outcome yes
func main() {
	marketID := flag.String("market", "", "id do mercado")
	outcome := flag.String("outcome", "", "lado vencedor (yes|no|blue|red)")
	source := flag.String("source", "resolution-feeder", "origem da resolução")
	flag.Parse()

	if *marketID == "" || *outcome == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Errorf("config: %w", err))
	}
	log, err := logger.New("resolution-feeder", cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	w := kafka.NewWriter(cfg.Brokers(), cfg.TopicMarketResolutions)
	defer w.Close()

	res := events.MarketResolution{
		MarketID:   *marketID,
		Outcome:    *outcome,
		Source:     *source,
		ResolvedAt: time.Now().UTC(),
	}
	b, _ := json.Marshal(res)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := kafka.WriteJSON(ctx, w, res.MarketID, b); err != nil {
		log.Fatal("publish resolution", zap.Error(err))
	}
	log.Info("resolution published",
		zap.String("topic", cfg.TopicMarketResolutions),
		zap.String("market_id", res.MarketID),
		zap.String("outcome", res.Outcome))
}
