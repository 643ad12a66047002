package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/challenge-wager-engine/internal/market"
	"github.com/radieske/challenge-wager-engine/internal/odds"
	"github.com/radieske/challenge-wager-engine/internal/shared/errs"
	"github.com/radieske/challenge-wager-engine/pkg/contracts/events"
)

type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Settler interface {
	Settle(ctx context.Context, marketID string, outcome odds.Side) (market.Settlement, error)
}

// Processor consome resoluções de mercado do Kafka e liquida no engine.
// Mensagens inválidas ou recusadas vão para a DLQ; falhas de infraestrutura
// são repetidas algumas vezes antes.
type Processor struct {
	Log    *zap.Logger
	Reader Reader
	Engine Settler
	DLQ    Writer // opcional

	Retries int
	Backoff time.Duration

	OnConsumed func()       // métricas (counter++)
	OnSettled  func()       // métricas
	OnError    func(string) // métricas por fase
}

func (p *Processor) fail(stage string) {
	if p.OnError != nil {
		p.OnError(stage)
	}
}

// Run inicia o loop principal de consumo
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err() // encerra se o contexto for cancelado
			}
			p.Log.Warn("kafka read failed", zap.Error(err))
			p.fail("read")
			if !wait(ctx, p.Backoff) {
				return ctx.Err()
			}
			continue
		}

		if p.OnConsumed != nil {
			p.OnConsumed()
		}
		p.Handle(ctx, m)
	}
}

// Handle processa uma mensagem; nunca devolve erro para não travar a partição.
func (p *Processor) Handle(ctx context.Context, m kafka.Message) {
	var res events.MarketResolution
	if err := json.Unmarshal(m.Value, &res); err != nil || res.MarketID == "" {
		p.Log.Warn("invalid resolution message", zap.ByteString("key", m.Key), zap.Error(err))
		p.fail("decode")
		p.deadLetter(ctx, m)
		return
	}

	var err error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if attempt > 0 && !wait(ctx, time.Duration(attempt)*p.Backoff) {
			err = ctx.Err()
			break
		}
		_, err = p.Engine.Settle(ctx, res.MarketID, odds.Side(res.Outcome))
		if err == nil || errs.Kind(err) != errs.KindInternal {
			break
		}
	}

	switch {
	case err == nil:
		p.Log.Info("market resolved",
			zap.String("market_id", res.MarketID),
			zap.String("outcome", res.Outcome),
			zap.String("source", res.Source))
		if p.OnSettled != nil {
			p.OnSettled()
		}
	case ctx.Err() != nil:
		// desligando: sem DLQ, a mensagem volta na próxima leitura do grupo
		p.Log.Warn("resolution interrupted", zap.String("market_id", res.MarketID), zap.Error(err))
	case errors.Is(err, errs.ErrAlreadySettled):
		// reentrega: o settle já aconteceu
		p.Log.Info("resolution already applied", zap.String("market_id", res.MarketID))
	default:
		p.Log.Error("resolution rejected",
			zap.String("market_id", res.MarketID),
			zap.String("kind", errs.Kind(err)),
			zap.Error(err))
		p.fail("settle")
		p.deadLetter(ctx, m)
	}
}

// wait espera d ou o cancelamento de ctx; false quando cancelado.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (p *Processor) deadLetter(ctx context.Context, m kafka.Message) {
	if p.DLQ == nil {
		return
	}
	if err := p.DLQ.WriteMessages(ctx, kafka.Message{Key: m.Key, Value: m.Value, Time: time.Now()}); err != nil {
		p.Log.Error("dlq write failed", zap.Error(err))
		p.fail("dlq")
	}
}
