package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/challenge-wager-engine/pkg/contracts/events"
)

// DefaultChannel é o canal Redis Pub/Sub das odds
const DefaultChannel = "odds_updates_broadcast"

// RedisBroadcaster publica as odds no Pub/Sub; todas as réplicas do serviço
// recebem e repassam aos seus clientes WS.
type RedisBroadcaster struct {
	R       *redis.Client
	Channel string
	Log     *zap.Logger
}

func NewRedisBroadcaster(r *redis.Client, channel string, log *zap.Logger) *RedisBroadcaster {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBroadcaster{R: r, Channel: channel, Log: log}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, upd events.OddsUpdate) error {
	payload, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	return b.R.Publish(ctx, b.Channel, payload).Err()
}

// OnOddsChanged adapta Publish para o hook do engine.
func (b *RedisBroadcaster) OnOddsChanged(upd events.OddsUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := b.Publish(ctx, upd); err != nil {
		b.Log.Warn("ws broadcast publish failed", zap.String("market_id", upd.MarketID), zap.Error(err))
	}
}

// StartRedisSubscriber confirma a inscrição no canal e inicia uma goroutine
// que repassa cada mensagem para o Hub até o contexto ser cancelado.
func StartRedisSubscriber(ctx context.Context, r *redis.Client, channel string, hub *Hub) error {
	if channel == "" {
		channel = DefaultChannel
	}
	sub := r.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var upd events.OddsUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
					hub.log.Warn("ws subscriber unmarshal error", zap.Error(err))
					continue
				}
				hub.Broadcast(upd)
			}
		}
	}()
	return nil
}
