package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/challenge-wager-engine/pkg/contracts/events"
)

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// subscribe só retorna depois do pong: o hub processa as mensagens em ordem.
func subscribe(t *testing.T, c *websocket.Conn, marketID string) {
	t.Helper()
	require.NoError(t, c.WriteJSON(ClientMsg{Type: "subscribe", MarketID: marketID}))
	require.NoError(t, c.WriteJSON(ClientMsg{Type: "ping"}))
	var pong map[string]string
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, c.ReadJSON(&pong))
	require.Equal(t, "pong", pong["type"])
}

func TestHubBroadcastToSubscribers(t *testing.T) {
	hub := NewHub(func(*http.Request) bool { return true }, nil)
	c := dial(t, hub)
	subscribe(t, c, "m1")
	assert.Equal(t, 1, hub.Subscribers("m1"))

	hub.Broadcast(events.OddsUpdate{MarketID: "other", Pool: 1})
	hub.Broadcast(events.OddsUpdate{MarketID: "m1", Pool: 110, Odds: map[string]float64{"yes": 1.2}})

	var got events.OddsUpdate
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, c.ReadJSON(&got))
	assert.Equal(t, "m1", got.MarketID)
	assert.Equal(t, int64(110), got.Pool)
}

func TestRedisFanOut(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	hub := NewHub(func(*http.Request) bool { return true }, nil)
	c := dial(t, hub)
	subscribe(t, c, "m7")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, StartRedisSubscriber(ctx, rdb, "", hub))

	b := NewRedisBroadcaster(rdb, "", nil)
	b.OnOddsChanged(events.OddsUpdate{MarketID: "m7", State: "closed"})

	var got events.OddsUpdate
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, c.ReadJSON(&got))
	assert.Equal(t, "closed", got.State)
}
