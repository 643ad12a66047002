package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/challenge-wager-engine/internal/engine"
	"github.com/radieske/challenge-wager-engine/internal/engine-service/consumer"
	httpapi "github.com/radieske/challenge-wager-engine/internal/engine-service/http"
	"github.com/radieske/challenge-wager-engine/internal/engine-service/scheduler"
	"github.com/radieske/challenge-wager-engine/internal/engine-service/ws"
	"github.com/radieske/challenge-wager-engine/internal/shared/cache"
	"github.com/radieske/challenge-wager-engine/internal/shared/config"
	"github.com/radieske/challenge-wager-engine/internal/shared/db"
	"github.com/radieske/challenge-wager-engine/internal/shared/kafka"
	"github.com/radieske/challenge-wager-engine/internal/shared/logger"
	"github.com/radieske/challenge-wager-engine/internal/shared/metrics"
	"github.com/radieske/challenge-wager-engine/internal/shared/statestore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Errorf("config: %w", err))
	}

	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	log.Info("starting service", zap.String("state_backend", cfg.StateBackend))

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	checks := map[string]metrics.HealthFunc{}

	// Redis: Pub/Sub das odds e, se escolhido, state store
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = cache.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal("failed to connect redis", zap.Error(err))
		}
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		log.Info("redis connected")
	}

	var store statestore.Store
	switch cfg.StateBackend {
	case "redis":
		if rdb == nil {
			log.Fatal("STATE_BACKEND=redis requires REDIS_ADDR")
		}
		store = statestore.NewRedis(rdb, "engine:")
	case "postgres":
		var pg *sql.DB
		pg, err = db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()
		ps := statestore.NewPostgres(pg)
		if err := ps.Migrate(ctx); err != nil {
			log.Fatal("migrate engine_state", zap.Error(err))
		}
		checks["postgres"] = pg.PingContext
		store = ps
		log.Info("postgres connected")
	default:
		store = statestore.NewMemory()
	}

	// Kafka: um writer sem tópico fixo para todos os eventos
	writer := kafka.NewWriter(cfg.Brokers(), "")
	defer writer.Close()

	ecfg := engine.DefaultConfig
	ecfg.Ledger.DailyCreditCap = cfg.DailyCreditCap
	ecfg.Ledger.CreditWindow = cfg.CreditWindow
	ecfg.Progression.ClassChangeBaseCost = cfg.ClassChangeBaseCost
	ecfg.VirtualStake = cfg.VirtualStake
	ecfg.XPPerBet = cfg.XPPerBet
	ecfg.XPPerWin = cfg.XPPerWin
	ecfg.Topics = engine.Topics{
		WagerPlaced:   cfg.TopicWagerPlaced,
		MarketSettled: cfg.TopicMarketSettled,
		OddsUpdates:   cfg.TopicOddsUpdates,
		Progression:   cfg.TopicProgression,
	}

	eng := engine.New(ecfg, engine.Deps{
		Store:     store,
		Log:       log,
		Metrics:   engine.NewMetrics(prometheus.DefaultRegisterer),
		Publisher: kafka.NewPublisher(writer),
	})
	n, err := eng.Hydrate(ctx)
	if err != nil {
		log.Fatal("hydrate markets", zap.Error(err))
	}
	log.Info("markets hydrated", zap.Int("count", n))

	// WS: com Redis as odds passam pelo Pub/Sub (fan-out entre réplicas); sem Redis vão direto ao hub
	hub := ws.NewHub(func(*http.Request) bool { return true }, log.Named("ws"))
	if rdb != nil {
		if err := ws.StartRedisSubscriber(ctx, rdb, cfg.RedisPubSubChannel, hub); err != nil {
			log.Fatal("redis subscribe", zap.Error(err))
		}
		eng.OnOddsChanged = ws.NewRedisBroadcaster(rdb, cfg.RedisPubSubChannel, log).OnOddsChanged
	} else {
		eng.OnOddsChanged = hub.Broadcast
	}

	// Consumer de resoluções (consumer group engine-service)
	reader := kafka.NewReader(cfg.Brokers(), cfg.TopicMarketResolutions, "engine-service")
	defer reader.Close()
	var dlq consumer.Writer
	if cfg.TopicMarketResolutionsDLQ != "" {
		dw := kafka.NewWriter(cfg.Brokers(), cfg.TopicMarketResolutionsDLQ)
		defer dw.Close()
		dlq = dw
	}

	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_resolutions_consumed_total", Help: "resoluções consumidas"})
	settled := prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_resolutions_settled_total", Help: "resoluções aplicadas"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "engine_resolutions_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(consumed, settled, errorsBy)

	proc := &consumer.Processor{
		Log:        log.Named("resolutions"),
		Reader:     reader,
		Engine:     eng,
		DLQ:        dlq,
		Retries:    3,
		Backoff:    300 * time.Millisecond,
		OnConsumed: func() { consumed.Inc() },
		OnSettled:  func() { settled.Inc() },
		OnError:    func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}
	go func() {
		if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("resolution consumer stopped", zap.Error(err))
		}
	}()

	// Jobs periódicos
	sched, err := scheduler.New(ctx, scheduler.Config{
		CloseInterval:  cfg.CloseSweepInterval,
		CreditInterval: cfg.CreditSweepInterval,
	}, eng, log.Named("scheduler"))
	if err != nil {
		log.Fatal("scheduler", zap.Error(err))
	}
	sched.Start()
	sched.RunNow(scheduler.JobCloseExpired)

	// metrics/health
	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, prometheus.DefaultGatherer, checks)

	// HTTP público
	api := &httpapi.API{Engine: eng, Log: log.Named("http"), WS: hub.HandleWS}
	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("engine-service listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := sched.Shutdown(); err != nil {
		log.Warn("scheduler shutdown", zap.Error(err))
	}
	log.Info("engine-service stopped")
}
