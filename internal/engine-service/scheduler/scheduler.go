package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Sweeper são as varreduras periódicas do engine.
type Sweeper interface {
	CloseExpired(ctx context.Context) ([]string, error)
	ExpireCredits(ctx context.Context) (int, error)
}

type Config struct {
	CloseInterval  time.Duration
	CreditInterval time.Duration
	Clock          clockwork.Clock // nil = relógio real
}

const (
	JobCloseExpired  = "close-expired-markets"
	JobExpireCredits = "expire-daily-credits"
)

// Scheduler roda os jobs de fechamento de mercados vencidos e expiração de créditos.
type Scheduler struct {
	s   gocron.Scheduler
	eng Sweeper
	log *zap.Logger
	ctx context.Context
}

// New registra os jobs; nada roda antes de Start.
func New(ctx context.Context, cfg Config, eng Sweeper, log *zap.Logger) (*Scheduler, error) {
	var opts []gocron.SchedulerOption
	if cfg.Clock != nil {
		opts = append(opts, gocron.WithClock(cfg.Clock))
	}
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, err
	}
	sc := &Scheduler{s: s, eng: eng, log: log, ctx: ctx}

	jobs := []struct {
		name  string
		every time.Duration
		fn    func()
	}{
		{JobCloseExpired, cfg.CloseInterval, sc.closeExpired},
		{JobExpireCredits, cfg.CreditInterval, sc.expireCredits},
	}
	for _, j := range jobs {
		if _, err := s.NewJob(
			gocron.DurationJob(j.every),
			gocron.NewTask(j.fn),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			_ = s.Shutdown()
			return nil, err
		}
	}
	return sc, nil
}

func (sc *Scheduler) Start() { sc.s.Start() }

func (sc *Scheduler) Shutdown() error { return sc.s.Shutdown() }

func (sc *Scheduler) Jobs() []gocron.Job { return sc.s.Jobs() }

// RunNow dispara um job pelo nome (usado no startup e nos testes).
func (sc *Scheduler) RunNow(name string) bool {
	for _, j := range sc.s.Jobs() {
		if j.Name() == name {
			return j.RunNow() == nil
		}
	}
	return false
}

func (sc *Scheduler) closeExpired() {
	ids, err := sc.eng.CloseExpired(sc.ctx)
	if err != nil {
		sc.log.Warn("close expired markets failed", zap.Error(err))
		return
	}
	if len(ids) > 0 {
		sc.log.Info("expired markets closed", zap.Strings("market_ids", ids))
	}
}

func (sc *Scheduler) expireCredits() {
	if _, err := sc.eng.ExpireCredits(sc.ctx); err != nil {
		sc.log.Warn("expire credits failed", zap.Error(err))
	}
}
