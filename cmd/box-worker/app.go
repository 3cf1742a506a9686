package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/LockerBox/config"
	"github.com/BearBump/LockerBox/internal/broker/kafka"
	"github.com/BearBump/LockerBox/internal/broker/messages"
	"github.com/BearBump/LockerBox/internal/cache/rediscache"
	"github.com/BearBump/LockerBox/internal/integrations/carrier"
	"github.com/BearBump/LockerBox/internal/integrations/carrier/fake"
	"github.com/BearBump/LockerBox/internal/integrations/carrier/trackerhttp"
	"github.com/BearBump/LockerBox/internal/services/reconciler"
	"github.com/BearBump/LockerBox/internal/storage/memstore"
	"github.com/BearBump/LockerBox/internal/storage/pgbox"
	"golang.org/x/sync/errgroup"
)

type workerFactories struct {
	newStorage       func(cfg *config.Config) (repo reconciler.Repository, closeFn func(), err error)
	newProducer      func(cfg *config.Config) reconciler.Producer
	newRateLimiter   func(cfg *config.Config) reconciler.RateLimiter
	newCarrierClient func(cfg *config.Config) carrier.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (reconciler.Repository, func(), error) {
			if strings.EqualFold(cfg.LockerBox.StorageDriver, "memory") {
				slog.Warn("in-memory storage is not shared with box-api, nothing will be reconciled")
				st := memstore.New()
				return st, st.Close, nil
			}
			st, err := pgbox.New(cfg.PostgresConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) reconciler.Producer {
			return kafka.NewProducer(cfg.KafkaBrokers())
		},
		newRateLimiter: func(cfg *config.Config) reconciler.RateLimiter {
			return rediscache.NewRateLimiter(cfg.RedisAddr())
		},
		newCarrierClient: func(cfg *config.Config) carrier.Client {
			// Без явного режима "http" работаем на офлайн fake, чтобы демо не ходило в сеть.
			if strings.EqualFold(cfg.LockerBox.TrackerMode, "http") {
				return trackerhttp.New(cfg.LockerBox.TrackerBaseURL, cfg.LockerBox.TrackerAPIKey)
			}
			return fake.New()
		},
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// reconcilerSettings maps config onto reconciler settings; zero values keep
// the reconciler defaults.
func reconcilerSettings(cfg *config.Config) (reconciler.Settings, reconciler.PlannerConfig) {
	lb := cfg.LockerBox
	s := reconciler.Settings{
		Concurrency:        lb.WorkerConcurrency,
		StaleAfter:         seconds(lb.WorkerStaleAfterSeconds),
		TrackerTimeout:     seconds(lb.WorkerTrackerTimeoutSeconds),
		RateLimitPerMinute: int64(lb.WorkerRateLimitPerMinute),
	}
	p := reconciler.PlannerConfig{
		Interval: seconds(lb.WorkerIntervalSeconds),
		Jitter:   seconds(lb.WorkerJitterSeconds),
		Backoff1: seconds(lb.WorkerBackoff1Seconds),
		Backoff2: seconds(lb.WorkerBackoff2Seconds),
		Backoff3: seconds(lb.WorkerBackoff3Seconds),
		Backoff4: seconds(lb.WorkerBackoff4Seconds),
	}
	if lb.WorkerJitterSeconds == 0 {
		p.Jitter = reconciler.DefaultPlannerConfig().Jitter
	}
	return s, p
}

// RunBoxWorker runs the reconcile loop next to the ops HTTP server until
// ctx is done or one of them fails.
func RunBoxWorker(ctx context.Context, cfg *config.Config, f workerFactories, httpOpts workerHTTPOpts) error {
	topic := cfg.Kafka.StatusChangedTopicName
	if topic == "" {
		topic = messages.TopicPackageStatusChanged
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	settings, plannerCfg := reconcilerSettings(cfg)
	rec := reconciler.New(repo, f.newCarrierClient(cfg), f.newProducer(cfg), f.newRateLimiter(cfg), topic).
		WithSettings(settings).
		WithPlanner(plannerCfg)

	httpOpts.reconciler = rec
	httpOpts.cfg = cfg

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rec.Run(gctx)
	})
	g.Go(func() error {
		return runWorkerHTTPServer(gctx, httpOpts)
	})
	return g.Wait()
}
