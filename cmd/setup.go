package main

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/swapflow"
	"github.com/jerry-enebeli/swapflow/config"
	"github.com/jerry-enebeli/swapflow/database"
	"github.com/jerry-enebeli/swapflow/internal/broadcast"
	"github.com/jerry-enebeli/swapflow/internal/cache"
	"github.com/jerry-enebeli/swapflow/internal/metrics"
	"github.com/jerry-enebeli/swapflow/internal/notification"
	redis_db "github.com/jerry-enebeli/swapflow/internal/redis-db"
	"github.com/jerry-enebeli/swapflow/internal/traces"
	"github.com/jerry-enebeli/swapflow/queue"
	"github.com/jerry-enebeli/swapflow/routing"
)

var errRedisRequired = errors.New("a redis dns is required to run standalone workers")

// services owns every long lived component of a process. Components are
// built in dependency order and closed in reverse.
type services struct {
	cnf        *config.Configuration
	metrics    *metrics.Metrics
	redis      *redis_db.Redis
	store      database.OrderStore
	closeStore func() error
	queue      queue.Queue
	bus        broadcast.Bus
	closeBus   func()
	notifier   *notification.Notifier
	swapflow   *swapflow.Swapflow
	pipeline   *swapflow.Pipeline
	recovery   *swapflow.RecoveryProcessor
	tracing    func(context.Context) error
}

// embedded reports whether the queue and bus live in this process because no
// Redis is configured.
func (s *services) embedded() bool {
	return s.redis == nil
}

func newServices(ctx context.Context, cnf *config.Configuration) (*services, error) {
	if cnf.Redis.Dns != "" && cnf.DataSource.Dns == "" {
		return nil, config.ErrSharedStoreRequired
	}

	s := &services{cnf: cnf, notifier: notification.NewNotifier(cnf.Notification.Slack.WebhookUrl)}
	if cnf.EnableMetrics {
		s.metrics = metrics.New()
	}

	if cnf.EnableTracing {
		shutdown, err := traces.SetupOTelSDK(ctx, cnf.ProjectName)
		if err != nil {
			return nil, err
		}
		s.tracing = shutdown
	}

	var orderCache cache.Cache
	if cnf.Redis.Dns != "" {
		r, err := redis_db.NewRedisClient([]string{cnf.Redis.Dns}, cnf.Redis.SkipTLSVerify)
		if err != nil {
			s.close()
			return nil, err
		}
		s.redis = r
		orderCache = cache.NewRedisCache(r.Client(), time.Duration(cnf.Cache.LocalTTLSec)*time.Second)
	} else {
		logrus.Warn("no redis configured, queue and live updates run in process")
	}

	store, closeStore, err := database.NewDataSource(cnf, orderCache)
	if err != nil {
		s.close()
		return nil, err
	}
	s.store, s.closeStore = store, closeStore

	policy := queue.PolicyFromConfig(cnf.Queue)
	hook := queue.WithDeadLetterHook(swapflow.DeadLetterHook(s.metrics, s.notifier))
	if s.embedded() {
		s.queue = queue.NewMemoryQueue(policy, cnf.Queue.Concurrency, hook)
		local := broadcast.NewLocalBus(0, s.metrics)
		s.bus, s.closeBus = local, local.Close
	} else {
		connOpt, err := redis_db.AsynqConnOpt(cnf.Redis.Dns, cnf.Redis.SkipTLSVerify)
		if err != nil {
			s.close()
			return nil, err
		}
		s.queue = queue.NewAsynqQueue(connOpt, cnf.Queue.Name, policy, cnf.Queue.Concurrency, hook)
		s.bus = broadcast.NewRedisBus(s.redis.Client(), s.metrics)
	}

	router := routing.NewRouterFromConfig(cnf.Router.Venues, routing.WithLatency(time.Duration(cnf.Pipeline.QuoteLatencyMs)*time.Millisecond))
	settler := routing.NewSimulatedSettler(time.Duration(cnf.Pipeline.SettlementDelayMs) * time.Millisecond)

	s.swapflow = swapflow.NewSwapflow(s.store, s.queue, s.metrics)
	s.pipeline = swapflow.NewPipeline(s.store, router, settler, s.bus, s.metrics, cnf.Pipeline)
	s.recovery = swapflow.NewRecoveryProcessor(s.swapflow, cnf.Queue)
	return s, nil
}

// startWorkers runs the pipeline on the queue and the pending order
// recovery next to it.
func (s *services) startWorkers(ctx context.Context) error {
	if err := s.queue.Start(s.pipeline.Handler()); err != nil {
		return err
	}
	s.recovery.Start(ctx)
	logrus.Infof("workers started with concurrency %d", s.cnf.Queue.Concurrency)
	return nil
}

// close stops workers first so no attempt is cut off from the store or the
// bus, then releases connections.
func (s *services) close() {
	if s.recovery != nil {
		s.recovery.Stop()
	}
	if s.queue != nil {
		s.queue.Shutdown()
	}
	if s.closeBus != nil {
		s.closeBus()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logrus.WithError(err).Warn("error closing redis")
		}
	}
	if s.closeStore != nil {
		if err := s.closeStore(); err != nil {
			logrus.WithError(err).Warn("error closing data source")
		}
	}
	if s.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tracing(ctx); err != nil {
			logrus.WithError(err).Warn("error flushing traces")
		}
	}
}
