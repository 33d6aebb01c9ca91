// Package app assembles the broadcast service's components from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/mailblast-backend/internal/config"
	"github.com/unclebandit/mailblast-backend/internal/db"
	"github.com/unclebandit/mailblast-backend/internal/lock"
	"github.com/unclebandit/mailblast-backend/internal/mailer"
	"github.com/unclebandit/mailblast-backend/internal/metrics"
	"github.com/unclebandit/mailblast-backend/internal/queue"
	"github.com/unclebandit/mailblast-backend/internal/repository"
	"github.com/unclebandit/mailblast-backend/internal/service"
)

const memoryQueueSize = 16

type App struct {
	Config   *config.Config
	Log      *logrus.Entry
	DB       *sql.DB
	Redis    *redis.Client
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Logs       repository.DeliveryLogRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Jobs       repository.BroadcastJobRepositoryInterface
	Queue      queue.Queue

	Dispatcher *service.Dispatcher
	Stats      *service.StatsService
	Broadcasts *service.BroadcastService

	closers []func() error
}

// New connects to every configured backend and wires the services. On error
// anything already opened is closed.
func New(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*App, error) {
	a := &App{Config: cfg, Log: log, Registry: prometheus.NewRegistry()}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"storage":   cfg.Storage.Driver,
		"directory": cfg.Directory.Driver,
		"mail":      cfg.Mail.Provider,
		"queue":     cfg.Queue.Driver,
	}).Info("components ready")
	return a, nil
}

func (a *App) init(ctx context.Context) (err error) {
	cfg, log := a.Config, a.Log

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	if cfg.Database.Enabled() {
		a.DB, err = db.Open(ctx, cfg.Database.URL, db.Options{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			ConnMaxLifetime: cfg.Database.Lifetime(),
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, a.DB.Close)
		log.Info("connected to database")
	}

	if cfg.Redis.Enabled() {
		opts, perr := redis.ParseURL(cfg.Redis.URL)
		if perr != nil {
			return fmt.Errorf("parse redis url: %w", perr)
		}
		a.Redis = redis.NewClient(opts)
		a.closers = append(a.closers, a.Redis.Close)
		if err = a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		log.Info("connected to redis")
	}

	if err = a.buildStores(ctx); err != nil {
		return err
	}

	transport, err := mailer.New(ctx, cfg.Mail, log.WithField("component", "mailer"))
	if err != nil {
		return err
	}

	if err = a.buildQueue(); err != nil {
		return err
	}

	a.Dispatcher = service.NewDispatcher(
		a.Recipients,
		transport,
		a.Logs,
		cfg.Dispatch.Pacing(),
		a.Metrics,
		log.WithField("component", "dispatcher"),
	)
	a.Stats = &service.StatsService{Logs: a.Logs, Recipients: a.Recipients}
	a.Broadcasts = &service.BroadcastService{
		Dispatcher: a.Dispatcher,
		Recipients: a.Recipients,
		Jobs:       a.Jobs,
		Queue:      a.Queue,
		Lock:       lock.NewLock(a.Redis, a.DB, service.BroadcastLockKey, cfg.Dispatch.LockTTL()),
		Validator:  service.NewValidator(),
		Metrics:    a.Metrics,
		Log:        log.WithField("component", "broadcast"),
	}
	return nil
}

func (a *App) buildStores(ctx context.Context) error {
	cfg := a.Config

	switch cfg.Storage.Driver {
	case "memory":
		a.Logs = repository.NewMemoryDeliveryLogRepository()
	case "postgres":
		if a.DB == nil {
			return errors.New("storage driver postgres requires database.url")
		}
		a.Logs = &repository.PostgresDeliveryLogRepository{DB: a.DB}
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	switch cfg.Directory.Driver {
	case "memory":
		a.Recipients = repository.NewMemoryRecipientRepository(repository.DefaultRecipients()...)
	case "postgres":
		if a.DB == nil {
			return errors.New("directory driver postgres requires database.url")
		}
		pg := &repository.PostgresRecipientRepository{DB: a.DB}
		if cfg.Directory.Seed {
			if err := db.Migrate(ctx, a.DB); err != nil {
				return err
			}
			n, err := pg.Seed(ctx, repository.DefaultRecipients())
			if err != nil {
				return fmt.Errorf("seed recipients: %w", err)
			}
			a.Log.WithField("inserted", n).Info("seeded default recipients")
		}
		a.Recipients = pg
	default:
		return fmt.Errorf("unknown directory driver %q", cfg.Directory.Driver)
	}

	if a.Redis != nil {
		a.Jobs = repository.NewRedisBroadcastJobRepository(a.Redis)
	} else {
		a.Jobs = repository.NewMemoryBroadcastJobRepository()
	}
	return nil
}

func (a *App) buildQueue() error {
	cfg := a.Config.Queue

	switch cfg.Driver {
	case "memory":
		a.Queue = queue.NewInMemoryQueue(memoryQueueSize, a.Log.WithField("component", "queue"))
	case "amqp":
		q, err := queue.NewAMQPQueue(cfg.URL, cfg.Name, a.Log.WithField("component", "queue"))
		if err != nil {
			return err
		}
		a.Queue = q
	default:
		return fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
	// the queue stops its consumer first so a running job can record its outcome
	a.closers = append(a.closers, a.Queue.Close)
	return nil
}

// StartConsumer attaches the broadcast job handler to the queue.
func (a *App) StartConsumer() error {
	return a.Queue.Subscribe(a.Broadcasts.RunJob)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.WithError(err).Warn("close")
		}
	}
	a.closers = nil
}
