package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/PulseVote/OrderWatch/config"
	"github.com/PulseVote/OrderWatch/internal/broker/kafka"
	"github.com/PulseVote/OrderWatch/internal/integrations/voteapi"
	"github.com/PulseVote/OrderWatch/internal/integrations/voteapi/fake"
	"github.com/PulseVote/OrderWatch/internal/integrations/voteapi/panelhttp"
	"github.com/PulseVote/OrderWatch/internal/services/reconciler"
	"github.com/PulseVote/OrderWatch/internal/storage/pgorders"
)

type workerFactories struct {
	newStorage     func(cfg *config.Config) (repo reconciler.Repository, closeFn func(), err error)
	newProducer    func(cfg *config.Config) reconciler.Publisher
	newPanelClient func(cfg *config.Config) voteapi.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (reconciler.Repository, func(), error) {
			st, err := pgorders.New(connString(cfg))
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) reconciler.Publisher {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newPanelClient: func(cfg *config.Config) voteapi.Client {
			// Fake-панель только по явному флагу конфига, никаких тихих фолбэков.
			if cfg.VoteAPI.UseFake {
				return fake.New()
			}
			timeout := time.Duration(cfg.VoteAPI.TimeoutSeconds) * time.Second
			return panelhttp.New(cfg.VoteAPI.BaseURL, cfg.VoteAPI.APIKey, timeout)
		},
	}
}

func connString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func reconcilerSettings(cfg *config.Config) reconciler.Settings {
	ow := cfg.OrderWatch
	return reconciler.Settings{
		RunInterval: time.Duration(ow.ReconcileIntervalSeconds) * time.Second,
		PageLimit:   ow.ReconcilePageLimit,
		BatchSize:   ow.ReconcileBatchSize,
		BatchDelay:  time.Duration(ow.ReconcileBatchDelaySeconds) * time.Second,
		Cooldown:    time.Duration(ow.ReconcileCooldownSeconds) * time.Second,
		LeaseTTL:    time.Duration(ow.ReconcileLeaseSeconds) * time.Second,
		CallTimeout: time.Duration(ow.ReconcileCallTimeoutSeconds) * time.Second,
	}
}

func RunOrderWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	topic := cfg.Kafka.OrderUpdatedTopicName
	if topic == "" {
		topic = "order.updated"
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	panel := f.newPanelClient(cfg)

	holder, err := os.Hostname()
	if err != nil || holder == "" {
		holder = "order-worker"
	}

	rec := reconciler.New(repo, panel, producer, topic, holder).
		WithSettings(reconcilerSettings(cfg))

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.OrderWatch.WorkerHTTPAddr,
			swaggerPath: os.Getenv("swaggerPath"),
			reconciler:  rec,
			cfg:         cfg,
		})
	}()

	recErr := make(chan error, 1)
	go func() {
		recErr <- rec.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	case err := <-recErr:
		return err
	}
}
