package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PulseVote/OrderWatch/config"
	"github.com/PulseVote/OrderWatch/internal/broker/kafka"
	"github.com/PulseVote/OrderWatch/internal/cache/rediscache"
	"github.com/PulseVote/OrderWatch/internal/integrations/voteapi"
	"github.com/PulseVote/OrderWatch/internal/integrations/voteapi/fake"
	"github.com/PulseVote/OrderWatch/internal/integrations/voteapi/panelhttp"
	"github.com/PulseVote/OrderWatch/internal/services/orders"
	"github.com/PulseVote/OrderWatch/internal/storage/pgorders"
)

type orderAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     orderAPIOpts
	svc      *orders.Service
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapOrderAPI() *orderAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid config: %v", err))
	}

	httpAddr := cfg.OrderWatch.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.OrderWatch.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "order-api"
	}
	topic := cfg.Kafka.OrderUpdatedTopicName
	if topic == "" {
		topic = "order.updated"
	}

	cacheTTL := time.Duration(cfg.OrderWatch.CurrentOrderTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	checkLimit := int64(cfg.OrderWatch.CheckRateLimitPerMinute)
	if checkLimit <= 0 {
		checkLimit = 4
	}

	st := mustOpenPostgresWithRetry(connString(cfg), 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	svc := orders.New(st, panelClient(cfg), rc, rl, cacheTTL, checkLimit)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &orderAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: orderAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   os.Getenv("swaggerPath"),
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		svc:      svc,
		consumer: consumer,
		closeDB:  st.Close,
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

func panelClient(cfg *config.Config) voteapi.Client {
	// Fake-панель только по явному флагу конфига, никаких тихих фолбэков.
	if cfg.VoteAPI.UseFake {
		return fake.New()
	}
	timeout := time.Duration(cfg.VoteAPI.TimeoutSeconds) * time.Second
	return panelhttp.New(cfg.VoteAPI.BaseURL, cfg.VoteAPI.APIKey, timeout)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgorders.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgorders.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *orderAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *orderAPIApp) Run() error {
	return runOrderAPI(a.ctx, a.opts, a.svc, a.consumer)
}
