package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BearBump/LockerBox/config"
	boxesapi "github.com/BearBump/LockerBox/internal/api/boxes_api"
	"github.com/BearBump/LockerBox/internal/broker/kafka"
	"github.com/BearBump/LockerBox/internal/broker/messages"
	"github.com/BearBump/LockerBox/internal/cache/rediscache"
	"github.com/BearBump/LockerBox/internal/integrations/telegram"
	"github.com/BearBump/LockerBox/internal/logging"
	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/services/alerts"
	"github.com/BearBump/LockerBox/internal/services/boxclaim"
	"github.com/BearBump/LockerBox/internal/services/extractor"
	"github.com/BearBump/LockerBox/internal/services/packages"
	"github.com/BearBump/LockerBox/internal/storage/memstore"
	"github.com/BearBump/LockerBox/internal/storage/pgbox"
)

// boxStore is what both storage drivers provide.
type boxStore interface {
	boxclaim.Store
	packages.Repository
	ProvisionBox(ctx context.Context, box *models.Box) error
	Close()
}

type boxAPIApp struct {
	ctx           context.Context
	cancel        context.CancelFunc
	opts          boxAPIOpts
	api           *boxesapi.BoxesAPI
	pipeline      *extractor.Pipeline
	onChange      statusChangeHandler
	consumer      *kafka.Consumer
	notifications *kafka.Consumer
	producer      *kafka.Producer
	cache         *rediscache.RedisCache
	closeDB       func()
}

func mustBootstrapBoxAPI() *boxAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	logging.Setup(cfg.Logging.Level, "box-api")

	httpAddr := cfg.LockerBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.LockerBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "box-api"
	}
	statusTopic := cfg.Kafka.StatusChangedTopicName
	if statusTopic == "" {
		statusTopic = messages.TopicPackageStatusChanged
	}
	detectedTopic := cfg.Kafka.PackageDetectedTopicName
	if detectedTopic == "" {
		detectedTopic = messages.TopicPackageDetected
	}
	notificationsTopic := cfg.Kafka.NotificationReceivedTopicName
	if notificationsTopic == "" {
		notificationsTopic = messages.TopicNotificationReceived
	}
	cacheTTL := time.Duration(cfg.LockerBox.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	st := mustOpenStore(cfg, 60*time.Second)
	mustSeedBoxes(st, cfg.LockerBox.SeedBoxes)

	rc := rediscache.New(cfg.RedisAddr())
	brokers := cfg.KafkaBrokers()
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, statusTopic, consumerGroup)
	notifications := kafka.NewConsumer(brokers, notificationsTopic, consumerGroup)

	pkgs := packages.New(st, st, rc, cacheTTL)
	pipeline := extractor.NewPipeline(
		extractor.New(extractor.Options{AllowedApps: cfg.LockerBox.NotificationAllowedApps}),
		producer,
		detectedTopic,
	)
	api := boxesapi.New(boxclaim.New(st), pkgs, pipeline)

	alertSvc := alerts.New(mustNotifier(cfg.Telegram))
	onChange := func(ctx context.Context, m messages.PackageStatusChanged) error {
		if err := pkgs.ApplyStatusChange(ctx, m); err != nil {
			return err
		}
		if err := alertSvc.HandleStatusChanged(ctx, m); err != nil {
			slog.Warn("status alert failed", "package_id", m.PackageID, "error", err.Error())
		}
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &boxAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: boxAPIOpts{
			httpAddr:           httpAddr,
			swaggerPath:        swaggerPath,
			topic:              statusTopic,
			notificationsTopic: notificationsTopic,
			consumerGroup:      consumerGroup,
		},
		api:           api,
		pipeline:      pipeline,
		onChange:      onChange,
		consumer:      consumer,
		notifications: notifications,
		producer:      producer,
		cache:         rc,
		closeDB:       st.Close,
	}
}

func mustOpenStore(cfg *config.Config, wait time.Duration) boxStore {
	if strings.EqualFold(cfg.LockerBox.StorageDriver, "memory") {
		slog.Warn("using in-memory storage, data is lost on restart")
		return memstore.New()
	}
	return mustOpenPostgresWithRetry(cfg.PostgresConnString(), wait)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgbox.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgbox.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func mustSeedBoxes(st boxStore, ids []string) {
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if err := st.ProvisionBox(context.Background(), &models.Box{ID: id}); err != nil {
			panic(fmt.Sprintf("seed box %s: %v", id, err))
		}
	}
}

// mustNotifier returns nil when telegram is not configured; alerts are
// then only logged.
func mustNotifier(cfg config.TelegramConfig) alerts.Notifier {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil
	}
	n, err := telegram.New(cfg.Token, cfg.ChatID)
	if err != nil {
		panic(fmt.Sprintf("telegram: %v", err))
	}
	return n
}

func (a *boxAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.notifications != nil {
		_ = a.notifications.Close()
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *boxAPIApp) Run() error {
	return runBoxAPI(a.ctx, a.opts, a.api, boxAPIConsumers{
		statusChanged: a.consumer,
		onChange:      a.onChange,
		notifications: a.notifications,
		pipeline:      a.pipeline,
	})
}
