package main

import (
	"context"
	"log"
	"time"

	"bloodlink/internal/audit"
	"bloodlink/internal/cache"
	"bloodlink/internal/cascade"
	"bloodlink/internal/config"
	"bloodlink/internal/cooldown"
	"bloodlink/internal/db"
	"bloodlink/internal/kafka"
	"bloodlink/internal/matching"
	"bloodlink/internal/notify"
	"bloodlink/internal/repository"
	"bloodlink/internal/server"
	"bloodlink/internal/service"
)

func main() {
	cfg := config.LoadConfig()

	database, err := db.NewDB(cfg.DSN, cfg.MigrationsDir)
	if err != nil {
		log.Fatalf("Error in connection to db: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	donorRepo := repository.NewDonorRepository(database)
	requestRepo := repository.NewRequestRepository(database)
	outbox := repository.NewPostgresNotificationOutbox(database)

	hub := notify.NewHub(32)
	notifier := notify.Fanout{hub, notify.NewOutboxNotifier(outbox)}

	auditPool := audit.NewWorkerPool(
		audit.PoolConfig{BatchSize: 16, Timeout: 2 * time.Second, ChannelSize: 256},
		audit.NewDBProcessor(database),
		&audit.StdoutProcessor{Filter: cfg.AuditFilter},
	)
	auditPool.Start(2, ctx)
	defer auditPool.Shutdown(cancel)

	selector := matching.NewSelector(donorRepo)
	dispatcher := matching.NewDispatcher(notifier)

	svc := service.New(donorRepo, requestRepo, selector, dispatcher, notifier, auditPool)

	sweeper := cascade.NewSweeper(requestRepo, selector, dispatcher, notifier, cfg.SweepInterval)
	svc.SetCascader(sweeper)
	go sweeper.Start(ctx)

	go cooldown.NewReenabler(donorRepo, cfg.CooldownInterval).Start(ctx)

	producer, err := kafka.NewSaramaProducer(cfg.KafkaBrokers)
	if err != nil {
		log.Fatalf("Error creating Kafka producer: %v", err)
	}
	defer producer.Close()
	go notify.NewRelay(outbox, producer, cfg.KafkaTopic, cfg.RelayInterval, 100).Start(ctx)
	go kafka.StartFeedConsumer(ctx, cfg.KafkaBrokers, cfg.KafkaGroupID, []string{cfg.KafkaTopic})

	active := cache.NewActiveRequestsCache()
	go active.StartAutoRefresh(ctx, requestRepo, cfg.CacheInterval)

	srv := server.NewServer(svc, active, auditPool, cfg)

	if err := srv.Run(); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
