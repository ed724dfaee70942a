package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"projection-orchestrator/internal/config"
	"projection-orchestrator/internal/events"
	"projection-orchestrator/internal/jobs"
	"projection-orchestrator/internal/models"
	"projection-orchestrator/internal/provenance"
	"projection-orchestrator/internal/store"
	"projection-orchestrator/internal/telemetry"
	workerproc "projection-orchestrator/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	publisher := events.NewPublisher(redisClient, events.DefaultChannel)

	runRepo := store.NewRunRepo(st)
	jobSvc := jobs.NewService(store.NewJobRepo(st), runRepo, publisher, jobs.Options{
		DefaultQueue:       cfg.DefaultQueue,
		DefaultMaxAttempts: cfg.MaxAttempts,
		BackoffInitial:     cfg.BackoffInitial,
		BackoffMax:         cfg.BackoffMax,
	})
	provSvc := provenance.NewService(store.NewProvenanceRepo(st), runRepo, store.NewOrgMemberChecker(st))

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	processor := workerproc.NewProcessor(jobSvc, cfg.Queues, cfg.WorkerPollInterval, workerID)
	processor.RegisterHandler(models.JobTypeModelRun, workerproc.NewModelRunHandler(jobSvc, runRepo, provSvc).Handle)
	processor.RegisterHandler(models.JobTypeAutoModelTrigger, workerproc.NewAutoTriggerHandler(jobSvc).Handle)

	exportHandler, err := workerproc.NewExportHandler(ctx, cfg, runRepo)
	if err != nil {
		log.Fatalf("init export handler: %v", err)
	}
	processor.RegisterHandler(models.JobTypeExport, exportHandler.Handle)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker %s started queues=%v poll=%s", workerID, cfg.Queues, cfg.WorkerPollInterval)
	if err := processor.Run(ctx); err != nil {
		log.Printf("worker stopped: %v", err)
	}
}
