package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"

	api "projection-orchestrator/internal/api"
	"projection-orchestrator/internal/approvals"
	"projection-orchestrator/internal/config"
	"projection-orchestrator/internal/events"
	"projection-orchestrator/internal/jobs"
	"projection-orchestrator/internal/provenance"
	"projection-orchestrator/internal/ratelimit"
	"projection-orchestrator/internal/store"
	"projection-orchestrator/internal/telemetry"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
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
	limiter := ratelimit.NewTenantLimiter(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	publisher := events.NewPublisher(redisClient, events.DefaultChannel)

	runRepo := store.NewRunRepo(st)
	jobSvc := jobs.NewService(store.NewJobRepo(st), runRepo, publisher, jobs.Options{
		DefaultQueue:       cfg.DefaultQueue,
		DefaultMaxAttempts: cfg.MaxAttempts,
		BackoffInitial:     cfg.BackoffInitial,
		BackoffMax:         cfg.BackoffMax,
	})
	provSvc := provenance.NewService(store.NewProvenanceRepo(st), runRepo, store.NewOrgMemberChecker(st))
	apprSvc := approvals.NewService(store.NewApprovalRepo(st), store.NewPlanRepo(st), store.NewReviewRepo(st), jobSvc)

	// Push-path consumer: log completions as they arrive so operators can
	// follow job flow without polling.
	listener := events.NewListener(redisClient, events.DefaultChannel)
	go func() {
		err := listener.Run(ctx, func(c events.Completion) {
			telemetry.Info("job completed", map[string]any{
				"job_id": c.JobID, "type": c.Type, "queue": c.Queue, "org_id": c.OrgID,
			})
		})
		if err != nil && ctx.Err() == nil {
			log.Printf("completion listener stopped: %v", err)
		}
	}()

	reaper := jobs.NewReaper(jobSvc, cfg.ProcessingTimeout, cfg.ReaperInterval)
	go reaper.Run(ctx)

	server := api.New(jobSvc, runRepo, provSvc, apprSvc, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
