package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"example.com/integrations/internal/config"
	persistence "example.com/integrations/internal/persistence/postgres"
	"example.com/integrations/internal/provider"
	syncengine "example.com/integrations/internal/sync"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
	defer redisClient.Close()

	repo := persistence.NewRepository(pool)
	registry := buildRegistry(cfg)
	locker := syncengine.NewRedisLocker(redisClient, cfg.SyncLockTTL)
	orchestrator := syncengine.NewOrchestrator(repo, repo, repo, registry, locker,
		syncengine.WithPageSize(cfg.SyncPageSize))

	scheduler := syncengine.NewScheduler(orchestrator, repo, cfg.SchedulerInterval, cfg.SchedulerWorkers,
		log.New(os.Stdout, "[scheduler] ", log.LstdFlags))

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	go func() {
		log.Printf("scheduler metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	go scheduler.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("scheduler shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	scheduler.Wait()
}

// buildRegistry mirrors the API service registry so scheduled sweeps can
// refresh tokens and pull pages for every configured provider.
func buildRegistry(cfg config.Config) *provider.Registry {
	adapters := []provider.Adapter{
		provider.NewSamsungHealth(provider.Credentials{}),
		provider.NewAppleHealth(provider.Credentials{}),
	}

	for _, name := range []string{"strava", "garmin", "polar", "google_fit", "whoop"} {
		creds, ok := cfg.Providers[name]
		if !ok {
			log.Printf("provider %s has no credentials configured, skipping", name)
			continue
		}
		c := provider.Credentials{ClientID: creds.ClientID, ClientSecret: creds.ClientSecret}
		switch name {
		case "strava":
			adapters = append(adapters, provider.NewStrava(c))
		case "garmin":
			adapters = append(adapters, provider.NewGarmin(c))
		case "polar":
			adapters = append(adapters, provider.NewPolar(c))
		case "google_fit":
			adapters = append(adapters, provider.NewGoogleFit(c))
		case "whoop":
			adapters = append(adapters, provider.NewWhoop(c))
		}
	}

	return provider.NewRegistry(adapters...)
}
