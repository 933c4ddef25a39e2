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

	"example.com/integrations/internal/api"
	"example.com/integrations/internal/auth"
	"example.com/integrations/internal/config"
	"example.com/integrations/internal/outbox"
	persistence "example.com/integrations/internal/persistence/postgres"
	"example.com/integrations/internal/provider"
	syncengine "example.com/integrations/internal/sync"
	httptransport "example.com/integrations/internal/transport/http"
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
	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	schemaRegistry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, schemaRegistry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)

	go dispatcher.Start(ctx)

	registry := buildRegistry(cfg)
	locker := syncengine.NewRedisLocker(redisClient, cfg.SyncLockTTL)
	orchestrator := syncengine.NewOrchestrator(repo, repo, repo, registry, locker,
		syncengine.WithPageSize(cfg.SyncPageSize))
	connect := syncengine.NewConnectService(repo, repo, registry, orchestrator, cfg.OAuthRedirectBase,
		log.New(os.Stdout, "[connect] ", log.LstdFlags))
	stateSigner := api.NewStateSigner(cfg.StateSecret, cfg.JWTIssuer)

	handler := api.NewHandler(orchestrator, connect, stateSigner)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Simple CORS middleware for local dev
	cors := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost:5173")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(cors(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("integration-service listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	dispatcher.Wait()
}

// buildRegistry registers an adapter for every provider with configured
// credentials. The companion providers need no credentials and are always
// registered so capability gaps surface as explanatory notes rather than
// unknown-provider errors.
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
