package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/brainhub-io/gateway/internal/cache"
	"github.com/brainhub-io/gateway/internal/config"
	"github.com/brainhub-io/gateway/internal/datarouting"
	"github.com/brainhub-io/gateway/internal/dispatch"
	"github.com/brainhub-io/gateway/internal/httpapi"
	"github.com/brainhub-io/gateway/internal/jobs"
	"github.com/brainhub-io/gateway/internal/lifecycle"
	"github.com/brainhub-io/gateway/internal/quota"
	"github.com/brainhub-io/gateway/internal/ratelimit"
	"github.com/brainhub-io/gateway/internal/statushub"
	"github.com/brainhub-io/gateway/internal/token"
	"github.com/brainhub-io/gateway/internal/uploads"
	"github.com/brainhub-io/gateway/internal/users"
	"github.com/brainhub-io/gateway/internal/workerpool"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "brainhub-gateway").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if cfg.Env == config.EnvDev {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()

	primary, replicas, err := datarouting.ConnectAll(ctx, cfg.DBURLPrimary, cfg.DBURLReplicas)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to primary database")
	}
	defer primary.Close()

	router := datarouting.New(primary, replicas, datarouting.Config{Strategy: "round-robin"})
	defer router.Close()

	redisClient, err := cache.NewRedisClient(cfg.CacheURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse cache url")
	}
	fabric := cache.NewFabric(10_000, redisClient)

	tokenSvc := token.NewService(cfg.TokenSecret, cfg.TokenTTL, fabric)

	rlCfg := ratelimit.Config{PerMinute: cfg.RateLimitPerMinute, PerHour: cfg.RateLimitPerHour, PerDay: cfg.RateLimitPerDay}
	limiter := ratelimit.New(redisClient, rlCfg)
	authLimiter := ratelimit.NewNamespaced(redisClient, ratelimit.Config{PerMinute: 20, PerHour: 200, PerDay: 1000}, "auth-rl")
	bruteForce := ratelimit.DefaultBruteForceGuard(redisClient)

	presignClient, err := uploads.NewPresignClient(ctx, cfg.ObjectStoreEndpoint, cfg.ObjectStoreRegion)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build object store presign client")
	}
	minter := uploads.NewMinter(presignClient, cfg.ObjectStoreBucket)

	s3Client, err := uploads.NewS3Client(ctx, cfg.ObjectStoreEndpoint, cfg.ObjectStoreRegion)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build object store client")
	}
	artifacts := uploads.NewArtifactFetcher(s3Client, cfg.ObjectStoreBucket)

	repo := jobs.NewRepository(router)
	userRepo := users.NewRepository(primary)
	quotaSvc := quota.NewService(fabric, primary)

	gw, err := dispatch.NewGateway(ctx, cfg.BrokerURL, cfg.DispatchShardsPerPriority)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to broker")
	}
	defer gw.Close()

	lifecycleSvc := lifecycle.NewService(repo, quotaSvc, gw)

	registry := statushub.NewRegistry()
	hub := statushub.NewHub(repo, registry, redisClient)

	sanitizePool := workerpool.New(0, 256, workerpool.DefaultLimits())
	defer sanitizePool.Close()

	consumeCtx, cancelConsume := context.WithCancel(ctx)
	defer cancelConsume()

	// Long-lived work (the status consumer, and the HTTP server once it's
	// built below) runs under one errgroup so a panic-free fatal error in
	// either surfaces the same way and neither leaks a goroutine the
	// other doesn't know about.
	group, groupCtx := errgroup.WithContext(consumeCtx)
	group.Go(func() error {
		runStatusConsumer(groupCtx, cfg.BrokerURL, hub)
		return nil
	})

	srv := &httpapi.Server{
		Router:            router,
		Repo:              repo,
		Lifecycle:         lifecycleSvc,
		TokenSvc:          tokenSvc,
		Limiter:           limiter,
		AuthLimiter:       authLimiter,
		BruteForce:        bruteForce,
		Minter:            minter,
		Artifacts:         artifacts,
		Registry:          registry,
		Hub:               hub,
		Fabric:            fabric,
		Users:             userRepo,
		SanitizePool:      sanitizePool,
		AllowedOrigins:    cfg.AllowedOrigins,
		InternalAPIKey:    cfg.InternalAPIKey,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		StreamHeartbeat:   30,
		StreamMaxDuration: 600,
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams hold the connection open far longer than WriteTimeout allows
		IdleTimeout:  120 * time.Second,
	}

	group.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting http server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")
	cancelConsume()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	if err := group.Wait(); err != nil {
		log.Error().Err(err).Msg("a long-lived goroutine exited with an error")
	}

	log.Info().Msg("server stopped")
}

// runStatusConsumer opens its own broker connection/channel (separate
// from the dispatch Gateway's publish connection) and consumes the
// worker's status queue until ctx is cancelled, restarting the consume
// loop on broker disconnect.
func runStatusConsumer(ctx context.Context, brokerURL string, hub *statushub.Hub) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := amqp.Dial(brokerURL)
		if err != nil {
			log.Error().Err(err).Msg("status consumer failed to connect, retrying in 5s")
			time.Sleep(5 * time.Second)
			continue
		}

		ch, err := conn.Channel()
		if err != nil {
			log.Error().Err(err).Msg("status consumer failed to open channel, retrying in 5s")
			_ = conn.Close()
			time.Sleep(5 * time.Second)
			continue
		}

		if _, err := ch.QueueDeclare("jobs.status", true, false, false, false, nil); err != nil {
			log.Error().Err(err).Msg("status consumer failed to declare queue, retrying in 5s")
			_ = ch.Close()
			_ = conn.Close()
			time.Sleep(5 * time.Second)
			continue
		}
		if err := ch.QueueBind("jobs.status", dispatch.StatusTopic, dispatch.ExchangeName, false, nil); err != nil {
			log.Error().Err(err).Msg("status consumer failed to bind queue, retrying in 5s")
			_ = ch.Close()
			_ = conn.Close()
			time.Sleep(5 * time.Second)
			continue
		}

		if err := hub.ConsumeStatus(ctx, ch, "jobs.status"); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("status consumer loop exited unexpectedly, reconnecting")
		}

		_ = ch.Close()
		_ = conn.Close()
	}
}
