// Command gateway runs the SSE fan-out gateway: it wires configuration,
// logging, metrics, the connection registry, the replay store (in-memory
// or Redis-backed), optional service discovery, ingestion adapters, the
// HTTP surface, and background lifecycle tasks into one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	_ "go.uber.org/automaxprocs"

	"github.com/ssefanout/gateway/internal/config"
	"github.com/ssefanout/gateway/internal/discovery"
	"github.com/ssefanout/gateway/internal/gatewayerr"
	"github.com/ssefanout/gateway/internal/gwlog"
	"github.com/ssefanout/gateway/internal/httpapi"
	"github.com/ssefanout/gateway/internal/ingest"
	"github.com/ssefanout/gateway/internal/lifecycle"
	"github.com/ssefanout/gateway/internal/limits"
	"github.com/ssefanout/gateway/internal/platform"
	"github.com/ssefanout/gateway/internal/registry"
	"github.com/ssefanout/gateway/internal/replay"
	"github.com/ssefanout/gateway/internal/sseio"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	bootLog := log.New(os.Stdout, "[gateway] ", log.LstdFlags)

	maxProcs := runtime.GOMAXPROCS(0)
	bootLog.Printf("GOMAXPROCS: %d (via automaxprocs)", maxProcs)

	cfg, err := config.Load(nil)
	if err != nil {
		bootLog.Fatalf("failed to load configuration: %v", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	cfg.Print()

	logger := gwlog.New(gwlog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(cfg.InstanceID).WithLogger(logger)

	store, disco, redisClient := mustBuildStore(ctx, cfg, logger, bootLog)

	sampler := platform.NewResourceSampler()
	guard := limits.NewGuard(limits.GuardConfig{
		MaxConnections:     cfg.MaxConnections,
		MaxGoroutines:      cfg.MaxGoroutines,
		MemoryLimit:        cfg.MemoryLimit,
		CPURejectThreshold: cfg.CPURejectThreshold,
		MaxIngestRate:      cfg.MaxIngestRate,
	}, sampler, logger)

	dispatcher := ingest.New(reg, store, "http")

	var sources []ingest.Source
	if cfg.NATSURL != "" {
		sources = append(sources, ingest.NewNATSSource(cfg.NATSURL, cfg.NATSSubjectPrefix))
	}

	var sourceWG sync.WaitGroup
	for _, src := range sources {
		src := src
		sourceWG.Add(1)
		go func() {
			defer sourceWG.Done()
			if err := src.Run(ctx, dispatcher.Handle); err != nil {
				logger.Error().Err(err).Str("adapter", src.Name()).Msg("ingestion source terminated")
			}
		}()
	}

	var hooks sseio.Hooks
	if disco != nil {
		hooks = sseio.Hooks{
			OnConnect: func(channelID, connectionID, instanceID string) {
				bindCtx, bindCancel := context.WithTimeout(context.Background(), cfg.DiscoveryTimeout)
				defer bindCancel()
				if err := disco.Bind(bindCtx, channelID); err != nil {
					logger.Warn().Err(err).
						Str("channel_id", channelID).Str("connection_id", connectionID).
						Msg("channel binding failed")
				}
			},
			OnDisconnect: func(channelID, connectionID string) {
				releaseCtx, releaseCancel := context.WithTimeout(context.Background(), cfg.DiscoveryTimeout)
				defer releaseCancel()
				if err := disco.Release(releaseCtx, channelID); err != nil {
					logger.Warn().Err(err).Str("channel_id", channelID).
						Str("connection_id", connectionID).Msg("channel release failed")
				}
			},
		}
	}

	handler := httpapi.New(httpapi.Deps{
		Registry:   reg,
		Store:      store,
		Dispatcher: dispatcher,
		Guard:      guard,
		Discovery:  disco,
		InstanceID: cfg.InstanceID,
		Hooks:      hooks,
		Logger:     logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams are long-lived; do not time out writes
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal().Err(fmt.Errorf("%w: %v", gatewayerr.ErrBindFailure, err)).Str("addr", cfg.Addr).Msg("bind failure")
	}

	runner := lifecycle.New(reg, guard, logger)
	runner.Start(ctx, lifecycle.Intervals{
		Heartbeat:      cfg.HeartbeatBroadcastInterval,
		Sweep:          cfg.SweepInterval,
		ResourceSample: cfg.MetricsInterval,
	})

	if disco != nil {
		if err := disco.Register(ctx); err != nil {
			logger.Warn().Err(err).Msg("instance registration failed")
		}
		go runDiscoveryHeartbeat(ctx, disco, cfg.HeartbeatInterval, logger)
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("gateway listening")
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http serve error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutdown signal received, draining")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	runner.Drain(30 * time.Second)
	runner.Wait()
	sourceWG.Wait()

	if disco != nil {
		if err := disco.Deregister(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("instance deregistration failed")
		}
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}

	logger.Info().Msg("shutdown complete")
}

// mustBuildStore constructs the replay store appropriate to cfg: an
// in-memory store for single-instance deployments, or a Redis-backed store
// plus its paired service-discovery registry when REDIS_URL is set.
func mustBuildStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger, bootLog *log.Logger) (replay.Store, *discovery.Registry, *redis.Client) {
	if !cfg.UsesRemoteStore() {
		return replay.NewMemoryStore(cfg.ReplayCapacity), nil, nil
	}

	remote, err := replay.NewRemoteStore(ctx, replay.RemoteStoreConfig{
		RedisURL:   cfg.RedisURL,
		Capacity:   cfg.ReplayCapacity,
		BatchSize:  cfg.ReplayBatchSize,
		FlushEvery: cfg.ReplayBatchFlush,
		OpTimeout:  cfg.ReplayStoreTimeout,
		QueueSize:  cfg.ReplayQueueSize,
		ChannelTTL: cfg.ChannelTTL,
	}, logger)
	if err != nil {
		bootLog.Fatalf("failed to build redis replay store: %v", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		bootLog.Fatalf("failed to parse REDIS_URL for discovery: %v", err)
	}
	client := redis.NewClient(opts)

	disco := discovery.New(client, cfg.InstanceID, cfg.Addr, cfg.InstanceTTL, cfg.ChannelTTL)
	return remote, disco, client
}

func runDiscoveryHeartbeat(ctx context.Context, disco *discovery.Registry, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := disco.Heartbeat(ctx); err != nil {
				logger.Warn().Err(err).Msg("instance heartbeat failed")
			}
		}
	}
}
