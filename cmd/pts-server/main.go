package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pts-server/pts-server-pro/internal/api"
	"github.com/pts-server/pts-server-pro/internal/balance"
	"github.com/pts-server/pts-server-pro/internal/config"
	"github.com/pts-server/pts-server-pro/internal/eventlog"
	"github.com/pts-server/pts-server-pro/internal/integration"
	"github.com/pts-server/pts-server-pro/internal/metrics"
	"github.com/pts-server/pts-server-pro/internal/protocol"
	"github.com/pts-server/pts-server-pro/internal/server"
	"github.com/pts-server/pts-server-pro/internal/storage"
	"github.com/pts-server/pts-server-pro/pkg/crypto"
)

func main() {
	// Command line flags
	var configFile string
	var validateOnly bool
	var hashPassword string
	flag.StringVar(&configFile, "config", "config/pts-server.yml", "Configuration file path")
	flag.BoolVar(&validateOnly, "validate", false, "Validate configuration and exit")
	flag.StringVar(&hashPassword, "hash-password", "", "Print a bcrypt hash for the given password and exit")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if hashPassword != "" {
		hash, err := crypto.HashPassword(hashPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to hash password")
		}
		fmt.Println(hash)
		return
	}

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if validateOnly {
		log.Info().Str("file", configFile).Msg("Configuration is valid")
		return
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Connect to database
	store, err := storage.NewPostgresStore(cfg.Database.DSN, storage.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	log.Info().Msg("Connected to database")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional NATS connection for event publishing
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name("pts-server"),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
			nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
				log.Error().Err(err).Msg("NATS error")
			}),
		)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without event publishing")
			nc = nil
		} else {
			defer nc.Close()
			log.Info().Msg("Connected to NATS")
		}
	} else {
		log.Info().Msg("NATS not configured, events will only be persisted")
	}

	// Optional Redis connection for the tag balance cache
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, tag balances will skip the cache")
			rdb = nil
		} else {
			defer rdb.Close()
			log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
		}
		pingCancel()
	}

	// Metrics registry
	m := metrics.New()

	// Async event sink
	sink := eventlog.NewAsyncSink(store, nc, cfg.PTS.EventBufferSize, m)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sink.Run(ctx)
	}()

	// Protocol core
	registry := protocol.NewRegistry()
	resolver := balance.NewResolver(store, rdb, cfg.Redis.CacheTTL, cfg.PTS.DefaultTagBalance)
	dispatcher := protocol.NewDispatcher(sink, resolver, m)
	injector := protocol.NewCommandInjector(registry, sink)

	// Controller-facing WebSocket server
	wsServer := server.NewWSServer(cfg, registry, dispatcher, sink, m)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := wsServer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("WebSocket server failed")
		}
	}()

	// Admin REST API server
	apiServer := api.NewRESTServer(cfg, store, registry, injector, m)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.ListenAndServe(cfg.APIAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("REST API server stopped")
		}
	}()

	// Outbound integrations ride on NATS
	if nc != nil {
		forwarder := integration.NewForwarderService(nc, &cfg.Integration)
		if forwarder.Enabled() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := forwarder.Start(ctx); err != nil {
					log.Error().Err(err).Msg("Integration forwarder stopped")
				}
			}()
		}
	}

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Cancel context; the WebSocket server closes its listener and the
	// sink drains its queue
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	// Wait for all services
	wg.Wait()

	select {
	case <-sink.Done():
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Event sink did not drain in time")
	}

	log.Info().Msg("PTS server stopped")
}
