// Package main wires and runs the trading pipeline: the Broker Gateway
// Server, Tick Publisher, Strategy Engine, Order Executor, and the
// read-only Operator Surface, all supervised by the Lifecycle Manager.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/arlojex/tradepipe/api"
	"github.com/arlojex/tradepipe/audit"
	"github.com/arlojex/tradepipe/backup"
	"github.com/arlojex/tradepipe/cache"
	"github.com/arlojex/tradepipe/config"
	"github.com/arlojex/tradepipe/execution"
	"github.com/arlojex/tradepipe/executor"
	"github.com/arlojex/tradepipe/gateway"
	"github.com/arlojex/tradepipe/lifecycle"
	"github.com/arlojex/tradepipe/realtime"
	"github.com/arlojex/tradepipe/store"
	"github.com/arlojex/tradepipe/strategy"
	"github.com/arlojex/tradepipe/ticks"
	"github.com/arlojex/tradepipe/zmqtransport"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions, err := store.NewSessionStore(cfg.SessionStorePath, cfg.SessionTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session store")
	}
	conditions, err := store.NewConditionStore(cfg.ConditionStorePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open condition store")
	}
	auditLog, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open audit log")
	}
	defer auditLog.Close()

	var health *cache.HealthCache
	health, err = cache.New(ctx, cache.ClientConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Warn().Err(err).Msg("health cache unavailable, component status will not be mirrored")
		health = nil
	}

	ports := lifecycle.Ports{
		TickPublish: portOf(cfg.TickPublishAddr),
		SignalPipe:  portOf(cfg.SignalPipeAddr),
		GatewayRPC:  portOf(cfg.GatewayRPCAddr),
	}
	if err := lifecycle.CheckPorts(ports); err != nil {
		log.Fatal().Err(err).Msg("preflight port check failed")
	}

	// Transport sockets. The tick publish and signal pipe addrs are bound
	// here (PUB and PULL sides); the gateway RPC addr is bound by the
	// Gateway Server itself.
	tickPub, err := zmqtransport.NewPublisher(ctx, cfg.TickPublishAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind tick publisher")
	}
	defer tickPub.Close()

	tickSub, err := zmqtransport.NewSubscriber(ctx, loopbackAddr(cfg.TickPublishAddr), zmqtransport.TickTopic)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect tick subscriber")
	}

	signalPusher, err := zmqtransport.NewSignalPusher(ctx, loopbackAddr(cfg.SignalPipeAddr))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect signal pusher")
	}
	signalPuller, err := zmqtransport.NewSignalPuller(ctx, cfg.SignalPipeAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind signal puller")
	}

	// producer.HandleTick is the registration point for the native broker
	// SDK's tick callback. No broker SDK is vendored here, so nothing
	// drives it in this build; the Tick Publisher still binds and is
	// ready to fan out whatever the host process feeds it.
	_ = ticks.NewProducer(tickPub)

	broker := execution.NewPaperBroker()
	if err := broker.Connect(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect broker")
	}

	gatewayServer := gateway.NewServer(cfg.GatewayRPCAddr, broker, auditLog, health)

	strategyEngine := strategy.NewEngine(tickSub, signalPusher, conditions)

	gatewayClient, err := gateway.NewClient(ctx, gateway.ClientConfig{
		ConnectAddr: loopbackAddr(cfg.GatewayRPCAddr),
		TimeoutMS:   int(cfg.GatewayTimeout / time.Millisecond),
		RetryCount:  cfg.GatewayRetryCount,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct gateway client")
	}
	orderExecutor := executor.NewExecutor(signalPuller, gatewayClient, sessions, 1)

	manager := lifecycle.NewManager(gatewayServer, strategyEngine, orderExecutor, ports, health)
	manager.SkipPreflight()

	if err := manager.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start supervised components")
	}

	var archiver *backup.Archiver
	if cfg.BackupEnabled {
		s3Client, err := backup.NewClient(ctx, backup.ClientConfig{
			Endpoint: cfg.BackupEndpoint,
			Region:   cfg.BackupRegion,
			Bucket:   cfg.BackupBucket,
			UseSSL:   true,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to construct backup client, backups disabled")
		} else {
			archiver = backup.NewArchiver(s3Client, cfg.BackupBucket, cfg.BackupInterval, map[string]string{
				"sessions":   cfg.SessionStorePath,
				"conditions": cfg.ConditionStorePath,
			})
			archiver.Start(ctx)
		}
	}

	feed := realtime.NewFeedHub()
	go feed.Run()

	router := api.NewRouter(cfg, conditions, sessions, health, feed)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("operator surface listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("operator surface stopped unexpectedly")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("operator surface shutdown error")
	}
	if archiver != nil {
		archiver.Stop()
	}
	manager.Stop(shutdownCtx)

	log.Info().Msg("shutdown complete")
}

// loopbackAddr rewrites a bind address ("tcp://*:PORT" or
// "tcp://0.0.0.0:PORT") into a connect address against localhost, for the
// in-process sockets that dial the sockets this same process just bound.
func loopbackAddr(bindAddr string) string {
	const wildcardAll = "tcp://0.0.0.0:"
	const wildcardStar = "tcp://*:"
	if len(bindAddr) > len(wildcardAll) && bindAddr[:len(wildcardAll)] == wildcardAll {
		return "tcp://127.0.0.1:" + bindAddr[len(wildcardAll):]
	}
	if len(bindAddr) > len(wildcardStar) && bindAddr[:len(wildcardStar)] == wildcardStar {
		return "tcp://127.0.0.1:" + bindAddr[len(wildcardStar):]
	}
	return bindAddr
}

// portOf extracts the trailing ":PORT" component of an address for the
// Lifecycle Manager's pre-flight port check.
func portOf(addr string) int {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			var port int
			fmt.Sscanf(addr[i+1:], "%d", &port)
			return port
		}
	}
	return 0
}
