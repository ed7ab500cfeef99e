package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rtmp-ingest-core/internal/auth"
	"rtmp-ingest-core/internal/circuit"
	"rtmp-ingest-core/internal/config"
	"rtmp-ingest-core/internal/httpserver"
	"rtmp-ingest-core/internal/logger"
	"rtmp-ingest-core/internal/middleware"
	"rtmp-ingest-core/internal/pool"
	"rtmp-ingest-core/internal/retry"
	"rtmp-ingest-core/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to JSON config file")
	listen := flag.String("listen", "", "Listen address (overrides config)")
	httpAddr := flag.String("http-addr", "", "HTTP listen address for health/metrics (empty to disable)")
	recvTimeout := flag.Duration("recv-timeout", 0, "Read timeout for connections (e.g., 30s)")
	readBuf := flag.Int("read-buffer", 0, "Read buffer size in bytes")
	writeBuf := flag.Int("write-buffer", 0, "Write buffer size in bytes")
	flag.Parse()

	log := logger.New()

	baseCfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.LoadFile(*cfgPath)
		if err != nil {
			log.Fatal("failed to load config", "err", err)
		}
		baseCfg = loaded
	}

	if *listen != "" {
		baseCfg.ListenAddr = *listen
	}
	if *httpAddr != "" {
		baseCfg.HTTPAddr = *httpAddr
	}
	if *recvTimeout > 0 {
		baseCfg.RecvTimeout = config.Duration(*recvTimeout)
	}
	if *readBuf > 0 {
		baseCfg.ReadBuffer = *readBuf
	}
	if *writeBuf > 0 {
		baseCfg.WriteBuffer = *writeBuf
	}

	if err := baseCfg.Validate(); err != nil {
		log.Fatal("invalid config", "err", err)
	}

	var authenticator *auth.StreamTokenAuthenticator
	if baseCfg.Security.AuthEnabled {
		authenticator = auth.NewTokenAuthenticator(baseCfg.Security.AuthTokens)
	}

	var tlsConfig *tls.Config
	if baseCfg.Security.TLSEnabled {
		cert, err := tls.LoadX509KeyPair(baseCfg.Security.TLSCert, baseCfg.Security.TLSKey)
		if err != nil {
			log.Fatal("failed to load TLS key pair", "err", err)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	var rateLimiter *middleware.RateLimiter
	if baseCfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(baseCfg.RateLimit.RequestsPerSec, baseCfg.RateLimit.Burst)
		defer rateLimiter.Stop()
	}

	var connLimiter *middleware.ConnectionLimiter
	if baseCfg.ConnectionLimit.MaxTotal > 0 || baseCfg.ConnectionLimit.MaxPerIP > 0 {
		connLimiter = middleware.NewConnectionLimiter(baseCfg.ConnectionLimit.MaxTotal, baseCfg.ConnectionLimit.MaxPerIP)
	}

	var breaker *circuit.Breaker
	if baseCfg.CircuitBreaker.Enabled {
		resetTimeout := time.Duration(baseCfg.CircuitBreaker.ResetTimeoutSec) * time.Second
		if resetTimeout <= 0 {
			resetTimeout = 30 * time.Second
		}
		maxFailures := baseCfg.CircuitBreaker.MaxFailures
		if maxFailures <= 0 {
			maxFailures = 5
		}
		successThresh := baseCfg.CircuitBreaker.SuccessThresh
		if successThresh <= 0 {
			successThresh = 1
		}
		breaker = circuit.New(maxFailures, resetTimeout, successThresh)
	}

	retryCfg := retry.DefaultConfig()
	if baseCfg.Retry.Enabled {
		retryCfg = retry.Config{
			MaxAttempts:  baseCfg.Retry.MaxAttempts,
			InitialDelay: time.Duration(baseCfg.Retry.InitialDelaySec) * time.Second,
			MaxDelay:     time.Duration(baseCfg.Retry.MaxDelaySec) * time.Second,
			Multiplier:   baseCfg.Retry.Multiplier,
		}
	}

	bufPool := pool.New(baseCfg.ReadBuffer)

	srvCfg := server.Config{
		ListenAddr:             baseCfg.ListenAddr,
		MaxConnections:         baseCfg.MaxConnections,
		RecvTimeout:            time.Duration(baseCfg.RecvTimeout),
		InboundChunkSizeCap:    baseCfg.InboundChunkSizeCap,
		WindowAckSize:          baseCfg.WindowAckSize,
		PeerBandwidth:          baseCfg.PeerBandwidth,
		PeerBandwidthLimitType: baseCfg.PeerBandwidthLimitType,
		MaxMessageSize:         baseCfg.MaxMessageSize,
		MonitorInterval:        time.Duration(baseCfg.MonitorInterval),
	}

	srv := server.New(srvCfg, log)
	srv.Auth = authenticator
	srv.RateLimit = rateLimiter
	srv.ConnLimit = connLimiter
	srv.CircuitBreaker = breaker
	srv.BufPool = bufPool
	srv.RetryConfig = retryCfg
	srv.TLSConfig = tlsConfig

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if baseCfg.HTTPAddr != "" {
		httpSrv := httpserver.New(baseCfg.HTTPAddr, log, &httpserver.IngestStats{
			ConnLimiter:    connLimiter,
			RateLimit:      rateLimiter,
			CircuitBreaker: breaker,
			BufferPool:     bufPool,
			Registry:       srv.Registry,
		}, tlsConfig)
		go func() {
			if err := httpSrv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("http server error", "err", err)
			}
		}()
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down", "reason", ctx.Err())
	case err := <-errs:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	}

	drainTimeout := 10 * time.Second
	drainInterval := time.Second
	drainStart := time.Now()

	log.Info("draining connections", "timeout", drainTimeout)

	for {
		elapsed := time.Since(drainStart)
		if elapsed >= drainTimeout {
			log.Warn("drain timeout reached, forcing shutdown", "elapsed", elapsed)
			break
		}

		if srv.Registry.Count() == 0 {
			log.Info("all connections drained", "elapsed", elapsed)
			break
		}
		log.Info("waiting for connections to close", "active", srv.Registry.Count(), "elapsed", elapsed, "remaining", drainTimeout-elapsed)

		time.Sleep(drainInterval)
	}

	log.Info("shutdown complete", "total_drain_time", time.Since(drainStart))
}
