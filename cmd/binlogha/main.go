package main

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/mehmetymw/binlogha/internal/arbiter"
	"github.com/mehmetymw/binlogha/internal/cdc/mysql"
	"github.com/mehmetymw/binlogha/internal/checkpoint"
	"github.com/mehmetymw/binlogha/internal/config"
	"github.com/mehmetymw/binlogha/internal/dispatch"
	"github.com/mehmetymw/binlogha/internal/heartbeat"
	"github.com/mehmetymw/binlogha/internal/metrics"
	"github.com/mehmetymw/binlogha/internal/node"
	"github.com/mehmetymw/binlogha/internal/schema"
	"github.com/mehmetymw/binlogha/internal/sink/kafka"
	"github.com/mehmetymw/binlogha/internal/sink/nats"
	"github.com/mehmetymw/binlogha/internal/types"
)

type closableSubscriber interface {
	types.Subscriber
	io.Closer
}

func main() {
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	logger, _ := zapConfig.Build()

	defer logger.Sync()

	logger.Info("Starting binlogha")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	logger.Info("Configuration loaded successfully",
		zap.String("node", cfg.Node.Name),
		zap.String("checkpoint_type", cfg.Checkpoint.Type),
		zap.String("arbiter_type", cfg.Arbiter.Type),
		zap.String("peer", cfg.Heartbeat.Peer),
		zap.Int("subscribers", len(cfg.Subscribers)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := newStore(cfg.Checkpoint, logger)
	if err != nil {
		logger.Fatal("checkpoint store init failed", zap.Error(err))
	}
	defer closeStore()

	lock, closeLock, err := newLock(cfg.Arbiter, logger)
	if err != nil {
		logger.Fatal("arbiter init failed", zap.Error(err))
	}
	arb := arbiter.New(lock, logger)
	defer func() {
		logger.Info("Closing arbiter")
		if err := arb.Close(); err != nil {
			logger.Warn("Failed to release arbitration", zap.Error(err))
		}
		closeLock()
	}()

	var db *sql.DB
	if cfg.Schema.DSN != "" {
		db, err = schema.Open(cfg.Schema.DSN)
		if err != nil {
			logger.Fatal("schema database init failed", zap.Error(err))
		}
		defer db.Close()
	}
	registry, err := schema.Load(ctx, db, cfg.Schema.Tables, logger)
	if err != nil {
		logger.Fatal("schema load failed", zap.Error(err))
	}
	logger.Info("Table schemas loaded", zap.Int("tables", registry.Len()))

	engine := dispatch.NewEngine(store, registry, logger)
	for _, sc := range cfg.Subscribers {
		sub, err := newSubscriber(sc, logger)
		if err != nil {
			logger.Fatal("subscriber init failed",
				zap.String("table", sc.Table),
				zap.Error(err))
		}
		defer func() {
			if err := sub.Close(); err != nil {
				logger.Warn("Failed to close subscriber", zap.Error(err))
			}
		}()
		engine.Register(sc.Database, sc.Table, sub)
	}

	source := mysql.New(cfg.Source, logger)
	n := node.New(cfg.Node.Name, arb, store, engine, source, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	hbServer := heartbeat.NewServer(cfg.Heartbeat.Listen, n.Handler(), logger)
	var reporter *heartbeat.Reporter
	if cfg.Heartbeat.Peer != "" {
		reporter = heartbeat.NewReporter(cfg.Heartbeat.Peer, n.Handler(), logger)
	} else {
		logger.Warn("No heartbeat peer configured, running without a standby")
	}
	monitor := heartbeat.NewMonitor(heartbeat.MonitorConfig{
		ReaderIdle:   cfg.Heartbeat.ReaderIdle(),
		WriterIdle:   cfg.Heartbeat.WriterIdle(),
		StartupGrace: cfg.Heartbeat.StartupGrace(),
	}, n.Handler(), reporter, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := hbServer.ListenAndServe(); err != nil {
			logger.Error("Heartbeat server failed", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: node.AdminRoutes(n, reg)}
	logger.Info("Starting HTTP server", zap.String("addr", cfg.HTTP.Addr))
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("Application started successfully, waiting for signals")

	var lost <-chan struct{}
	if el, ok := lock.(*arbiter.EtcdLock); ok {
		lost = el.Done()
	}
	select {
	case <-quit:
	case <-lost:
		logger.Error("Arbitration session expired, shutting down")
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()

	logger.Info("Stopping binlog source")
	n.Stop()

	if err := hbServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Heartbeat server shutdown error", zap.Error(err))
	}
	logger.Info("Shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("All goroutines finished successfully")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached, forcing exit")
	}

	logger.Info("Shutdown complete")
}

func newStore(cfg config.CheckpointConfig, logger *zap.Logger) (checkpoint.Store, func(), error) {
	logger.Info("Initializing checkpoint store",
		zap.String("type", cfg.Type),
		zap.String("dir", cfg.Dir))
	switch cfg.Type {
	case "pebble":
		s, err := checkpoint.NewPebbleStore(cfg.Dir, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("Failed to close checkpoint store", zap.Error(err))
			}
		}, nil
	case "file":
		s, err := checkpoint.NewFileStore(cfg.Dir, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		return nil, nil, errors.Errorf("unknown checkpoint type %q", cfg.Type)
	}
}

// newLock returns the arbitration lock and a func closing whatever client
// backs it.
func newLock(cfg config.ArbiterConfig, logger *zap.Logger) (arbiter.Lock, func(), error) {
	switch cfg.Type {
	case "etcd":
		logger.Info("Connecting to etcd", zap.Strings("endpoints", cfg.Endpoints))
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Endpoints,
			DialTimeout: 5 * time.Second,
			Logger:      logger.Named("etcd"),
		})
		if err != nil {
			return nil, nil, errors.Annotate(err, "connect etcd")
		}
		lock, err := arbiter.NewEtcdLock(cli, cfg.Prefix, cfg.TTLSeconds, logger)
		if err != nil {
			cli.Close()
			return nil, nil, err
		}
		return lock, func() { cli.Close() }, nil
	case "local":
		logger.Warn("Using in-process arbitration, only one replica can run safely")
		return arbiter.NewLocalLock(), func() {}, nil
	default:
		return nil, nil, errors.Errorf("unknown arbiter type %q", cfg.Type)
	}
}

func newSubscriber(cfg config.Subscriber, logger *zap.Logger) (closableSubscriber, error) {
	switch cfg.Type {
	case "kafka":
		return kafka.New(cfg.Brokers, cfg.Topic, cfg.Database, logger), nil
	case "nats":
		s, err := nats.New(cfg.URL, cfg.Subject, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.Errorf("unknown subscriber type %q", cfg.Type)
	}
}
