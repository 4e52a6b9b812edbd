package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	nats "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/quantapay/walletd/config"
	"github.com/quantapay/walletd/lock"
	"github.com/quantapay/walletd/metrics"
	"github.com/quantapay/walletd/store"
	"github.com/quantapay/walletd/transport"
	"github.com/quantapay/walletd/wallet"
)

var configPath = flag.String("config", "", "Path to config file (optional)")

func main() {
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("walletd exited", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return err
	}
	logger.Info("redis connected", "addr", cfg.Redis.Addr)

	kv := store.NewRedisKV(client)
	locks := lock.NewManager(kv,
		lock.WithTTL(cfg.Lock.TTL()),
		lock.WithRetryDelay(cfg.Lock.RetryDelay()),
		lock.WithMaxRetries(cfg.Lock.MaxRetries),
		lock.WithLogger(logger),
	)
	engine := wallet.NewEngine(wallet.NewStore(client), locks, logger)
	handler := func(ctx context.Context, req wallet.TransferRequest) wallet.Result {
		return engine.Process(ctx, req)
	}
	dedup := transport.NewDedup(kv, 0)

	reg := metrics.NewRegistry()
	metrics.RegisterCoreMetrics(reg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		switch cfg.Transport.Kind {
		case "nats":
			conn, err := nats.Connect(cfg.NATS.URL)
			if err != nil {
				return err
			}
			defer conn.Close()
			logger.Info("consuming transfer requests", "transport", "nats", "url", cfg.NATS.URL)
			return transport.NewNATS(conn, handler,
				transport.WithNATSDedup(dedup),
				transport.WithNATSLogger(logger),
			).Run(ctx)
		default:
			k, err := transport.NewKafka(cfg.Kafka.Brokers, handler,
				transport.WithKafkaTopics(cfg.Kafka.Topic.Request, cfg.Kafka.Topic.Completed),
				transport.WithKafkaDedup(dedup),
				transport.WithKafkaLogger(logger),
			)
			if err != nil {
				return err
			}
			defer k.Close()
			logger.Info("consuming transfer requests", "transport", "kafka", "brokers", cfg.Kafka.Brokers)
			return k.Run(ctx)
		}
	})
	g.Go(func() error {
		logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
