package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"cafeorders/internal/config"
	httpapi "cafeorders/internal/http"
	"cafeorders/internal/notify"
	"cafeorders/internal/relay"
	"cafeorders/internal/repository"
	"cafeorders/internal/service"
	"cafeorders/internal/ws"

	_ "cafeorders/docs"
)

// @title Cafe Orders API
// @version 1.0
// @description Order lifecycle, stock, delivery tracking and chat for a coffee retailer.
// @BasePath /api/v1
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := newLogger(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var cache service.PositionCache
	if cfg.Redis.Enabled {
		rc, err := repository.NewRedisPositionCache(ctx, cfg.Redis)
		if err != nil {
			// позиции читаются из базы, если кеш недоступен
			log.Warn("redis unavailable, position cache disabled", "error", err)
		} else {
			defer rc.Close()
			cache = rc
		}
	}

	var opts []notify.Option
	if r, err := openRelay(cfg.Relay, log); err != nil {
		return err
	} else if r != nil {
		opts = append(opts, notify.WithRelay(r, 1024))
	}
	broker := notify.NewBroker(log, opts...)

	orders := service.NewOrderService(store, broker, log)
	chat := service.NewChatService(store.Customers, store.Messages, broker, log)
	srv := httpapi.NewServer(httpapi.Services{
		Orders:    orders,
		Stock:     service.NewStockService(store.Stock, log),
		Tracking:  service.NewTrackingService(store, cache, broker, log),
		Chat:      chat,
		Directory: service.NewDirectoryService(store.Customers, store.Drivers, cache, log),
		Realtime:  ws.NewHub(broker, chat, orders, cfg.WSSendBuffer, log),
	}, log)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Engine(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return broker.Run(gctx)
	})
	g.Go(func() error {
		log.Info("HTTP server listening", "addr", httpServer.Addr, "store", cfg.Store, "relay", cfg.Relay.Kind)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*repository.Store, func(), error) {
	if cfg.Store == config.StorePostgres {
		pg, err := repository.NewPostgres(ctx, cfg.Database, log)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := pg.InitSchema(ctx); err != nil {
				pg.Close()
				return nil, nil, err
			}
		}
		return pg.Store(), pg.Close, nil
	}

	store, mem := repository.NewMemory()
	for productType, qty := range map[string]int64{"paquet": 100, "sac": 10} {
		if _, err := mem.UpsertAdd(ctx, productType, qty); err != nil {
			return nil, nil, err
		}
	}
	log.Info("using in-memory store")
	return store, func() {}, nil
}

func openRelay(cfg config.RelayConfig, log *slog.Logger) (notify.Relay, error) {
	switch cfg.Kind {
	case config.RelayAMQP:
		return relay.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, log)
	case config.RelayKafka:
		log.Info("kafka relay enabled", "broker", cfg.KafkaBroker, "topic", cfg.KafkaTopic)
		return relay.NewKafkaRelay(relay.NewKafkaWriter(cfg.KafkaBroker, cfg.KafkaTopic), log), nil
	default:
		return nil, nil
	}
}
