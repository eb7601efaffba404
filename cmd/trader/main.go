package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/veilmarkets/veil-trader/internal/api"
	"github.com/veilmarkets/veil-trader/internal/app"
	"github.com/veilmarkets/veil-trader/internal/config"
	"github.com/veilmarkets/veil-trader/internal/ledger"
	"github.com/veilmarkets/veil-trader/internal/metrics"
	"github.com/veilmarkets/veil-trader/internal/oracle"
	"github.com/veilmarkets/veil-trader/internal/prover"
	"github.com/veilmarkets/veil-trader/internal/store"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil {
		log.Warnf("config file: %v, using defaults", err)
		cfg = config.Default()
	}
	cfg.ApplyEnv()

	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatalf("position cache: %v", err)
	}
	defer cleanup()

	gw := ledger.NewGateway(cfg.GatewayURL, common.HexToAddress(cfg.Account))
	prv := prover.NewHTTPClient(cfg.ProverURL)
	quotes := oracle.NewCache(cfg.Oracle.TTL)
	feed := oracle.NewFeed(cfg.OracleWSURL, cfg.Markets, quotes, log)

	a := app.New(cfg, gw, prv, st, quotes, feed, log)

	log.WithFields(logrus.Fields{
		"account": a.Account().Hex(),
		"gateway": cfg.GatewayURL,
		"prover":  cfg.ProverURL,
		"cache":   cfg.Cache.Backend,
		"markets": cfg.Markets,
	}).Info("veil-trader starting")

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(cfg.Metrics.Addr); err != nil {
				log.Warnf("metrics server: %v", err)
			}
		}()
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API.Addr, a, quotes)
		if err := apiServer.Start(ctx); err != nil {
			log.Warnf("api server failed to start: %v", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := a.Run(ctx); err != nil && err != context.Canceled {
		log.Errorf("run error: %v", err)
	}

	if apiServer != nil {
		_ = apiServer.Shutdown(context.Background())
	}
	log.Info("veil-trader stopped")
}

// buildStore wires the position cache backend selected in config.
// The returned cleanup closes any underlying connection pool.
func buildStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.Cache.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}
		return store.NewRedisStore(rdb), func() { _ = rdb.Close() }, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Cache.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pg, pool.Close, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}
