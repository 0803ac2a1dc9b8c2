package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"private_feed/internal/config"
	"private_feed/internal/repository"
	"private_feed/internal/repository/badgerstore"
	"private_feed/internal/repository/memstore"
	"private_feed/internal/repository/mongostore"
	redisSvc "private_feed/internal/service/redis"
	"private_feed/internal/service/server"
	"private_feed/internal/utils/log"
)

func main() {
	var (
		cfgPath string
		listen  string
		backend string
	)

	root := &cobra.Command{
		Use:          "feed-server",
		Short:        "Document store service for private feeds",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath, !cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			if backend != "" {
				cfg.Store.Backend = backend
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			if err := log.Init(cfg.Log); err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", "config.yaml", "config file")
	root.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	root.Flags().StringVar(&backend, "store", "", "store backend: memory, mongo or badger")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var redis *redisSvc.RedisService
	if cfg.Redis.Addr != "" {
		redis, err = redisSvc.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redis.Close()
	}

	log.Info("starting document store",
		zap.String("backend", cfg.Store.Backend),
		zap.Bool("redis", redis != nil))
	return server.NewHttpServer(store, redis).Run(ctx, cfg.Server.Listen)
}

func openStore(ctx context.Context, cfg config.Config) (repository.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendMongo:
		client, err := initMongo(cfg.Mongo.URI)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		store := mongostore.New(client.Database(cfg.Mongo.Database))
		if err := store.EnsureIndexes(ctx); err != nil {
			client.Disconnect(context.Background())
			return nil, nil, err
		}
		return store, func() { client.Disconnect(context.Background()) }, nil

	case config.BackendBadger:
		store, err := badgerstore.Open(cfg.Badger.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger: %w", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Error("close badger failed", zap.Error(err))
			}
		}, nil
	}
	return memstore.New(), func() {}, nil
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
