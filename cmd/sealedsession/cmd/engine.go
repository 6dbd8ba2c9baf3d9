package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jmcleod/sealedsession/config"
	"github.com/jmcleod/sealedsession/internal/util"
	"github.com/jmcleod/sealedsession/session"
	"github.com/jmcleod/sealedsession/storage"
	bboltstorage "github.com/jmcleod/sealedsession/storage/bbolt"
	"github.com/jmcleod/sealedsession/storage/memory"
	"github.com/jmcleod/sealedsession/storage/postgres"
	redisstorage "github.com/jmcleod/sealedsession/storage/redis"
)

// openStore opens the store selected by cfg.Store.Driver. The caller owns
// the result and must Close it.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverBBolt:
		if dir := filepath.Dir(cfg.Store.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		return bboltstorage.NewFromFile(cfg.Store.Path, nil)
	case config.DriverPostgres:
		return postgres.NewFromDSN(ctx, cfg.Store.DSN)
	case config.DriverRedis:
		var opts []redisstorage.Option
		if cfg.Store.RedisKey != "" {
			opts = append(opts, redisstorage.WithKey(cfg.Store.RedisKey))
		}
		return redisstorage.NewFromOptions(&goredis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		}, opts...), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// openEngine builds and initializes an engine over store.
func openEngine(ctx context.Context, cfg *config.Config, store storage.Store, logger *slog.Logger) (*session.Engine, error) {
	secret, err := cfg.ReadMasterSecret()
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(secret)

	hasher, err := cfg.Hasher()
	if err != nil {
		return nil, err
	}
	engine, err := session.New(secret, store,
		session.WithLogger(logger),
		session.WithHasher(hasher))
	if err != nil {
		return nil, err
	}
	if err := engine.Init(ctx); err != nil {
		return nil, err
	}
	return engine, nil
}
