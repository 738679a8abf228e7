package main

import (
	"context"
	"os"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/opsprofile/internal/db"
	"github.com/sells-group/opsprofile/internal/store"
	sfpkg "github.com/sells-group/opsprofile/pkg/salesforce"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "opsprofile.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initRedis returns nil when no URL is configured.
func initRedis(ctx context.Context) (*redis.Client, error) {
	if cfg.Redis.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, eris.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "ping redis")
	}
	return rdb, nil
}

func initSalesforce() (sfpkg.Client, error) {
	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf), nil
}
