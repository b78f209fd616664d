package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ineyio/askgate"
	authmock "github.com/ineyio/askgate/authority/mock"
	"github.com/ineyio/askgate/authority/storeapi"
	"github.com/ineyio/askgate/cache"
	filecache "github.com/ineyio/askgate/cache/file"
	pgcache "github.com/ineyio/askgate/cache/postgres"
	rediscache "github.com/ineyio/askgate/cache/redis"
	sqlitecache "github.com/ineyio/askgate/cache/sqlite"
	"github.com/ineyio/askgate/endpoint/chathttp"
	openaiep "github.com/ineyio/askgate/endpoint/openai"
	"github.com/ineyio/askgate/flags"
	fileflags "github.com/ineyio/askgate/flags/file"
	redisflags "github.com/ineyio/askgate/flags/redis"
	"github.com/ineyio/askgate/internal/config"
	"github.com/ineyio/askgate/internal/questions"
	"github.com/ineyio/askgate/meter"
)

// app is the composition root shared by every subcommand.
type app struct {
	cfg          config.Config
	logger       *zap.Logger
	registry     *prometheus.Registry
	service      *askgate.Service
	entitlements *askgate.EntitlementSync
	catalog      *questions.Catalog
	closers      []func() error
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}

	loc, err := cfg.Gateway.Location()
	if err != nil {
		return nil, err
	}

	respCache, flagStore, err := a.buildStorage(ctx, loc)
	if err != nil {
		a.Close()
		return nil, err
	}

	endpoints, err := buildEndpoints(cfg.Gateway.Endpoints)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom, err := meter.NewPromMeter(a.registry)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	opts := []askgate.Option{
		askgate.WithResponseCache(respCache),
		askgate.WithFlagStore(flagStore),
		askgate.WithMeter(meter.Multi{prom, meter.NewLogMeter(logger)}),
		askgate.WithLogger(logger),
		askgate.WithLocation(loc),
	}

	a.service, err = askgate.NewService(cfg.Gateway, endpoints, opts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create gateway: %w", err)
	}

	authority, err := buildAuthority(cfg.Authority, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if authority != nil {
		a.entitlements = askgate.NewEntitlementSync(cfg.Gateway, authority, a.service.Ledger(),
			askgate.WithLogger(logger))
	}

	a.catalog, err = questions.Load(cfg.Questions.Path)
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("gateway ready",
		zap.String("namespace", cfg.Gateway.Namespace),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("authority", cfg.Authority.Driver),
		zap.Strings("endpoints", a.service.Endpoints()),
	)
	return a, nil
}

// Close releases storage connections in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close", zap.Error(err))
		}
	}
	a.closers = nil
}

// buildStorage picks the cache and flag backends for the storage driver.
// Postgres and SQLite keep flags in the file store next to the data dir.
func (a *app) buildStorage(ctx context.Context, loc *time.Location) (askgate.ResponseCache, askgate.FlagStore, error) {
	sc := a.cfg.Storage

	switch sc.Driver {
	case config.DriverMemory:
		return cache.NewMemoryCache(), flags.NewMemoryStore(), nil

	case config.DriverFile:
		c, err := filecache.New(sc.Dir, filecache.WithLocation(loc))
		if err != nil {
			return nil, nil, err
		}
		f, err := a.fileFlags()
		if err != nil {
			return nil, nil, err
		}
		return c, f, nil

	case config.DriverRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPass,
			DB:       sc.RedisDB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connect to redis %s: %w", sc.RedisAddr, err)
		}
		c := rediscache.New(client,
			rediscache.WithKeyPrefix(sc.KeyPrefix+"cache:"),
			rediscache.WithLocation(loc),
		)
		return c, redisflags.New(client, redisflags.WithKeyPrefix(sc.KeyPrefix+"flags:")), nil

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, sc.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		c := pgcache.New(pool)
		if err := c.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		f, err := a.fileFlags()
		if err != nil {
			return nil, nil, err
		}
		return c, f, nil

	case config.DriverSQLite:
		c, err := sqlitecache.Open(ctx, sc.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, c.Close)
		f, err := a.fileFlags()
		if err != nil {
			return nil, nil, err
		}
		return c, f, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
}

func (a *app) fileFlags() (*fileflags.Store, error) {
	return fileflags.New(filepath.Join(a.cfg.Storage.Dir, "flags.json"), fileflags.WithLogger(a.logger))
}

func buildEndpoints(cfgs []askgate.EndpointConfig) ([]askgate.Endpoint, error) {
	out := make([]askgate.Endpoint, 0, len(cfgs))
	for _, ec := range cfgs {
		switch ec.Kind {
		case askgate.EndpointKindChat, "":
			var opts []chathttp.Option
			if ec.APIKey != "" {
				opts = append(opts, chathttp.WithAPIKey(ec.APIKey))
			}
			out = append(out, chathttp.New(ec.Name, ec.URL, opts...))
		case askgate.EndpointKindOpenAI:
			out = append(out, openaiep.New(openaiep.Config{
				Name:    ec.Name,
				APIKey:  ec.APIKey,
				BaseURL: ec.URL,
			}))
		default:
			return nil, fmt.Errorf("endpoint %q: unknown kind %q", ec.Name, ec.Kind)
		}
	}
	return out, nil
}

// buildAuthority returns nil when no authority is configured.
func buildAuthority(ac config.AuthorityConfig, logger *zap.Logger) (askgate.PurchaseAuthority, error) {
	switch ac.Driver {
	case config.AuthorityNone:
		return nil, nil
	case config.AuthorityMock:
		return authmock.New(), nil
	case config.AuthorityStoreAPI:
		pem, err := os.ReadFile(filepath.Clean(ac.PublicKeyPath))
		if err != nil {
			return nil, fmt.Errorf("read authority public key: %w", err)
		}
		v, err := storeapi.NewVerifier(pem)
		if err != nil {
			return nil, err
		}
		opts := []storeapi.Option{storeapi.WithLogger(logger)}
		if ac.Token != "" {
			opts = append(opts, storeapi.WithToken(ac.Token))
		}
		return storeapi.New(ac.BaseURL, v, opts...), nil
	}
	return nil, errors.New("unknown authority driver " + ac.Driver)
}
