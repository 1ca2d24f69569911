package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/Boardroom/internal/adapter/cachedstore"
	"github.com/Strob0t/Boardroom/internal/adapter/memory"
	cfnats "github.com/Strob0t/Boardroom/internal/adapter/nats"
	"github.com/Strob0t/Boardroom/internal/adapter/natskv"
	"github.com/Strob0t/Boardroom/internal/adapter/postgres"
	"github.com/Strob0t/Boardroom/internal/adapter/ristretto"
	"github.com/Strob0t/Boardroom/internal/adapter/tiered"
	"github.com/Strob0t/Boardroom/internal/config"
	"github.com/Strob0t/Boardroom/internal/port/artifactstore"
	"github.com/Strob0t/Boardroom/internal/port/cache"
)

// infra holds the opened backing services and their cleanup.
type infra struct {
	store  artifactstore.Store
	queue  *cfnats.Queue
	ping   func(ctx context.Context) error
	closes []func()
}

func (in *infra) onClose(fn func()) { in.closes = append(in.closes, fn) }

// Close releases everything in reverse opening order.
func (in *infra) Close() {
	for i := len(in.closes) - 1; i >= 0; i-- {
		in.closes[i]()
	}
}

// openStore opens the configured artifact store. Postgres migrations are
// applied when migrate is set.
func openStore(ctx context.Context, cfg *config.Config, migrate bool) (*infra, error) {
	in := &infra{}
	switch cfg.Store.Backend {
	case "memory":
		in.store = memory.New(memory.WithPageSize(cfg.Store.PageSize))
		in.ping = func(context.Context) error { return nil }
		slog.Warn("using in-memory artifact store, nothing survives a restart")
	case "postgres":
		if migrate {
			if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
				return nil, fmt.Errorf("migrations: %w", err)
			}
			slog.Info("migrations applied")
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		in.onClose(pool.Close)
		in.store = postgres.NewArtifactStore(pool, cfg.Store.PageSize)
		in.ping = pool.Ping
		slog.Info("postgres connected", "max_conns", cfg.Postgres.MaxConns)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	return in, nil
}

// connectQueue connects to NATS when a URL is configured.
func (in *infra) connectQueue(ctx context.Context, cfg config.NATS) error {
	if cfg.URL == "" {
		slog.Info("nats disabled, events stay in process")
		return nil
	}
	q, err := cfnats.Connect(ctx, cfg.URL, cfg.Stream)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	in.queue = q
	in.onClose(func() {
		if err := q.Drain(); err != nil {
			slog.Warn("nats drain", "error", err)
		}
	})
	slog.Info("nats connected", "url", cfg.URL, "stream", cfg.Stream)
	return nil
}

// kvBucket opens a JetStream KV bucket, or returns nil without NATS.
func (in *infra) kvBucket(ctx context.Context, bucket string, ttl time.Duration) cache.Cache {
	if in.queue == nil || bucket == "" {
		return nil
	}
	kv, err := natskv.Open(ctx, in.queue.JetStream(), bucket, ttl)
	if err != nil {
		slog.Warn("kv bucket unavailable", "bucket", bucket, "error", err)
		return nil
	}
	return kv
}

// wrapCache puts the sealed-artifact cache in front of the store: ristretto
// in process, backed by a JetStream KV bucket when NATS is connected.
func (in *infra) wrapCache(ctx context.Context, cfg config.Cache) error {
	if !cfg.Enabled {
		return nil
	}
	l1, err := ristretto.New(cfg.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	in.onClose(l1.Close)

	var c cache.Cache = l1
	if l2 := in.kvBucket(ctx, cfg.L2Bucket, cfg.L2TTL); l2 != nil {
		c = tiered.New(l1, l2, cfg.L1TTL)
	}
	in.store = cachedstore.New(in.store, c, cfg.L2TTL)
	slog.Info("artifact cache enabled", "l1_mb", cfg.L1MaxSizeMB, "l2", in.queue != nil)
	return nil
}

// natsHealthy reports whether the NATS connection is up.
func (in *infra) natsHealthy(context.Context) error {
	if in.queue.IsConnected() {
		return nil
	}
	return errors.New("nats disconnected")
}
