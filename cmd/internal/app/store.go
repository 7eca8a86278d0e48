package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"roomgate/cmd/internal/lease"
)

// backend owns the code store and whatever connection resources sit behind it.
type backend struct {
	kind  string
	store lease.Store
	pool  *pgxpool.Pool
	ping  func(ctx context.Context) error
}

// openBackend picks Postgres (DatabaseURL), then SQLite (SQLitePath), then the in-memory store.
func openBackend(ctx context.Context, cfg Config, log Logger) (*backend, error) {
	switch {
	case cfg.DatabaseURL != "":
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		st, err := lease.NewPostgresStore(pool, lease.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
		return &backend{
			kind:  "postgres",
			store: st,
			pool:  pool,
			ping:  func(ctx context.Context) error { return PingDB(ctx, pool, 2*time.Second) },
		}, nil

	case cfg.SQLitePath != "":
		st, err := lease.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		log.Info("db.enabled.sqlite_store", "path", cfg.SQLitePath)
		return &backend{kind: "sqlite", store: st, ping: st.Ping}, nil

	default:
		log.Warn("db.disabled.inmemory_store")
		return &backend{kind: "memory", store: lease.NewInMemoryStore()}, nil
	}
}

func (b *backend) durable() bool { return b.ping != nil }

func (b *backend) Close() error {
	err := b.store.Close()
	if b.pool != nil {
		b.pool.Close()
	}
	return err
}
