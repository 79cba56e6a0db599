package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do/v2"
	"github.com/transkriptor/backend/internal/config"
	"github.com/transkriptor/backend/internal/history"
	"github.com/transkriptor/backend/internal/observability"
)

const databaseInitTimeout = 15 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (history.Store, error) {
		cfg := do.MustInvoke[*config.Config](i)
		metrics := do.MustInvoke[*observability.Metrics](i)
		if !cfg.HasDatabase() {
			slog.Warn("DATABASE_URL not set, history runs in-memory and is lost on restart")
			metrics.HistoryFallback.Set(1)
			return NewMemoryStore(), nil
		}
		store, err := connectPostgres(cfg.DatabaseURL)
		if err != nil {
			slog.Warn("database unavailable, history degraded to in-memory mode and is lost on restart",
				slog.String("error", err.Error()))
			metrics.HistoryFallback.Set(1)
			return NewMemoryStore(), nil
		}
		slog.Info("history store connected to database")
		return store, nil
	})
}

func connectPostgres(databaseURL string) (history.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
	defer cancel()

	p, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := RunMigration(ctx, p); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to run migration: %w", err)
	}
	return NewPostgresStore(p), nil
}
