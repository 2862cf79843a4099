// Package storage opens the repository named by a database URL: PostgreSQL
// for postgres:// URLs, a SQLite file otherwise.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jusunglee/kaitoribot/internal/db"
	"github.com/jusunglee/kaitoribot/internal/db/postgres"
	"github.com/jusunglee/kaitoribot/internal/db/sqlite"
	"github.com/jusunglee/kaitoribot/internal/metrics"
)

const poolStatsInterval = 15 * time.Second

// Open connects to databaseURL. For PostgreSQL it also exports pool stats as
// Prometheus gauges until ctx is done.
func Open(ctx context.Context, databaseURL string, log *slog.Logger) (db.Repository, error) {
	if !db.IsPostgresURL(databaseURL) {
		repo, err := sqlite.New(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening SQLite database: %w", err)
		}
		log.InfoContext(ctx, "using SQLite database", "path", databaseURL)
		return repo, nil
	}

	repo, err := postgres.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating PostgreSQL connection: %w", err)
	}
	log.InfoContext(ctx, "connected to PostgreSQL database")

	go func() {
		ticker := time.NewTicker(poolStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s := repo.PoolStats()
				metrics.DBPoolTotalConns.Set(float64(s.TotalConns()))
				metrics.DBPoolIdleConns.Set(float64(s.IdleConns()))
				metrics.DBPoolAcquiredConns.Set(float64(s.AcquiredConns()))
				metrics.DBPoolMaxConns.Set(float64(s.MaxConns()))
			case <-ctx.Done():
				return
			}
		}
	}()
	return repo, nil
}
