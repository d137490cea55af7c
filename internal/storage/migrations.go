package storage

import (
	"context"

	"github.com/FooledKiwi/busstop-api/internal/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// RunMigrations applies all pending PostgreSQL migrations and verifies the
// schema. The SQLite backend creates its schema in OpenSQLite instead.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	if err := migrations.Run(ctx, pool, logger); err != nil {
		return err
	}
	return migrations.CheckSchema(ctx, pool)
}
