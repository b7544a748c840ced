package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rpiotaix/userbundle/internal/database/migrations"
)

// Migrate applies the embedded goose migrations. Goose works on database/sql,
// so the pool's config is reopened through the pgx stdlib adapter.
func (db *DB) Migrate(ctx context.Context) error {
	sqlDB := stdlib.OpenDB(*db.Pool.Config().ConnConfig)
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if db.logger != nil {
		version, err := goose.GetDBVersionContext(ctx, sqlDB)
		if err == nil {
			db.logger.Info("database migrated", slog.Int64("version", version))
		}
	}
	return nil
}
