package database

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"DeIDPlatform/pkg/logger"
)

// Migrate применяет goose миграции из fsys к базе пула.
// fsys должен содержать *.sql файлы в корне.
func (p *Postgres) Migrate(ctx context.Context, fsys fs.FS, log logger.Logger) error {
	if p.Pool == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	db := stdlib.OpenDBFromPool(p.Pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	for _, r := range results {
		log.Info("Migration applied",
			logger.String("source", r.Source.Path),
			logger.Int64("version", r.Source.Version),
			logger.Duration("duration", r.Duration),
		)
	}
	return nil
}
