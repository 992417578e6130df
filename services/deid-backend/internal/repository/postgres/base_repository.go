package postgres

import (
	"context"
	"embed"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrations возвращает goose миграции схемы сервиса
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// DB подмножество pgxpool.Pool, которое используют репозитории
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// BaseRepository базовая структура для всех репозиториев PostgreSQL
type BaseRepository struct {
	DB DB
}

// NewBaseRepository создает новый экземпляр базового репозитория
func NewBaseRepository(db DB) *BaseRepository {
	return &BaseRepository{DB: db}
}
