package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/wanderlustcms/api/internal/config"
	"github.com/wanderlustcms/api/internal/database/migrations"
)

var ErrNoRows = pgx.ErrNoRows

// SQLSTATE unique_violation.
const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation, so callers can surface duplicates instead of a generic
// database failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type Database struct {
	*pgxpool.Pool
}

func NewDatabase() Database {
	return Database{}
}

func (db *Database) Connect(ctx context.Context, cfg config.Database) error {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return fmt.Errorf("parse database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxOpenConns
	poolCfg.MinConns = cfg.MaxIdleConns
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	db.Pool = pool
	return nil
}

func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Migrate applies pending schema migrations. It opens a separate
// database/sql connection because goose does not speak pgxpool.
func Migrate(ctx context.Context, cfg config.Database) error {
	conn, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer conn.Close()

	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}

	if err := goose.UpContext(ctx, conn, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
