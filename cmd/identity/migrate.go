package identity

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// DefaultSchema is the schema created by the embedded migrations.
const DefaultSchema = "warden"

// Migrations holds the goose SQL migrations for DefaultSchema.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// gooseUp is a seam for tests.
var gooseUp = func(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(Migrations)
	goose.SetTableName(DefaultSchema + "_goose_db_version")
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// Migrate applies the embedded migrations to the database behind pool.
// The pool stays owned by the caller.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("identity: nil pool")
	}
	if err := gooseUp(ctx, pool); err != nil {
		return fmt.Errorf("identity: migrate: %w", err)
	}
	return nil
}
