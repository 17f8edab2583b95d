package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

const (
	migrationsDir   = "sql"
	migrationsTable = "schema_migrations"
)

// Up applies every pending migration
func Up(ctx context.Context, db *sql.DB, log *logger.Logger) error {
	if err := setup(log); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration
func Down(ctx context.Context, db *sql.DB, log *logger.Logger) error {
	if err := setup(log); err != nil {
		return err
	}
	if err := goose.DownContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	return nil
}

// Status prints the applied state of every migration through the logger
func Status(ctx context.Context, db *sql.DB, log *logger.Logger) error {
	if err := setup(log); err != nil {
		return err
	}
	return goose.StatusContext(ctx, db, migrationsDir)
}

func setup(log *logger.Logger) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(&gooseLogger{log: log})
	goose.SetTableName(migrationsTable)
	return goose.SetDialect("postgres")
}

// gooseLogger routes goose's Printf-style output through the structured logger
type gooseLogger struct {
	log *logger.Logger
}

func (g *gooseLogger) Fatalf(format string, v ...any) {
	g.log.Errorf(format, v...)
}

func (g *gooseLogger) Printf(format string, v ...any) {
	g.log.Infof(format, v...)
}
