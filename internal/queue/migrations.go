package queue

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/nathant8883/mtg-leaderboard/migrations"
)

// RunMigrations applies all pending schema migrations using goose,
// reading the embedded SQL files from the migrations package.
func RunMigrations(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
