package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const DefaultMigrations = "file://migrations"

// Migrate applies the migrations in dir to dsn. steps of 0 means all.
func Migrate(dir, dsn, direction string, steps int) error {
	if dir == "" {
		dir = DefaultMigrations
	}
	if dsn == "" {
		return errors.New("postgres dsn is empty")
	}
	m, err := migrate.New(dir, dsn)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	switch direction {
	case "up", "":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("unknown direction: %s", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
