// Command migrate applies or rolls back the embedded database migrations.
//
// Usage: migrate [--database-url URL] up|down|version
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/go-faster/errors"
	"github.com/golang-migrate/migrate/v4"

	"github.com/xenking/bookstore/internal/repository"
)

func main() {
	var (
		databaseURL string
		steps       int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&steps, "steps", 1, "number of migrations to roll back with down")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	if err := run(databaseURL, cmd, steps); err != nil {
		slog.Error("migrate failed", slog.String("command", cmd), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(databaseURL, cmd string, steps int) error {
	m, err := repository.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		if steps < 1 {
			return errors.Errorf("steps must be positive, got %d", steps)
		}
		err = m.Steps(-steps)
	case "version":
	default:
		return errors.Errorf("unknown command %q (want up, down or version)", cmd)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("no change")
	} else if err != nil {
		return errors.Wrap(err, cmd)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		slog.Info("database has no migrations applied")
	case err != nil:
		return errors.Wrap(err, "read version")
	default:
		slog.Info("schema version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	}

	return nil
}
