// Command migrate manages the console's PostgreSQL schema: the progress
// documents table and the attestations ledger.
//
// Usage:
//
//	migrate [-dir migrations] [-timeout 30s] <command> [args]
//
// Commands are passed to goose: up, down, status, version, redo,
// up-to <version>, down-to <version>. DATABASE_URL is read from the
// environment or a .env file; MIGRATIONS_DIR overrides the default -dir.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/masumiguard/internal/logging"
)

const defaultMigrationsDir = "migrations"

var errUsage = errors.New("usage")

type options struct {
	dir     string
	timeout time.Duration
	dbURL   string
	command string
	args    []string
}

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	opts, err := parseArgs(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		if !errors.Is(err, errUsage) {
			logger.Error("invalid arguments", "error", err)
		}
		os.Exit(2)
	}

	if err := run(context.Background(), opts, logger); err != nil {
		logger.Error("migration failed", "command", opts.command, "error", err)
		os.Exit(1)
	}
}

func parseArgs(args []string, getenv func(string) string, usage io.Writer) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(usage)
	dir := defaultMigrationsDir
	if env := getenv("MIGRATIONS_DIR"); env != "" {
		dir = env
	}
	opts := options{}
	fs.StringVar(&opts.dir, "dir", dir, "directory holding the goose SQL files")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline for connecting and migrating")
	fs.Usage = func() {
		_, _ = fmt.Fprintln(usage, "Usage: migrate [flags] <command> [args]")
		_, _ = fmt.Fprintln(usage, "Commands: up, down, status, version, redo, up-to <version>, down-to <version>")
		_, _ = fmt.Fprintln(usage, "Tables: documents (progress), attestations (ledger)")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return opts, errUsage
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return opts, errUsage
	}
	opts.command = fs.Arg(0)
	opts.args = fs.Args()[1:]

	opts.dbURL = getenv("DATABASE_URL")
	if opts.dbURL == "" {
		return opts, errors.New("DATABASE_URL is required")
	}
	if opts.timeout <= 0 {
		return opts, fmt.Errorf("timeout must be positive, got %s", opts.timeout)
	}
	return opts, nil
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	db, err := sql.Open("postgres", opts.dbURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	goose.SetLogger(gooseLogger{logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.RunContext(ctx, opts.command, db, opts.dir, opts.args...); err != nil {
		return err
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	logger.Info("migration finished", "command", opts.command, "dir", opts.dir, "version", version)
	return nil
}

// gooseLogger routes goose's progress lines through slog.
type gooseLogger struct {
	logger *slog.Logger
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.logger.Info(fmt.Sprintf(format, v...))
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.logger.Error(fmt.Sprintf(format, v...))
	os.Exit(1)
}
