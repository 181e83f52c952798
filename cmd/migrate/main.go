package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/marketcore-backend/pkg/config"
	"github.com/angelmondragon/marketcore-backend/pkg/db"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/migrate"
)

type options struct {
	dir     string
	name    string
	version string
	out     io.Writer
}

// offline commands never open a database connection.
var offline = map[string]func(options) error{
	"create": func(o options) error {
		if o.name == "" {
			return fmt.Errorf("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(o.dir, o.name)
		if err != nil {
			return err
		}
		fmt.Fprintln(o.out, "created migration:", path)
		return nil
	},
	"validate": func(o options) error {
		versions, err := migrate.ValidateDir(o.dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(o.out, "migration validation passed (%d migrations)\n", len(versions))
		return nil
	},
}

var online = map[string]func(context.Context, *migrate.Migrator, options) error{
	"up": func(ctx context.Context, m *migrate.Migrator, o options) error {
		done, err := m.Up(ctx)
		printApplied(o.out, done)
		return err
	},
	"down": func(ctx context.Context, m *migrate.Migrator, o options) error {
		done, err := m.Down(ctx)
		printApplied(o.out, done)
		return err
	},
	"version": func(ctx context.Context, m *migrate.Migrator, o options) error {
		if o.version == "" {
			return fmt.Errorf("missing -version for version")
		}
		done, err := m.To(ctx, o.version)
		printApplied(o.out, done)
		return err
	},
	"status": func(ctx context.Context, m *migrate.Migrator, o options) error {
		statuses, err := m.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			applied := "pending"
			if !s.AppliedAt.IsZero() {
				applied = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(o.out, "%-20s %s\n", applied, s.Source.Path)
		}
		return nil
	},
	"pending": func(ctx context.Context, m *migrate.Migrator, o options) error {
		current, err := m.Version(ctx)
		if err != nil {
			return err
		}
		pending, err := m.Pending(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(o.out, "current version %d, %d pending\n", current, len(pending))
		for _, v := range pending {
			fmt.Fprintln(o.out, "  ", v)
		}
		return nil
	},
}

func printApplied(w io.Writer, done []migrate.Applied) {
	for _, a := range done {
		fmt.Fprintf(w, "%-4s %d %s\n", a.Direction, a.Version, a.Path)
	}
}

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|pending|create|validate")
	opts := options{out: os.Stdout}
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	if err := run(*cmd, opts); err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", *cmd, err)
		os.Exit(1)
	}
}

func run(cmd string, opts options) error {
	if fn, ok := offline[cmd]; ok {
		return fn(opts)
	}
	fn, ok := online[cmd]
	if !ok {
		return fmt.Errorf("unknown -cmd value %q", cmd)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": cmd, "dir": opts.dir})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer dbClient.Close()
	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("sql database: %w", err)
	}
	m, err := migrate.New(sqlDB, opts.dir)
	if err != nil {
		return err
	}

	if err := fn(ctx, m, opts); err != nil {
		logg.Error(ctx, "migration command failed", err)
		return err
	}
	logg.Info(ctx, "migration command finished")
	return nil
}
