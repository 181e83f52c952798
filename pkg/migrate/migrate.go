// Package migrate applies the goose SQL migrations under DefaultDir and
// offers the offline helpers cmd/migrate uses to author them.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"
)

const DefaultDir = "pkg/migrate/migrations"

// Migrator runs one migration directory against one database.
type Migrator struct {
	dir      string
	provider *goose.Provider
}

// Applied is one migration that ran, in either direction.
type Applied struct {
	Version   int64
	Path      string
	Direction string
}

// New validates dir before touching the database, so a malformed file never
// leaves the schema half migrated.
func New(db *sql.DB, dir string) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if _, err := ValidateDir(dir); err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, os.DirFS(dir))
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Migrator{dir: dir, provider: provider}, nil
}

// Version is the highest applied version, 0 on a fresh database.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	v, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("get db version: %w", err)
	}
	return v, nil
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) ([]Applied, error) {
	results, err := m.provider.Up(ctx)
	return applied(results), wrap("up", err)
}

// Down rolls back the most recent migration.
func (m *Migrator) Down(ctx context.Context) ([]Applied, error) {
	result, err := m.provider.Down(ctx)
	return applied([]*goose.MigrationResult{result}), wrap("down", err)
}

// To moves the schema up or down until it sits at target (YYYYMMDDHHMMSS).
func (m *Migrator) To(ctx context.Context, target string) ([]Applied, error) {
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", target, err)
	}
	current, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	var results []*goose.MigrationResult
	switch {
	case current == version:
		return nil, nil
	case current < version:
		results, err = m.provider.UpTo(ctx, version)
	default:
		results, err = m.provider.DownTo(ctx, version)
	}
	return applied(results), wrap(fmt.Sprintf("migrate to %d", version), err)
}

// Pending lists versions not yet applied, in apply order.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	current, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	return Pending(m.dir, current)
}

// Status reports every known migration with whether it has run.
func (m *Migrator) Status(ctx context.Context) ([]*goose.MigrationStatus, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}
	return statuses, nil
}

// Pending lists the versions in dir newer than current, in apply order.
func Pending(dir string, current int64) ([]string, error) {
	versions, err := ValidateDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, v := range versions {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version %q: %w", v, err)
		}
		if n > current {
			out = append(out, v)
		}
	}
	return out, nil
}

func applied(results []*goose.MigrationResult) []Applied {
	out := make([]Applied, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		out = append(out, Applied{Version: r.Source.Version, Path: r.Source.Path, Direction: r.Direction})
	}
	return out
}

func wrap(op string, err error) error {
	if err == nil || errors.Is(err, goose.ErrNoNextVersion) {
		return nil
	}
	return fmt.Errorf("goose %s: %w", op, err)
}
