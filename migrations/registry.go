package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	userhooks "github.com/goliatone/go-userhooks"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	defaultSourceLabel = "go-userhooks"
	migrationsDir      = "data/sql/migrations"
)

// Source is one dialect's migration tree.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type Registration struct {
	SourceLabel string
	Dialects    []string
	Sources     []Source
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

func WithSourceLabel(label string) Option {
	return func(r *Registration) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			r.SourceLabel = trimmed
		}
	}
}

// WithDialects limits registration to the given dialects.
func WithDialects(dialects ...string) Option {
	return func(r *Registration) {
		normalized := make([]string, 0, len(dialects))
		for _, dialect := range dialects {
			if value := strings.ToLower(strings.TrimSpace(dialect)); value != "" && !slices.Contains(normalized, value) {
				normalized = append(normalized, value)
			}
		}
		if len(normalized) > 0 {
			r.Dialects = normalized
		}
	}
}

// ForDriver limits registration to the dialect served by a database/sql
// driver name.
func ForDriver(driver string) Option {
	return func(r *Registration) {
		if dialect, err := DialectForDriver(driver); err == nil {
			r.Dialects = []string{dialect}
		}
	}
}

// DialectForDriver maps a database/sql driver name to its migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("migrations: unsupported database driver %q", driver)
	}
}

// Sources resolves the postgres tree and its sqlite variant from root, or
// from the embedded migrations when root is nil.
func Sources(root fs.FS) ([]Source, error) {
	if root == nil {
		root = userhooks.GetMigrationsFS()
	}
	base, err := fs.Sub(root, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", migrationsDir, err)
	}
	sqliteFS, err := fs.Sub(base, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite migrations: %w", err)
	}
	sources := []Source{
		{Dialect: DialectPostgres, Path: migrationsDir, FS: base},
		{Dialect: DialectSQLite, Path: migrationsDir + "/" + DialectSQLite, FS: sqliteFS},
	}
	for _, source := range sources {
		ups, err := fs.Glob(source.FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: glob %s: %w", source.Path, err)
		}
		if len(ups) == 0 {
			return nil, fmt.Errorf("migrations: %s has no *.up.sql files", source.Path)
		}
	}
	return sources, nil
}

// Register hands each selected dialect's migrations to registerFn.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel: defaultSourceLabel,
		Dialects:    []string{DialectPostgres, DialectSQLite},
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}
	sources, err := Sources(nil)
	if err != nil {
		return reg, err
	}
	reg.Sources = sources
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}

	for _, source := range reg.Sources {
		if !slices.Contains(reg.Dialects, source.Dialect) {
			continue
		}
		if err := registerFn(ctx, source.Dialect, reg.SourceLabel, source.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", source.Dialect, source.Path, err)
		}
	}
	return reg, nil
}
