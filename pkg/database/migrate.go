package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"

	"github.com/jmoiron/sqlx"

	"weather-stats/pkg/logging"
)

//go:embed migrations
var migrationsFS embed.FS

// Migration directions
const (
	MigrateUp   = "up"
	MigrateDown = "down"
)

var migrationFileRe = regexp.MustCompile(`^(\d{4})_(.+)\.(up|down)\.sql$`)

type migration struct {
	version int
	name    string
	body    string
}

// Migrate applies (up) or reverts (down) the embedded migrations for the active
// dialect, tracking applied versions in schema_migrations. It returns the number
// of migrations executed.
func (p *DB) Migrate(ctx context.Context, direction string) (int, error) {
	if direction != MigrateUp && direction != MigrateDown {
		return 0, fmt.Errorf("invalid migration direction %q (allowed: up, down)", direction)
	}

	if _, err := p.ExecContext(ctx, "ensure_schema_migrations", `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return 0, fmt.Errorf("ensure migrations table: %w", err)
	}

	var versions []int
	if err := p.SelectContext(ctx, "list_schema_migrations", &versions, `SELECT version FROM schema_migrations`); err != nil {
		return 0, fmt.Errorf("list applied migrations: %w", err)
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	all, err := loadMigrations(p.Dialect(), direction)
	if err != nil {
		return 0, err
	}

	var pending []migration
	for _, m := range all {
		if (direction == MigrateUp) != applied[m.version] {
			pending = append(pending, m)
		}
	}

	for _, m := range pending {
		err := p.WithTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, m.body); err != nil {
				return err
			}
			if direction == MigrateUp {
				_, err := tx.ExecContext(ctx, p.Rebind(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`), m.version, m.name)
				return err
			}
			_, err := tx.ExecContext(ctx, p.Rebind(`DELETE FROM schema_migrations WHERE version = ?`), m.version)
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("migration %04d_%s (%s): %w", m.version, m.name, direction, err)
		}

		p.logger.Info(ctx, "[DB_MIGRATE] Migration applied", logging.Fields{
			"version":   m.version,
			"name":      m.name,
			"direction": direction,
			"dialect":   p.Dialect(),
		})
	}

	return len(pending), nil
}

// loadMigrations reads the embedded files for dialect and direction. Up
// migrations are ordered by ascending version, down migrations descending.
func loadMigrations(dialect, direction string) ([]migration, error) {
	dir := path.Join("migrations", dialect)

	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	var out []migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		match := migrationFileRe.FindStringSubmatch(e.Name())
		if match == nil || match[3] != direction {
			continue
		}

		version, err := strconv.Atoi(match[1])
		if err != nil {
			return nil, fmt.Errorf("parse migration version %s: %w", e.Name(), err)
		}

		body, err := fs.ReadFile(migrationsFS, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		out = append(out, migration{version: version, name: match[2], body: string(body)})
	}

	sort.Slice(out, func(i, j int) bool {
		if direction == MigrateDown {
			return out[i].version > out[j].version
		}
		return out[i].version < out[j].version
	})

	return out, nil
}
