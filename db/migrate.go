package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/sym"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// migration is one embedded schema file. Files are named NNN_description.sql
// and applied in version order, each in its own transaction.
type migration struct {
	version string
	file    string
}

// Migrate brings the schema up to date. A nil logger keeps it quiet.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	all, err := embeddedMigrations()
	if err != nil {
		return err
	}
	done, err := appliedVersions(db)
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range all {
		if done[m.version] {
			continue
		}
		if logger != nil {
			logger.Infow("Applying migration", "migration", m.file, "version", m.version)
		}
		if err := m.apply(db); err != nil {
			return err
		}
		applied++
	}

	if logger != nil {
		logger.Infow("Schema up to date",
			"symbol", sym.DB,
			"version", all[len(all)-1].version,
			"applied", applied)
	}
	return nil
}

// SchemaVersion returns the newest applied migration version, or empty for
// a database that was never migrated.
func SchemaVersion(db *sql.DB) (string, error) {
	done, err := appliedVersions(db)
	if err != nil {
		return "", err
	}
	latest := ""
	for v := range done {
		if v > latest {
			latest = v
		}
	}
	return latest, nil
}

func embeddedMigrations() ([]migration, error) {
	entries, err := migrations.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read embedded migrations")
	}

	seen := make(map[string]string)
	var all []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, errors.Newf("migration %s has no version prefix", name)
		}
		if prev, dup := seen[version]; dup {
			return nil, errors.Newf("migrations %s and %s share version %s", prev, name, version)
		}
		seen[version] = name
		all = append(all, migration{version: version, file: name})
	}
	if len(all) == 0 {
		return nil, errors.New("no embedded migrations")
	}
	sort.Slice(all, func(i, j int) bool { return all[i].version < all[j].version })
	return all, nil
}

// appliedVersions reads schema_migrations. Before migration 000 has run the
// table does not exist and the set is empty.
func appliedVersions(db *sql.DB) (map[string]bool, error) {
	var tables int
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`,
	).Scan(&tables); err != nil {
		return nil, errors.Wrap(err, "failed to inspect schema")
	}
	done := make(map[string]bool)
	if tables == 0 {
		return done, nil
	}

	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read applied migrations")
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "failed to scan migration version")
		}
		done[v] = true
	}
	return done, errors.Wrap(rows.Err(), "failed to read applied migrations")
}

func (m migration) apply(db *sql.DB) (err error) {
	body, err := migrations.ReadFile(path.Join(migrationsDir, m.file))
	if err != nil {
		return errors.Wrapf(err, "failed to read migration %s", m.file)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "failed to begin migration %s", m.file)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(string(body)); err != nil {
		return errors.Wrapf(err, "migration %s failed", m.file)
	}
	if _, err = tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
		return errors.Wrapf(err, "failed to record migration %s", m.file)
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrapf(err, "failed to commit migration %s", m.file)
	}
	return nil
}
