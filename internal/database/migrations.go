package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

// MigrationManager manages database migrations
type MigrationManager struct {
	db     *sql.DB
	logger logrus.FieldLogger
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *sql.DB, logger logrus.FieldLogger) *MigrationManager {
	return &MigrationManager{db: db, logger: logger}
}

// AggregationTable returns the snapshot table name for a resolution.
func AggregationTable(resolution int) string {
	return fmt.Sprintf("agg_res%d", resolution)
}

const resolutionVersionBase = 100

// SchemaMigrations returns the raw location log migration followed by one
// migration per resolution. Resolution tables are versioned by resolution so
// adding a resolution to the config later creates only the new table.
func SchemaMigrations(resolutions []int) []Migration {
	migrations := []Migration{{
		Version: 1,
		Name:    "create_raw_locations",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS raw_locations (
				bike_id TEXT NOT NULL,
				lat REAL NOT NULL,
				lon REAL NOT NULL,
				timestamp INTEGER NOT NULL,
				is_reserved INTEGER NOT NULL DEFAULT 0,
				is_disabled INTEGER NOT NULL DEFAULT 0,
				vehicle_type_id TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_raw_locations_timestamp ON raw_locations(timestamp)`,
		},
	}}

	for _, res := range resolutions {
		table := AggregationTable(res)
		migrations = append(migrations, Migration{
			Version: resolutionVersionBase + res,
			Name:    "create_" + table,
			Statements: []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
					h3_index TEXT PRIMARY KEY,
					resolution INTEGER NOT NULL,
					count INTEGER NOT NULL CHECK (count >= 0),
					last_updated INTEGER NOT NULL,
					window_start INTEGER NOT NULL,
					window_end INTEGER NOT NULL
				)`, table),
				fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_updated ON %s(last_updated)`, table, table),
				fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_count ON %s(count DESC)`, table, table),
			},
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations
}

// InitMigrationsTable creates the migrations tracking table
func (m *MigrationManager) InitMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns a list of applied migration versions
func (m *MigrationManager) GetAppliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// ApplyMigration applies a single migration
func (m *MigrationManager) ApplyMigration(ctx context.Context, migration Migration) error {
	err := Transaction(ctx, m.db, func(tx *sql.Tx) error {
		for _, stmt := range migration.Statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (version, name) VALUES (?, ?)", migration.Version, migration.Name); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"version": migration.Version,
		"name":    migration.Name,
	}).Info("Applied migration")
	return nil
}

// RunMigrations runs all pending migrations
func (m *MigrationManager) RunMigrations(ctx context.Context, migrations []Migration) error {
	if err := m.InitMigrationsTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			m.logger.WithField("version", migration.Version).Debug("Skipping already applied migration")
			continue
		}
		if err := m.ApplyMigration(ctx, migration); err != nil {
			return err
		}
	}
	return nil
}
