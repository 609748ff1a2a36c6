package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jengzang/scootermap-go/internal/database"
	"github.com/jengzang/scootermap-go/internal/models"
)

// ErrUnknownResolution is returned for a resolution that has no snapshot table.
var ErrUnknownResolution = errors.New("unknown resolution")

// Options configures a SnapshotRepository
type Options struct {
	Resolutions []int
	Retry       RetryPolicy
	Logger      logrus.FieldLogger
	// Now defaults to time.Now.
	Now func() time.Time
}

// SnapshotRepository stores the raw location log and one snapshot table per
// resolution. Writes are serialized by an in-process lock and go through a
// single-connection writer pool; reads use a separate pool and never take
// the lock.
type SnapshotRepository struct {
	writer *sql.DB
	reader *sql.DB

	resolutions []int
	tables      map[int]string
	retry       RetryPolicy
	logger      logrus.FieldLogger
	now         func() time.Time

	writeMu sync.Mutex
}

// NewSnapshotRepository creates a repository over already opened pools.
// The schema must exist; see Open.
func NewSnapshotRepository(writer, reader *sql.DB, opts Options) *SnapshotRepository {
	r := &SnapshotRepository{
		writer:      writer,
		reader:      reader,
		resolutions: append([]int(nil), opts.Resolutions...),
		tables:      make(map[int]string, len(opts.Resolutions)),
		retry:       opts.Retry,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	for _, res := range opts.Resolutions {
		r.tables[res] = database.AggregationTable(res)
	}
	if r.logger == nil {
		r.logger = logrus.StandardLogger()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.retry.MaxAttempts == 0 {
		r.retry = DefaultRetryPolicy
	}
	return r
}

// Open opens the writer and reader pools at path and applies the schema.
func Open(ctx context.Context, path string, opts Options) (*SnapshotRepository, error) {
	writer, err := database.Open(database.Config{Path: path, Writer: true})
	if err != nil {
		return nil, err
	}
	reader, err := database.Open(database.Config{Path: path})
	if err != nil {
		writer.Close()
		return nil, err
	}

	r := NewSnapshotRepository(writer, reader, opts)

	migrator := database.NewMigrationManager(writer, r.logger)
	err = r.write(ctx, func() error {
		return migrator.RunMigrations(ctx, database.SchemaMigrations(r.resolutions))
	})
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"path":        path,
		"resolutions": r.resolutions,
	}).Info("Snapshot store initialized")
	return r, nil
}

// Close closes both pools
func (r *SnapshotRepository) Close() error {
	werr := r.writer.Close()
	rerr := r.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

func (r *SnapshotRepository) table(resolution int) (string, error) {
	table, ok := r.tables[resolution]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownResolution, resolution)
	}
	return table, nil
}

// write holds the process-wide write lock for the whole retry loop.
func (r *SnapshotRepository) write(ctx context.Context, op func() error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.retry.Do(ctx, op)
}

// InsertRawLocations appends locations to the raw log.
func (r *SnapshotRepository) InsertRawLocations(ctx context.Context, locations []models.RawLocation) error {
	if len(locations) == 0 {
		return nil
	}

	return r.write(ctx, func() error {
		return database.Transaction(ctx, r.writer, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, `
				INSERT INTO raw_locations
					(bike_id, lat, lon, timestamp, is_reserved, is_disabled, vehicle_type_id)
				VALUES (?, ?, ?, ?, ?, ?, ?)`)
			if err != nil {
				return fmt.Errorf("failed to prepare raw insert: %w", err)
			}
			defer stmt.Close()

			for _, loc := range locations {
				var vehicleType sql.NullString
				if loc.VehicleTypeID != nil {
					vehicleType = sql.NullString{String: *loc.VehicleTypeID, Valid: true}
				}
				_, err := stmt.ExecContext(ctx,
					loc.BikeID, loc.Lat, loc.Lon, loc.Timestamp.UnixMilli(),
					loc.IsReserved, loc.IsDisabled, vehicleType,
				)
				if err != nil {
					return fmt.Errorf("failed to insert raw location %s: %w", loc.BikeID, err)
				}
			}
			return nil
		})
	})
}

// ReplaceSnapshot clears the resolution's table and inserts records in one
// transaction. Readers see either the old or the new set.
func (r *SnapshotRepository) ReplaceSnapshot(ctx context.Context, resolution int, records []models.AggregationRecord) error {
	table, err := r.table(resolution)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.Resolution != resolution {
			return fmt.Errorf("record %s has resolution %d, want %d", rec.H3Index, rec.Resolution, resolution)
		}
		if rec.Count < 0 {
			return fmt.Errorf("record %s has negative count %d", rec.H3Index, rec.Count)
		}
	}

	return r.write(ctx, func() error {
		return database.Transaction(ctx, r.writer, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
			if len(records) == 0 {
				return nil
			}

			stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
				INSERT INTO %s (h3_index, resolution, count, last_updated, window_start, window_end)
				VALUES (?, ?, ?, ?, ?, ?)`, table))
			if err != nil {
				return fmt.Errorf("failed to prepare insert into %s: %w", table, err)
			}
			defer stmt.Close()

			for _, rec := range records {
				_, err := stmt.ExecContext(ctx,
					rec.H3Index, rec.Resolution, rec.Count,
					rec.LastUpdated.UnixMilli(), rec.WindowStart.UnixMilli(), rec.WindowEnd.UnixMilli(),
				)
				if err != nil {
					return fmt.Errorf("failed to insert %s into %s: %w", rec.H3Index, table, err)
				}
			}
			return nil
		})
	})
}

// QueryAggregation returns the records with count >= minCount, largest first.
func (r *SnapshotRepository) QueryAggregation(ctx context.Context, resolution, minCount int) ([]models.AggregationRecord, error) {
	table, err := r.table(resolution)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT h3_index, resolution, count, last_updated, window_start, window_end
		FROM %s
		WHERE count >= ?
		ORDER BY count DESC, h3_index ASC`, table)

	var records []models.AggregationRecord
	err = r.retry.Do(ctx, func() error {
		rows, err := r.reader.QueryContext(ctx, query, minCount)
		if err != nil {
			return fmt.Errorf("failed to query %s: %w", table, err)
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			var rec models.AggregationRecord
			var updated, start, end int64
			if err := rows.Scan(&rec.H3Index, &rec.Resolution, &rec.Count, &updated, &start, &end); err != nil {
				return fmt.Errorf("failed to scan %s row: %w", table, err)
			}
			rec.LastUpdated = time.UnixMilli(updated).UTC()
			rec.WindowStart = time.UnixMilli(start).UTC()
			rec.WindowEnd = time.UnixMilli(end).UTC()
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// CleanupOlderThan deletes raw and aggregation rows stamped before now-retention.
func (r *SnapshotRepository) CleanupOlderThan(ctx context.Context, retention time.Duration) (models.CleanupResult, error) {
	cutoff := r.now().Add(-retention).UnixMilli()
	result := models.CleanupResult{AggregationDeleted: make(map[int]int64, len(r.resolutions))}

	err := r.write(ctx, func() error {
		return database.Transaction(ctx, r.writer, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, "DELETE FROM raw_locations WHERE timestamp < ?", cutoff)
			if err != nil {
				return fmt.Errorf("failed to clean raw_locations: %w", err)
			}
			if result.RawDeleted, err = res.RowsAffected(); err != nil {
				return err
			}

			for _, resolution := range r.resolutions {
				table := r.tables[resolution]
				res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE last_updated < ?", cutoff)
				if err != nil {
					return fmt.Errorf("failed to clean %s: %w", table, err)
				}
				n, err := res.RowsAffected()
				if err != nil {
					return err
				}
				result.AggregationDeleted[resolution] = n
			}
			return nil
		})
	})
	if err != nil {
		return models.CleanupResult{}, err
	}
	return result, nil
}

// Stats returns row counts for the raw log and every snapshot table.
func (r *SnapshotRepository) Stats(ctx context.Context) (models.StoreStats, error) {
	stats := models.StoreStats{Counts: make(map[int]int64, len(r.resolutions))}

	err := r.retry.Do(ctx, func() error {
		if err := r.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM raw_locations").Scan(&stats.RawCount); err != nil {
			return fmt.Errorf("failed to count raw_locations: %w", err)
		}
		for _, resolution := range r.resolutions {
			var n int64
			table := r.tables[resolution]
			if err := r.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
				return fmt.Errorf("failed to count %s: %w", table, err)
			}
			stats.Counts[resolution] = n
		}
		return nil
	})
	if err != nil {
		return models.StoreStats{}, err
	}
	return stats, nil
}

// Resolutions returns the resolutions that have snapshot tables.
func (r *SnapshotRepository) Resolutions() []int {
	return append([]int(nil), r.resolutions...)
}
