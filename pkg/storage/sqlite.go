// Package storage persists received readings in a local SQLite database.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/entities"
	"github.com/janael-pinheiro/posture-telemetry-golang/pkg/utils"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

// MembershipFilterLimit bounds the size of an owner_user_id IN (...) list.
const MembershipFilterLimit = 10

var ErrNotInitialized = errors.New("store not initialized")

const recordColumns = `id, device_address, timestamp, received_msg, owner_user_id, sensor_id`

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create db directory")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures the readings table and its indexes exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS received_bt_data (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_address TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			received_msg TEXT NOT NULL,
			owner_user_id TEXT NOT NULL,
			sensor_id TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_received_bt_data_unique
			ON received_bt_data(owner_user_id, device_address, timestamp, received_msg);`,
		`CREATE INDEX IF NOT EXISTS idx_received_bt_data_owner_time ON received_bt_data(owner_user_id, timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_received_bt_data_sensor_time ON received_bt_data(sensor_id, timestamp);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// InsertAll writes the records in one transaction. Exact duplicates are
// skipped, so the returned count can be lower than len(records).
func (s *Store) InsertAll(ctx context.Context, records []entities.Record) (int64, error) {
	if s.db == nil {
		return 0, ErrNotInitialized
	}
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin insert")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO received_bt_data
		(device_address, timestamp, received_msg, owner_user_id, sensor_id) VALUES (?, ?, ?, ?, ?);`)
	if err != nil {
		return 0, errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	var inserted int64
	for _, r := range records {
		result, err := stmt.ExecContext(ctx, r.DeviceAddress, r.Timestamp, r.ReceivedMsg, r.OwnerUserID, r.SensorID)
		if err != nil {
			return 0, errors.Wrapf(err, "insert record for %s", r.OwnerUserID)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, errors.Wrap(err, "rows affected")
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit insert")
	}
	return inserted, nil
}

// LatestPerSensor returns the newest record of every owner, ordered by owner.
func (s *Store) LatestPerSensor(ctx context.Context) ([]entities.Record, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM received_bt_data r
		WHERE r.id = (
			SELECT l.id FROM received_bt_data l
			WHERE l.owner_user_id = r.owner_user_id
			ORDER BY l.timestamp DESC, l.id DESC LIMIT 1
		)
		ORDER BY r.owner_user_id;`)
}

func (s *Store) LatestForSensor(ctx context.Context, sensorID string) (entities.Record, bool, error) {
	return s.queryLatest(ctx, `SELECT `+recordColumns+` FROM received_bt_data
		WHERE sensor_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1;`, sensorID)
}

func (s *Store) LatestForOwner(ctx context.Context, ownerUserID string) (entities.Record, bool, error) {
	return s.queryLatest(ctx, `SELECT `+recordColumns+` FROM received_bt_data
		WHERE owner_user_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1;`, ownerUserID)
}

// LatestForOwners returns the newest record among all given owners. The list
// is queried in chunks of MembershipFilterLimit.
func (s *Store) LatestForOwners(ctx context.Context, ownerUserIDs []string) (entities.Record, bool, error) {
	var latest entities.Record
	found := false
	for _, chunk := range utils.Chunk(ownerUserIDs, MembershipFilterLimit) {
		query := `SELECT ` + recordColumns + ` FROM received_bt_data
			WHERE owner_user_id IN (` + placeholders(len(chunk)) + `)
			ORDER BY timestamp DESC, id DESC LIMIT 1;`
		record, ok, err := s.queryLatest(ctx, query, toArgs(chunk)...)
		if err != nil {
			return entities.Record{}, false, err
		}
		if ok && (!found || record.Timestamp > latest.Timestamp) {
			latest = record
			found = true
		}
	}
	return latest, found, nil
}

func (s *Store) CountAll(ctx context.Context) (int64, error) {
	return s.queryInt(ctx, `SELECT COUNT(*) FROM received_bt_data;`)
}

func (s *Store) CountForOwner(ctx context.Context, ownerUserID string) (int64, error) {
	return s.queryInt(ctx, `SELECT COUNT(*) FROM received_bt_data WHERE owner_user_id = ?;`, ownerUserID)
}

func (s *Store) CountByOwner(ctx context.Context) (map[string]int64, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.db.QueryContext(ctx, `SELECT owner_user_id, COUNT(*) FROM received_bt_data GROUP BY owner_user_id;`)
	if err != nil {
		return nil, errors.Wrap(err, "query count by owner")
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var owner string
		var count int64
		if err := rows.Scan(&owner, &count); err != nil {
			return nil, errors.Wrap(err, "scan owner count")
		}
		counts[owner] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate owner counts")
	}
	return counts, nil
}

// MaxTimestamp returns 0 on an empty table.
func (s *Store) MaxTimestamp(ctx context.Context) (int64, error) {
	return s.queryInt(ctx, `SELECT COALESCE(MAX(timestamp), 0) FROM received_bt_data;`)
}

func (s *Store) MaxTimestampForOwner(ctx context.Context, ownerUserID string) (int64, error) {
	return s.queryInt(ctx, `SELECT COALESCE(MAX(timestamp), 0) FROM received_bt_data WHERE owner_user_id = ?;`, ownerUserID)
}

// RangeForOwner returns the owner's records with start <= timestamp <= end,
// oldest first.
func (s *Store) RangeForOwner(ctx context.Context, ownerUserID string, start, end int64) ([]entities.Record, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM received_bt_data
		WHERE owner_user_id = ? AND timestamp BETWEEN ? AND ?
		ORDER BY timestamp ASC, id ASC;`, ownerUserID, start, end)
}

// DeleteWhereOwnerNotIn removes every record whose owner is not listed.
// An empty list removes everything.
func (s *Store) DeleteWhereOwnerNotIn(ctx context.Context, ownerUserIDs []string) (int64, error) {
	if len(ownerUserIDs) == 0 {
		return s.ClearAll(ctx)
	}
	query := `DELETE FROM received_bt_data WHERE owner_user_id NOT IN (` + placeholders(len(ownerUserIDs)) + `);`
	return s.exec(ctx, query, toArgs(ownerUserIDs)...)
}

func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	return s.exec(ctx, `DELETE FROM received_bt_data;`)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	if s.db == nil {
		return 0, ErrNotInitialized
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "delete records")
	}
	return result.RowsAffected()
}

func (s *Store) queryInt(ctx context.Context, query string, args ...any) (int64, error) {
	if s.db == nil {
		return 0, ErrNotInitialized
	}
	var value int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		return 0, errors.Wrap(err, "query scalar")
	}
	return value, nil
}

func (s *Store) queryLatest(ctx context.Context, query string, args ...any) (entities.Record, bool, error) {
	if s.db == nil {
		return entities.Record{}, false, ErrNotInitialized
	}
	record, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return entities.Record{}, false, nil
	}
	if err != nil {
		return entities.Record{}, false, errors.Wrap(err, "query latest record")
	}
	return record, true, nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]entities.Record, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query records")
	}
	defer rows.Close()

	records := make([]entities.Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan record")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate records")
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (entities.Record, error) {
	var r entities.Record
	err := row.Scan(&r.ID, &r.DeviceAddress, &r.Timestamp, &r.ReceivedMsg, &r.OwnerUserID, &r.SensorID)
	return r, err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
