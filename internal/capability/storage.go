// Package capability provides the control plane's external-system
// adapters :
// concrete implementations of the narrow interfaces consumed by
// internal/recovery, internal/health, internal/scaler, and
// internal/chaos, plus the persistence surface (reading/incident/recovery
// history) those packages don't themselves need but the supervisor and
// cmd/controlplane wiring do. Grounded on
// original_source/monitoring/auto-recovery/self_healing_system.py's
// Postgres/Redis/Slack usage; the history schema itself is a
// supplemented feature (the source never persisted history beyond
// Prometheus counters) sized to the configured retention policy.
package capability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/hankooktire/control-plane/internal/domain"
)

// Storage is the durable history surface: append readings/incidents/
// recovery records as they occur, query them back for dashboards or
// post-incident review, and run the retention sweep.
type Storage interface {
	AppendReading(ctx context.Context, r domain.Reading) error
	QueryReadings(ctx context.Context, deviceID string, since time.Time) ([]domain.Reading, error)
	AppendIncident(ctx context.Context, inc domain.Incident) error
	AppendRecoveryRecord(ctx context.Context, rec domain.RecoveryRecord) error
	RunMaintenance(ctx context.Context, retain time.Duration) (deletedRows int64, err error)
}

// SQLStorage is the Postgres-backed Storage, grounded on
// check_database_health's psycopg2 usage generalized from a health-probe
// connection to a persistence one.
type SQLStorage struct {
	db *sqlx.DB
}

// NewSQLStorage wraps an already-connected *sqlx.DB. Migrations are
// applied separately via pressly/goose at process startup (cmd/controlplane).
func NewSQLStorage(db *sqlx.DB) *SQLStorage {
	return &SQLStorage{db: db}
}

// NewSQLStorageFromDSN opens the history store through pgx's stdlib
// driver rather than lib/pq: the Storage capability is the
// high-throughput write path (one insert per ingested reading), where
// pgx's native binary wire protocol matters; the health probe's
// RelationalStore stays on lib/pq since it runs one calibrated query a
// tick and gains nothing from the switch. Both ride sqlx's Query/Exec
// surface, so only the driver name differs.
func NewSQLStorageFromDSN(dsn string) (*SQLStorage, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}
	return NewSQLStorage(db), nil
}

// DB exposes the underlying *sql.DB for Migrate. The Relational-store
// health probe does not use it; it opens its own lib/pq connection.
func (s *SQLStorage) DB() *sql.DB {
	return s.db.DB
}

// readingRow is sensor_readings' on-disk shape: one row per reading, its
// channel map flattened to JSON since the channel set varies by sensor
// model .
type readingRow struct {
	DeviceID   string    `db:"device_id"`
	Timestamp  time.Time `db:"observed_at"`
	ArrivalSeq uint64    `db:"arrival_seq"`
	Channels   []byte    `db:"channels"`
	RawQuality float64   `db:"raw_quality"`
}

func (s *SQLStorage) AppendReading(ctx context.Context, r domain.Reading) error {
	channels, err := json.Marshal(r.Channels)
	if err != nil {
		return fmt.Errorf("append reading: encode channels: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sensor_readings (device_id, observed_at, arrival_seq, channels, raw_quality)
		VALUES ($1, $2, $3, $4, $5)`,
		r.DeviceID, r.Timestamp, r.ArrivalSeq, channels, r.RawQuality)
	if err != nil {
		return fmt.Errorf("append reading: %w", err)
	}
	return nil
}

func (s *SQLStorage) QueryReadings(ctx context.Context, deviceID string, since time.Time) ([]domain.Reading, error) {
	var rows []readingRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT device_id, observed_at, arrival_seq, channels, raw_quality
		FROM sensor_readings
		WHERE device_id = $1 AND observed_at >= $2
		ORDER BY observed_at ASC`,
		deviceID, since)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}

	readings := make([]domain.Reading, 0, len(rows))
	for _, row := range rows {
		var channels map[string]float64
		if err := json.Unmarshal(row.Channels, &channels); err != nil {
			return nil, fmt.Errorf("query readings: decode channels: %w", err)
		}
		readings = append(readings, domain.Reading{
			DeviceID:   row.DeviceID,
			Timestamp:  row.Timestamp,
			ArrivalSeq: row.ArrivalSeq,
			Channels:   channels,
			RawQuality: row.RawQuality,
		})
	}
	return readings, nil
}

func (s *SQLStorage) AppendIncident(ctx context.Context, inc domain.Incident) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents (id, subject, kind, severity, confidence, auto_recoverable, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		inc.ID, inc.Subject, string(inc.Kind), int(inc.Severity), inc.Confidence, inc.AutoRecoverable, inc.ObservedAt)
	if err != nil {
		return fmt.Errorf("append incident: %w", err)
	}
	return nil
}

func (s *SQLStorage) AppendRecoveryRecord(ctx context.Context, rec domain.RecoveryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recovery_records (incident_id, action, target, started_at, duration_ms, success, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.IncidentID, string(rec.Action), rec.Target, rec.StartedAt, rec.Duration.Milliseconds(), rec.Success, rec.Message)
	if err != nil {
		return fmt.Errorf("append recovery record: %w", err)
	}
	return nil
}

// RotateLogs satisfies internal/recovery.LogRotator by delegating to
// RunMaintenance: the history tables have no per-target partitioning, so
// target is accepted (matching the Recovery engine's generic Executor
// signature) but not otherwise consulted.
func (s *SQLStorage) RotateLogs(ctx context.Context, target string, olderThan time.Duration) (int, error) {
	deleted, err := s.RunMaintenance(ctx, olderThan)
	return int(deleted), err
}

// RunMaintenance deletes rows older than retain across the three history
// tables, grounded on rotate_logs's aged-record deletion generalized to
// the control plane's own retention policy .
func (s *SQLStorage) RunMaintenance(ctx context.Context, retain time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retain)
	var total int64
	for _, stmt := range []string{
		`DELETE FROM sensor_readings WHERE observed_at < $1`,
		`DELETE FROM incidents WHERE observed_at < $1`,
		`DELETE FROM recovery_records WHERE started_at < $1`,
	} {
		res, err := s.db.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return total, fmt.Errorf("run maintenance: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("run maintenance: %w", err)
		}
		total += n
	}
	return total, nil
}
