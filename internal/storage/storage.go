// Package storage provides SQLite-backed persistence for cycle reports
// and their alerts, plus an optional JSONL export for downstream
// platform adapters.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sewerwatch/sewerwatch/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db         *sql.DB
	maxReports int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/sewerwatch/data.db.
func New(maxReports int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "sewerwatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxReports: maxReports}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			cycle_id        TEXT PRIMARY KEY,
			cycle_number    INTEGER NOT NULL,
			created_at      INTEGER NOT NULL,
			total_records   INTEGER NOT NULL,
			total_invalid   INTEGER NOT NULL,
			total_alerts    INTEGER NOT NULL,
			critical_alerts INTEGER NOT NULL,
			statistics      TEXT NOT NULL DEFAULT '{}',
			workers_used    INTEGER NOT NULL,
			duration_ns     INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id          TEXT PRIMARY KEY,
			cycle_id    TEXT NOT NULL REFERENCES reports(cycle_id) ON DELETE CASCADE,
			sensor_id   TEXT NOT NULL,
			kind        TEXT NOT NULL,
			value       REAL NOT NULL,
			observed_at INTEGER NOT NULL,
			location_x  REAL NOT NULL DEFAULT 0,
			location_y  REAL NOT NULL DEFAULT 0,
			produced_by TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_cycle ON alerts(cycle_id)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_sensor ON alerts(sensor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveReport persists a cycle report and its alerts in one transaction
// and rotates out the oldest reports beyond the configured cap.
func (s *Storage) SaveReport(report *models.Report) error {
	statsJSON, err := json.Marshal(report.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal statistics: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO reports
			(cycle_id, cycle_number, created_at, total_records, total_invalid,
			 total_alerts, critical_alerts, statistics, workers_used, duration_ns)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		report.CycleID, report.CycleNumber, report.Timestamp.UnixNano(),
		report.TotalRecords, report.TotalInvalid,
		report.TotalAlerts, report.CriticalAlerts,
		string(statsJSON), report.WorkersUsed, int64(report.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	for i := range report.Alerts {
		a := &report.Alerts[i]
		_, err = tx.Exec(`
			INSERT INTO alerts
				(id, cycle_id, sensor_id, kind, value, observed_at,
				 location_x, location_y, produced_by)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			a.ID, report.CycleID, a.SensorID, string(a.Kind), a.Value,
			a.Timestamp.UnixNano(), a.Location.X, a.Location.Y, a.ProducedBy,
		)
		if err != nil {
			return fmt.Errorf("failed to insert alert: %w", err)
		}
	}

	if _, err = tx.Exec(`
		DELETE FROM reports WHERE cycle_id NOT IN (
			SELECT cycle_id FROM reports ORDER BY created_at DESC LIMIT ?
		)`, s.maxReports); err != nil {
		return fmt.Errorf("failed to enforce report cap: %w", err)
	}

	return tx.Commit()
}

// GetReport loads one report with its alerts by cycle ID.
func (s *Storage) GetReport(cycleID string) (*models.Report, error) {
	row := s.db.QueryRow(`
		SELECT cycle_id, cycle_number, created_at, total_records, total_invalid,
		       total_alerts, critical_alerts, statistics, workers_used, duration_ns
		FROM reports WHERE cycle_id = ?`, cycleID)

	report, err := scanReport(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("report not found: %s", cycleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	alerts, err := s.getAlerts(cycleID)
	if err != nil {
		return nil, err
	}
	report.Alerts = alerts
	return report, nil
}

// GetRecentReports returns the newest limit reports without alerts.
func (s *Storage) GetRecentReports(limit int) ([]*models.Report, error) {
	rows, err := s.db.Query(`
		SELECT cycle_id, cycle_number, created_at, total_records, total_invalid,
		       total_alerts, critical_alerts, statistics, workers_used, duration_ns
		FROM reports ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	reports := []*models.Report{}
	for rows.Next() {
		report, err := scanReport(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

func (s *Storage) getAlerts(cycleID string) ([]models.Alert, error) {
	rows, err := s.db.Query(`
		SELECT id, sensor_id, kind, value, observed_at, location_x, location_y, produced_by
		FROM alerts WHERE cycle_id = ?`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var kind string
		var observedAtNano int64
		if err := rows.Scan(&a.ID, &a.SensorID, &kind, &a.Value, &observedAtNano,
			&a.Location.X, &a.Location.Y, &a.ProducedBy); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Kind = models.AnomalyKind(kind)
		a.Timestamp = time.Unix(0, observedAtNano)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// CountAlertsByKind returns alert totals across all persisted cycles.
func (s *Storage) CountAlertsByKind() (map[models.AnomalyKind]int, error) {
	rows, err := s.db.Query(`SELECT kind, COUNT(*) FROM alerts GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.AnomalyKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan alert count: %w", err)
		}
		counts[models.AnomalyKind(kind)] = n
	}
	return counts, rows.Err()
}

// AppendReportJSON appends the report as one JSON line to path, the
// hand-off format read by external platform adapters.
func AppendReportJSON(path string, report *models.Report) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open report export: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write report export: %w", err)
	}
	return nil
}

func scanReport(scan func(...any) error) (*models.Report, error) {
	var report models.Report
	var createdAtNano, durationNs int64
	var statsJSON string
	err := scan(
		&report.CycleID, &report.CycleNumber, &createdAtNano,
		&report.TotalRecords, &report.TotalInvalid,
		&report.TotalAlerts, &report.CriticalAlerts,
		&statsJSON, &report.WorkersUsed, &durationNs,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(statsJSON), &report.Stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal statistics: %w", err)
	}
	report.Timestamp = time.Unix(0, createdAtNano)
	report.Duration = time.Duration(durationNs)
	return &report, nil
}
