package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/markumedium/loading-server/internal/app"
	"github.com/markumedium/loading-server/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// memoryDBSeq keeps in-memory databases of one process apart.
var memoryDBSeq atomic.Int64

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Repository is the SQLite-backed registry and event log.
type Repository struct {
	store
	db *sql.DB
}

// store implements app.Store over any querier.
type store struct {
	q querier
}

var (
	_ app.Repository = (*Repository)(nil)
	_ app.Store      = store{}
)

// Open opens the requested operation.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newRepository(db)
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Repository, error) {
	dsn := fmt.Sprintf("file:yard-mem-%d?mode=memory&cache=shared", memoryDBSeq.Add(1))
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// A single connection keeps the shared-cache database alive and avoids table locks.
	db.SetMaxOpenConns(1)
	return newRepository(db)
}

func newRepository(db *sql.DB) (*Repository, error) {
	repo := &Repository{store: store{q: db}, db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Atomic runs fn inside one transaction.
func (r *Repository) Atomic(ctx context.Context, fn func(context.Context, app.Store) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, store{q: tx}); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vehicles (
			id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			license_plate TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'at_yard',
			cycle INTEGER NOT NULL DEFAULT 1,
			last_weight REAL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		// status_events carries no foreign key: removing a vehicle orphans its history.
		`CREATE TABLE IF NOT EXISTS status_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			day TEXT NOT NULL,
			vehicle_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			status TEXT NOT NULL,
			cycle INTEGER NOT NULL,
			weight REAL NOT NULL DEFAULT 0,
			fallback INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_status_events_day_vehicle_ts ON status_events(day, vehicle_id, ts, id);`,
		`CREATE INDEX IF NOT EXISTS idx_vehicles_created_at ON vehicles(created_at, id);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// CreateVehicle creates vehicle.
func (s store) CreateVehicle(ctx context.Context, v domain.Vehicle) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO vehicles(id, model, license_plate, status, cycle, last_weight, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.Model, v.LicensePlate, string(v.Status), v.Cycle, nullableWeight(v.LastWeight), ts(v.CreatedAt), ts(v.UpdatedAt))
	return err
}

// UpdateVehicle updates state for the requested operation.
func (s store) UpdateVehicle(ctx context.Context, v domain.Vehicle) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE vehicles
		SET model = ?, license_plate = ?, status = ?, cycle = ?, last_weight = ?, updated_at = ?
		WHERE id = ?
	`, v.Model, v.LicensePlate, string(v.Status), v.Cycle, nullableWeight(v.LastWeight), ts(v.UpdatedAt), v.ID)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// DeleteVehicle removes a registry entry and leaves its events.
func (s store) DeleteVehicle(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM vehicles WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// GetVehicle returns vehicle.
func (s store) GetVehicle(ctx context.Context, id string) (domain.Vehicle, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, model, license_plate, status, cycle, last_weight, created_at, updated_at
		FROM vehicles
		WHERE id = ?
	`, id)
	return scanVehicle(row)
}

// ListVehicles lists vehicles in registration order.
func (s store) ListVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, model, license_plate, status, cycle, last_weight, created_at, updated_at
		FROM vehicles
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Vehicle{}
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// AppendEvent appends one event to the day's partition.
func (s store) AppendEvent(ctx context.Context, day string, e domain.StatusEvent) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO status_events(day, vehicle_id, ts, status, cycle, weight, fallback)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, day, e.VehicleID, e.Timestamp, string(e.Status), e.Cycle, e.Weight, boolToInt(e.Fallback))
	if err != nil {
		return fmt.Errorf("insert status event: %w", err)
	}
	return nil
}

// LoadPartition returns every event of day ordered by timestamp and insertion.
func (s store) LoadPartition(ctx context.Context, day string) (domain.Partition, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT vehicle_id, ts, status, cycle, weight, fallback
		FROM status_events
		WHERE day = ?
		ORDER BY vehicle_id ASC, ts ASC, id ASC
	`, day)
	if err != nil {
		return domain.Partition{}, err
	}
	defer rows.Close()

	partition := domain.NewPartition(day)
	for rows.Next() {
		var (
			e         domain.StatusEvent
			statusRaw string
			fallback  int
		)
		if err := rows.Scan(&e.VehicleID, &e.Timestamp, &statusRaw, &e.Cycle, &e.Weight, &fallback); err != nil {
			return domain.Partition{}, err
		}
		e.Status = domain.State(statusRaw)
		if !e.Status.Valid() {
			return domain.Partition{}, fmt.Errorf("decode status_events.status %q: %w", statusRaw, domain.ErrInvalidState)
		}
		e.Fallback = fallback != 0
		partition.Events[e.VehicleID] = append(partition.Events[e.VehicleID], e)
	}
	return partition, rows.Err()
}

// ListDays lists days with events.
func (s store) ListDays(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT DISTINCT day FROM status_events ORDER BY day ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		out = append(out, day)
	}
	return out, rows.Err()
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

// scanVehicle handles scan vehicle.
func scanVehicle(s scanner) (domain.Vehicle, error) {
	var (
		v          domain.Vehicle
		statusRaw  string
		weight     sql.NullFloat64
		createdRaw string
		updatedRaw string
	)
	if err := s.Scan(&v.ID, &v.Model, &v.LicensePlate, &statusRaw, &v.Cycle, &weight, &createdRaw, &updatedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Vehicle{}, app.ErrNotFound
		}
		return domain.Vehicle{}, err
	}
	v.Status = domain.State(statusRaw)
	if !v.Status.Valid() {
		return domain.Vehicle{}, fmt.Errorf("decode vehicles.status %q: %w", statusRaw, domain.ErrInvalidState)
	}
	if weight.Valid {
		w := weight.Float64
		v.LastWeight = &w
	}
	v.CreatedAt = parseTS(createdRaw)
	v.UpdatedAt = parseTS(updatedRaw)
	return v, nil
}

// translateNoRows handles translate no rows.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

func nullableWeight(w *float64) any {
	if w == nil {
		return nil
	}
	return *w
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
