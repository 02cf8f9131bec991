// Package postgres stores the registry and event log in PostgreSQL through the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markumedium/loading-server/internal/app"
	"github.com/markumedium/loading-server/internal/domain"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Repository is the PostgreSQL-backed registry and event log.
type Repository struct {
	store
	db *sql.DB
}

type store struct {
	q querier
}

var _ app.Repository = (*Repository)(nil)

// Open connects, verifies the connection and migrates the schema.
func Open(ctx context.Context, databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("postgres url is required")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("verify postgres connection: %w", err)
	}
	repo := &Repository{store: store{q: db}, db: db}
	if err := repo.migrate(ctx); err != nil {
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

// Atomic runs fn inside one serializable transaction.
func (r *Repository) Atomic(ctx context.Context, fn func(context.Context, app.Store) error) (err error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
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

func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vehicles (
			id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			license_plate TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'at_yard',
			cycle INTEGER NOT NULL DEFAULT 1,
			last_weight DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS status_events (
			id BIGSERIAL PRIMARY KEY,
			day DATE NOT NULL,
			vehicle_id TEXT NOT NULL,
			ts BIGINT NOT NULL,
			status TEXT NOT NULL,
			cycle INTEGER NOT NULL,
			weight DOUBLE PRECISION NOT NULL DEFAULT 0,
			fallback BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_status_events_day_vehicle_ts ON status_events(day, vehicle_id, ts, id)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

func (s store) CreateVehicle(ctx context.Context, v domain.Vehicle) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO vehicles(id, model, license_plate, status, cycle, last_weight, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, v.ID, v.Model, v.LicensePlate, string(v.Status), v.Cycle, v.LastWeight, v.CreatedAt.UTC(), v.UpdatedAt.UTC())
	return err
}

func (s store) UpdateVehicle(ctx context.Context, v domain.Vehicle) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE vehicles
		SET model = $1, license_plate = $2, status = $3, cycle = $4, last_weight = $5, updated_at = $6
		WHERE id = $7
	`, v.Model, v.LicensePlate, string(v.Status), v.Cycle, v.LastWeight, v.UpdatedAt.UTC(), v.ID)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

func (s store) DeleteVehicle(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM vehicles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

func (s store) GetVehicle(ctx context.Context, id string) (domain.Vehicle, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, model, license_plate, status, cycle, last_weight, created_at, updated_at
		FROM vehicles
		WHERE id = $1
	`, id)
	return scanVehicle(row)
}

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

func (s store) AppendEvent(ctx context.Context, day string, e domain.StatusEvent) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO status_events(day, vehicle_id, ts, status, cycle, weight, fallback)
		VALUES ($1::date, $2, $3, $4, $5, $6, $7)
	`, day, e.VehicleID, e.Timestamp, string(e.Status), e.Cycle, e.Weight, e.Fallback)
	if err != nil {
		return fmt.Errorf("insert status event: %w", err)
	}
	return nil
}

func (s store) LoadPartition(ctx context.Context, day string) (domain.Partition, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT vehicle_id, ts, status, cycle, weight, fallback
		FROM status_events
		WHERE day = $1::date
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
		)
		if err := rows.Scan(&e.VehicleID, &e.Timestamp, &statusRaw, &e.Cycle, &e.Weight, &e.Fallback); err != nil {
			return domain.Partition{}, err
		}
		e.Status = domain.State(statusRaw)
		if !e.Status.Valid() {
			return domain.Partition{}, fmt.Errorf("decode status_events.status %q: %w", statusRaw, domain.ErrInvalidState)
		}
		partition.Events[e.VehicleID] = append(partition.Events[e.VehicleID], e)
	}
	return partition, rows.Err()
}

func (s store) ListDays(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT DISTINCT to_char(day, 'YYYY-MM-DD') AS d FROM status_events ORDER BY d ASC`)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanVehicle(s scanner) (domain.Vehicle, error) {
	var (
		v         domain.Vehicle
		statusRaw string
		weight    sql.NullFloat64
	)
	if err := s.Scan(&v.ID, &v.Model, &v.LicensePlate, &statusRaw, &v.Cycle, &weight, &v.CreatedAt, &v.UpdatedAt); err != nil {
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
	v.CreatedAt = v.CreatedAt.UTC()
	v.UpdatedAt = v.UpdatedAt.UTC()
	return v, nil
}

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
