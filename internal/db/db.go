// Package db is the PostgreSQL directory of registered drivers and students.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"unimap-shuttle/internal/shuttle"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS drivers (
  key          TEXT PRIMARY KEY,
  name         TEXT NOT NULL,
  id_number    TEXT NOT NULL UNIQUE,
  phone_number TEXT NOT NULL DEFAULT '',
  email        TEXT NOT NULL DEFAULT '',
  role         TEXT NOT NULL DEFAULT 'Driver' CHECK (role IN ('Driver', 'Admin'))
);
CREATE TABLE IF NOT EXISTS students (
  key           TEXT PRIMARY KEY,
  name          TEXT NOT NULL,
  email         TEXT NOT NULL DEFAULT '',
  matric_number TEXT NOT NULL UNIQUE,
  phone_number  TEXT NOT NULL DEFAULT '',
  role          TEXT NOT NULL DEFAULT 'Student'
);`

// Directory reads and writes the drivers and students tables.
type Directory struct {
	db *sql.DB
}

func NewDirectory(db *sql.DB) *Directory { return &Directory{db: db} }

func (d *Directory) EnsureSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const driverCols = `key, name, id_number, phone_number, email, role`

func scanDriver(row interface{ Scan(...any) error }) (shuttle.Driver, error) {
	var drv shuttle.Driver
	var role string
	if err := row.Scan(&drv.Key, &drv.Name, &drv.IDNumber, &drv.PhoneNumber, &drv.Email, &role); err != nil {
		return drv, err
	}
	drv.Role = shuttle.Role(role)
	return drv, nil
}

// ListDrivers returns drivers with the Driver role, by name. Admins are
// excluded since they cannot be assigned a route.
func (d *Directory) ListDrivers(ctx context.Context) ([]shuttle.Driver, error) {
	q := `SELECT ` + driverCols + ` FROM drivers WHERE role = $1 ORDER BY name, id_number`
	rows, err := d.db.QueryContext(ctx, q, string(shuttle.RoleDriver))
	if err != nil {
		return nil, fmt.Errorf("query drivers: %w", err)
	}
	defer rows.Close()

	var out []shuttle.Driver
	for rows.Next() {
		drv, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, drv)
	}
	return out, rows.Err()
}

// DriverByID looks a driver up by idNumber.
func (d *Directory) DriverByID(ctx context.Context, idNumber string) (shuttle.Driver, error) {
	q := `SELECT ` + driverCols + ` FROM drivers WHERE id_number = $1`
	drv, err := scanDriver(d.db.QueryRowContext(ctx, q, idNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return drv, fmt.Errorf("%w: %s", shuttle.ErrUnknownDriver, idNumber)
		}
		return drv, fmt.Errorf("query driver %s: %w", idNumber, err)
	}
	return drv, nil
}

// UpsertDriver inserts or updates by idNumber and returns the stored key.
func (d *Directory) UpsertDriver(ctx context.Context, drv shuttle.Driver) (string, error) {
	if err := validateDriver(&drv); err != nil {
		return "", err
	}
	q := `
INSERT INTO drivers (` + driverCols + `)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id_number) DO UPDATE
  SET name = EXCLUDED.name, phone_number = EXCLUDED.phone_number,
      email = EXCLUDED.email, role = EXCLUDED.role
RETURNING key`
	var key string
	err := d.db.QueryRowContext(ctx, q, drv.Key, drv.Name, drv.IDNumber, drv.PhoneNumber, drv.Email, string(drv.Role)).Scan(&key)
	if err != nil {
		return "", fmt.Errorf("upsert driver %s: %w", drv.IDNumber, err)
	}
	return key, nil
}

func validateDriver(drv *shuttle.Driver) error {
	drv.Name = strings.TrimSpace(drv.Name)
	drv.IDNumber = strings.TrimSpace(drv.IDNumber)
	if drv.Name == "" || drv.IDNumber == "" {
		return errors.New("driver name and idNumber are required")
	}
	switch drv.Role {
	case "":
		drv.Role = shuttle.RoleDriver
	case shuttle.RoleDriver, shuttle.RoleAdmin:
	default:
		return fmt.Errorf("invalid driver role %q", drv.Role)
	}
	if drv.Key == "" {
		drv.Key = uuid.NewString()
	}
	return nil
}

const studentCols = `key, name, email, matric_number, phone_number, role`

func (d *Directory) ListStudents(ctx context.Context) ([]shuttle.Student, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+studentCols+` FROM students ORDER BY name, matric_number`)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	var out []shuttle.Student
	for rows.Next() {
		var s shuttle.Student
		var role string
		if err := rows.Scan(&s.Key, &s.Name, &s.Email, &s.MatricNumber, &s.PhoneNumber, &role); err != nil {
			return nil, err
		}
		s.Role = shuttle.Role(role)
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertStudent inserts or updates by matric number and returns the stored key.
func (d *Directory) UpsertStudent(ctx context.Context, s shuttle.Student) (string, error) {
	s.Name = strings.TrimSpace(s.Name)
	s.MatricNumber = strings.TrimSpace(s.MatricNumber)
	if s.Name == "" || s.MatricNumber == "" {
		return "", errors.New("student name and matricNumber are required")
	}
	if s.Key == "" {
		s.Key = uuid.NewString()
	}
	s.Role = shuttle.RoleStudent
	q := `
INSERT INTO students (` + studentCols + `)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (matric_number) DO UPDATE
  SET name = EXCLUDED.name, email = EXCLUDED.email, phone_number = EXCLUDED.phone_number
RETURNING key`
	var key string
	err := d.db.QueryRowContext(ctx, q, s.Key, s.Name, s.Email, s.MatricNumber, s.PhoneNumber, string(s.Role)).Scan(&key)
	if err != nil {
		return "", fmt.Errorf("upsert student %s: %w", s.MatricNumber, err)
	}
	return key, nil
}
