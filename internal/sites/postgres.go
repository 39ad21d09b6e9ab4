package sites

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/star/driftcast/internal/geo"
)

const schema = `
CREATE TABLE IF NOT EXISTS sites (
	name       TEXT PRIMARY KEY,
	lat        DOUBLE PRECISION NOT NULL CHECK (lat BETWEEN -90 AND 90),
	lon        DOUBLE PRECISION NOT NULL CHECK (lon BETWEEN -180 AND 180),
	notes      TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// pgCheckViolation is the SQLSTATE for a failed CHECK constraint.
const pgCheckViolation = "23514"

// PostgresStore keeps sites in a Postgres table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool for dsn. The connection is not
// verified until first use; call Ping or EnsureSchema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing pool (useful for testing).
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// EnsureSchema creates the sites table if it does not exist.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating sites table: %w", err)
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) Put(ctx context.Context, s Site) (Site, error) {
	if err := s.Validate(); err != nil {
		return Site{}, err
	}

	query := `
		INSERT INTO sites (name, lat, lon, notes, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (name) DO UPDATE SET
			lat = EXCLUDED.lat, lon = EXCLUDED.lon,
			notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at
		RETURNING updated_at
	`
	err := p.db.QueryRowContext(ctx, query, s.Name, s.Location.Lat(), s.Location.Lon(), s.Notes).
		Scan(&s.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgCheckViolation {
			return Site{}, fmt.Errorf("%w: %s", ErrInvalidSite, pqErr.Message)
		}
		return Site{}, fmt.Errorf("saving site %s: %w", s.Name, err)
	}
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

func (p *PostgresStore) Get(ctx context.Context, name string) (Site, error) {
	query := `
		SELECT name, lat, lon, notes, updated_at
		FROM sites
		WHERE name = $1
	`
	s, err := scanSite(p.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return Site{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Site{}, fmt.Errorf("loading site %s: %w", name, err)
	}
	return s, nil
}

func (p *PostgresStore) List(ctx context.Context) ([]Site, error) {
	query := `
		SELECT name, lat, lon, notes, updated_at
		FROM sites
		ORDER BY name
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing sites: %w", err)
	}
	defer rows.Close()

	out := []Site{}
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("listing sites: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Delete(ctx context.Context, name string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM sites WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("deleting site %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting site %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSite(row scanner) (Site, error) {
	var (
		s        Site
		lat, lon float64
	)
	if err := row.Scan(&s.Name, &lat, &lon, &s.Notes, &s.UpdatedAt); err != nil {
		return Site{}, err
	}
	loc, err := geo.NewPoint(lat, lon)
	if err != nil {
		return Site{}, fmt.Errorf("site %s: %w", s.Name, err)
	}
	s.Location = loc
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}
