package kv

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Postgres stores envelopes in a single two-column table.
type Postgres struct {
	db    *sql.DB
	table string // already quoted
}

// NewPostgres opens a connection, verifies it, and ensures the table exists.
func NewPostgres(dsn, table string) (*Postgres, error) {
	if table == "" {
		table = "encrypted_kv"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	p := &Postgres{db: db, table: pq.QuoteIdentifier(table)}
	if err := p.ensureTable(ctx); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("Postgres connected", "table", table)
	return p, nil
}

// NewPostgresFromDB wraps an existing handle; tests use this with sqlmock.
func NewPostgresFromDB(db *sql.DB, table string) (*Postgres, error) {
	if table == "" {
		table = "encrypted_kv"
	}
	p := &Postgres{db: db, table: pq.QuoteIdentifier(table)}
	if err := p.ensureTable(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (k TEXT PRIMARY KEY, v BYTEA NOT NULL, updated_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
		p.table,
	)
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure kv table: %w", err)
	}
	return nil
}

func (p *Postgres) Put(ctx context.Context, key string, value []byte) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (k, v, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v, updated_at = now()`,
		p.table,
	)
	_, err := p.db.ExecContext(ctx, query, key, value)
	return err
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT v FROM %s WHERE k = $1`, p.table)

	var value []byte
	err := p.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	return value, err
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE k = $1`, p.table)
	_, err := p.db.ExecContext(ctx, query, key)
	return err
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
