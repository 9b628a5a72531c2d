package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQL stores added apps in sqlite or postgres. Queries are written with ?
// placeholders and rebound for the driver.
type SQL struct {
	db *sqlx.DB
}

type appRow struct {
	Domain  string `db:"domain"`
	URL     string `db:"url"`
	AddedAt int64  `db:"added_at"`
}

func (r appRow) app() AddedApp {
	return AddedApp{Domain: r.Domain, URL: r.URL, AddedAt: time.UnixMilli(r.AddedAt).UTC()}
}

// OpenSQL connects with driver ("sqlite" or "postgres") and migrates.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQL, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s store requires a dsn", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s := NewSQL(db)
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an open database. The schema must already exist.
func NewSQL(db *sqlx.DB) *SQL {
	return &SQL{db: db}
}

func (s *SQL) Add(ctx context.Context, app AddedApp) (bool, error) {
	if app.Domain == "" {
		return false, fmt.Errorf("domain is required")
	}
	if app.AddedAt.IsZero() {
		app.AddedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO added_apps (domain, url, added_at) VALUES (?, ?, ?) ON CONFLICT (domain) DO NOTHING`),
		app.Domain, app.URL, app.AddedAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("insert added app: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert added app: %w", err)
	}
	return n > 0, nil
}

func (s *SQL) IsAdded(ctx context.Context, domain string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(1) FROM added_apps WHERE domain = ?`), domain)
	if err != nil {
		return false, fmt.Errorf("query added app: %w", err)
	}
	return n > 0, nil
}

func (s *SQL) Get(ctx context.Context, domain string) (AddedApp, error) {
	var row appRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT domain, url, added_at FROM added_apps WHERE domain = ?`), domain)
	if errors.Is(err, sql.ErrNoRows) {
		return AddedApp{}, ErrNotFound
	}
	if err != nil {
		return AddedApp{}, fmt.Errorf("get added app: %w", err)
	}
	return row.app(), nil
}

func (s *SQL) Remove(ctx context.Context, domain string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM added_apps WHERE domain = ?`), domain)
	if err != nil {
		return fmt.Errorf("delete added app: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete added app: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) List(ctx context.Context) ([]AddedApp, error) {
	var rows []appRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT domain, url, added_at FROM added_apps ORDER BY added_at, domain`); err != nil {
		return nil, fmt.Errorf("list added apps: %w", err)
	}
	out := make([]AddedApp, len(rows))
	for i, r := range rows {
		out[i] = r.app()
	}
	return out, nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}
