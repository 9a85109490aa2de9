package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"olx_bot/internal/model"
	"olx_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// The scheduler and the command handler share this handle. One
	// connection serializes their statements and keeps ":memory:" databases
	// on a single connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", pragma, err)
		}
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// AddFilter registers url for ownerID. It returns ErrDuplicateFilter when
// the pair already exists.
func (s *SQLite) AddFilter(ctx context.Context, ownerID, url, name string) (*model.Filter, error) {
	now := s.now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO filter_urls (owner_id, url, name, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (owner_id, url) DO NOTHING`,
		ownerID, url, nullString(name), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert filter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrDuplicateFilter
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	created, _ := time.Parse(timeLayout, now)
	return &model.Filter{
		ID:        id,
		OwnerID:   ownerID,
		URL:       url,
		Name:      name,
		CreatedAt: created,
	}, nil
}

// RemoveFilter deletes the filter only if it belongs to ownerID and reports
// whether a row was deleted.
func (s *SQLite) RemoveFilter(ctx context.Context, ownerID string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM filter_urls WHERE id = ? AND owner_id = ?`, id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("delete filter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListFilters returns the owner's filters, most recently created first.
func (s *SQLite) ListFilters(ctx context.Context, ownerID string) ([]model.Filter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, url, name, created_at
		 FROM filter_urls WHERE owner_id = ? ORDER BY id DESC`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query filters: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFilters(rows)
}

// ListAllFilters returns every registered filter grouped by owner.
func (s *SQLite) ListAllFilters(ctx context.Context) ([]model.Filter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, url, name, created_at
		 FROM filter_urls ORDER BY owner_id, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query all filters: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFilters(rows)
}

// HasSeen checks whether a listing has already been reported.
func (s *SQLite) HasSeen(ctx context.Context, listingID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM seen_listings WHERE listing_id = ?`, listingID,
	).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("check seen: %w", err)
	}
	return true, nil
}

// MarkSeen records a listing as reported. Marking an existing listing is a
// no-op that keeps the original row.
func (s *SQLite) MarkSeen(ctx context.Context, l model.SeenListing) error {
	now := s.now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_listings (listing_id, title, price, url, first_seen)
		 VALUES (?, ?, ?, ?, ?)`,
		l.ListingID, l.Title, l.Price, l.URL, now,
	)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// GetSeen returns the stored record for a listing.
func (s *SQLite) GetSeen(ctx context.Context, listingID string) (*model.SeenListing, error) {
	var l model.SeenListing
	var firstSeen string
	err := s.db.QueryRowContext(ctx,
		`SELECT listing_id, title, price, url, first_seen
		 FROM seen_listings WHERE listing_id = ?`, listingID,
	).Scan(&l.ListingID, &l.Title, &l.Price, &l.URL, &firstSeen)
	if err != nil {
		return nil, fmt.Errorf("scan seen listing: %w", err)
	}
	l.FirstSeen, _ = time.Parse(timeLayout, firstSeen)
	return &l, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFilter(row scannable) (model.Filter, error) {
	var f model.Filter
	var name sql.NullString
	var created string
	if err := row.Scan(&f.ID, &f.OwnerID, &f.URL, &name, &created); err != nil {
		return f, fmt.Errorf("scan filter: %w", err)
	}
	f.Name = name.String
	f.CreatedAt, _ = time.Parse(timeLayout, created)
	return f, nil
}

func scanFilters(rows *sql.Rows) ([]model.Filter, error) {
	var filters []model.Filter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, rows.Err()
}
