package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"contact-service/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS submissions (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	ip         TEXT NOT NULL,
	email      TEXT NOT NULL,
	language   TEXT NOT NULL,
	month      TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submissions_month ON submissions(month, created_at);
CREATE INDEX IF NOT EXISTS idx_submissions_created ON submissions(created_at);
`

// Index is a SQLite catalogue of backup files, used for lookups and listing
// without walking the backup tree.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if needed) the index database at path.
func OpenIndex(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup index: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise backup index: %w", err)
	}
	return &Index{db: db}, nil
}

func (i *Index) Close() error {
	return i.db.Close()
}

func (i *Index) Ping(ctx context.Context) error {
	return i.db.PingContext(ctx)
}

func (i *Index) Insert(ctx context.Context, e models.BackupEntry) error {
	_, err := i.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO submissions (id, path, ip, email, language, month, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Path, e.IP, e.Email, e.Language, e.CreatedAt.Format(monthLayout), e.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to index backup %s: %w", e.ID, err)
	}
	return nil
}

func (i *Index) Get(ctx context.Context, id string) (models.BackupEntry, error) {
	row := i.db.QueryRowContext(ctx,
		`SELECT id, path, ip, email, language, created_at FROM submissions WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.BackupEntry{}, ErrNotFound
	}
	return e, err
}

// List returns entries newest first, optionally restricted to one YYYY-MM month.
func (i *Index) List(ctx context.Context, opts ListOptions) ([]models.BackupEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	if opts.Month != "" {
		where = append(where, "month = ?")
		args = append(args, opts.Month)
	}

	query := `SELECT id, path, ip, email, language, created_at FROM submissions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, opts.limit(), opts.Offset)

	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	defer rows.Close()

	var out []models.BackupEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (i *Index) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for n, id := range ids {
		args[n] = id
	}
	if _, err := i.db.ExecContext(ctx, `DELETE FROM submissions WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to remove index entries: %w", err)
	}
	return nil
}

func (i *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := i.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count backups: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (models.BackupEntry, error) {
	var (
		e       models.BackupEntry
		created int64
	)
	if err := s.Scan(&e.ID, &e.Path, &e.IP, &e.Email, &e.Language, &created); err != nil {
		return models.BackupEntry{}, err
	}
	e.CreatedAt = time.Unix(created, 0)
	return e, nil
}
