package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"

	_ "modernc.org/sqlite"

	"github.com/joestump/scoremigrate/internal/schema"
)

// ErrNotFound is returned when the legacy database file does not exist.
var ErrNotFound = errors.New("legacy database not found")

// DB is a read-only handle on the legacy SQLite database.
type DB struct {
	conn *sql.DB
	path string
}

// Row is one legacy row with its column names in table order.
type Row struct {
	Columns []string
	Values  []any
}

// Map returns the row keyed by column name.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return m
}

// Get returns a column's value, or nil when the column is absent.
func (r Row) Get(column string) any {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i]
		}
	}
	return nil
}

// Open opens the legacy database read-only. The file must already exist;
// SQLite would otherwise create an empty database in its place.
func Open(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	dsn := "file:" + (&url.URL{Path: path}).EscapedPath() + "?mode=ro&_pragma=busy_timeout(5000)&_pragma=query_only(1)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Path returns the file the database was opened from.
func (d *DB) Path() string {
	return d.path
}

// Tables lists user tables, SQLite internals excluded, sorted by name.
func (d *DB) Tables(ctx context.Context) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// HasTable reports whether a table exists.
func (d *DB) HasTable(ctx context.Context, table string) (bool, error) {
	var n int
	err := d.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return n > 0, nil
}

// Count returns the number of rows in a table.
func (d *DB) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+schema.Quote(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Stream reads a table in pages of batch rows, in rowid order, and calls fn
// for every row. It stops at the first error fn returns.
func (d *DB) Stream(ctx context.Context, table string, batch int, fn func(Row) error) error {
	if batch <= 0 {
		batch = 500
	}
	query := `SELECT * FROM ` + schema.Quote(table) + ` ORDER BY rowid LIMIT ? OFFSET ?`

	for offset := 0; ; offset += batch {
		n, err := d.page(ctx, query, batch, offset, fn)
		if err != nil {
			return err
		}
		if n < batch {
			return nil
		}
	}
}

func (d *DB) page(ctx context.Context, query string, limit, offset int, fn func(Row) error) (int, error) {
	rows, err := d.conn.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return 0, fmt.Errorf("read page at %d: %w", offset, err)
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("read columns: %w", err)
	}

	// Rows are handed to fn only after the page is fully read so fn may use
	// the connection.
	var page []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return 0, fmt.Errorf("scan row: %w", err)
		}
		page = append(page, Row{Columns: cols, Values: values})
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	for _, r := range page {
		if err := fn(r); err != nil {
			return 0, err
		}
	}
	return len(page), nil
}
