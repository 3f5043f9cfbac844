// Package legacydb builds databases in the shape of the legacy scoring
// application. The schema lives in embedded goose migrations so rehearsal and
// test databases match what the PHP application created in production.
package legacydb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/joestump/scoremigrate/internal/schema"
)

// VersionTable is the goose bookkeeping table left in every database Create
// builds. It is not part of the legacy application.
const VersionTable = "goose_db_version"

//go:embed migrations/*.sql
var migrationFS embed.FS

// Create opens (creating if needed) a legacy database at path and applies
// every pending schema migration. The returned handle is read-write.
func Create(ctx context.Context, path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(delete)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := Migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// Migrate applies the legacy schema migrations to conn.
func Migrate(ctx context.Context, conn *sql.DB) error {
	fsys, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply legacy schema: %w", err)
	}
	return nil
}

// Insert writes one row. Columns are written in sorted order so the
// statement text is stable.
func Insert(ctx context.Context, conn *sql.DB, table string, row map[string]any) error {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	quoted := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = schema.Quote(c)
		args[i] = row[c]
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		schema.Quote(table), strings.Join(quoted, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	if _, err := conn.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}
