// Package target is the write side of a migration: the new scoring database,
// PostgreSQL in production or a SQLite file for rehearsals, reached through
// gorm.
package target

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/joestump/scoremigrate/internal/schema"
)

// Store wraps the gorm connection to the target database.
type Store struct {
	db      *gorm.DB
	dialect schema.Dialect
}

// Open connects to the target and pings it. driver is "postgres" or "sqlite";
// a sqlite dsn always gets foreign key enforcement switched on.
func Open(ctx context.Context, driver, dsn string, log *zap.Logger, verbose bool) (*Store, error) {
	dialect, err := schema.DialectFor(driver)
	if err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch dialect {
	case schema.Postgres:
		dialector = postgres.Open(dsn)
	default:
		dialector = sqlite.Open(withForeignKeys(dsn))
	}

	level := logger.Silent
	if verbose {
		level = logger.Warn
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(zap.NewStdLog(log.Named("gorm")), logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s target: %w", dialect.Name(), err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB: %w", err)
	}
	// One writer; the migration is sequential.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s target: %w", dialect.Name(), err)
	}

	return &Store{db: db, dialect: dialect}, nil
}

func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

// Close closes the connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Dialect returns the DDL dialect matching the connected engine.
func (s *Store) Dialect() schema.Dialect {
	return s.dialect
}

// Exec runs a single statement.
func (s *Store) Exec(ctx context.Context, stmt string, args ...any) error {
	return s.db.WithContext(ctx).Exec(stmt, args...).Error
}

// Insert writes one row. cols and vals are parallel.
func (s *Store) Insert(ctx context.Context, table string, cols []string, vals []any) error {
	if len(cols) != len(vals) {
		return fmt.Errorf("insert into %s: %d columns, %d values", table, len(cols), len(vals))
	}
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = schema.Quote(c)
		marks[i] = "?"
	}
	stmt := "INSERT INTO " + schema.Quote(table) +
		" (" + strings.Join(quoted, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
	return s.Exec(ctx, stmt, vals...)
}

// Count returns the number of rows in a table or view.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Raw("SELECT COUNT(*) FROM " + schema.Quote(table)).Scan(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// HasTable reports whether a base table exists.
func (s *Store) HasTable(ctx context.Context, table string) bool {
	return s.db.WithContext(ctx).Migrator().HasTable(table)
}

// HasView reports whether a view exists.
func (s *Store) HasView(ctx context.Context, view string) (bool, error) {
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type = 'view' AND name = ?`
	if s.dialect == schema.Postgres {
		query = `SELECT COUNT(*) FROM information_schema.views WHERE table_schema = CURRENT_SCHEMA() AND table_name = ?`
	}
	var n int64
	if err := s.db.WithContext(ctx).Raw(query, view).Scan(&n).Error; err != nil {
		return false, fmt.Errorf("check view %s: %w", view, err)
	}
	return n > 0, nil
}

// Query runs a read-only statement and returns every row as a column map.
func (s *Store) Query(ctx context.Context, stmt string, args ...any) ([]map[string]any, error) {
	var rows []map[string]any
	if err := s.db.WithContext(ctx).Raw(stmt, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		for k, v := range row {
			row[k] = plain(v)
		}
	}
	return rows, nil
}

// plain unwraps the *any gorm leaves for computed columns and turns bytes
// into strings.
func plain(v any) any {
	if p, ok := v.(*any); ok {
		if p == nil {
			return nil
		}
		v = *p
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
