package schema

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Dialect renders DDL for one target database engine.
type Dialect interface {
	Name() string
	ColumnType(Type) string
	// Extension returns the statement enabling server-side UUID generation,
	// or "" when the engine needs none.
	Extension() string
	CreateTable(t Table, ifNotExists bool) string
	DropTable(name string) string
	DropView(name string) string
	CreateView(v View) string
}

// Quote quotes an identifier. Both engines accept ANSI double quotes.
func Quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func quoteAll(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = Quote(n)
	}
	return strings.Join(q, ", ")
}

type postgres struct{}

type sqlite struct{}

// Postgres is the production target dialect.
var Postgres Dialect = postgres{}

// SQLite is the rehearsal and test target dialect.
var SQLite Dialect = sqlite{}

// DialectFor returns the dialect for a target driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return nil, fmt.Errorf("unsupported target driver %q", driver)
}

func (postgres) Name() string { return "postgres" }

func (postgres) ColumnType(t Type) string {
	switch t {
	case UUID:
		return "UUID"
	case Int:
		return "INTEGER"
	case Bool:
		return "BOOLEAN"
	case Real:
		return "DOUBLE PRECISION"
	case Timestamp:
		return "TIMESTAMPTZ"
	}
	return "TEXT"
}

func (postgres) Extension() string {
	return `CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`
}

func (d postgres) CreateTable(t Table, ifNotExists bool) string {
	return createTable(d, t, ifNotExists)
}

func (postgres) DropTable(name string) string {
	return "DROP TABLE IF EXISTS " + Quote(name) + " CASCADE"
}

func (postgres) DropView(name string) string {
	return "DROP VIEW IF EXISTS " + Quote(name) + " CASCADE"
}

func (postgres) CreateView(v View) string {
	return createView(v)
}

func (sqlite) Name() string { return "sqlite" }

func (sqlite) ColumnType(t Type) string {
	switch t {
	case Int:
		return "INTEGER"
	case Bool:
		return "BOOLEAN"
	case Real:
		return "REAL"
	case Timestamp:
		return "DATETIME"
	}
	return "TEXT"
}

func (sqlite) Extension() string { return "" }

func (d sqlite) CreateTable(t Table, ifNotExists bool) string {
	return createTable(d, t, ifNotExists)
}

func (sqlite) DropTable(name string) string {
	return "DROP TABLE IF EXISTS " + Quote(name)
}

func (sqlite) DropView(name string) string {
	return "DROP VIEW IF EXISTS " + Quote(name)
}

func (sqlite) CreateView(v View) string {
	return createView(v)
}

func createTable(d Dialect, t Table, ifNotExists bool) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if ifNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(Quote(t.Name))
	b.WriteString(" (\n")

	var lines []string
	for _, c := range t.Columns {
		line := "\t" + Quote(c.Name) + " " + d.ColumnType(c.Type)
		if c.NotNull {
			line += " NOT NULL"
		}
		if c.Default != "" {
			line += " DEFAULT " + c.Default
		}
		lines = append(lines, line)
	}
	if len(t.PrimaryKey) > 0 {
		lines = append(lines, "\tPRIMARY KEY ("+quoteAll(t.PrimaryKey)+")")
	}
	for _, u := range t.Unique {
		lines = append(lines, "\tUNIQUE ("+quoteAll(u)+")")
	}
	for _, fk := range t.ForeignKeys {
		line := "\tFOREIGN KEY (" + quoteAll(fk.Columns) + ") REFERENCES " + Quote(fk.RefTable) + " (" + quoteAll(fk.RefCols) + ")"
		if fk.OnDelete != "" {
			line += " ON DELETE " + fk.OnDelete
		}
		lines = append(lines, line)
	}
	for _, c := range t.Checks {
		lines = append(lines, "\tCHECK ("+c+")")
	}
	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n)")
	return b.String()
}

func createView(v View) string {
	return "CREATE VIEW " + Quote(v.Name) + " AS " + v.Select
}
