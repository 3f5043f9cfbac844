package schema

import (
	"fmt"
	"strings"
)

// Type is the abstract column type; each Dialect renders it.
type Type int

const (
	UUID Type = iota
	Text
	Int
	Bool
	Real
	Timestamp
)

func (t Type) String() string {
	switch t {
	case UUID:
		return "uuid"
	case Text:
		return "text"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Real:
		return "real"
	case Timestamp:
		return "timestamp"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Column is one target column.
type Column struct {
	Name    string
	Type    Type
	NotNull bool
	Default string // raw SQL, must be portable across dialects
}

// ForeignKey references another target table's primary key.
type ForeignKey struct {
	Columns  []string
	RefTable string
	RefCols  []string
	OnDelete string // "", "CASCADE", "SET NULL"
}

// Table is a hand-maintained target table definition.
type Table struct {
	Name        string
	Columns     []Column
	PrimaryKey  []string
	ForeignKeys []ForeignKey
	Unique      [][]string
	Checks      []string // portable boolean expressions
}

// Column looks a column up by name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// References lists the distinct tables this table points at, excluding itself.
func (t Table) References() []string {
	var refs []string
	seen := make(map[string]bool)
	for _, fk := range t.ForeignKeys {
		if fk.RefTable == t.Name || seen[fk.RefTable] {
			continue
		}
		seen[fk.RefTable] = true
		refs = append(refs, fk.RefTable)
	}
	return refs
}

// IsIdentifier reports whether a column carries a row identifier and must go
// through the identifier reformatter: it is named id or ends in _id.
func IsIdentifier(column string) bool {
	return column == "id" || strings.HasSuffix(column, "_id")
}

// View is a compatibility view reproducing a legacy table's name and shape.
type View struct {
	Name   string
	Select string // portable SELECT body
}

// Lookup finds a table by name in a table list.
func Lookup(tables []Table, name string) (Table, bool) {
	for _, t := range tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}
