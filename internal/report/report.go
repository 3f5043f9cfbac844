// Package report records what a migration run did: every issue, every table
// copied, every count compared. Nothing is dropped silently; if a row was
// skipped the report says so.
package report

import (
	"fmt"
	"strings"
	"time"
)

// Kind classifies an issue. Failing kinds make the run exit non-zero;
// warnings are reported but do not fail the run on their own.
type Kind string

const (
	Connection Kind = "connection"
	DDL        Kind = "ddl"
	View       Kind = "view"
	Row        Kind = "row"
	Validation Kind = "validation"

	Skip       Kind = "skip"
	Identifier Kind = "identifier"
	Collision  Kind = "collision"
)

// Kinds lists every kind in report order.
var Kinds = []Kind{Connection, DDL, View, Row, Validation, Skip, Identifier, Collision}

// Failing reports whether an issue of this kind fails the run.
func (k Kind) Failing() bool {
	switch k {
	case Connection, DDL, View, Row, Validation:
		return true
	}
	return false
}

// Issue is one recorded problem.
type Issue struct {
	Kind    Kind
	Table   string
	Row     string // legacy primary key, when the issue concerns one row
	Message string
}

func (i Issue) String() string {
	var b strings.Builder
	b.WriteString(string(i.Kind))
	if i.Table != "" {
		b.WriteString(" ")
		b.WriteString(i.Table)
	}
	if i.Row != "" {
		b.WriteString("[" + i.Row + "]")
	}
	b.WriteString(": ")
	b.WriteString(i.Message)
	return b.String()
}

// TableResult counts what happened to one target table.
type TableResult struct {
	Target   string
	Sources  []string
	Read     int64
	Inserted int64
	Failed   int64
}

// CountCheck compares the source row count feeding a target table with the
// rows that ended up there.
type CountCheck struct {
	Target   string
	Sources  []string
	Expected int64
	Actual   int64
}

// Match reports whether the counts agree.
func (c CountCheck) Match() bool {
	return c.Expected == c.Actual
}

// Report is the record of one migration run.
type Report struct {
	Mode     string
	Started  time.Time
	Finished time.Time
	Source   string
	Target   string

	Backup     string
	BackupSize int64

	Issues    []Issue
	Tables    []TableResult
	Checks    []CountCheck
	Generated int
	Notes     []string
}

// New starts a report for mode.
func New(mode string, now time.Time) *Report {
	return &Report{Mode: mode, Started: now}
}

// Add records an issue.
func (r *Report) Add(i Issue) {
	r.Issues = append(r.Issues, i)
}

// Addf records an issue with a formatted message.
func (r *Report) Addf(kind Kind, table, row, format string, args ...any) {
	r.Add(Issue{Kind: kind, Table: table, Row: row, Message: fmt.Sprintf(format, args...)})
}

// Note records an informational line for the summary.
func (r *Report) Note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// Table returns the result row for target, creating it on first use.
func (r *Report) Table(target string, sources ...string) *TableResult {
	for i := range r.Tables {
		if r.Tables[i].Target == target {
			return &r.Tables[i]
		}
	}
	r.Tables = append(r.Tables, TableResult{Target: target, Sources: sources})
	return &r.Tables[len(r.Tables)-1]
}

// Check records a count comparison and, on mismatch, a validation issue.
func (r *Report) Check(c CountCheck) {
	r.Checks = append(r.Checks, c)
	if !c.Match() {
		r.Addf(Validation, c.Target, "", "expected %d rows from %s, found %d",
			c.Expected, strings.Join(c.Sources, " + "), c.Actual)
	}
}

// Finish stamps the end time.
func (r *Report) Finish(now time.Time) {
	r.Finished = now
}

// Duration is the wall time of the run, zero until Finish.
func (r *Report) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Count returns the number of issues of kind.
func (r *Report) Count(kind Kind) int {
	n := 0
	for _, i := range r.Issues {
		if i.Kind == kind {
			n++
		}
	}
	return n
}

// Failed reports whether any failing issue was recorded.
func (r *Report) Failed() bool {
	for _, i := range r.Issues {
		if i.Kind.Failing() {
			return true
		}
	}
	return false
}

// Mismatches returns the count checks that did not match.
func (r *Report) Mismatches() []CountCheck {
	var out []CountCheck
	for _, c := range r.Checks {
		if !c.Match() {
			out = append(out, c)
		}
	}
	return out
}

// Totals sums the per-table results.
func (r *Report) Totals() TableResult {
	var t TableResult
	for _, tr := range r.Tables {
		t.Read += tr.Read
		t.Inserted += tr.Inserted
		t.Failed += tr.Failed
	}
	return t
}

// byKind groups issues in Kinds order, keeping record order within a kind.
func (r *Report) byKind() [][]Issue {
	idx := make(map[Kind]int, len(Kinds))
	for i, k := range Kinds {
		idx[k] = i
	}
	groups := make([][]Issue, len(Kinds))
	for _, i := range r.Issues {
		groups[idx[i.Kind]] = append(groups[idx[i.Kind]], i)
	}
	return groups
}

// Status is PASS or FAIL.
func (r *Report) Status() string {
	if r.Failed() {
		return "FAIL"
	}
	return "PASS"
}
