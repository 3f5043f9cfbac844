package migrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/joestump/scoremigrate/internal/mapping"
	"github.com/joestump/scoremigrate/internal/report"
	"github.com/joestump/scoremigrate/internal/schema"
	"github.com/joestump/scoremigrate/internal/source"
	"github.com/joestump/scoremigrate/internal/target"
)

// Copy moves every mapped legacy table into the target, parents before
// children. A row that cannot be converted or inserted is recorded once and
// skipped; the copy carries on. The returned error is reserved for problems
// that stop the whole copy: an inconsistent mapping, an unreadable source
// catalogue, or cancellation.
func (r *Run) Copy(ctx context.Context, rep *report.Report) error {
	ordered, err := mapping.Ordered(r.mappings, r.tables)
	if err != nil {
		return fmt.Errorf("order mappings: %w", err)
	}
	present, err := r.present(ctx)
	if err != nil {
		return fmt.Errorf("list legacy tables: %w", err)
	}

	var unmapped []string
	for t := range present {
		if !mapping.Covered(r.mappings, t) && !r.ignored(t) {
			unmapped = append(unmapped, t)
		}
	}
	sort.Strings(unmapped)
	for _, t := range unmapped {
		r.log.Warn("legacy table has no mapping", zap.String("table", t))
		rep.Addf(report.Skip, t, "", "legacy table has no mapping; not copied")
	}

	for _, m := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		table, _ := schema.Lookup(r.tables, m.Target)
		if len(m.Consolidate) > 0 {
			err = r.consolidate(ctx, m, table, present, rep)
		} else {
			err = r.copyTable(ctx, m, table, present, rep)
		}
		if err != nil {
			return err
		}
	}
	rep.Generated = len(r.ids.Generated())
	return nil
}

func (r *Run) copyTable(ctx context.Context, m mapping.TableMapping, table schema.Table, present map[string]bool, rep *report.Report) error {
	res := rep.Table(m.Target, m.Source)
	if !r.hasRows(ctx, m.Source, m.Target, present, rep) {
		return nil
	}

	log := r.log.With(zap.String("source", m.Source), zap.String("table", m.Target))
	log.Info("copying")
	dropped := make(map[string]bool)

	err := r.src.Stream(ctx, m.Source, r.opts.BatchSize, func(row source.Row) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.Read++
		key := legacyKey(m, table, row)
		mark := r.ids.Mark()

		cols, vals, err := r.convert(m, table, row, dropped, rep)
		if err == nil {
			err = r.dst.Insert(ctx, table.Name, cols, vals)
		}
		r.flagGenerated(m.Target, key, mark, rep)
		if err != nil {
			res.Failed++
			r.rowFailed(log, rep, m.Target, key, err)
			return nil
		}
		res.Inserted++
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rep.Addf(report.Row, m.Target, "", "read %s: %v", m.Source, err)
	}
	log.Info("copied",
		zap.Int64("read", res.Read),
		zap.Int64("inserted", res.Inserted),
		zap.Int64("failed", res.Failed))
	return nil
}

// hasRows reports whether a legacy table exists and has rows, recording a
// skip warning when it does not.
func (r *Run) hasRows(ctx context.Context, legacy, targetTable string, present map[string]bool, rep *report.Report) bool {
	if !present[legacy] {
		r.log.Warn("legacy table missing", zap.String("source", legacy), zap.String("table", targetTable))
		rep.Addf(report.Skip, legacy, "", "legacy table not found; nothing copied into %s", targetTable)
		return false
	}
	n, err := r.src.Count(ctx, legacy)
	if err != nil {
		rep.Addf(report.Row, targetTable, "", "count %s: %v", legacy, err)
		return false
	}
	if n == 0 {
		rep.Addf(report.Skip, legacy, "", "legacy table is empty; nothing copied into %s", targetTable)
		return false
	}
	return true
}

// convert turns one legacy row into target columns and values: renames,
// identifier reformatting, type coercion and primary key synthesis.
func (r *Run) convert(m mapping.TableMapping, table schema.Table, row source.Row, dropped map[string]bool, rep *report.Report) ([]string, []any, error) {
	cols := make([]string, 0, len(row.Columns))
	vals := make([]any, 0, len(row.Columns))
	seen := make(map[string]bool, len(row.Columns))

	for i, legacy := range row.Columns {
		name := m.Column(legacy)
		col, ok := table.Column(name)
		if !ok || seen[name] {
			if !dropped[legacy] {
				dropped[legacy] = true
				r.log.Warn("legacy column dropped", zap.String("source", m.Source), zap.String("column", legacy))
				rep.Addf(report.Skip, m.Source, "", "column %s has no place in %s; dropped", legacy, m.Target)
			}
			continue
		}
		seen[name] = true

		v := row.Values[i]
		if schema.IsIdentifier(name) {
			v = r.ids.Resolve(m.Origin(name), v)
		} else {
			c, err := col.Coerce(v)
			if err != nil {
				return nil, nil, conversionError{err}
			}
			v = c
		}
		cols = append(cols, name)
		vals = append(vals, v)
	}

	if isSingleID(table) {
		idx := -1
		for i, c := range cols {
			if c == "id" {
				idx = i
			}
		}
		switch {
		case idx < 0:
			cols = append(cols, "id")
			vals = append(vals, r.ids.NewID())
		case vals[idx] == nil:
			vals[idx] = r.ids.NewID()
		}
	}
	return cols, vals, nil
}

func isSingleID(t schema.Table) bool {
	return len(t.PrimaryKey) == 1 && t.PrimaryKey[0] == "id"
}

// flagGenerated records an identifier warning for every id invented while
// handling one row, so the report names the rows that will get different
// ids on a re-run.
func (r *Run) flagGenerated(table, key string, mark int, rep *report.Report) {
	for _, g := range r.ids.Since(mark) {
		if g.Source == "" {
			rep.Addf(report.Identifier, table, key, "generated identifier %s", g.Target)
			continue
		}
		rep.Addf(report.Identifier, table, key, "malformed identifier %q replaced with %s", g.Source, g.Target)
	}
}

func (r *Run) rowFailed(log *zap.Logger, rep *report.Report, table, key string, err error) {
	reason := string(target.Classify(err))
	var conv conversionError
	if errors.As(err, &conv) {
		reason = "invalid"
	}
	log.Warn("row skipped", zap.String("row", key), zap.String("reason", reason), zap.Error(err))
	rep.Addf(report.Row, table, key, "%s: %v", reason, err)
}

// conversionError marks a row rejected before it reached the target.
type conversionError struct{ error }

func (e conversionError) Unwrap() error { return e.error }

// legacyKey names a legacy row by its primary key, for reports.
func legacyKey(m mapping.TableMapping, table schema.Table, row source.Row) string {
	var parts []string
	for _, pk := range table.PrimaryKey {
		for i, legacy := range row.Columns {
			if m.Column(legacy) == pk {
				parts = append(parts, pk+"="+display(row.Values[i]))
				break
			}
		}
	}
	if len(parts) == 1 {
		return strings.SplitN(parts[0], "=", 2)[1]
	}
	return strings.Join(parts, ",")
}

func display(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	}
	return fmt.Sprint(v)
}

// consolidate folds the legacy users, judges and contestants tables into the
// target users table. Each legacy row becomes exactly one target row keyed by
// its origin table and legacy id.
func (r *Run) consolidate(ctx context.Context, m mapping.TableMapping, table schema.Table, present map[string]bool, rep *report.Report) error {
	res := rep.Table(m.Target, m.Sources()...)
	owner := make(map[string]string) // target id -> origin table

	for _, origin := range m.Sources() {
		if !r.hasRows(ctx, origin, m.Target, present, rep) {
			continue
		}
		log := r.log.With(zap.String("source", origin), zap.String("table", m.Target))
		log.Info("consolidating")

		err := r.src.Stream(ctx, origin, r.opts.BatchSize, func(row source.Row) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res.Read++
			key := origin + ":" + display(row.Get("id"))
			mark := r.ids.Mark()

			cols, vals, err := r.buildUser(origin, row, table, owner, key, rep)
			if err == nil {
				err = r.dst.Insert(ctx, table.Name, cols, vals)
			}
			r.flagGenerated(m.Target, key, mark, rep)
			if err != nil {
				res.Failed++
				r.rowFailed(log, rep, m.Target, key, err)
				return nil
			}
			res.Inserted++
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rep.Addf(report.Row, m.Target, "", "read %s: %v", origin, err)
		}
	}
	return nil
}

func (r *Run) buildUser(origin string, row source.Row, table schema.Table, owner map[string]string, key string, rep *report.Report) ([]string, []any, error) {
	u, err := mapping.BuildUser(origin, row.Map())
	if err != nil {
		return nil, nil, conversionError{err}
	}

	if u.LegacyID == nil {
		id := r.ids.NewID()
		u.LegacyRef = "null:" + id
		return userColumns(table, u, id)
	}

	id, _ := r.ids.Reformat(u.LegacyID).(string)
	if prev, taken := owner[id]; taken && prev != origin {
		fresh := r.ids.NewID()
		r.ids.Alias(origin, u.LegacyRef, fresh)
		r.log.Warn("user id collision",
			zap.String("origin", origin), zap.String("legacy_id", u.LegacyRef),
			zap.String("taken_by", prev), zap.String("id", fresh))
		rep.Addf(report.Collision, table.Name, key, "id %s already belongs to a %s row; assigned %s", id, prev, fresh)
		id = fresh
	} else if !taken {
		owner[id] = origin
	}
	return userColumns(table, u, id)
}

// userColumns coerces a consolidated user into sorted target columns with id
// appended.
func userColumns(table schema.Table, u mapping.ConsolidatedUser, id string) ([]string, []any, error) {
	values := u.Values()
	cols := make([]string, 0, len(values)+1)
	for c := range values {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	vals := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		col, ok := table.Column(c)
		if !ok {
			return nil, nil, conversionError{fmt.Errorf("users has no column %s", c)}
		}
		v, err := col.Coerce(values[c])
		if err != nil {
			return nil, nil, conversionError{err}
		}
		vals = append(vals, v)
	}
	return append(cols, "id"), append(vals, id), nil
}
