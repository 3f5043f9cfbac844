package migrate

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/joestump/scoremigrate/internal/backup"
	"github.com/joestump/scoremigrate/internal/mapping"
)

// TableStatus is the state of one mapping on both sides.
type TableStatus struct {
	Target     string
	Sources    []string
	SourceRows int64
	Exists     bool
	TargetRows int64
}

// ViewStatus says whether a compatibility view exists.
type ViewStatus struct {
	Name   string
	Exists bool
}

// Status is a read-only snapshot of where a migration stands.
type Status struct {
	Source string
	Target string
	Backup string
	Tables []TableStatus
	Views  []ViewStatus
}

// Status inspects both stores without changing either.
func (r *Run) Status(ctx context.Context, backupDir string) (*Status, error) {
	present, err := r.present(ctx)
	if err != nil {
		return nil, fmt.Errorf("list legacy tables: %w", err)
	}
	ordered, err := mapping.Ordered(r.mappings, r.tables)
	if err != nil {
		return nil, err
	}

	st := &Status{Source: r.src.Path(), Target: r.opts.TargetName}
	for _, m := range ordered {
		ts := TableStatus{Target: m.Target, Sources: m.Sources()}
		for _, s := range m.Sources() {
			if !present[s] {
				continue
			}
			n, err := r.src.Count(ctx, s)
			if err != nil {
				return nil, err
			}
			ts.SourceRows += n
		}
		ts.Exists = r.dst.HasTable(ctx, m.Target)
		if ts.Exists {
			if ts.TargetRows, err = r.dst.Count(ctx, m.Target); err != nil {
				return nil, err
			}
		}
		st.Tables = append(st.Tables, ts)
	}

	for _, v := range r.views {
		ok, err := r.dst.HasView(ctx, v.Name)
		if err != nil {
			return nil, err
		}
		st.Views = append(st.Views, ViewStatus{Name: v.Name, Exists: ok})
	}

	if backupDir != "" {
		if latest, err := backup.Latest(backupDir, r.src.Path()); err == nil {
			st.Backup = latest
		}
	}
	return st, nil
}

// WriteText prints the status table.
func (s *Status) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "source: %s\ntarget: %s\n", s.Source, s.Target)
	if s.Backup != "" {
		fmt.Fprintf(w, "backup: %s\n", s.Backup)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "target\tfrom\tlegacy rows\ttarget rows")
	for _, t := range s.Tables {
		rows := "missing"
		if t.Exists {
			rows = humanize.Comma(t.TargetRows)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Target, strings.Join(t.Sources, "+"), humanize.Comma(t.SourceRows), rows)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	var have, missing []string
	for _, v := range s.Views {
		if v.Exists {
			have = append(have, v.Name)
		} else {
			missing = append(missing, v.Name)
		}
	}
	fmt.Fprintf(w, "\nviews present: %s\n", listOrNone(have))
	_, err := fmt.Fprintf(w, "views missing: %s\n", listOrNone(missing))
	return err
}

func listOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
