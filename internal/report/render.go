package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// WriteText prints the human-readable summary operators read at the end of
// a run.
func (r *Report) WriteText(w io.Writer) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "== scoremigrate %s: %s ==\n", r.Mode, r.Status())
	if r.Source != "" {
		fmt.Fprintf(&b, "source:  %s\n", r.Source)
	}
	if r.Target != "" {
		fmt.Fprintf(&b, "target:  %s\n", r.Target)
	}
	if r.Backup != "" {
		fmt.Fprintf(&b, "backup:  %s (%s)\n", r.Backup, humanize.Bytes(uint64(r.BackupSize)))
	}
	if d := r.Duration(); d > 0 {
		fmt.Fprintf(&b, "elapsed: %s\n", d.Round(time.Millisecond))
	}
	for _, n := range r.Notes {
		fmt.Fprintf(&b, "note:    %s\n", n)
	}

	if len(r.Tables) > 0 {
		b.WriteString("\nTables\n")
		tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "target\tfrom\tread\tinserted\tfailed\t")
		for _, t := range r.Tables {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", t.Target, strings.Join(t.Sources, "+"),
				humanize.Comma(t.Read), humanize.Comma(t.Inserted), humanize.Comma(t.Failed))
		}
		tot := r.Totals()
		fmt.Fprintf(tw, "total\t\t%s\t%s\t%s\t\n",
			humanize.Comma(tot.Read), humanize.Comma(tot.Inserted), humanize.Comma(tot.Failed))
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(r.Checks) > 0 {
		b.WriteString("\nValidation\n")
		tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "target\tsource rows\ttarget rows\tresult")
		for _, c := range r.Checks {
			result := "ok"
			if !c.Match() {
				result = "MISMATCH"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Target, humanize.Comma(c.Expected), humanize.Comma(c.Actual), result)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if r.Generated > 0 {
		fmt.Fprintf(&b, "\n%s identifiers were generated; rows using them get new ids on every run.\n",
			humanize.Comma(int64(r.Generated)))
	}

	if len(r.Issues) > 0 {
		fmt.Fprintf(&b, "\nIssues (%s)\n", humanize.Comma(int64(len(r.Issues))))
		for _, group := range r.byKind() {
			for _, i := range group {
				fmt.Fprintf(&b, "  %s\n", i)
			}
		}
	}

	_, err := w.Write(b.Bytes())
	return err
}

// Markdown renders the report as a markdown document.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Migration report: %s\n\n", r.Mode)
	fmt.Fprintf(&b, "**Result:** %s\n\n", r.Status())

	b.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Started | %s |\n", r.Started.UTC().Format(time.RFC3339))
	if !r.Finished.IsZero() {
		fmt.Fprintf(&b, "| Finished | %s |\n", r.Finished.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "| Elapsed | %s |\n", r.Duration().Round(time.Millisecond))
	}
	if r.Source != "" {
		fmt.Fprintf(&b, "| Source | `%s` |\n", r.Source)
	}
	if r.Target != "" {
		fmt.Fprintf(&b, "| Target | `%s` |\n", r.Target)
	}
	if r.Backup != "" {
		fmt.Fprintf(&b, "| Backup | `%s` (%s) |\n", r.Backup, humanize.Bytes(uint64(r.BackupSize)))
	}
	fmt.Fprintf(&b, "| Generated identifiers | %d |\n", r.Generated)
	b.WriteString("\n")

	for _, n := range r.Notes {
		fmt.Fprintf(&b, "> %s\n\n", n)
	}

	if len(r.Tables) > 0 {
		b.WriteString("## Tables\n\n| Target | From | Read | Inserted | Failed |\n|---|---|--:|--:|--:|\n")
		for _, t := range r.Tables {
			fmt.Fprintf(&b, "| %s | %s | %d | %d | %d |\n", t.Target, strings.Join(t.Sources, ", "), t.Read, t.Inserted, t.Failed)
		}
		b.WriteString("\n")
	}

	if len(r.Checks) > 0 {
		b.WriteString("## Validation\n\n| Target | Source rows | Target rows | Result |\n|---|--:|--:|---|\n")
		for _, c := range r.Checks {
			result := "ok"
			if !c.Match() {
				result = "**mismatch**"
			}
			fmt.Fprintf(&b, "| %s | %d | %d | %s |\n", c.Target, c.Expected, c.Actual, result)
		}
		b.WriteString("\n")
	}

	if len(r.Issues) > 0 {
		b.WriteString("## Issues\n\n| Kind | Table | Row | Message |\n|---|---|---|---|\n")
		for _, group := range r.byKind() {
			for _, i := range group {
				fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", i.Kind, i.Table, cell(i.Row), cell(i.Message))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// HTML renders the markdown report to HTML.
func (r *Report) HTML() ([]byte, error) {
	gm := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
	)
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Migration report</title></head><body>\n")
	if err := gm.Convert([]byte(r.Markdown()), &buf); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	buf.WriteString("</body></html>\n")
	return buf.Bytes(), nil
}

// WriteFile writes the report to path: HTML when the name ends in .html or
// .htm, markdown otherwise.
func (r *Report) WriteFile(path string) error {
	var data []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		html, err := r.HTML()
		if err != nil {
			return err
		}
		data = html
	default:
		data = []byte(r.Markdown())
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
