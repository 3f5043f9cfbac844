package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/joestump/scoremigrate/internal/backup"
	"github.com/joestump/scoremigrate/internal/report"
	"github.com/joestump/scoremigrate/internal/schema"
)

// BackupPolicy says how Migrate satisfies its backup precondition.
type BackupPolicy struct {
	Take bool   // snapshot the source into Dir before writing anything
	Dir  string // where snapshots live
	Skip bool   // the operator explicitly waived the backup
}

// Test translates the schema and validates counts without copying rows.
func (r *Run) Test(ctx context.Context) *report.Report {
	rep := r.newReport("test")
	r.log.Info("test: translating schema")
	r.Translate(ctx, rep)
	r.log.Info("test: validating")
	r.Validate(ctx, rep)
	rep.Finish(r.now())
	return rep
}

// Migrate runs the full pipeline: backup, translate, copy, views and, unless
// disabled, validation. It refuses to start without a backup or an explicit
// waiver. Only a failed precondition or cancellation returns an error; every
// other problem is in the report.
func (r *Run) Migrate(ctx context.Context, policy BackupPolicy) (*report.Report, error) {
	rep := r.newReport("migrate")

	switch {
	case policy.Skip:
		r.log.Warn("backup skipped by operator override")
		rep.Note("backup skipped by operator override")
	case policy.Take:
		snap, err := backup.Take(r.src.Path(), policy.Dir, r.now())
		if err != nil {
			return nil, fmt.Errorf("backup source database: %w", err)
		}
		rep.Backup, rep.BackupSize = snap.Path, snap.Size
		r.log.Info("source backed up",
			zap.String("path", snap.Path),
			zap.String("size", humanize.Bytes(uint64(snap.Size))))
	default:
		return nil, ErrBackupRequired
	}

	r.log.Info("translating schema")
	r.Translate(ctx, rep)

	r.log.Info("copying rows")
	if err := r.Copy(ctx, rep); err != nil {
		rep.Finish(r.now())
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return rep, err
		}
		rep.Addf(report.Row, "", "", "copy aborted: %v", err)
		return rep, nil
	}

	r.log.Info("building compatibility views")
	r.Views(ctx, rep)

	if r.opts.Validate {
		r.log.Info("validating")
		r.Validate(ctx, rep)
	} else {
		rep.Note("validation disabled")
	}

	rep.Finish(r.now())
	return rep, nil
}

// Rollback drops the compatibility views and every target table, children
// first. The source is never touched; the newest backup snapshot, if any, is
// named in the report so the operator can restore it.
func (r *Run) Rollback(ctx context.Context, backupDir string) *report.Report {
	rep := r.newReport("rollback")

	ordered, err := schema.Order(r.tables)
	if err != nil {
		rep.Addf(report.DDL, "", "", "order tables: %v", err)
		rep.Finish(r.now())
		return rep
	}
	r.log.Info("dropping views and tables")
	r.dropViews(ctx, rep)
	r.dropTables(ctx, ordered, rep)

	if backupDir != "" {
		latest, err := backup.Latest(backupDir, r.src.Path())
		switch {
		case err == nil:
			rep.Backup = latest
			rep.Note("newest source snapshot: %s", latest)
		case errors.Is(err, backup.ErrNoSnapshot):
			rep.Note("no source snapshot found in %s", backupDir)
		default:
			rep.Note("could not list snapshots: %v", err)
		}
	}

	rep.Finish(r.now())
	return rep
}
