package migrate

import (
	"context"

	"go.uber.org/zap"

	"github.com/joestump/scoremigrate/internal/report"
	"github.com/joestump/scoremigrate/internal/schema"
	"github.com/joestump/scoremigrate/internal/target"
)

// Translate creates the target schema. In clean mode the compatibility views
// and every target table are dropped first. A table that fails to create is
// recorded and the rest are still attempted.
func (r *Run) Translate(ctx context.Context, rep *report.Report) {
	d := r.dst.Dialect()

	if ext := d.Extension(); ext != "" {
		if err := r.dst.Exec(ctx, ext); err != nil && target.Classify(err) != target.AlreadyExists {
			r.log.Error("enable extension failed", zap.Error(err))
			rep.Addf(report.DDL, "", "", "enable uuid extension: %v", err)
		}
	}

	ordered, err := schema.Order(r.tables)
	if err != nil {
		rep.Addf(report.DDL, "", "", "order tables: %v", err)
		return
	}

	if r.opts.Clean {
		r.log.Info("clean mode: dropping existing views and tables")
		r.dropViews(ctx, rep)
		r.dropTables(ctx, ordered, rep)
	}

	for _, t := range ordered {
		if err := r.dst.Exec(ctx, d.CreateTable(t, true)); err != nil {
			r.log.Error("create table failed", zap.String("table", t.Name), zap.Error(err))
			rep.Addf(report.DDL, t.Name, "", "create table: %v", err)
			continue
		}
		r.log.Debug("table ready", zap.String("table", t.Name))
	}
}

// Views rebuilds every compatibility view. A view that fails is recorded and
// the rest are still built.
func (r *Run) Views(ctx context.Context, rep *report.Report) {
	d := r.dst.Dialect()
	for _, v := range r.views {
		if err := r.dst.Exec(ctx, d.DropView(v.Name)); err != nil {
			rep.Addf(report.View, v.Name, "", "drop view: %v", err)
			continue
		}
		if err := r.dst.Exec(ctx, d.CreateView(v)); err != nil {
			r.log.Error("create view failed", zap.String("view", v.Name), zap.Error(err))
			rep.Addf(report.View, v.Name, "", "create view: %v", err)
			continue
		}
		r.log.Debug("view ready", zap.String("view", v.Name))
	}
}

func (r *Run) dropViews(ctx context.Context, rep *report.Report) {
	d := r.dst.Dialect()
	for i := len(r.views) - 1; i >= 0; i-- {
		name := r.views[i].Name
		if err := r.dst.Exec(ctx, d.DropView(name)); err != nil {
			rep.Addf(report.DDL, name, "", "drop view: %v", err)
		}
	}
}

// dropTables drops ordered tables children first.
func (r *Run) dropTables(ctx context.Context, ordered []schema.Table, rep *report.Report) {
	d := r.dst.Dialect()
	for _, t := range schema.Reverse(ordered) {
		if err := r.dst.Exec(ctx, d.DropTable(t.Name)); err != nil {
			r.log.Error("drop table failed", zap.String("table", t.Name), zap.Error(err))
			rep.Addf(report.DDL, t.Name, "", "drop table: %v", err)
		}
	}
}
