package migrate

import (
	"context"

	"go.uber.org/zap"

	"github.com/joestump/scoremigrate/internal/mapping"
	"github.com/joestump/scoremigrate/internal/report"
)

// Validate compares, for every mapping, the rows in the legacy tables that
// feed it with the rows in the target table. The consolidated users table is
// compared with the sum of its three legacy tables. Mismatches become
// validation issues.
func (r *Run) Validate(ctx context.Context, rep *report.Report) {
	present, err := r.present(ctx)
	if err != nil {
		rep.Addf(report.Validation, "", "", "list legacy tables: %v", err)
		return
	}
	ordered, err := mapping.Ordered(r.mappings, r.tables)
	if err != nil {
		rep.Addf(report.Validation, "", "", "order mappings: %v", err)
		return
	}

	for _, m := range ordered {
		check := report.CountCheck{Target: m.Target, Sources: m.Sources()}
		ok := true
		for _, s := range m.Sources() {
			if !present[s] {
				continue
			}
			n, err := r.src.Count(ctx, s)
			if err != nil {
				rep.Addf(report.Validation, m.Target, "", "count legacy %s: %v", s, err)
				ok = false
				break
			}
			check.Expected += n
		}
		if !ok {
			continue
		}

		if !r.dst.HasTable(ctx, m.Target) {
			rep.Addf(report.Validation, m.Target, "", "target table does not exist")
			continue
		}
		n, err := r.dst.Count(ctx, m.Target)
		if err != nil {
			rep.Addf(report.Validation, m.Target, "", "count target: %v", err)
			continue
		}
		check.Actual = n

		rep.Check(check)
		if !check.Match() {
			r.log.Warn("row count mismatch",
				zap.String("table", m.Target),
				zap.Int64("expected", check.Expected),
				zap.Int64("actual", check.Actual))
		}
	}
}
