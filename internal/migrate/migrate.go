// Package migrate runs the legacy-to-target migration: schema translation,
// row copying with user consolidation, compatibility views and count
// validation, plus the status and rollback modes around them.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/joestump/scoremigrate/internal/config"
	"github.com/joestump/scoremigrate/internal/ident"
	"github.com/joestump/scoremigrate/internal/mapping"
	"github.com/joestump/scoremigrate/internal/report"
	"github.com/joestump/scoremigrate/internal/retry"
	"github.com/joestump/scoremigrate/internal/schema"
	"github.com/joestump/scoremigrate/internal/source"
	"github.com/joestump/scoremigrate/internal/target"
)

var (
	// ErrConnection wraps every failure to reach the source or the target.
	// It is fatal: nothing has been written when it is returned.
	ErrConnection = errors.New("connection failed")

	// ErrBackupRequired is returned by Migrate when no backup was taken and
	// the operator did not explicitly waive it.
	ErrBackupRequired = errors.New("refusing to migrate without a backup of the source database (enable options.backup or pass --skip-backup)")
)

// Options tune a Run.
type Options struct {
	BatchSize    int
	Clean        bool
	Validate     bool
	IgnoreTables []string
	// TargetName describes the target in reports, without credentials.
	TargetName string
}

// Run is one migration process: a source, a target, and the per-run
// identifier memo shared by every table copied.
type Run struct {
	src  *source.DB
	dst  *target.Store
	log  *zap.Logger
	opts Options
	ids  *ident.Reformatter
	now  func() time.Time

	tables   []schema.Table
	views    []schema.View
	mappings []mapping.TableMapping
}

// New builds a Run over already opened stores.
func New(src *source.DB, dst *target.Store, log *zap.Logger, opts Options) *Run {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.TargetName == "" {
		opts.TargetName = dst.Dialect().Name()
	}
	return &Run{
		src:      src,
		dst:      dst,
		log:      log,
		opts:     opts,
		ids:      ident.New(),
		now:      time.Now,
		tables:   schema.Tables,
		views:    schema.Views,
		mappings: mapping.Mappings,
	}
}

// Open connects to both stores with retry and returns a Run configured from
// cfg. Failures wrap ErrConnection.
func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (*Run, error) {
	attempts, delay := cfg.Options.RetryAttempts, cfg.Options.RetryDelay

	var src *source.DB
	err := retry.Connect(ctx, "source", attempts, delay, log, func(context.Context) error {
		db, err := source.Open(cfg.Source.Path)
		if errors.Is(err, source.ErrNotFound) {
			return retry.Permanent(err)
		}
		src = db
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	var dst *target.Store
	err = retry.Connect(ctx, cfg.Target.Describe(), attempts, delay, log, func(ctx context.Context) error {
		s, err := target.Open(ctx, cfg.Target.Driver, cfg.Target.DSN(), log, cfg.Log.Verbose)
		dst = s
		return err
	})
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	log.Info("connected",
		zap.String("source", src.Path()),
		zap.String("target", cfg.Target.Describe()))

	return New(src, dst, log, Options{
		BatchSize:    cfg.Options.BatchSize,
		Clean:        cfg.Options.Clean,
		Validate:     cfg.Options.Validate,
		IgnoreTables: cfg.Source.IgnoreTables,
		TargetName:   cfg.Target.Describe(),
	}), nil
}

// Close closes both stores.
func (r *Run) Close() error {
	return errors.Join(r.src.Close(), r.dst.Close())
}

func (r *Run) newReport(mode string) *report.Report {
	rep := report.New(mode, r.now())
	rep.Source = r.src.Path()
	rep.Target = r.opts.TargetName
	return rep
}

// present returns the set of legacy tables in the source.
func (r *Run) present(ctx context.Context) (map[string]bool, error) {
	tables, err := r.src.Tables(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(tables))
	for _, t := range tables {
		set[t] = true
	}
	return set, nil
}

func (r *Run) ignored(table string) bool {
	for _, t := range r.opts.IgnoreTables {
		if t == table {
			return true
		}
	}
	return false
}
