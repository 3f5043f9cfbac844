package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/joestump/scoremigrate/internal/config"
	"github.com/joestump/scoremigrate/internal/logging"
	"github.com/joestump/scoremigrate/internal/migrate"
	"github.com/joestump/scoremigrate/internal/report"
)

var modes = []string{"test", "migrate", "status", "rollback", "config"}

// errFailed is returned when a run completed but recorded failing issues.
var errFailed = errors.New("migration finished with failing issues")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "scoremigrate",
		Short:        "Migrate the legacy scoring SQLite database to PostgreSQL",
		Version:      config.Version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         run,
	}

	f := rootCmd.Flags()
	f.Bool("test", false, "create the target schema and compare row counts without copying")
	f.Bool("migrate", false, "back up the source, then translate, copy, build views and validate")
	f.Bool("status", false, "show row counts on both sides and which views exist")
	f.Bool("rollback", false, "drop every target view and table")
	f.Bool("config", false, "print the effective configuration with secrets redacted")
	rootCmd.MarkFlagsMutuallyExclusive(modes...)
	rootCmd.MarkFlagsOneRequired(modes...)

	f.String("config-file", "", "configuration file (default scoremigrate.yaml in . or /etc/scoremigrate)")
	f.String("env-file", ".env", "dotenv file loaded before reading SCOREMIGRATE_* variables")
	f.Bool("clean", false, "drop existing target views and tables before creating them")
	f.Bool("skip-backup", false, "migrate without snapshotting the source database first")
	f.BoolP("verbose", "v", false, "debug logging, including database warnings")

	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("options.clean", "clean")
	bindFlag("log.verbose", "verbose")

	return rootCmd
}

func selectedMode(f *pflag.FlagSet) string {
	for _, m := range modes {
		if on, _ := f.GetBool(m); on {
			return m
		}
	}
	return ""
}

func run(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	out := cmd.OutOrStdout()
	mode := selectedMode(f)

	envFile, _ := f.GetString("env-file")
	if err := config.LoadEnvFile(envFile, f.Changed("env-file")); err != nil {
		return err
	}
	config.SetDefaults()
	config.BindEnv()
	cfgFile, _ := f.GetString("config-file")
	if err := config.ReadFile(cfgFile); err != nil {
		return err
	}
	cfg := config.Load()
	redactor := config.NewRedactor(cfg)

	if mode == "config" {
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	log, err := logging.New(cfg.Log.Verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("scoremigrate starting",
		zap.String("version", config.Version),
		zap.String("mode", mode),
		zap.String("source", cfg.Source.Path),
		zap.String("target", cfg.Target.Describe()))

	r, err := migrate.Open(ctx, cfg, log)
	if err != nil {
		err = errors.New(redactor.Redact(err.Error()))
		if mode != "status" {
			rep := report.New(mode, time.Now())
			rep.Source, rep.Target = cfg.Source.Path, cfg.Target.Describe()
			rep.Addf(report.Connection, "", "", "%v", err)
			rep.Finish(time.Now())
			_ = publish(out, cfg, rep, log)
		}
		return err
	}
	defer r.Close() //nolint:errcheck

	var rep *report.Report
	switch mode {
	case "status":
		st, err := r.Status(ctx, cfg.Options.BackupDir)
		if err != nil {
			return errors.New(redactor.Redact(err.Error()))
		}
		return st.WriteText(out)
	case "test":
		rep = r.Test(ctx)
	case "rollback":
		rep = r.Rollback(ctx, cfg.Options.BackupDir)
	case "migrate":
		skip, _ := f.GetBool("skip-backup")
		rep, err = r.Migrate(ctx, migrate.BackupPolicy{
			Take: cfg.Options.Backup,
			Dir:  cfg.Options.BackupDir,
			Skip: skip,
		})
		if rep == nil {
			return err
		}
	}

	if perr := publish(out, cfg, rep, log); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}
	if rep.Failed() {
		return errFailed
	}
	return nil
}

// publish prints the report and writes the optional report and metrics files.
func publish(out io.Writer, cfg config.Config, rep *report.Report, log *zap.Logger) error {
	if err := rep.WriteText(out); err != nil {
		return err
	}
	if path := cfg.Options.ReportFile; path != "" {
		if err := rep.WriteFile(path); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		log.Info("report written", zap.String("path", path))
	}
	if path := cfg.Options.MetricsFile; path != "" {
		m := report.NewMetrics()
		m.Observe(rep)
		if err := m.WriteTextfile(path); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
		log.Info("metrics written", zap.String("path", path))
	}
	return nil
}
