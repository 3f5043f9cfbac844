package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joestump/scoremigrate/internal/legacydb"
	"github.com/joestump/scoremigrate/internal/migrate"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type workspace struct {
	dir    string
	source string
	config string
}

// newWorkspace builds a legacy database with a small contest hierarchy and a
// config file pointing a SQLite target at it. extra is appended to the
// options section.
func newWorkspace(t *testing.T, extra string) workspace {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	ctx := context.Background()

	src := filepath.Join(dir, "scoring.db")
	conn, err := legacydb.Create(ctx, src)
	require.NoError(t, err)
	contest := "0123456789abcdef0123456789abcdef"
	require.NoError(t, legacydb.Insert(ctx, conn, "contests", map[string]any{"id": contest, "name": "Spring Gala"}))
	require.NoError(t, legacydb.Insert(ctx, conn, "categories", map[string]any{
		"id": "fedcba9876543210fedcba9876543210", "contest_id": contest, "name": "Talent",
	}))
	require.NoError(t, conn.Close())

	cfg := filepath.Join(dir, "scoremigrate.yaml")
	body := fmt.Sprintf(`source:
  path: %s
  ignore_tables: [%s]
target:
  driver: sqlite
  path: %s
options:
  backup_dir: %s
  retry_attempts: 1
  retry_delay: 1ms
%s`, src, legacydb.VersionTable, filepath.Join(dir, "target.db"), filepath.Join(dir, "backups"), extra)
	require.NoError(t, os.WriteFile(cfg, []byte(body), 0o600))
	return workspace{dir: dir, source: src, config: cfg}
}

func TestModeFlagsAreExclusive(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := execute(t, "--test", "--migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others")

	_, err = execute(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one of the flags")
}

func TestConfigModeRedactsPassword(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SCOREMIGRATE_SOURCE_PATH", "/data/scoring.db")
	t.Setenv("SCOREMIGRATE_TARGET_PASSWORD", "hunter2")

	out, err := execute(t, "--config")
	require.NoError(t, err)
	assert.Contains(t, out, "/data/scoring.db")
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "hunter2")
}

func TestConfigModeReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	env := filepath.Join(dir, "migrate.env")
	require.NoError(t, os.WriteFile(env, []byte("SCOREMIGRATE_TARGET_DBNAME=pageant\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SCOREMIGRATE_TARGET_DBNAME") })

	out, err := execute(t, "--config", "--env-file", env)
	require.NoError(t, err)
	assert.Contains(t, out, "dbname: pageant")

	_, err = execute(t, "--config", "--env-file", filepath.Join(dir, "missing.env"))
	require.Error(t, err)
}

func TestInvalidConfigurationIsRejected(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := execute(t, "--status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.path is required")
}

func TestMigrateEndToEnd(t *testing.T) {
	ws := newWorkspace(t, "  report_file: "+filepath.Join(t.TempDir(), "report.html")+"\n  metrics_file: metrics.prom\n")

	out, err := execute(t, "--migrate", "--config-file", ws.config)
	require.NoError(t, err, out)
	assert.Contains(t, out, "== scoremigrate migrate: PASS ==")
	assert.Contains(t, out, "backup:")

	snaps, err := filepath.Glob(filepath.Join(ws.dir, "backups", "scoring.db.*.bak"))
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	metrics, err := os.ReadFile(filepath.Join(ws.dir, "metrics.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "scoremigrate_success 1")

	out, err = execute(t, "--status", "--config-file", ws.config)
	require.NoError(t, err)
	assert.Contains(t, out, "contest_groups")
	assert.Contains(t, out, "views missing: none")

	out, err = execute(t, "--rollback", "--config-file", ws.config)
	require.NoError(t, err, out)
	assert.Contains(t, out, "newest source snapshot")
}

func TestMigrateRefusesWithoutBackup(t *testing.T) {
	ws := newWorkspace(t, "  backup: false\n")

	_, err := execute(t, "--migrate", "--config-file", ws.config)
	require.ErrorIs(t, err, migrate.ErrBackupRequired)

	out, err := execute(t, "--migrate", "--skip-backup", "--config-file", ws.config)
	require.NoError(t, err, out)
	assert.Contains(t, out, "backup skipped by operator override")
}

func TestTestModeFailsOnUncopiedRows(t *testing.T) {
	ws := newWorkspace(t, "")

	out, err := execute(t, "--test", "--config-file", ws.config)
	require.ErrorIs(t, err, errFailed)
	assert.Contains(t, out, "MISMATCH")
}

func TestMissingSourceIsAConnectionFailure(t *testing.T) {
	ws := newWorkspace(t, "")
	require.NoError(t, os.Remove(ws.source))

	out, err := execute(t, "--migrate", "--skip-backup", "--config-file", ws.config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection failed")
	assert.Contains(t, out, "== scoremigrate migrate: FAIL ==")
}
