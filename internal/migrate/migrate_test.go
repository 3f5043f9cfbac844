package migrate

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/joestump/scoremigrate/internal/config"
	"github.com/joestump/scoremigrate/internal/ident"
	"github.com/joestump/scoremigrate/internal/legacydb"
	"github.com/joestump/scoremigrate/internal/report"
	"github.com/joestump/scoremigrate/internal/schema"
	"github.com/joestump/scoremigrate/internal/source"
	"github.com/joestump/scoremigrate/internal/target"
)

// hexID builds a 32-character legacy identifier; kind keeps ids of
// different tables apart.
func hexID(kind byte, n int) string {
	return fmt.Sprintf("%02x%030x", kind, n)
}

func canon(t *testing.T, raw string) string {
	t.Helper()
	c, ok := ident.Canonical(raw)
	require.True(t, ok, raw)
	return c
}

type fixture struct {
	t    *testing.T
	dir  string
	path string
	conn *sql.DB
}

func newLegacy(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "scoring.db")
	conn, err := legacydb.Create(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &fixture{t: t, dir: dir, path: path, conn: conn}
}

func (f *fixture) insert(table string, row map[string]any) {
	f.t.Helper()
	require.NoError(f.t, legacydb.Insert(context.Background(), f.conn, table, row))
}

func (f *fixture) hierarchy(contests, categories, subcategories int) {
	for i := 1; i <= contests; i++ {
		f.insert("contests", map[string]any{"id": hexID(0xc0, i), "name": fmt.Sprintf("Contest %d", i), "archived": 0})
	}
	for i := 1; i <= categories; i++ {
		f.insert("categories", map[string]any{
			"id":         hexID(0xca, i),
			"contest_id": hexID(0xc0, (i-1)%contests+1),
			"name":       fmt.Sprintf("Category %d", i),
			"sort_order": i,
		})
	}
	for i := 1; i <= subcategories; i++ {
		f.insert("subcategories", map[string]any{
			"id":          hexID(0x5c, i),
			"category_id": hexID(0xca, (i-1)%categories+1),
			"name":        fmt.Sprintf("Subcategory %d", i),
			"score_cap":   "100",
		})
	}
}

type harness struct {
	run  *Run
	dst  *target.Store
	logs *observer.ObservedLogs
	dir  string
}

// open closes the fixture's writer and opens a run against a fresh SQLite
// target next to it.
func (f *fixture) open(opts Options) *harness {
	f.t.Helper()
	require.NoError(f.t, f.conn.Close())
	ctx := context.Background()

	src, err := source.Open(f.path)
	require.NoError(f.t, err)

	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core)
	dst, err := target.Open(ctx, "sqlite", filepath.Join(f.dir, "target.db"), log, false)
	require.NoError(f.t, err)

	opts.IgnoreTables = append(opts.IgnoreTables, legacydb.VersionTable)
	run := New(src, dst, log, opts)
	run.now = func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) }
	f.t.Cleanup(func() { run.Close() })
	return &harness{run: run, dst: dst, logs: logs, dir: f.dir}
}

func (h *harness) count(t *testing.T, table string) int64 {
	t.Helper()
	n, err := h.dst.Count(context.Background(), table)
	require.NoError(t, err)
	return n
}

func (h *harness) scalar(t *testing.T, query string, args ...any) any {
	t.Helper()
	rows, err := h.dst.Query(context.Background(), query, args...)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	for _, v := range rows[0] {
		return v
	}
	return nil
}

func noFailures(t *testing.T, rep *report.Report) {
	t.Helper()
	var failing []string
	for _, i := range rep.Issues {
		if i.Kind.Failing() {
			failing = append(failing, i.String())
		}
	}
	require.Empty(t, failing)
}

var skipBackup = BackupPolicy{Skip: true}

func TestMigrateHierarchy(t *testing.T) {
	f := newLegacy(t)
	f.hierarchy(3, 5, 8)
	h := f.open(Options{Validate: true})

	rep, err := h.run.Migrate(context.Background(), skipBackup)
	require.NoError(t, err)
	noFailures(t, rep)

	assert.Equal(t, int64(3), h.count(t, "events"))
	assert.Equal(t, int64(5), h.count(t, "contest_groups"))
	assert.Equal(t, int64(8), h.count(t, "categories"))

	orphans := h.scalar(t, `SELECT COUNT(*) AS n FROM contest_groups g LEFT JOIN events e ON e.id = g.event_id WHERE e.id IS NULL`)
	assert.EqualValues(t, 0, orphans)
	orphans = h.scalar(t, `SELECT COUNT(*) AS n FROM categories c LEFT JOIN contest_groups g ON g.id = c.contest_group_id WHERE g.id IS NULL`)
	assert.EqualValues(t, 0, orphans)

	name := h.scalar(t, `SELECT name FROM events WHERE id = ?`, canon(t, hexID(0xc0, 2)))
	assert.Equal(t, "Contest 2", name)

	// Legacy names keep working through the compatibility views.
	assert.Equal(t, int64(3), h.count(t, "contests"))
	assert.Equal(t, int64(8), h.count(t, "subcategories"))
	assert.Equal(t, int64(5), h.count(t, "legacy_categories"))

	require.Len(t, rep.Checks, len(h.run.mappings))
	assert.Empty(t, rep.Mismatches())
	assert.Zero(t, rep.Generated)
}

func TestMigrateConsolidatesUsers(t *testing.T) {
	f := newLegacy(t)
	f.insert("users", map[string]any{"id": hexID(0x01, 1), "name": "Olive Organizer", "role": "admin", "password": "$2y$10$a"})
	f.insert("users", map[string]any{"id": hexID(0x01, 2), "name": "Tess Tally", "role": "tally"})
	f.insert("judges", map[string]any{"id": hexID(0x0d, 1), "name": "Jo Judge", "bio": "Twenty years on panels", "is_head_judge": 1})
	f.insert("contestants", map[string]any{"id": hexID(0x0c, 1), "name": "Cass Contestant", "contestant_number": 7, "bio": "Vocalist"})
	h := f.open(Options{Validate: true})

	rep, err := h.run.Migrate(context.Background(), skipBackup)
	require.NoError(t, err)
	noFailures(t, rep)

	assert.Equal(t, int64(4), h.count(t, "users"))
	assert.EqualValues(t, 1, h.scalar(t, `SELECT COUNT(*) AS n FROM users WHERE is_judge`))
	assert.EqualValues(t, 1, h.scalar(t, `SELECT COUNT(*) AS n FROM users WHERE is_contestant`))
	assert.EqualValues(t, 1, h.scalar(t, `SELECT COUNT(*) AS n FROM users WHERE is_organizer`))
	assert.EqualValues(t, 0, h.scalar(t, `SELECT COUNT(*) AS n FROM users WHERE NOT is_judge AND NOT is_contestant AND bio IS NOT NULL`))
	assert.Equal(t, "tally_master", h.scalar(t, `SELECT role FROM users WHERE legacy_ref = ?`, hexID(0x01, 2)))
	assert.EqualValues(t, 7, h.scalar(t, `SELECT contestant_number FROM contestants`))
	assert.Equal(t, "Twenty years on panels", h.scalar(t, `SELECT bio FROM judges`))

	var users report.CountCheck
	for _, c := range rep.Checks {
		if c.Target == "users" {
			users = c
		}
	}
	assert.Equal(t, []string{"users", "judges", "contestants"}, users.Sources)
	assert.Equal(t, int64(4), users.Expected)
	assert.True(t, users.Match())
}

func TestMigrateSkipsOrphanRowOnce(t *testing.T) {
	f := newLegacy(t)
	f.hierarchy(1, 2, 0)
	orphan := hexID(0xca, 99)
	f.insert("categories", map[string]any{"id": orphan, "contest_id": hexID(0xc0, 42), "name": "Lost"})
	h := f.open(Options{Validate: true})

	rep, err := h.run.Migrate(context.Background(), skipBackup)
	require.NoError(t, err)

	assert.Equal(t, int64(2), h.count(t, "contest_groups"))

	var rows []report.Issue
	for _, i := range rep.Issues {
		if i.Kind == report.Row {
			rows = append(rows, i)
		}
	}
	require.Len(t, rows, 1)
	assert.Equal(t, "contest_groups", rows[0].Table)
	assert.Equal(t, orphan, rows[0].Row)
	assert.True(t, strings.HasPrefix(rows[0].Message, string(target.ForeignKey)), rows[0].Message)
	assert.Equal(t, 1, h.logs.FilterMessage("row skipped").Len())

	res := rep.Table("contest_groups")
	assert.Equal(t, int64(3), res.Read)
	assert.Equal(t, int64(2), res.Inserted)
	assert.Equal(t, int64(1), res.Failed)

	// The validator sees the gap and the run fails.
	require.Len(t, rep.Mismatches(), 1)
	assert.True(t, rep.Failed())
}

func TestTranslateIsIdempotentWithoutClean(t *testing.T) {
	f := newLegacy(t)
	f.hierarchy(2, 0, 0)
	h := f.open(Options{})
	ctx := context.Background()

	first := report.New("test", time.Now())
	h.run.Translate(ctx, first)
	noFailures(t, first)
	require.NoError(t, h.run.Copy(ctx, first))
	require.Equal(t, int64(2), h.count(t, "events"))

	second := report.New("test", time.Now())
	h.run.Translate(ctx, second)
	noFailures(t, second)
	assert.Equal(t, int64(2), h.count(t, "events"), "existing rows survive a non-clean translate")

	h.run.opts.Clean = true
	third := report.New("test", time.Now())
	h.run.Translate(ctx, third)
	noFailures(t, third)
	assert.Zero(t, h.count(t, "events"), "clean mode starts from empty tables")
}

func TestRerunWithoutCleanReportsDuplicates(t *testing.T) {
	f := newLegacy(t)
	f.hierarchy(1, 0, 0)
	h := f.open(Options{})
	ctx := context.Background()

	_, err := h.run.Migrate(ctx, skipBackup)
	require.NoError(t, err)
	rep, err := h.run.Migrate(ctx, skipBackup)
	require.NoError(t, err)

	require.Equal(t, 1, rep.Count(report.Row))
	for _, i := range rep.Issues {
		if i.Kind == report.Row {
			assert.True(t, strings.HasPrefix(i.Message, string(target.Unique)), i.Message)
		}
	}
	assert.Equal(t, int64(1), h.count(t, "events"))
}

func TestTestModeValidatesCounts(t *testing.T) {
	t.Run("empty source passes", func(t *testing.T) {
		h := newLegacy(t).open(Options{})
		rep := h.run.Test(context.Background())
		assert.False(t, rep.Failed())
		assert.Equal(t, "PASS", rep.Status())
		assert.True(t, h.dst.HasTable(context.Background(), "scores"))
	})

	t.Run("uncopied rows fail", func(t *testing.T) {
		f := newLegacy(t)
		f.hierarchy(2, 1, 0)
		h := f.open(Options{})
		rep := h.run.Test(context.Background())
		assert.True(t, rep.Failed())
		assert.Len(t, rep.Mismatches(), 2)
		assert.Zero(t, h.count(t, "events"), "test mode copies nothing")
	})
}

func TestMigrateRequiresBackup(t *testing.T) {
	f := newLegacy(t)
	f.hierarchy(1, 0, 0)
	h := f.open(Options{})
	ctx := context.Background()

	_, err := h.run.Migrate(ctx, BackupPolicy{})
	require.ErrorIs(t, err, ErrBackupRequired)
	assert.False(t, h.dst.HasTable(ctx, "events"), "nothing is written before the backup")

	dir := filepath.Join(h.dir, "backups")
	rep, err := h.run.Migrate(ctx, BackupPolicy{Take: true, Dir: dir})
	require.NoError(t, err)
	require.NotEmpty(t, rep.Backup)
	assert.Equal(t, filepath.Join(dir, "scoring.db.20260401T120000Z.bak"), rep.Backup)
	info, err := os.Stat(rep.Backup)
	require.NoError(t, err)
	assert.Equal(t, rep.BackupSize, info.Size())
}

func TestUserIdCollisionKeepsReferencesStraight(t *testing.T) {
	f := newLegacy(t)
	shared := hexID(0xaa, 1)
	f.hierarchy(1, 1, 1)
	f.insert("criteria", map[string]any{"id": hexID(0xcc, 1), "subcategory_id": hexID(0x5c, 1), "name": "Poise", "max_score": 10})
	f.insert("users", map[string]any{"id": shared, "name": "Org", "role": "organizer"})
	f.insert("judges", map[string]any{"id": shared, "name": "Judge Same-Id"})
	f.insert("contestants", map[string]any{"id": hexID(0x0c, 1), "name": "Contestant"})
	f.insert("scores", map[string]any{
		"id":             hexID(0x5e, 1),
		"subcategory_id": hexID(0x5c, 1),
		"criterion_id":   hexID(0xcc, 1),
		"contestant_id":  hexID(0x0c, 1),
		"judge_id":       shared,
		"score":          9.5,
	})
	f.insert("subcategory_judges", map[string]any{"subcategory_id": hexID(0x5c, 1), "judge_id": shared})
	h := f.open(Options{Validate: true})

	rep, err := h.run.Migrate(context.Background(), skipBackup)
	require.NoError(t, err)
	noFailures(t, rep)

	assert.Equal(t, int64(3), h.count(t, "users"))
	assert.Equal(t, 1, rep.Count(report.Collision))

	owner := h.scalar(t, `SELECT u.legacy_table FROM scores s JOIN users u ON u.id = s.judge_id`)
	assert.Equal(t, "judges", owner)
	owner = h.scalar(t, `SELECT u.legacy_table FROM category_judges j JOIN users u ON u.id = j.judge_id`)
	assert.Equal(t, "judges", owner)
	assert.Equal(t, canon(t, shared), h.scalar(t, `SELECT id FROM users WHERE legacy_table = 'users'`))
}

func TestMalformedIdentifiersAreMemoised(t *testing.T) {
	f := newLegacy(t)
	f.insert("contests", map[string]any{"id": "45a63c33a756a437d0d99785a8a444f", "name": "Short Id"})
	f.insert("categories", map[string]any{"id": hexID(0xca, 1), "contest_id": "45a63c33a756a437d0d99785a8a444f", "name": "Linked"})
	f.insert("system_settings", map[string]any{"setting_key": "site_name", "setting_value": "Pageant"})
	h := f.open(Options{Validate: true})

	rep, err := h.run.Migrate(context.Background(), skipBackup)
	require.NoError(t, err)
	noFailures(t, rep)

	assert.Equal(t, 1, rep.Generated)
	assert.GreaterOrEqual(t, rep.Count(report.Identifier), 1)
	linked := h.scalar(t, `SELECT COUNT(*) AS n FROM contest_groups g JOIN events e ON e.id = g.event_id`)
	assert.EqualValues(t, 1, linked)
	assert.Equal(t, "Pageant", h.scalar(t, `SELECT setting_value FROM settings WHERE setting_key = 'site_name'`))
}

func TestUnknownRoleIsARowIssue(t *testing.T) {
	f := newLegacy(t)
	f.insert("users", map[string]any{"id": hexID(0x01, 1), "name": "Jan", "role": "janitor"})
	h := f.open(Options{})

	rep, err := h.run.Migrate(context.Background(), skipBackup)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Count(report.Row))
	for _, i := range rep.Issues {
		if i.Kind == report.Row {
			assert.Equal(t, "users:"+hexID(0x01, 1), i.Row)
			assert.Contains(t, i.Message, "unknown role")
		}
	}
	assert.Zero(t, h.count(t, "users"))
}

func TestUnmappedTablesAndColumnsAreReported(t *testing.T) {
	f := newLegacy(t)
	_, err := f.conn.Exec(`CREATE TABLE sessions (id TEXT PRIMARY KEY, payload TEXT)`)
	require.NoError(t, err)
	_, err = f.conn.Exec(`ALTER TABLE contests ADD COLUMN theme_color TEXT`)
	require.NoError(t, err)
	f.insert("contests", map[string]any{"id": hexID(0xc0, 1), "name": "Gala", "theme_color": "gold"})
	f.insert("contests", map[string]any{"id": hexID(0xc0, 2), "name": "Gala II", "theme_color": "silver"})
	h := f.open(Options{})

	rep, err := h.run.Migrate(context.Background(), skipBackup)
	require.NoError(t, err)
	noFailures(t, rep)

	var skips []string
	for _, i := range rep.Issues {
		if i.Kind == report.Skip {
			skips = append(skips, i.String())
		}
	}
	joined := strings.Join(skips, "\n")
	assert.Contains(t, joined, "skip sessions: legacy table has no mapping")
	assert.Equal(t, 1, strings.Count(joined, "theme_color"), "a dropped column is reported once per table")
	assert.NotContains(t, joined, legacydb.VersionTable)
	assert.Equal(t, int64(2), h.count(t, "events"))
}

func TestRollbackAndStatus(t *testing.T) {
	f := newLegacy(t)
	f.hierarchy(2, 2, 2)
	h := f.open(Options{})
	ctx := context.Background()
	backups := filepath.Join(h.dir, "backups")

	_, err := h.run.Migrate(ctx, BackupPolicy{Take: true, Dir: backups})
	require.NoError(t, err)

	st, err := h.run.Status(ctx, backups)
	require.NoError(t, err)
	assert.NotEmpty(t, st.Backup)
	for _, ts := range st.Tables {
		assert.True(t, ts.Exists, ts.Target)
		assert.Equal(t, ts.SourceRows, ts.TargetRows, ts.Target)
	}
	for _, v := range st.Views {
		assert.True(t, v.Exists, v.Name)
	}
	var buf bytes.Buffer
	require.NoError(t, st.WriteText(&buf))
	assert.Contains(t, buf.String(), "contest_groups")
	assert.Contains(t, buf.String(), "views missing: none")

	rep := h.run.Rollback(ctx, backups)
	noFailures(t, rep)
	assert.Equal(t, st.Backup, rep.Backup)
	assert.False(t, h.dst.HasTable(ctx, "events"))
	ok, err := h.dst.HasView(ctx, "contests")
	require.NoError(t, err)
	assert.False(t, ok)

	// The source is untouched.
	src, err := source.Open(f.path)
	require.NoError(t, err)
	defer src.Close()
	n, err := src.Count(ctx, "contests")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	st, err = h.run.Status(ctx, "")
	require.NoError(t, err)
	for _, ts := range st.Tables {
		assert.False(t, ts.Exists, ts.Target)
	}
}

func TestOpenMissingSourceIsAConnectionError(t *testing.T) {
	cfg := config.Config{
		Source:  config.Source{Path: filepath.Join(t.TempDir(), "missing.db")},
		Target:  config.Target{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "t.db")},
		Options: config.Options{RetryAttempts: 3, RetryDelay: time.Millisecond},
	}
	_, err := Open(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))
	assert.True(t, errors.Is(err, source.ErrNotFound))
}

func TestOpenFromConfig(t *testing.T) {
	f := newLegacy(t)
	require.NoError(t, f.conn.Close())
	cfg := config.Config{
		Source:  config.Source{Path: f.path, IgnoreTables: []string{legacydb.VersionTable}},
		Target:  config.Target{Driver: "sqlite", Path: filepath.Join(f.dir, "t.db")},
		Options: config.Options{BatchSize: 10, RetryAttempts: 1, RetryDelay: time.Millisecond, Validate: true},
	}
	run, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer run.Close()

	assert.Equal(t, 10, run.opts.BatchSize)
	assert.Equal(t, "sqlite:"+cfg.Target.Path, run.opts.TargetName)
	rep := run.Test(context.Background())
	assert.Equal(t, "PASS", rep.Status())
}

func TestNullUserIdGetsGeneratedId(t *testing.T) {
	f := newLegacy(t)
	f.insert("users", map[string]any{"id": hexID(0x01, 1), "name": "Olive", "role": "organizer"})
	f.insert("users", map[string]any{"id": hexID(0x01, 2), "name": "Tess", "role": "tally"})
	f.insert("judges", map[string]any{"id": nil, "name": "Nameless Id"})
	f.insert("contestants", map[string]any{"id": hexID(0x0c, 1), "name": "Cass"})
	h := f.open(Options{Validate: true})

	rep, err := h.run.Migrate(context.Background(), skipBackup)
	require.NoError(t, err)
	noFailures(t, rep)

	assert.Equal(t, int64(4), h.count(t, "users"))
	assert.Equal(t, 1, rep.Generated)

	ref, ok := h.scalar(t, `SELECT legacy_ref FROM users WHERE legacy_table = 'judges'`).(string)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(ref, "null:"), ref)
	id := h.scalar(t, `SELECT id FROM users WHERE legacy_table = 'judges'`)
	assert.Equal(t, "null:"+fmt.Sprint(id), ref)

	var flagged []report.Issue
	for _, i := range rep.Issues {
		if i.Kind == report.Identifier {
			flagged = append(flagged, i)
		}
	}
	require.Len(t, flagged, 1)
	assert.Equal(t, "users", flagged[0].Table)
	assert.Equal(t, "judges:NULL", flagged[0].Row)

	for _, c := range rep.Checks {
		if c.Target == "users" {
			assert.Equal(t, int64(4), c.Expected)
			assert.True(t, c.Match())
		}
	}
}

func TestBrokenViewDoesNotBlockOthers(t *testing.T) {
	f := newLegacy(t)
	f.hierarchy(1, 0, 0)
	h := f.open(Options{})
	h.run.views = []schema.View{
		{Name: "broken", Select: "SELECT id FROM events WHERE"},
		{Name: "contests", Select: "SELECT id, name FROM events"},
	}

	rep, err := h.run.Migrate(context.Background(), skipBackup)
	require.NoError(t, err)

	require.Equal(t, 1, rep.Count(report.View))
	for _, i := range rep.Issues {
		if i.Kind == report.View {
			assert.Equal(t, "broken", i.Table)
		}
	}
	ok, err := h.dst.HasView(context.Background(), "contests")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), h.count(t, "contests"))
	assert.True(t, rep.Failed())
	assert.Equal(t, "FAIL", rep.Status())
}

func TestContestsViewKeepsLegacyShape(t *testing.T) {
	f := newLegacy(t)
	f.insert("contests", map[string]any{"id": hexID(0xc0, 1), "name": "Past Gala", "archived": 1})
	h := f.open(Options{})

	rep, err := h.run.Migrate(context.Background(), skipBackup)
	require.NoError(t, err)
	noFailures(t, rep)

	assert.EqualValues(t, 1, h.scalar(t, `SELECT COUNT(*) AS n FROM contests WHERE archived`))
}
