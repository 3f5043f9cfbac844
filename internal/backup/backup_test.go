package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTakeCopiesDatabaseAndCompanions(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scoring.db")
	require.NoError(t, os.WriteFile(src, []byte("main"), 0o640))
	require.NoError(t, os.WriteFile(src+"-wal", []byte("wal"), 0o640))

	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.FixedZone("EST", -5*3600))
	snap, err := Take(src, filepath.Join(dir, "backups"), now)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "backups", "scoring.db.20260314T142653Z.bak"), snap.Path)
	assert.Equal(t, int64(4), snap.Size)
	assert.Equal(t, []string{snap.Path, snap.Path + "-wal"}, snap.Files)

	data, err := os.ReadFile(snap.Path)
	require.NoError(t, err)
	assert.Equal(t, "main", string(data))

	info, err := os.Stat(snap.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	_, err = os.Stat(snap.Path + "-shm")
	assert.True(t, os.IsNotExist(err))
}

func TestTakeRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scoring.db")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	now := time.Now()
	_, err := Take(src, dir, now)
	require.NoError(t, err)
	_, err = Take(src, dir, now)
	assert.ErrorContains(t, err, "already exists")
}

func TestTakeMissingSource(t *testing.T) {
	_, err := Take(filepath.Join(t.TempDir(), "nope.db"), t.TempDir(), time.Now())
	assert.Error(t, err)
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scoring.db")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	backups := filepath.Join(dir, "backups")

	_, err := Latest(backups, src)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var newest Snapshot
	for _, offset := range []time.Duration{time.Hour, 3 * time.Hour, 2 * time.Hour} {
		snap, err := Take(src, backups, base.Add(offset))
		require.NoError(t, err)
		if offset == 3*time.Hour {
			newest = snap
		}
	}

	got, err := Latest(backups, src)
	require.NoError(t, err)
	assert.Equal(t, newest.Path, got)
}
