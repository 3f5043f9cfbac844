// Package backup snapshots the legacy database file before a migration so
// the operator always has something to restore.
package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoSnapshot is returned by Latest when no snapshot exists for a source.
var ErrNoSnapshot = errors.New("no backup snapshot found")

const (
	stampLayout = "20060102T150405Z"
	suffix      = ".bak"
)

// SQLite keeps uncommitted pages next to the database in these files.
var companions = []string{"-wal", "-shm"}

// Snapshot describes one completed backup.
type Snapshot struct {
	Path  string
	Size  int64
	Files []string // every file written, the database first
}

// Take copies src (and its -wal/-shm companions when present) into dir as
// <name>.<UTC timestamp>.bak. dir is created if needed.
func Take(src, dir string, now time.Time) (Snapshot, error) {
	info, err := os.Stat(src)
	if err != nil {
		return Snapshot{}, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return Snapshot{}, fmt.Errorf("source %s is a directory", src)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Snapshot{}, fmt.Errorf("create backup dir: %w", err)
	}

	dst := filepath.Join(dir, filepath.Base(src)+"."+now.UTC().Format(stampLayout)+suffix)
	if _, err := os.Stat(dst); err == nil {
		return Snapshot{}, fmt.Errorf("backup %s already exists", dst)
	}

	snap := Snapshot{Path: dst, Size: info.Size()}
	if err := copyFile(src, dst); err != nil {
		return Snapshot{}, fmt.Errorf("copy %s: %w", src, err)
	}
	snap.Files = append(snap.Files, dst)

	for _, c := range companions {
		if _, err := os.Stat(src + c); err != nil {
			continue
		}
		if err := copyFile(src+c, dst+c); err != nil {
			return snap, fmt.Errorf("copy %s: %w", src+c, err)
		}
		snap.Files = append(snap.Files, dst+c)
	}
	return snap, nil
}

// Latest returns the newest snapshot of src in dir.
func Latest(dir, src string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, globEscape(filepath.Base(src))+".*"+suffix))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w for %s in %s", ErrNoSnapshot, filepath.Base(src), dir)
	}
	// The timestamp layout sorts lexically.
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

func globEscape(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)
	return r.Replace(s)
}

// copyFile copies src to dst, preserving the source permissions, and syncs
// dst before returning.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}

	_, copyErr := io.Copy(out, in)
	syncErr := out.Sync()
	closeErr := out.Close()
	if copyErr != nil {
		return copyErr
	}
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}
