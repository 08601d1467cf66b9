// Package snapshot takes verified point-in-time copies of the entity
// database. Merges delete the absorbed entity, so a snapshot before a bulk
// review session is the only way to undo one.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	filePrefix = "tessera-"
	fileExt    = ".db"
	timeLayout = "20060102T150405Z"
)

// Info describes one snapshot file.
type Info struct {
	Path      string    `json:"path"`
	Taken     time.Time `json:"taken"`
	Size      int64     `json:"size"`
	Verified  bool      `json:"verified"`
	Duration  string    `json:"duration,omitempty"`
	Retention string    `json:"retention,omitempty"`
}

// Take writes a snapshot of db into dir and verifies it. db must be an
// open modernc.org/sqlite handle; VACUUM INTO produces a consistent copy
// even while the database is in WAL mode.
func Take(ctx context.Context, db *sql.DB, dir string, now time.Time) (*Info, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("snapshot: mkdir %s: %w", dir, err)
	}
	now = now.UTC()
	path := filepath.Join(dir, filePrefix+now.Format(timeLayout)+fileExt)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("snapshot: %s already exists", filepath.Base(path))
	}

	start := time.Now()
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return nil, fmt.Errorf("snapshot: vacuum into %s: %w", filepath.Base(path), err)
	}
	if err := Verify(ctx, path); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return &Info{
		Path:     path,
		Taken:    now,
		Size:     st.Size(),
		Verified: true,
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}, nil
}

// Verify runs SQLite's integrity check on the snapshot at path.
func Verify(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("snapshot: open %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("snapshot: integrity check %s: %w", filepath.Base(path), err)
	}
	if result != "ok" {
		return fmt.Errorf("snapshot: integrity check %s failed: %s", filepath.Base(path), result)
	}
	return nil
}

// List returns the snapshots in dir, newest first. Files whose names do
// not carry a snapshot timestamp are ignored. A missing dir is empty.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", dir, err)
	}

	var out []Info
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		taken, ok := parseName(entry.Name())
		if !ok {
			continue
		}
		st, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Path: filepath.Join(dir, entry.Name()), Taken: taken, Size: st.Size()})
	}
	sortNewestFirst(out)
	return out, nil
}

func parseName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
		return time.Time{}, false
	}
	ts := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExt)
	t, err := time.Parse(timeLayout, ts)
	return t, err == nil
}
