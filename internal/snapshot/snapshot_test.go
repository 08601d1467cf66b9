package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/tessera/internal/storage/sqlite"
	"github.com/scrypster/tessera/pkg/types"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func touch(t *testing.T, dir string, taken time.Time) string {
	t.Helper()
	path := filepath.Join(dir, filePrefix+taken.UTC().Format(timeLayout)+fileExt)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	return path
}

func TestTake_CopiesEntities(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := sqlite.New(filepath.Join(dir, "tessera.db"))
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.SaveEntity(ctx, &types.Entity{ID: "ent:a", Name: "Marcus Vane"}))

	info, err := Take(ctx, store.DB(), filepath.Join(dir, "snapshots"), now)
	require.NoError(t, err)
	assert.True(t, info.Verified)
	assert.Positive(t, info.Size)
	assert.Equal(t, "tessera-20260314T120000Z.db", filepath.Base(info.Path))

	restored, err := sqlite.New(info.Path)
	require.NoError(t, err)
	defer restored.Close()
	e, err := restored.GetEntity(ctx, "ent:a")
	require.NoError(t, err)
	assert.Equal(t, "Marcus Vane", e.Name)

	_, err = Take(ctx, store.DB(), filepath.Join(dir, "snapshots"), now)
	assert.Error(t, err, "same timestamp twice")
}

func TestVerify_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tessera-20260101T000000Z.db")
	require.NoError(t, os.WriteFile(path, []byte("definitely not sqlite"), 0o600))
	assert.Error(t, Verify(context.Background(), path))
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	older := touch(t, dir, now.Add(-2*time.Hour))
	newer := touch(t, dir, now.Add(-time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.db"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "tessera-20260101T000000Z.db.d"), 0o700))

	snaps, err := List(dir)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, newer, snaps[0].Path)
	assert.Equal(t, older, snaps[1].Path)

	missing, err := List(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	assert.Empty(t, missing)

	usage, err := DiskUsage(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(2), usage)
}

func TestPolicy_Plan(t *testing.T) {
	const day = 24 * time.Hour
	ages := []time.Duration{
		time.Hour, 2 * time.Hour, 3 * time.Hour,
		2 * day, 3 * day,
		10 * day,
		60 * day,
		400 * day,
	}
	var snaps []Info
	for _, age := range ages {
		snaps = append(snaps, Info{Path: age.String(), Taken: now.Add(-age)})
	}

	keep, expire := Policy{Hourly: 2, Daily: 1, Weekly: 1, Monthly: 0}.Plan(snaps, now)

	var kept []string
	for _, s := range keep {
		kept = append(kept, s.Path+"/"+s.Retention)
	}
	assert.Equal(t, []string{"1h0m0s/hourly", "2h0m0s/hourly", "48h0m0s/daily", "240h0m0s/weekly"}, kept)

	var expired []string
	for _, s := range expire {
		expired = append(expired, s.Path)
	}
	assert.Equal(t, []string{"3h0m0s", "72h0m0s", "1440h0m0s", "9600h0m0s"}, expired)
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	keep := touch(t, dir, now.Add(-time.Hour))
	drop := touch(t, dir, now.Add(-2*time.Hour))
	ancient := touch(t, dir, now.Add(-400*24*time.Hour))

	removed, err := Prune(dir, Policy{Hourly: 1}, now)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	assert.FileExists(t, keep)
	assert.NoFileExists(t, drop)
	assert.NoFileExists(t, ancient)
}

func TestDefaultPolicy(t *testing.T) {
	assert.Equal(t, Policy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}, DefaultPolicy())
}
