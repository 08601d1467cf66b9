package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/tessera/internal/reconcile"
	"github.com/scrypster/tessera/pkg/types"
)

type call struct {
	names  []string
	source string
}

type fakeIngester struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeIngester) Ingest(_ context.Context, entities []*types.Entity, source string) (*reconcile.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := call{source: source}
	for _, e := range entities {
		c.names = append(c.names, e.Name)
	}
	f.calls = append(f.calls, c)
	return &reconcile.IngestResult{Ingested: entities}, f.err
}

type outcome struct {
	path string
	err  error
}

func startWatcher(t *testing.T, dataPath string, ing Ingester) <-chan outcome {
	t.Helper()
	results := make(chan outcome, 10)
	w := NewWatcher(dataPath, ing, func(path string, _ *reconcile.IngestResult, err error) {
		results <- outcome{path, err}
	})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		w.Stop()
		cancel()
	})
	return results
}

func waitFor(t *testing.T, results <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-results:
		return o
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for batch")
		return outcome{}
	}
}

func TestWatcher_IngestsSubmittedBatch(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}
	results := startWatcher(t, dir, ing)

	path, err := Submit(dir, &types.Batch{
		Source:   "chunk:42",
		Entities: []*types.Entity{{Name: "Marcus Vane"}, {Name: "Riverton"}},
	})
	require.NoError(t, err)

	o := waitFor(t, results)
	require.NoError(t, o.err)
	assert.Equal(t, path, o.path)

	require.Len(t, ing.calls, 1)
	assert.Equal(t, []string{"Marcus Vane", "Riverton"}, ing.calls[0].names)
	assert.Equal(t, "chunk:42", ing.calls[0].source)

	_, err = os.Stat(filepath.Join(dir, "inbox", doneDir, filepath.Base(path)))
	assert.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWatcher_DrainsExisting(t *testing.T) {
	dir := t.TempDir()
	inboxDir := Dir(dir)
	require.NoError(t, os.MkdirAll(inboxDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(inboxDir, "extract-1.json"), []byte(`[{"name":"Elena"}]`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(inboxDir, "notes.txt"), []byte("ignored"), 0o600))

	ing := &fakeIngester{}
	results := startWatcher(t, dir, ing)

	o := waitFor(t, results)
	require.NoError(t, o.err)
	require.Len(t, ing.calls, 1)
	assert.Equal(t, "inbox:extract-1", ing.calls[0].source)

	_, err := os.Stat(filepath.Join(inboxDir, "notes.txt"))
	assert.NoError(t, err)
}

func TestWatcher_MovesInvalidBatchToFailed(t *testing.T) {
	dir := t.TempDir()
	inboxDir := Dir(dir)
	require.NoError(t, os.MkdirAll(inboxDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(inboxDir, "bad.json"), []byte(`[{"description":"no name"}]`), 0o600))

	ing := &fakeIngester{}
	results := startWatcher(t, dir, ing)

	o := waitFor(t, results)
	assert.Error(t, o.err)
	assert.Empty(t, ing.calls)
	_, err := os.Stat(filepath.Join(inboxDir, failedDir, "bad.json"))
	assert.NoError(t, err)
}

func TestWatcher_IngestFailure(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{err: errors.New("store offline")}
	results := startWatcher(t, dir, ing)

	path, err := Submit(dir, &types.Batch{Entities: []*types.Entity{{Name: "Nightfall"}}})
	require.NoError(t, err)

	o := waitFor(t, results)
	assert.EqualError(t, o.err, "store offline")
	_, err = os.Stat(filepath.Join(Dir(dir), failedDir, filepath.Base(path)))
	assert.NoError(t, err)
}

func TestWatcher_InterruptedIngestStaysInInbox(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{err: fmt.Errorf("save entity ent:1: %w", context.Canceled)}
	results := startWatcher(t, dir, ing)

	path, err := Submit(dir, &types.Batch{Entities: []*types.Entity{{Name: "Nightfall"}}})
	require.NoError(t, err)

	o := waitFor(t, results)
	assert.ErrorIs(t, o.err, context.Canceled)
	_, err = os.Stat(path)
	assert.NoError(t, err, "batch left for the next run")
	_, err = os.Stat(filepath.Join(Dir(dir), failedDir, filepath.Base(path)))
	assert.True(t, os.IsNotExist(err))
}

func TestIsBatchFile(t *testing.T) {
	assert.True(t, isBatchFile("/x/inbox/1-abc.json"))
	assert.False(t, isBatchFile("/x/inbox/.1-abc.json"))
	assert.False(t, isBatchFile("/x/inbox/1-abc.event"))
}
