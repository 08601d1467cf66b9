package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/tessera/internal/embedding"
	"github.com/scrypster/tessera/internal/similarity"
	"github.com/scrypster/tessera/internal/storage/sqlitevec"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TESSERA_CONFIG", "")
	t.Setenv("TESSERA_DATA_PATH", dir)
	t.Setenv("TESSERA_STORAGE_ENGINE", "sqlite")
	t.Setenv("TESSERA_VECTOR_BACKEND", "sqlitevec")
	t.Setenv("TESSERA_EMBEDDING_MODEL", "local")
	return dir
}

// requireVectorTier skips tests whose expectations hold only when the
// sqlite-vec build can answer KNN queries.
func requireVectorTier(t *testing.T) {
	t.Helper()
	vs, err := sqlitevec.Open(":memory:", embedding.DefaultLocalDimension, "knn-check")
	require.NoError(t, err)
	defer vs.Close()
	if err := vs.Ping(context.Background()); err != nil {
		t.Skipf("vec0 knn unavailable: %v", err)
	}
}

func tessera(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), args, &out), strings.Join(args, " "))
	return out.String()
}

func writeBatch(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRun_ReviewWorkflow(t *testing.T) {
	dir := setupEnv(t)
	requireVectorTier(t)

	a := writeBatch(t, dir, "a.json", `[{"id":"ent:john-a","name":"John Smith","description":"Intelligence operative in Berlin","aliases":["Agent X"]}]`)
	b := writeBatch(t, dir, "b.json", `{"source":"chunk:2","entities":[{"id":"ent:john-b","name":"John Smith","description":"CIA operative based in Berlin","aliases":["Agent X","Nightfall"]}]}`)

	out := tessera(t, "ingest", "-source", "chunk:1", a)
	assert.Contains(t, out, "ingested 1 entities: 0 candidates")

	out = tessera(t, "ingest", b)
	assert.Contains(t, out, "1 candidates")

	assert.Equal(t, similarity.BackendVector+"\n", tessera(t, "backend"))

	pending := strings.Split(strings.TrimSpace(tessera(t, "pending")), "\n")
	require.Len(t, pending, 2)
	fields := strings.Fields(pending[1])
	id := fields[0]

	out = tessera(t, "approve", "-reason", "same agent", id)
	assert.Equal(t, "merged into ent:john-a (John Smith)\n", out)

	pending = strings.Split(strings.TrimSpace(tessera(t, "pending")), "\n")
	assert.Len(t, pending, 1)

	history := tessera(t, "history")
	assert.Contains(t, history, `"absorbed_id": "ent:john-b"`)
	assert.Contains(t, history, `"reason": "same agent"`)

	assert.Equal(t, "re-indexed 1 entities on vector\n", tessera(t, "rebuild"))
	assert.Contains(t, tessera(t, "search", "John", "Smith"), "ent:john-a")

	var buf bytes.Buffer
	err := run(context.Background(), []string{"approve", id}, &buf)
	assert.Error(t, err)
}

func TestRun_RejectAndSuggest(t *testing.T) {
	dir := setupEnv(t)
	requireVectorTier(t)

	tessera(t, "ingest", writeBatch(t, dir, "a.json", `[{"id":"ent:john-a","name":"John Smith","description":"Intelligence operative in Berlin","aliases":["Agent X"]}]`))
	tessera(t, "ingest", writeBatch(t, dir, "b.json", `[{"id":"ent:john-b","name":"John Smith","description":"CIA operative based in Berlin","aliases":["Agent X","Nightfall"]}]`))

	pending := strings.Split(strings.TrimSpace(tessera(t, "pending")), "\n")
	require.Len(t, pending, 2)
	id := strings.Fields(pending[1])[0]

	assert.Equal(t, "rejected "+id+"\n", tessera(t, "reject", id))

	suggest := strings.Split(strings.TrimSpace(tessera(t, "suggest", "-threshold", "0.8")), "\n")
	require.Len(t, suggest, 2)
	assert.Contains(t, suggest[1], "ent:john-a")
	assert.Contains(t, suggest[1], "ent:john-b")
}

func TestRun_Aliases(t *testing.T) {
	dir := setupEnv(t)
	requireVectorTier(t)
	tessera(t, "ingest", writeBatch(t, dir, "x.json", `[
		{"id":"ent:elena","name":"Elena","description":"Elena was identified as Nightfall by the station"},
		{"id":"ent:nightfall","name":"Nightfall","description":"Unknown courier"}
	]`))

	out := tessera(t, "aliases", "ent:elena")
	assert.Contains(t, out, "Nightfall (ent:nightfall)")
}

func TestRun_QueueWritesInbox(t *testing.T) {
	dir := setupEnv(t)
	path := writeBatch(t, dir, "q.json", `[{"name":"Riverton"}]`)

	out := tessera(t, "ingest", "-queue", path)
	assert.Contains(t, out, "queued 1 entities")

	entries, err := os.ReadDir(filepath.Join(dir, "inbox"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".json", filepath.Ext(entries[0].Name()))
}

func TestRun_Snapshot(t *testing.T) {
	dir := setupEnv(t)
	tessera(t, "ingest", writeBatch(t, dir, "r.json", `[{"name":"Riverton"}]`))

	out := tessera(t, "snapshot")
	assert.Contains(t, out, filepath.Join(dir, "snapshots", "tessera-"))

	list := strings.Split(strings.TrimSpace(tessera(t, "snapshot", "-list")), "\n")
	require.Len(t, list, 2)
	assert.Contains(t, list[1], "hourly")
}

func TestRun_Usage(t *testing.T) {
	setupEnv(t)
	tests := [][]string{
		nil,
		{"frobnicate"},
		{"approve"},
		{"search"},
		{"-nope", "pending"},
	}
	for _, args := range tests {
		err := run(context.Background(), args, &bytes.Buffer{})
		assert.ErrorIs(t, err, errUsage, "%v", args)
	}
}

func TestRun_MemoryEngineWithoutVectors(t *testing.T) {
	setupEnv(t)
	t.Setenv("TESSERA_STORAGE_ENGINE", "memory")
	t.Setenv("TESSERA_EMBEDDING_MODEL", "none")

	assert.Equal(t, similarity.BackendNaive+"\n", tessera(t, "backend"))
}

func TestRun_MemoryEngineKeepsVectorsInProcess(t *testing.T) {
	setupEnv(t)
	t.Setenv("TESSERA_STORAGE_ENGINE", "memory")

	assert.Equal(t, similarity.BackendVector+"\n", tessera(t, "backend"))
}
