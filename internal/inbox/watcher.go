// Package inbox ingests entity batches dropped as JSON files into
// {dataPath}/inbox by extraction processes.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/scrypster/tessera/internal/reconcile"
	"github.com/scrypster/tessera/pkg/types"
)

const (
	batchExt  = ".json"
	doneDir   = "done"
	failedDir = "failed"
)

// Ingester receives parsed batches. *reconcile.Sentinel satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, entities []*types.Entity, source string) (*reconcile.IngestResult, error)
}

// Watcher watches the inbox directory and ingests every batch file that
// appears. Processed files move to inbox/done, unreadable ones to
// inbox/failed.
type Watcher struct {
	dir      string
	ingester Ingester
	onBatch  func(path string, res *reconcile.IngestResult, err error)
	watcher  *fsnotify.Watcher
	ctx      context.Context
	done     chan struct{}
}

// NewWatcher creates a watcher for {dataPath}/inbox/. onBatch, if not nil,
// is called after every file with its outcome.
func NewWatcher(dataPath string, ingester Ingester, onBatch func(path string, res *reconcile.IngestResult, err error)) *Watcher {
	return &Watcher{
		dir:      Dir(dataPath),
		ingester: ingester,
		onBatch:  onBatch,
		done:     make(chan struct{}),
	}
}

// Dir returns the inbox directory under dataPath.
func Dir(dataPath string) string {
	return filepath.Join(dataPath, "inbox")
}

// Start ingests files already in the inbox, then watches for new ones
// until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	for _, sub := range []string{w.dir, filepath.Join(w.dir, doneDir), filepath.Join(w.dir, failedDir)} {
		if err := os.MkdirAll(sub, 0o700); err != nil {
			return fmt.Errorf("inbox: mkdir %s: %w", sub, err)
		}
	}
	w.ctx = ctx

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("inbox: watch %s: %w", w.dir, err)
	}
	w.watcher = fw

	w.drainExisting()

	go w.loop()
	log.Printf("inbox: watching %s for entity batches", w.dir)
	return nil
}

// Stop shuts down the watcher and waits for the current file to finish.
func (w *Watcher) Stop() {
	if w.watcher != nil {
		_ = w.watcher.Close()
		<-w.done
	}
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&fsnotify.Create != 0 && isBatchFile(evt.Name) {
				w.processFile(evt.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("inbox: watcher error: %v", err)
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) drainExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && isBatchFile(entry.Name()) {
			w.processFile(filepath.Join(w.dir, entry.Name()))
		}
	}
}

func (w *Watcher) processFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // already moved by an earlier event
	}

	batch, err := types.ParseBatch(data)
	if err != nil {
		log.Printf("inbox: invalid batch %s: %v", filepath.Base(path), err)
		w.move(path, failedDir)
		w.report(path, nil, err)
		return
	}
	source := batch.Source
	if source == "" {
		source = "inbox:" + strings.TrimSuffix(filepath.Base(path), batchExt)
	}

	res, err := w.ingester.Ingest(w.ctx, batch.Entities, source)
	if errors.Is(err, context.Canceled) {
		// Left in place for the next run to pick up again.
		log.Printf("inbox: ingest of %s interrupted, leaving it in the inbox", filepath.Base(path))
		w.report(path, res, err)
		return
	}
	if err != nil {
		// Entities saved before the failure stay saved; the file is not
		// retried so they are not ingested twice.
		log.Printf("inbox: ingest %s: %v", filepath.Base(path), err)
		w.move(path, failedDir)
		w.report(path, res, err)
		return
	}
	log.Printf("inbox: ingested %s: %d entities, %d candidates, %d merges",
		filepath.Base(path), len(res.Ingested), len(res.Candidates), len(res.Merges))
	w.move(path, doneDir)
	w.report(path, res, nil)
}

func (w *Watcher) move(path, sub string) {
	dst := filepath.Join(w.dir, sub, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		log.Printf("inbox: move %s to %s: %v", filepath.Base(path), sub, err)
		_ = os.Remove(path)
	}
}

func (w *Watcher) report(path string, res *reconcile.IngestResult, err error) {
	if w.onBatch != nil {
		w.onBatch(path, res, err)
	}
}

func isBatchFile(name string) bool {
	return strings.HasSuffix(name, batchExt) && !strings.HasPrefix(filepath.Base(name), ".")
}
