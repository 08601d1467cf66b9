package inbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/tessera/pkg/types"
)

// Submit writes batch into the inbox under dataPath and returns the file
// path. The file is written under a hidden name and renamed into place so
// a watcher never reads a partial batch. Safe to call concurrently.
func Submit(dataPath string, batch *types.Batch) (string, error) {
	dir := Dir(dataPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("inbox: mkdir %s: %w", dir, err)
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("inbox: encode batch: %w", err)
	}

	name := fmt.Sprintf("%d-%s%s", time.Now().UnixNano(), uuid.New().String()[:8], batchExt)
	tmp := filepath.Join(dir, "."+name)
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("inbox: write %s: %w", tmp, err)
	}
	path := filepath.Join(dir, name)
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("inbox: rename %s: %w", name, err)
	}
	return path, nil
}
