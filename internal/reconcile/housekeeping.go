package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/resonate-gg/resonate/internal/domain/model"
	"github.com/resonate-gg/resonate/pkg/logger"
)

// housekeep purges temporary submission-processing directories older than
// the retention window. Ancillary to the numeric sweep but run in the same
// cycle.
func (r *Reconciler) housekeep(ctx context.Context, _ map[uuid.UUID]model.Chart) (Summary, error) {
	var sum Summary
	if r.tempDir == "" {
		return sum, nil
	}

	entries, err := os.ReadDir(r.tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return sum, nil
		}
		return sum, fmt.Errorf("reading temp dir: %w", err)
	}

	cutoff := time.Now().Add(-r.retention)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			sum.Failures++
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(r.tempDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			sum.Failures++
			r.log.Warn(ctx, "failed to purge temp directory",
				logger.String("path", path),
				logger.Error(err),
			)
			continue
		}
		sum.Purged++
		r.log.Info(ctx, "purged stale temp directory",
			logger.String("path", path),
			logger.Time("modified", info.ModTime()),
		)
	}
	return sum, nil
}
