package library

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// SweepOrphans removes leftovers of jobs that did not finish: everything in
// the work directory and every session-named directory under root that no
// stored session owns and that holds no manifest. It must run before any job
// is submitted, since an in-flight job's directories are not owned yet.
//
// Nothing is removed in read-only mode. When the store could not load its
// ledger, ownership is unknown and only the work directory is cleared.
// It returns how many directories were removed.
func SweepOrphans(root string, store *SessionStore, readOnly bool, log *slog.Logger) (int, error) {
	if readOnly {
		return 0, nil
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return 0, fmt.Errorf("resolve cache root: %w", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, fmt.Errorf("read cache root: %w", err)
	}

	sweepSessions := store.LoadErr() == nil
	if !sweepSessions {
		log.Warn("ledger not loaded, keeping all session directories")
	}

	owned := make(map[string]struct{})
	for dir := range store.OwnedDirs() {
		if abs, err := filepath.Abs(dir); err == nil {
			owned[abs] = struct{}{}
		}
	}

	removed := 0
	remove := func(path string) {
		if err := os.RemoveAll(path); err != nil {
			log.Warn("failed to remove orphaned dir", slog.String("dir", path), slog.String("error", err.Error()))
			return
		}
		removed++
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(root, e.Name())

		if e.Name() == WorkDirName {
			leftovers, err := os.ReadDir(path)
			if err != nil {
				continue
			}
			for _, l := range leftovers {
				remove(filepath.Join(path, l.Name()))
			}
			continue
		}

		if !sweepSessions {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		if _, ok := owned[path]; ok {
			continue
		}
		if hasManifest(path) {
			log.Info("keeping unlisted session dir with a manifest", slog.String("dir", path))
			continue
		}
		remove(path)
	}

	if removed > 0 {
		log.Info("removed orphaned directories", slog.Int("count", removed))
	}
	return removed, nil
}

func hasManifest(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ManifestName))
	return err == nil && info.Mode().IsRegular()
}

// RunJanitor evicts expired terminal jobs from jobs every interval until ctx
// is done.
func RunJanitor(ctx context.Context, interval time.Duration, jobs *JobTracker, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := jobs.Sweep(); n > 0 {
				log.Info("evicted finished jobs", slog.Int("count", n), slog.Int("remaining", jobs.Len()))
			}
		case <-ctx.Done():
			return
		}
	}
}
