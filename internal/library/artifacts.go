package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"hls-library/internal/platform/metrics"
)

// ArtifactServer resolves session manifests and segments to files on disk.
// It only reads the store, apart from counting plays.
type ArtifactServer struct {
	store   *SessionStore
	log     *slog.Logger
	metrics *metrics.Metrics

	// persist runs after a play is counted. It marks the ledger dirty; the
	// write itself happens in FlushPlays.
	persist func()
	dirty   chan struct{}
}

// NewArtifactServer returns an ArtifactServer over store. Play counts reach
// the ledger only while FlushPlays runs.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewArtifactServer(store *SessionStore, log *slog.Logger, m *metrics.Metrics) *ArtifactServer {
	a := &ArtifactServer{store: store, log: log, metrics: m, dirty: make(chan struct{}, 1)}
	a.persist = a.markDirty
	return a
}

func (a *ArtifactServer) markDirty() {
	select {
	case a.dirty <- struct{}{}:
	default:
	}
}

// FlushPlays writes the ledger whenever plays were counted since the last
// write, until ctx is done. Plays counted while a write is running are
// collapsed into one further write. A pending write is flushed before it
// returns.
func (a *ArtifactServer) FlushPlays(ctx context.Context) {
	for {
		select {
		case <-a.dirty:
			a.store.Persist()
		case <-ctx.Done():
			select {
			case <-a.dirty:
				a.store.Persist()
			default:
			}
			return
		}
	}
}

// Manifest returns the manifest of the session with the given id and counts
// a play. A missing session and an unreadable manifest are both ErrNotFound.
func (a *ArtifactServer) Manifest(sessionID string) ([]byte, error) {
	entry, ok := a.store.FindBySessionID(sessionID)
	if !ok {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(entry.Session.ManifestPath)
	if err != nil {
		a.log.Warn("manifest unreadable",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return nil, ErrNotFound
	}

	if _, ok := a.store.Update(entry.Key, func(s *Session) { s.PlayCount++ }); ok {
		a.persist()
		if a.metrics != nil {
			a.metrics.IncPlays()
		}
	}
	return data, nil
}

// OpenSegment opens the named file inside the session's segment directory.
// Names that resolve outside that directory, lexically or through symlinks,
// yield ErrForbidden; the check runs before the target is looked at.
func (a *ArtifactServer) OpenSegment(sessionID, name string) (*os.File, error) {
	entry, ok := a.store.FindBySessionID(sessionID)
	if !ok {
		return nil, ErrNotFound
	}

	path, err := resolveWithin(entry.Session.SegmentsDir, name)
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			a.log.Warn("segment path escapes session dir",
				slog.String("session_id", sessionID),
				slog.String("name", name))
		}
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, ErrNotFound
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		f.Close()
		return nil, ErrNotFound
	}
	return f, nil
}

// resolveWithin joins name onto dir and returns the resulting path only if
// it stays strictly inside dir after ".." components and symlinks are
// resolved.
func resolveWithin(dir, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.ContainsRune(name, 0) {
		return "", ErrForbidden
	}
	base, err := filepath.Abs(dir)
	if err != nil {
		return "", ErrNotFound
	}
	target := filepath.Join(base, name)
	if !within(base, target) {
		return "", ErrForbidden
	}

	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		return "", ErrNotFound
	}
	realTarget, err := filepath.EvalSymlinks(target)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if !within(realBase, realTarget) {
		return "", ErrForbidden
	}
	return realTarget, nil
}

func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}
