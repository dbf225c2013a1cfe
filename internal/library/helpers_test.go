package library

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFetcher stands in for yt-dlp. When gate is set, Fetch blocks until the
// gate is closed or receives a value.
type fakeFetcher struct {
	calls  atomic.Int32
	gate   chan struct{}
	err    error
	noFile bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, url, dir string) error {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return f.err
	}
	if f.noFile {
		return os.WriteFile(filepath.Join(dir, "audio.part"), []byte("partial"), 0o644)
	}
	return os.WriteFile(filepath.Join(dir, "audio.mp3"), []byte("not really audio"), 0o644)
}

// fakeTranscoder stands in for ffmpeg, writing a VOD manifest with segments
// entries and the matching segment files.
type fakeTranscoder struct {
	calls      atomic.Int32
	gate       chan struct{}
	segments   int
	err        error
	noManifest bool
	lastInput  atomic.Value
}

func (f *fakeTranscoder) Transcode(ctx context.Context, input, outDir string, segmentDuration float64) (string, error) {
	f.calls.Add(1)
	f.lastInput.Store(input)
	if f.gate != nil {
		<-f.gate
	}
	manifest := filepath.Join(outDir, ManifestName)
	if f.err != nil {
		// leave a partial file behind like a crashed encoder would
		os.WriteFile(filepath.Join(outDir, "000.ts"), []byte("partial"), 0o644)
		return "", f.err
	}
	if f.noManifest {
		return manifest, nil
	}
	if err := writeManifest(outDir, f.segments, segmentDuration); err != nil {
		return "", err
	}
	return manifest, nil
}

// writeManifest writes a VOD playlist listing n segments and the segment
// files themselves into dir.
func writeManifest(dir string, n int, duration float64) error {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n#EXT-X-MEDIA-SEQUENCE:0\n", int(duration)))
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%03d%s", i, SegmentExt)
		b.WriteString(fmt.Sprintf("#EXTINF:%.1f,\n%s\n", duration, name))
		if err := os.WriteFile(filepath.Join(dir, name), []byte(fmt.Sprintf("segment-%d", i)), 0o644); err != nil {
			return err
		}
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return os.WriteFile(filepath.Join(dir, ManifestName), []byte(b.String()), 0o644)
}

type testEnv struct {
	root       string
	store      *SessionStore
	jobs       *JobTracker
	pipeline   *Pipeline
	artifacts  *ArtifactServer
	fetcher    *fakeFetcher
	transcoder *fakeTranscoder
}

func newTestEnv(t *testing.T, f *fakeFetcher, tr *fakeTranscoder, maxConcurrent int) *testEnv {
	t.Helper()
	root := t.TempDir()
	log := discardLogger()
	store := OpenSessionStore(NewFileLedger(root), log)
	jobs := NewJobTracker(0, 0)

	p, err := NewPipeline(PipelineConfig{Root: root, SegmentDuration: 10, MaxConcurrent: maxConcurrent}, store, jobs, f, tr, log, nil)
	require.NoError(t, err)

	a := NewArtifactServer(store, log, nil)
	a.persist = func() { store.Persist() }

	return &testEnv{root: root, store: store, jobs: jobs, pipeline: p, artifacts: a, fetcher: f, transcoder: tr}
}

// addSession creates a session directory with n segments under root and
// registers it in store under the content key of origin.
func addSession(t *testing.T, store *SessionStore, root, title, origin string, n int) Entry {
	t.Helper()
	id := uuid.NewString()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, writeManifest(dir, n, 10))

	sess := Session{
		ID:              id,
		Title:           title,
		OriginURL:       origin,
		SegmentsDir:     dir,
		ManifestPath:    filepath.Join(dir, ManifestName),
		SegmentCount:    n,
		SegmentDuration: 10,
	}
	key := ContentKey(origin)
	store.Insert(key, sess)
	return Entry{Key: key, Session: sess}
}
