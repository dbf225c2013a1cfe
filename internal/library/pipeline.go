package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hls-library/internal/platform/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// WorkDirName is the directory under the cache root holding job-scoped
// download directories.
const WorkDirName = ".work"

// Fetcher downloads the media at url into dir. On success dir holds exactly
// one audio file.
type Fetcher interface {
	Fetch(ctx context.Context, url, dir string) error
}

// Transcoder converts input into an HLS manifest plus numbered segments inside
// outDir and returns the manifest path.
type Transcoder interface {
	Transcode(ctx context.Context, input, outDir string, segmentDuration float64) (string, error)
}

// PipelineConfig holds the fixed policy of a Pipeline.
type PipelineConfig struct {
	Root            string
	SegmentDuration float64
	MaxConcurrent   int
}

// Pipeline drives conversion jobs from submission to a registered session.
// Each job runs on its own goroutine; at most MaxConcurrent jobs run their
// download and conversion steps at the same time.
type Pipeline struct {
	store      *SessionStore
	jobs       *JobTracker
	fetcher    Fetcher
	transcoder Transcoder
	log        *slog.Logger
	metrics    *metrics.Metrics

	root            string
	workRoot        string
	segmentDuration float64
	sem             *semaphore.Weighted
	wg              sync.WaitGroup

	titleOf func(path string) string
}

// NewPipeline returns a Pipeline writing sessions under cfg.Root.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewPipeline(cfg PipelineConfig, store *SessionStore, jobs *JobTracker, f Fetcher, t Transcoder, log *slog.Logger, m *metrics.Metrics) (*Pipeline, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.SegmentDuration <= 0 {
		return nil, fmt.Errorf("segment duration must be positive, got %v", cfg.SegmentDuration)
	}

	p := &Pipeline{
		store:           store,
		jobs:            jobs,
		fetcher:         f,
		transcoder:      t,
		log:             log,
		metrics:         m,
		root:            root,
		workRoot:        filepath.Join(root, WorkDirName),
		segmentDuration: cfg.SegmentDuration,
		sem:             semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		titleOf:         TagTitle,
	}
	if err := os.MkdirAll(p.workRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	return p, nil
}

// Root returns the absolute cache root.
func (p *Pipeline) Root() string {
	return p.root
}

// WorkRoot returns the directory holding job-scoped download directories.
func (p *Pipeline) WorkRoot() string {
	return p.workRoot
}

// Submit validates req, records a queued job and claims the origin's content
// key. A duplicate origin fails the job at once with a *DuplicateOriginError
// and no tool is run. Otherwise the job continues in the background and
// Submit returns immediately.
func (p *Pipeline) Submit(req SubmitRequest) (Job, error) {
	origin := strings.TrimSpace(req.URL)
	if err := validateOrigin(origin); err != nil {
		return Job{}, err
	}

	key := ContentKey(origin)
	job := p.jobs.Create(origin)
	if p.metrics != nil {
		p.metrics.IncJobsSubmitted()
	}

	if err := p.store.Reserve(key, origin); err != nil {
		p.jobs.Fail(job.ID, err.Error())
		p.log.Info("conversion rejected",
			slog.String("job_id", job.ID),
			slog.String("origin", origin),
			slog.String("error", err.Error()))
		if p.metrics != nil {
			p.metrics.IncJobsFinished(metrics.OutcomeDuplicate)
		}
		job, _ = p.jobs.Get(job.ID)
		return job, err
	}

	p.wg.Add(1)
	go p.run(job.ID, key, origin, strings.TrimSpace(req.Title))

	return job, nil
}

// Wait blocks until every submitted job has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func validateOrigin(origin string) error {
	if origin == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidRequest)
	}
	return nil
}

func (p *Pipeline) run(jobID, key, origin, title string) {
	defer p.wg.Done()

	// Jobs have no cancellation path; a client that stops polling leaves the
	// job running to completion.
	ctx := context.Background()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.store.Release(key)
		p.jobs.Fail(jobID, err.Error())
		return
	}
	defer p.sem.Release(1)

	if p.metrics != nil {
		p.metrics.JobStarted()
		defer p.metrics.JobDone()
	}

	start := time.Now()
	sess, err := p.convert(ctx, jobID, origin, title)
	if err != nil {
		p.store.Release(key)
		p.jobs.Fail(jobID, err.Error())
		p.log.Error("conversion failed",
			slog.String("job_id", jobID),
			slog.String("origin", origin),
			slog.String("error", err.Error()))
		if p.metrics != nil {
			p.metrics.IncJobsFinished(metrics.OutcomeFailed)
		}
		return
	}

	p.store.Insert(key, sess)
	p.store.Persist()

	if err := p.jobs.Complete(jobID, JobResult{
		ID:              jobID,
		Title:           sess.Title,
		SessionID:       sess.ID,
		PlaylistURL:     sess.PlaylistURL(),
		TotalSegments:   sess.SegmentCount,
		SegmentDuration: sess.SegmentDuration,
	}); err != nil {
		p.log.Warn("job record not completed", slog.String("job_id", jobID), slog.String("error", err.Error()))
	}

	p.log.Info("conversion ready",
		slog.String("job_id", jobID),
		slog.String("session_id", sess.ID),
		slog.String("title", sess.Title),
		slog.Int("segments", sess.SegmentCount),
		slog.Duration("took", time.Since(start)))
	if p.metrics != nil {
		p.metrics.IncJobsFinished(metrics.OutcomeReady)
		p.metrics.ObserveConversion(time.Since(start).Seconds())
	}
}

// convert runs the download and transcode steps of one job. The job-scoped
// work directory is always removed; a failed conversion also removes the
// partial session directory, which was never registered.
func (p *Pipeline) convert(ctx context.Context, jobID, origin, title string) (Session, error) {
	sessionID := uuid.NewString()
	workDir := filepath.Join(p.workRoot, jobID)
	outDir := filepath.Join(p.root, sessionID)

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Session{}, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			p.log.Warn("failed to remove work dir", slog.String("job_id", jobID), slog.String("error", err.Error()))
		}
	}()

	if err := p.jobs.Transition(jobID, JobDownloading, "Starting download..."); err != nil {
		return Session{}, err
	}
	if err := p.fetcher.Fetch(ctx, origin, workDir); err != nil {
		return Session{}, err
	}
	src, ok := FindAudioFile(workDir)
	if !ok {
		return Session{}, errors.New("downloaded file not found after fetch completed")
	}

	if title == "" {
		title = p.titleOf(src)
	}
	if title == "" {
		title = defaultTitle(sessionID)
	}

	if err := p.jobs.Transition(jobID, JobConverting, "Converting to HLS format..."); err != nil {
		return Session{}, err
	}
	sess, err := p.transcode(ctx, src, outDir)
	if err != nil {
		if rmErr := os.RemoveAll(outDir); rmErr != nil {
			p.log.Warn("failed to remove partial session dir", slog.String("dir", outDir), slog.String("error", rmErr.Error()))
		}
		return Session{}, err
	}

	if err := os.Remove(src); err != nil {
		p.log.Warn("failed to delete source file", slog.String("path", src), slog.String("error", err.Error()))
	}

	sess.ID = sessionID
	sess.Title = title
	sess.OriginURL = origin
	return sess, nil
}

func (p *Pipeline) transcode(ctx context.Context, src, outDir string) (Session, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Session{}, fmt.Errorf("create session dir: %w", err)
	}
	manifestPath, err := p.transcoder.Transcode(ctx, src, outDir, p.segmentDuration)
	if err != nil {
		return Session{}, err
	}
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return Session{}, fmt.Errorf("read manifest: %w", err)
	}
	return Session{
		SegmentsDir:     outDir,
		ManifestPath:    manifestPath,
		SegmentCount:    CountSegments(string(raw)),
		SegmentDuration: p.segmentDuration,
	}, nil
}
