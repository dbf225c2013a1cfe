package library

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobTracker holds the in-memory record of every job, keyed by job id.
// Progress polling reads far outnumber pipeline writes, hence the RWMutex.
// Jobs are never persisted; terminal jobs are evicted by Sweep.
type JobTracker struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	retention   time.Duration
	maxFinished int
	now         func() time.Time
}

// NewJobTracker returns a tracker that keeps terminal jobs for retention and
// holds at most maxFinished of them after a sweep.
func NewJobTracker(retention time.Duration, maxFinished int) *JobTracker {
	return &JobTracker{
		jobs:        make(map[string]*Job),
		retention:   retention,
		maxFinished: maxFinished,
		now:         time.Now,
	}
}

// Create registers a new queued job for origin and returns a copy of it.
func (t *JobTracker) Create(origin string) Job {
	job := &Job{
		ID:        uuid.NewString(),
		State:     JobQueued,
		Progress:  "Waiting for a worker...",
		OriginURL: origin,
		CreatedAt: t.now(),
	}

	t.mu.Lock()
	t.jobs[job.ID] = job
	t.mu.Unlock()

	return copyJob(job)
}

// Get returns a copy of the job with the given id.
func (t *JobTracker) Get(id string) (Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[id]
	if !ok {
		return Job{}, false
	}
	return copyJob(job), true
}

// Update applies fn to the job in place. It returns the updated copy and
// false when the id is unknown.
func (t *JobTracker) Update(id string, fn func(*Job)) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return Job{}, false
	}
	fn(job)
	if job.State.Terminal() && job.FinishedAt.IsZero() {
		job.FinishedAt = t.now()
	}
	return copyJob(job), true
}

// Transition moves a job to next with a new progress hint, refusing moves the
// state machine does not allow.
func (t *JobTracker) Transition(id string, next JobState, progress string) error {
	var bad JobState
	_, ok := t.Update(id, func(j *Job) {
		if !j.State.CanTransition(next) {
			bad = j.State
			return
		}
		j.State = next
		j.Progress = progress
	})
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if bad != "" {
		return fmt.Errorf("job %s: invalid transition %s -> %s", id, bad, next)
	}
	return nil
}

// Fail moves a job to the error state with msg.
func (t *JobTracker) Fail(id, msg string) {
	t.Update(id, func(j *Job) {
		if j.State.Terminal() {
			return
		}
		j.State = JobError
		j.Progress = ""
		j.Error = msg
	})
}

// Complete moves a converting job to ready with its result.
func (t *JobTracker) Complete(id string, result JobResult) error {
	var bad JobState
	_, ok := t.Update(id, func(j *Job) {
		if !j.State.CanTransition(JobReady) {
			bad = j.State
			return
		}
		j.State = JobReady
		j.Progress = ""
		j.Result = &result
	})
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if bad != "" {
		return fmt.Errorf("job %s: invalid transition %s -> %s", id, bad, JobReady)
	}
	return nil
}

// Len returns the number of tracked jobs.
func (t *JobTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.jobs)
}

// Sweep evicts terminal jobs older than the retention period, then the oldest
// terminal jobs beyond the retention count. Running jobs are never evicted.
// It returns the number of jobs removed.
func (t *JobTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	var finished []*Job
	for id, job := range t.jobs {
		if !job.State.Terminal() {
			continue
		}
		if t.retention > 0 && now.Sub(job.FinishedAt) > t.retention {
			delete(t.jobs, id)
			removed++
			continue
		}
		finished = append(finished, job)
	}

	if t.maxFinished > 0 && len(finished) > t.maxFinished {
		sort.Slice(finished, func(i, j int) bool {
			return finished[i].FinishedAt.Before(finished[j].FinishedAt)
		})
		for _, job := range finished[:len(finished)-t.maxFinished] {
			delete(t.jobs, job.ID)
			removed++
		}
	}
	return removed
}

func copyJob(j *Job) Job {
	c := *j
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	return c
}
