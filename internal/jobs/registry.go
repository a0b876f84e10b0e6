package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/docstream/internal/engine"
)

// ErrNotFound is returned for job ids that are unknown or already released.
var ErrNotFound = errors.New("job not found")

// Meta describes what a job is working on.
type Meta struct {
	Filename     string `json:"filename"`
	Mode         string `json:"mode"`
	OutputFormat string `json:"output_format"`
}

// Job is one in-flight OCR request.
//
// A job carries two cancellation signals. Its context is checked by the
// pipeline between pages; its Flag is polled by the engine during a single
// inference call. Cancel raises both.
type Job struct {
	ID      string
	Meta    Meta
	Created time.Time

	ctx    context.Context
	cancel context.CancelFunc
	flag   *engine.Flag

	task TaskHandle // guarded by Registry.mu

	page  atomic.Int32
	total atomic.Int32
}

// Context is cancelled when the job is cancelled.
func (j *Job) Context() context.Context {
	return j.ctx
}

// Flag is the engine-side cancel signal.
func (j *Job) Flag() *engine.Flag {
	return j.flag
}

// Cancelled reports whether either cancel signal is raised.
func (j *Job) Cancelled() bool {
	return j.ctx.Err() != nil || j.flag.IsSet()
}

// JobInfo is a snapshot of a registered job.
type JobInfo struct {
	ID        string    `json:"id"`
	Meta      Meta      `json:"meta"`
	Created   time.Time `json:"created"`
	Running   bool      `json:"running"`
	Cancelled bool      `json:"cancelled"`
	Page      int       `json:"page,omitempty"`
	Total     int       `json:"total,omitempty"`
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Logger *slog.Logger
	Feed   *Feed // optional lifecycle notifications
}

// Registry tracks in-flight jobs. Every operation holds one mutex.
type Registry struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	feed   *Feed
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		jobs:   make(map[string]*Job),
		feed:   cfg.Feed,
		logger: logger,
	}
}

// Submit registers a new job with fresh cancel signals and no task.
func (r *Registry) Submit(meta Meta) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		Meta:    meta,
		Created: time.Now().UTC(),
		ctx:     ctx,
		cancel:  cancel,
		flag:    &engine.Flag{},
	}

	r.mu.Lock()
	for {
		job.ID = uuid.New().String()
		if _, exists := r.jobs[job.ID]; !exists {
			break
		}
	}
	r.jobs[job.ID] = job
	r.mu.Unlock()

	r.logger.Info("job submitted", "job_id", job.ID, "filename", meta.Filename, "mode", meta.Mode, "output_format", meta.OutputFormat)
	r.publish(FeedEvent{Type: EventSubmitted, JobID: job.ID, Meta: &meta})
	return job
}

// Attach records the task running a job. It is a no-op for released jobs.
// A task attached to an already-cancelled job is cancelled immediately.
func (r *Registry) Attach(id string, task TaskHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return
	}
	job.task = task
	if job.Cancelled() && task != nil && !task.Finished() {
		task.Cancel()
	}
}

// Lookup returns a registered job.
func (r *Registry) Lookup(id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job, nil
}

// Cancel raises both cancel signals and cancels the attached task if it is
// still running. Cancelling twice is harmless.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	already := job.Cancelled()
	job.cancel()
	job.flag.Set()
	if job.task != nil && !job.task.Finished() {
		job.task.Cancel()
	}
	r.mu.Unlock()

	if !already {
		r.logger.Info("job cancelled", "job_id", id)
		r.publish(FeedEvent{Type: EventCancelled, JobID: id})
	}
	return nil
}

// Progress records the last page emitted for a job.
func (r *Registry) Progress(id string, page, total int) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	job.page.Store(int32(page))
	job.total.Store(int32(total))
	r.publish(FeedEvent{Type: EventProgress, JobID: id, Page: page, Total: total})
}

// Release removes a job. Releasing an unknown job is a no-op.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	// Free the context's resources; the job is finished either way.
	job.cancel()
	r.logger.Debug("job released", "job_id", id, "age", time.Since(job.Created))
	r.publish(FeedEvent{Type: EventReleased, JobID: id})
}

// List returns a snapshot of registered jobs, oldest first.
func (r *Registry) List() []JobInfo {
	r.mu.Lock()
	infos := make([]JobInfo, 0, len(r.jobs))
	for _, job := range r.jobs {
		infos = append(infos, JobInfo{
			ID:        job.ID,
			Meta:      job.Meta,
			Created:   job.Created,
			Running:   job.task != nil && !job.task.Finished(),
			Cancelled: job.Cancelled(),
			Page:      int(job.page.Load()),
			Total:     int(job.total.Load()),
		})
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Created.Before(infos[j].Created)
	})
	return infos
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *Registry) publish(ev FeedEvent) {
	if r.feed == nil {
		return
	}
	ev.Time = time.Now().UTC()
	r.feed.Publish(ev)
}
