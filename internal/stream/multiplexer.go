package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackzampolin/docstream/internal/jobs"
	"github.com/jackzampolin/docstream/internal/ocr"
	"github.com/jackzampolin/docstream/internal/pipeline"
)

// DefaultPollInterval bounds how long the stream waits for the next page
// before re-checking the job.
const DefaultPollInterval = 500 * time.Millisecond

// State is where a stream ended.
type State string

const (
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateErrored   State = "errored"
)

// Processor runs an OCR request, calling emit after each page.
type Processor interface {
	Process(ctx context.Context, req ocr.Request, emit func(pipeline.ProgressEvent)) (*ocr.Response, error)
}

// Submission is a registered job ready to stream.
type Submission struct {
	Job       *jobs.Job
	Request   ocr.Request
	Timestamp string // upload timestamp, also the output dir name
}

// MultiplexerConfig configures a Multiplexer.
type MultiplexerConfig struct {
	Registry     *jobs.Registry
	Processor    Processor
	OutputsRoot  string
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Multiplexer runs a job in the background and relays its progress as wire events.
type Multiplexer struct {
	registry    *jobs.Registry
	processor   Processor
	outputsRoot string
	poll        time.Duration
	logger      *slog.Logger
}

// NewMultiplexer creates a Multiplexer.
func NewMultiplexer(cfg MultiplexerConfig) *Multiplexer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Multiplexer{
		registry:    cfg.Registry,
		processor:   cfg.Processor,
		outputsRoot: cfg.OutputsRoot,
		poll:        poll,
		logger:      logger,
	}
}

// Stream sends start, one chunk per page and exactly one of done, cancelled
// or error to sink. It returns once the terminal event is sent. The job is
// released and the uploaded source removed on every path. When ctx ends
// (the client went away) the job is cancelled.
func (m *Multiplexer) Stream(ctx context.Context, sub Submission, sink Sink) (state State) {
	job := sub.Job
	logger := m.logger.With("job_id", job.ID)
	started := time.Now()

	defer m.cleanup(sub, logger)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("stream panicked", "panic", r)
			m.send(job, sink, Event{Type: TypeError, JobID: job.ID, Message: fmt.Sprint(r)}, logger)
			state = StateErrored
		}
	}()

	stop := context.AfterFunc(ctx, func() {
		logger.Info("client disconnected, cancelling job")
		m.registry.Cancel(job.ID)
	})
	defer stop()

	m.send(job, sink, Event{
		Type:      TypeStart,
		JobID:     job.ID,
		Message:   "Processing started",
		StartTime: started.Format(time.RFC3339Nano),
	}, logger)

	bridge := NewBridge[pipeline.ProgressEvent](job.Cancelled)
	req := sub.Request
	req.JobID = job.ID
	req.Flag = job.Flag()

	task := jobs.Go(job.Context(), func(ctx context.Context) (*ocr.Response, error) {
		return m.processor.Process(ctx, req, func(ev pipeline.ProgressEvent) {
			bridge.Push(ev)
		})
	})
	m.registry.Attach(job.ID, task)

	popCtx, cancelPop := context.WithCancel(job.Context())
	defer cancelPop()
	go func() {
		select {
		case <-task.Done():
			cancelPop()
		case <-popCtx.Done():
		}
	}()

	for {
		if job.Cancelled() && bridge.Len() == 0 {
			m.send(job, sink, Event{Type: TypeCancelled, JobID: job.ID}, logger)
			return StateCancelled
		}
		if task.Finished() && bridge.Len() == 0 {
			break
		}

		ev, ok := bridge.Pop(popCtx, m.poll)
		if !ok {
			continue
		}
		if ev.Kind == pipeline.KindPage {
			m.registry.Progress(job.ID, ev.Page, ev.Total)
		}
		m.send(job, sink, m.chunk(job.ID, ev), logger)
	}

	resp, err := task.Wait(context.Background())
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrCancelled), errors.Is(err, context.Canceled), job.Cancelled():
		m.send(job, sink, Event{Type: TypeCancelled, JobID: job.ID}, logger)
		return StateCancelled
	default:
		logger.Error("job failed", "error", err)
		m.send(job, sink, Event{Type: TypeError, JobID: job.ID, Message: err.Error()}, logger)
		return StateErrored
	}

	elapsed := time.Since(started).Milliseconds()
	length := utf8.RuneCountInString(resp.Text)
	m.send(job, sink, Event{
		Type:            TypeMetadata,
		JobID:           job.ID,
		StartTime:       started.Format(time.RFC3339Nano),
		Mode:            resp.Mode,
		OutputFormat:    resp.OutputFormat,
		PromptUsed:      resp.Prompt,
		Timestamp:       sub.Timestamp,
		FinalTextLength: &length,
		ImageURLs:       m.ImageURLs(resp.ImagePaths),
		ResultStatus:    resp.Status,
		Pages:           resp.Pages,
		DurationMS:      elapsed,
	}, logger)
	m.send(job, sink, Event{Type: TypeDone, JobID: job.ID, DurationMS: elapsed}, logger)

	logger.Info("job completed", "duration_ms", elapsed, "status", resp.Status, "chars", length)
	return StateCompleted
}

func (m *Multiplexer) chunk(jobID string, ev pipeline.ProgressEvent) Event {
	text := ev.Text
	out := Event{Type: TypeChunk, JobID: jobID, Text: &text}
	if ev.Kind == pipeline.KindPage {
		out.Page = ev.Page
		out.Total = ev.Total
	}
	if ev.ImagePath != "" {
		out.ImageURL = m.ImageURL(ev.ImagePath)
	}
	return out
}

// ImageURL maps a file under the outputs root to its /outputs/ URL.
// Paths outside the root map to "".
func (m *Multiplexer) ImageURL(path string) string {
	return OutputURL(m.outputsRoot, path)
}

// ImageURLs maps existing files to URLs, skipping any that are gone or outside the root.
func (m *Multiplexer) ImageURLs(paths []string) []string {
	urls := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if u := m.ImageURL(p); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// OutputURL returns /outputs/<path relative to root> with forward slashes.
func OutputURL(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return "/outputs/" + filepath.ToSlash(rel)
}

// send delivers ev. A failed write means the client is gone, so the job is cancelled.
func (m *Multiplexer) send(job *jobs.Job, sink Sink, ev Event, logger *slog.Logger) {
	if err := sink.Send(ev); err != nil {
		logger.Warn("failed to send event", "type", ev.Type, "error", err)
		if !ev.Type.Terminal() {
			m.registry.Cancel(job.ID)
		}
	}
}

func (m *Multiplexer) cleanup(sub Submission, logger *slog.Logger) {
	m.registry.Release(sub.Job.ID)
	if sub.Request.SourcePath == "" {
		return
	}
	if err := os.Remove(sub.Request.SourcePath); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove upload", "path", sub.Request.SourcePath, "error", err)
	}
}
