// Package recovery reads OCR output that an engine wrote to disk when its
// in-memory return value came back empty.
package recovery

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// PreferredFiles are checked first, in order.
var PreferredFiles = []string{"result.mmd", "result.md", "result.txt"}

var textExtensions = map[string]bool{".mmd": true, ".md": true, ".txt": true}

var errNotReady = errors.New("file not ready")

// Options tunes how long recovery waits for files to materialize.
type Options struct {
	FileTimeout time.Duration // wait per preferred file (default 6s)
	ScanTimeout time.Duration // wait per scanned file (default 2s)
	Interval    time.Duration // poll interval (default 100ms)
	SettleDelay time.Duration // pause before the directory scan (default 200ms, negative disables)
	Exclude     []string      // base names never returned by the scan
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.FileTimeout <= 0 {
		o.FileTimeout = 6 * time.Second
	}
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = 2 * time.Second
	}
	if o.Interval <= 0 {
		o.Interval = 100 * time.Millisecond
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	} else if o.SettleDelay == 0 {
		o.SettleDelay = 200 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Recoverer locates engine output files in a directory.
type Recoverer struct {
	opts    Options
	exclude map[string]bool
}

// New creates a Recoverer.
func New(opts Options) *Recoverer {
	exclude := make(map[string]bool, len(opts.Exclude))
	for _, name := range opts.Exclude {
		exclude[name] = true
	}
	return &Recoverer{opts: opts.withDefaults(), exclude: exclude}
}

// Recover returns the content of the best engine output file under dir, or
// "" when nothing is recoverable. It never fails; problems are logged.
//
// Preferred files are tried in order, each given FileTimeout to become
// non-empty. Failing that, every .mmd/.md/.txt file under dir is given
// ScanTimeout and the most recently modified non-empty one wins.
func (r *Recoverer) Recover(ctx context.Context, dir string) string {
	logger := r.opts.Logger.With("dir", dir)

	for _, name := range PreferredFiles {
		path := filepath.Join(dir, name)
		if content, ok := r.read(ctx, path, r.opts.FileTimeout); ok {
			logger.Info("recovered output", "file", name, "chars", len(content))
			return content
		}
		if ctx.Err() != nil {
			return ""
		}
	}

	if !sleep(ctx, r.opts.SettleDelay) {
		return ""
	}

	type candidate struct {
		path  string
		mtime time.Time
	}
	var candidates []candidate

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return fs.SkipAll
		}
		if d.IsDir() || r.exclude[d.Name()] || !textExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if !WaitForFile(ctx, path, r.opts.ScanTimeout, r.opts.Interval) {
			return nil
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil
		}
		candidates = append(candidates, candidate{path: path, mtime: info.ModTime()})
		return nil
	})

	if len(candidates) == 0 {
		logger.Warn("no recoverable output found")
		return ""
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].mtime.After(candidates[j].mtime)
	})
	data, err := os.ReadFile(candidates[0].path)
	if err != nil {
		logger.Warn("failed to read recovered output", "file", candidates[0].path, "error", err)
		return ""
	}
	logger.Info("recovered output from scan", "file", candidates[0].path, "chars", len(data))
	return string(data)
}

func (r *Recoverer) read(ctx context.Context, path string, timeout time.Duration) (string, bool) {
	if !WaitForFile(ctx, path, timeout, r.opts.Interval) {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return "", false
	}
	return string(data), true
}

// WaitForFile polls until path exists and is non-empty, for up to timeout.
func WaitForFile(ctx context.Context, path string, timeout, interval time.Duration) bool {
	if path == "" {
		return false
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	attempts := uint(timeout/interval) + 1

	err := retry.Do(
		func() error {
			info, err := os.Stat(path)
			if err != nil || info.Size() == 0 {
				return errNotReady
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	return err == nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
