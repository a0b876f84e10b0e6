package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func fastOptions() Options {
	return Options{
		FileTimeout: 50 * time.Millisecond,
		ScanTimeout: 20 * time.Millisecond,
		Interval:    5 * time.Millisecond,
		SettleDelay: -1,
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRecover_PreferredOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "result.txt"), "from txt")
	writeFile(t, filepath.Join(dir, "result.md"), "from md")

	got := New(fastOptions()).Recover(context.Background(), dir)
	if got != "from md" {
		t.Errorf("expected result.md to win over result.txt, got %q", got)
	}
}

func TestRecover_WaitsForLateFile(t *testing.T) {
	dir := t.TempDir()
	opts := fastOptions()
	opts.FileTimeout = 2 * time.Second

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "result.mmd"), []byte("late"), 0o644)
	}()

	got := New(opts).Recover(context.Background(), dir)
	if got != "late" {
		t.Errorf("expected late file content, got %q", got)
	}
}

func TestRecover_ScanPicksNewest(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "a", "old.md")
	newer := filepath.Join(dir, "b", "new.txt")
	writeFile(t, older, "old")
	writeFile(t, newer, "new")
	writeFile(t, filepath.Join(dir, "ignored.json"), "{}")

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatal(err)
	}

	got := New(fastOptions()).Recover(context.Background(), dir)
	if got != "new" {
		t.Errorf("expected newest scanned file, got %q", got)
	}
}

func TestRecover_SkipsEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "result.mmd"), "")
	writeFile(t, filepath.Join(dir, "notes.md"), "content")

	got := New(fastOptions()).Recover(context.Background(), dir)
	if got != "content" {
		t.Errorf("expected non-empty scanned file, got %q", got)
	}
}

func TestRecover_NothingFound(t *testing.T) {
	if got := New(fastOptions()).Recover(context.Background(), t.TempDir()); got != "" {
		t.Errorf("expected empty result, got %q", got)
	}
	if got := New(fastOptions()).Recover(context.Background(), filepath.Join(t.TempDir(), "missing")); got != "" {
		t.Errorf("expected empty result for missing dir, got %q", got)
	}
}

func TestRecover_ContextCancelled(t *testing.T) {
	dir := t.TempDir()
	opts := fastOptions()
	opts.FileTimeout = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	if got := New(opts).Recover(ctx, dir); got != "" {
		t.Errorf("expected empty result, got %q", got)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("recovery ignored context cancellation")
	}
}

func TestWaitForFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boxes.jpg")

	if WaitForFile(context.Background(), path, 20*time.Millisecond, 5*time.Millisecond) {
		t.Error("missing file should not be reported ready")
	}
	if WaitForFile(context.Background(), "", time.Second, time.Millisecond) {
		t.Error("empty path should not be reported ready")
	}

	writeFile(t, path, "x")
	if !WaitForFile(context.Background(), path, 20*time.Millisecond, 5*time.Millisecond) {
		t.Error("existing file should be reported ready")
	}
}

func TestRecover_Exclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "result_stream.md"), "--- Page 1 ---\nplaceholder")

	opts := fastOptions()
	opts.Exclude = []string{"result_stream.md"}
	if got := New(opts).Recover(context.Background(), dir); got != "" {
		t.Errorf("excluded file should not be recovered, got %q", got)
	}
}
