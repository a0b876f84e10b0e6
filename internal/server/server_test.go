package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jackzampolin/docstream/internal/config"
	"github.com/jackzampolin/docstream/internal/engine"
	"github.com/jackzampolin/docstream/internal/home"
	"github.com/jackzampolin/docstream/internal/stream"
)

const testConfig = `engine:
  type: mock
upload:
  max_size_mb: 1
pipeline:
  materialize_timeout: 50ms
  materialize_interval: 10ms
  scan_timeout: 50ms
  page_yield: 1ms
  poll_interval: 10ms
`

type testEnv struct {
	srv    *Server
	ts     *httptest.Server
	home   *home.Dir
	engine *engine.Mock
}

func newTestEnv(t *testing.T, eng *engine.Mock) *testEnv {
	t.Helper()

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgFile, []byte(testConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	h, err := home.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.EnsureExists(); err != nil {
		t.Fatal(err)
	}

	srv, err := New(Config{
		Home:          h,
		ConfigManager: mgr,
		Engine:        eng,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Executor().Start(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return &testEnv{srv: srv, ts: ts, home: h, engine: eng}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, path, filename string, data []byte, fields map[string]string) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, filename, data, fields)
	resp, err := http.Post(e.ts.URL+path, contentType, body)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (e *testEnv) cancel(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.ts.URL+"/api/ocr/cancel", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/ocr/cancel: %v", err)
	}
	return resp
}

// serve runs an upload through the handler without a network round trip,
// so oversized bodies are rejected without the client seeing a reset.
func (e *testEnv) serve(t *testing.T, path, filename string, data []byte, fields map[string]string) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, filename, data, fields)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec.Result()
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, engine.NewMock("x"))

	resp, err := http.Get(env.ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var health struct {
		Status      string `json:"status"`
		ModelLoaded bool   `json:"model_loaded"`
		Engine      string `json:"engine"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "healthy" || !health.ModelLoaded || health.Engine != engine.MockName {
		t.Errorf("health = %+v", health)
	}
}

func TestServer_Root(t *testing.T) {
	env := newTestEnv(t, engine.NewMock("x"))

	resp, err := http.Get(env.ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	missing, err := http.Get(env.ts.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("GET /nope status = %d, want 404", missing.StatusCode)
	}
}

func TestServer_Configs(t *testing.T) {
	env := newTestEnv(t, engine.NewMock("x"))

	resp, err := http.Get(env.ts.URL + "/api/configs")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var cat struct {
		Modes []struct {
			Value string `json:"value"`
		} `json:"modes"`
		OutputFormats []struct {
			Value string `json:"value"`
		} `json:"output_formats"`
		DefaultMode   string `json:"default_mode"`
		DefaultFormat string `json:"default_format"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cat); err != nil {
		t.Fatal(err)
	}
	if len(cat.Modes) == 0 || len(cat.OutputFormats) == 0 {
		t.Fatalf("catalog is empty: %+v", cat)
	}
	if cat.DefaultMode != "base" || cat.DefaultFormat != "markdown" {
		t.Errorf("defaults = %q/%q", cat.DefaultMode, cat.DefaultFormat)
	}
}

func TestServer_OCR(t *testing.T) {
	env := newTestEnv(t, engine.NewMock("# Invoice 42"))

	resp := env.upload(t, "/api/ocr", "scan.png", pngBytes(t), map[string]string{"mode": "small"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out struct {
		Success bool `json:"success"`
		Data    struct {
			JobID        string `json:"job_id"`
			Text         string `json:"text"`
			Mode         string `json:"mode"`
			OutputFormat string `json:"output_format"`
			PromptUsed   string `json:"prompt_used"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || !strings.Contains(out.Data.Text, "Invoice 42") {
		t.Errorf("response = %+v", out)
	}
	if out.Data.Mode != "small" || out.Data.OutputFormat != "markdown" || out.Data.PromptUsed == "" {
		t.Errorf("settings = %+v", out.Data)
	}
	if env.srv.Registry().Len() != 0 {
		t.Errorf("registry still holds %d jobs", env.srv.Registry().Len())
	}

	uploads, _ := os.ReadDir(env.home.UploadsPath())
	if len(uploads) != 0 {
		t.Errorf("upload not removed: %d files left", len(uploads))
	}
}

func TestServer_OCRRejects(t *testing.T) {
	env := newTestEnv(t, engine.NewMock("x"))

	tests := []struct {
		name     string
		filename string
		data     []byte
		fields   map[string]string
		status   int
		errPart  string
	}{
		{name: "no file", status: http.StatusBadRequest, errPart: "No file provided"},
		{name: "unsupported type", filename: "notes.txt", data: []byte("hi"), status: http.StatusBadRequest, errPart: ".txt"},
		{name: "empty file", filename: "blank.png", data: []byte{}, status: http.StatusBadRequest, errPart: "empty"},
		{name: "rec without target", filename: "scan.png", data: pngBytes(t), fields: map[string]string{"output_format": "rec"}, status: http.StatusBadRequest},
		{name: "too large", filename: "big.png", data: make([]byte, 2<<20), status: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.serve(t, "/api/ocr", tt.filename, tt.data, tt.fields)
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if msg := decodeError(t, resp); !strings.Contains(msg, tt.errPart) {
				t.Errorf("error = %q, want it to contain %q", msg, tt.errPart)
			}
		})
	}
	if env.engine.Calls() != 0 {
		t.Errorf("engine called %d times for rejected uploads", env.engine.Calls())
	}
}

func readEvents(t *testing.T, r io.Reader) []stream.Event {
	t.Helper()
	var events []stream.Event
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev stream.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("bad event %q: %v", data, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestServer_OCRStream(t *testing.T) {
	env := newTestEnv(t, engine.NewMock("streamed text"))

	resp := env.upload(t, "/api/ocr/stream", "scan.png", pngBytes(t), nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	events := readEvents(t, resp.Body)
	if len(events) < 3 {
		t.Fatalf("got %d events, want at least start, metadata, done", len(events))
	}
	if events[0].Type != stream.TypeStart || events[0].JobID == "" {
		t.Errorf("first event = %+v", events[0])
	}
	last := events[len(events)-1]
	if last.Type != stream.TypeDone {
		t.Fatalf("last event type = %q, want done", last.Type)
	}

	var chunks []stream.Event
	for _, ev := range events {
		if ev.Type == stream.TypeChunk {
			chunks = append(chunks, ev)
		}
	}
	if len(chunks) != 1 || !strings.Contains(chunks[0].TextValue(), "streamed text") {
		t.Errorf("chunks = %+v, want one carrying the engine text", chunks)
	}
	if meta := events[len(events)-2]; meta.Type != stream.TypeMetadata || meta.Mode != "base" {
		t.Errorf("event before done = %+v, want metadata", meta)
	}
	for _, ev := range events {
		if ev.JobID != events[0].JobID {
			t.Errorf("event %s has job id %q, want %q", ev.Type, ev.JobID, events[0].JobID)
		}
	}
}

func TestServer_CancelStream(t *testing.T) {
	eng := engine.NewMock("slow")
	eng.Latency = 5 * time.Second
	env := newTestEnv(t, eng)

	body, contentType := multipartBody(t, "scan.png", pngBytes(t), nil)
	resp, err := http.Post(env.ts.URL+"/api/ocr/stream", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	var start stream.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &start); err != nil {
		t.Fatalf("decode start event: %v", err)
	}

	cresp := env.cancel(t, `{"job_id":"`+start.JobID+`"}`)
	cresp.Body.Close()
	if cresp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", cresp.StatusCode)
	}

	events := readEvents(t, reader)
	if len(events) == 0 || events[len(events)-1].Type != stream.TypeCancelled {
		t.Fatalf("stream did not end with a cancelled event: %+v", events)
	}
}

func TestServer_CancelUnknown(t *testing.T) {
	env := newTestEnv(t, engine.NewMock("x"))

	resp := env.cancel(t, `{"job_id":"missing"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if msg := decodeError(t, resp); msg != "Job not found or already finished" {
		t.Errorf("error = %q", msg)
	}

	resp2 := env.cancel(t, `{}`)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("status without job_id = %d, want 400", resp2.StatusCode)
	}
}

func TestServer_JobsList(t *testing.T) {
	env := newTestEnv(t, engine.NewMock("x"))

	resp, err := http.Get(env.ts.URL + "/api/jobs")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_WatchJobs(t *testing.T) {
	env := newTestEnv(t, engine.NewMock("x"))

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/jobs/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var initial struct {
		Type string            `json:"type"`
		Jobs []json.RawMessage `json:"jobs"`
	}
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatal(err)
	}
	if initial.Type != "initial_jobs" || len(initial.Jobs) != 0 {
		t.Fatalf("initial message = %+v", initial)
	}

	resp := env.upload(t, "/api/ocr", "scan.png", pngBytes(t), nil)
	resp.Body.Close()

	var ev map[string]any
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("no feed event after a job ran: %v", err)
	}
	if ev["type"] == "" {
		t.Errorf("feed event has no type: %v", ev)
	}
}

func TestServer_Outputs(t *testing.T) {
	env := newTestEnv(t, engine.NewMock("x"))

	dir := filepath.Join(env.home.OutputsPath(), "20240101_000000_000001")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "result.mmd"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(env.ts.URL + "/outputs/20240101_000000_000001/result.mmd")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	got, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(got) != "hello" {
		t.Errorf("GET output = %d %q", resp.StatusCode, got)
	}

	listing, err := http.Get(env.ts.URL + "/outputs/20240101_000000_000001/")
	if err != nil {
		t.Fatal(err)
	}
	listing.Body.Close()
	if listing.StatusCode != http.StatusNotFound {
		t.Errorf("directory listing status = %d, want 404", listing.StatusCode)
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	env := newTestEnv(t, engine.NewMock("x"))

	req, _ := http.NewRequest(http.MethodOptions, env.ts.URL+"/api/ocr/stream", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestServer_StartShutdown(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgFile, []byte(testConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		t.Fatal(err)
	}
	h, _ := home.New(dir)

	srv, err := New(Config{
		Host:          "127.0.0.1",
		Port:          "0",
		Home:          h,
		ConfigManager: mgr,
		Engine:        engine.NewMock("x"),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		LogLevel:      new(slog.LevelVar),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		addr := srv.Addr()
		if !strings.HasSuffix(addr, ":0") {
			resp, err := http.Get(fmt.Sprintf("http://%s/api/health", addr))
			if err == nil {
				resp.Body.Close()
				break
			}
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("server did not become reachable")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := srv.Start(ctx); err == nil {
		t.Error("second Start() should fail while running")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
	if srv.IsRunning() {
		t.Error("server still reports running")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestServer_Swagger(t *testing.T) {
	env := newTestEnv(t, engine.NewMock("x"))

	resp, err := http.Get(env.ts.URL + "/swagger.json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var spec struct {
		Info struct {
			Title string `json:"title"`
		} `json:"info"`
		Paths map[string]json.RawMessage `json:"paths"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&spec); err != nil {
		t.Fatalf("swagger.json is not valid JSON: %v", err)
	}
	for _, path := range []string{"/api/ocr", "/api/ocr/stream", "/api/ocr/cancel", "/api/health", "/api/configs"} {
		if _, ok := spec.Paths[path]; !ok {
			t.Errorf("swagger.json missing %s", path)
		}
	}
}
