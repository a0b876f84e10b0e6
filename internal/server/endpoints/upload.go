package endpoints

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jackzampolin/docstream/internal/home"
	"github.com/jackzampolin/docstream/internal/jobs"
	"github.com/jackzampolin/docstream/internal/ocr"
	"github.com/jackzampolin/docstream/internal/pages"
)

// multipartMemory is how much of a form is buffered in memory before spilling to disk.
const multipartMemory = 32 << 20

type uploadLimits struct {
	maxBytes int64
	allowed  []string
}

// requestError carries the HTTP status for a rejected request.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func writeRequestError(w http.ResponseWriter, err error) {
	var re *requestError
	if errors.As(err, &re) {
		writeError(w, re.status, re.msg)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// uploadTimestamp formats t as YYYYMMDD_HHMMSS_micro.
func uploadTimestamp(t time.Time) string {
	return t.Format("20060102_150405") + fmt.Sprintf("_%06d", t.Nanosecond()/1000)
}

// receiveUpload saves the multipart upload, validates it and resolves its
// settings. Nothing is registered yet; on error the saved file is removed.
func receiveUpload(w http.ResponseWriter, r *http.Request, dir *home.Dir, svc *ocr.Service, limits uploadLimits) (*ocr.Request, jobs.Meta, string, error) {
	var meta jobs.Meta
	if limits.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limits.maxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, meta, "", &requestError{
				status: http.StatusRequestEntityTooLarge,
				msg:    fmt.Sprintf("upload exceeds %d MB", limits.maxBytes>>20),
			}
		}
		return nil, meta, "", badRequest("failed to parse form: %v", err)
	}
	defer r.MultipartForm.RemoveAll()

	src, fh, err := r.FormFile("file")
	if err != nil || fh.Filename == "" {
		return nil, meta, "", badRequest("No file provided")
	}
	defer src.Close()

	if !pages.Allowed(fh.Filename, limits.allowed) {
		return nil, meta, "", badRequest("File type %s not supported", filepath.Ext(fh.Filename))
	}

	timestamp := uploadTimestamp(time.Now())
	path := dir.UploadPath(timestamp, fh.Filename)
	if err := saveFile(src, path); err != nil {
		return nil, meta, "", err
	}

	req := &ocr.Request{
		SourcePath:   path,
		OutputDir:    dir.JobOutputDir(timestamp),
		Mode:         r.FormValue("mode"),
		OutputFormat: r.FormValue("output_format"),
		CustomPrompt: r.FormValue("custom_prompt"),
	}
	plan, err := svc.Validate(*req)
	if err != nil {
		os.Remove(path)
		if errors.Is(err, pages.ErrEmpty) {
			return nil, meta, "", badRequest("Uploaded file is empty")
		}
		return nil, meta, "", badRequest("%v", err)
	}
	if _, err := dir.EnsureJobOutputDir(timestamp); err != nil {
		os.Remove(path)
		return nil, meta, "", err
	}

	meta = jobs.Meta{
		Filename:     fh.Filename,
		Mode:         plan.Mode.Value,
		OutputFormat: plan.OutputFormat,
	}
	return req, meta, timestamp, nil
}

// saveFile copies src to path and syncs it to disk.
func saveFile(src io.Reader, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create uploads dir: %w", err)
	}
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return fmt.Errorf("failed to save file: %w", err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(path)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return dst.Close()
}
