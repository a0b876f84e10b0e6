package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docstream/internal/api"
	"github.com/jackzampolin/docstream/internal/jobs"
	"github.com/jackzampolin/docstream/internal/ocr"
	"github.com/jackzampolin/docstream/internal/pipeline"
	"github.com/jackzampolin/docstream/internal/stream"
	"github.com/jackzampolin/docstream/internal/svcctx"
)

// OCRData is the result of a non-streaming OCR request.
type OCRData struct {
	JobID        string                `json:"job_id"`
	Text         string                `json:"text"`
	Mode         string                `json:"mode"`
	OutputFormat string                `json:"output_format"`
	PromptUsed   string                `json:"prompt_used"`
	Timestamp    string                `json:"timestamp"`
	DurationMS   int64                 `json:"duration_ms"`
	ImageURLs    []string              `json:"image_urls"`
	ResultStatus pipeline.Status       `json:"result_status"`
	Pages        []pipeline.PageResult `json:"pages,omitempty"`
}

// OCRResponse wraps OCRData.
type OCRResponse struct {
	Success bool    `json:"success"`
	Data    OCRData `json:"data"`
}

// OCREndpoint handles POST /api/ocr.
type OCREndpoint struct {
	limits uploadLimits
}

var _ api.Endpoint = (*OCREndpoint)(nil)

func (e *OCREndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/ocr", e.handler
}

// handler godoc
//
//	@Summary		OCR a document
//	@Description	Runs OCR over an uploaded image or PDF and returns the full result once done
//	@Tags			ocr
//	@Accept			mpfd
//	@Produce		json
//	@Param			file			formData	file	true	"Image or PDF"
//	@Param			mode			formData	string	false	"Resolution mode"	default(base)
//	@Param			output_format	formData	string	false	"Output format"		default(markdown)
//	@Param			custom_prompt	formData	string	false	"Prompt override, or the target for rec"
//	@Success		200				{object}	OCRResponse
//	@Failure		400				{object}	ErrorResponse
//	@Failure		409				{object}	ErrorResponse
//	@Failure		413				{object}	ErrorResponse
//	@Failure		500				{object}	ErrorResponse
//	@Failure		503				{object}	ErrorResponse
//	@Router			/api/ocr [post]
func (e *OCREndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s := svcctx.ServicesFrom(r.Context())
	if s == nil || s.OCR == nil || s.Registry == nil || s.Home == nil {
		writeError(w, http.StatusServiceUnavailable, "ocr service not initialized")
		return
	}

	req, meta, timestamp, err := receiveUpload(w, r, s.Home, s.OCR, e.limits)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	job := s.Registry.Submit(meta)
	defer os.Remove(req.SourcePath)
	defer s.Registry.Release(job.ID)

	stop := context.AfterFunc(r.Context(), func() {
		s.Registry.Cancel(job.ID)
	})
	defer stop()

	req.JobID = job.ID
	req.Flag = job.Flag()
	started := time.Now()

	task := jobs.Go(job.Context(), func(ctx context.Context) (*ocr.Response, error) {
		return s.OCR.Process(ctx, *req, func(ev pipeline.ProgressEvent) {
			if ev.Kind == pipeline.KindPage {
				s.Registry.Progress(job.ID, ev.Page, ev.Total)
			}
		})
	})
	s.Registry.Attach(job.ID, task)

	resp, err := task.Wait(context.Background())
	if err != nil {
		if errors.Is(err, pipeline.ErrCancelled) || job.Cancelled() {
			writeError(w, http.StatusConflict, "job cancelled")
			return
		}
		if s.Logger != nil {
			s.Logger.Error("ocr failed", "job_id", job.ID, "error", err)
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	urls := []string{}
	if s.Multiplexer != nil {
		urls = s.Multiplexer.ImageURLs(resp.ImagePaths)
	}
	writeJSON(w, http.StatusOK, OCRResponse{
		Success: true,
		Data: OCRData{
			JobID:        job.ID,
			Text:         resp.Text,
			Mode:         resp.Mode,
			OutputFormat: resp.OutputFormat,
			PromptUsed:   resp.Prompt,
			Timestamp:    timestamp,
			DurationMS:   time.Since(started).Milliseconds(),
			ImageURLs:    urls,
			ResultStatus: resp.Status,
			Pages:        resp.Pages,
		},
	})
}

func (e *OCREndpoint) Command(getServerURL func() string) *cobra.Command {
	var mode, format, prompt string
	var streaming bool
	cmd := &cobra.Command{
		Use:   "ocr <file>",
		Short: "OCR an image or PDF",
		Long: `Upload a document and print its text.

With --stream, pages are printed as they finish and Ctrl-C cancels the job.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			upload := api.Upload{
				FilePath: args[0],
				Fields: map[string]string{
					"mode":          mode,
					"output_format": format,
					"custom_prompt": prompt,
				},
			}

			if streaming {
				return streamOCR(cmd.Context(), client, upload)
			}

			var resp OCRResponse
			if err := client.PostMultipart(cmd.Context(), "/api/ocr", upload, &resp); err != nil {
				return err
			}
			if api.GetOutputFormat() == api.OutputFormatText {
				return api.Output(resp.Data.Text)
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", ocr.DefaultMode, "Resolution mode (tiny, small, base, large, gundam)")
	cmd.Flags().StringVar(&format, "format", ocr.DefaultFormat, "Output format (markdown, ocr, free_ocr, figure, general, rec)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Custom prompt, or the target to locate for rec")
	cmd.Flags().BoolVar(&streaming, "stream", false, "Print pages as they complete")
	return cmd
}

func streamOCR(ctx context.Context, client *api.Client, upload api.Upload) error {
	text := api.GetOutputFormat() == api.OutputFormatText
	var terminal stream.Event

	err := client.Stream(ctx, "/api/ocr/stream", upload, func(data []byte) error {
		var ev stream.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if ev.Type.Terminal() {
			terminal = ev
		}
		if !text {
			return api.Output(ev)
		}

		switch ev.Type {
		case stream.TypeStart:
			fmt.Fprintf(os.Stderr, "job %s started\n", ev.JobID)
		case stream.TypeChunk:
			if ev.Page > 0 {
				fmt.Printf("--- Page %d/%d ---\n", ev.Page, ev.Total)
			}
			fmt.Println(ev.TextValue())
			if ev.ImageURL != "" {
				fmt.Fprintf(os.Stderr, "annotated: %s\n", ev.ImageURL)
			}
		case stream.TypeMetadata:
			fmt.Fprintf(os.Stderr, "status %s, %d ms\n", ev.ResultStatus, ev.DurationMS)
		}
		return nil
	})
	if err != nil {
		return err
	}

	switch terminal.Type {
	case stream.TypeError:
		return fmt.Errorf("job failed: %s", terminal.Message)
	case stream.TypeCancelled:
		return fmt.Errorf("job %s cancelled", terminal.JobID)
	case stream.TypeDone:
		return nil
	default:
		return errors.New("stream ended without a result")
	}
}

// OCRStreamEndpoint handles POST /api/ocr/stream.
type OCRStreamEndpoint struct {
	limits uploadLimits
}

var _ api.Endpoint = (*OCRStreamEndpoint)(nil)

func (e *OCRStreamEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/ocr/stream", e.handler
}

// handler godoc
//
//	@Summary		OCR a document with streamed results
//	@Description	Server-Sent Events: start, one chunk per page, then metadata and done, or cancelled, or error
//	@Tags			ocr
//	@Accept			mpfd
//	@Produce		text/event-stream
//	@Param			file			formData	file	true	"Image or PDF"
//	@Param			mode			formData	string	false	"Resolution mode"	default(base)
//	@Param			output_format	formData	string	false	"Output format"		default(markdown)
//	@Param			custom_prompt	formData	string	false	"Prompt override, or the target for rec"
//	@Success		200				{object}	stream.Event
//	@Failure		400				{object}	ErrorResponse
//	@Failure		413				{object}	ErrorResponse
//	@Failure		503				{object}	ErrorResponse
//	@Router			/api/ocr/stream [post]
func (e *OCRStreamEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s := svcctx.ServicesFrom(r.Context())
	if s == nil || s.OCR == nil || s.Registry == nil || s.Multiplexer == nil || s.Home == nil {
		writeError(w, http.StatusServiceUnavailable, "ocr service not initialized")
		return
	}

	req, meta, timestamp, err := receiveUpload(w, r, s.Home, s.OCR, e.limits)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	job := s.Registry.Submit(meta)
	sse, err := stream.NewSSEWriter(w)
	if err != nil {
		s.Registry.Release(job.ID)
		os.Remove(req.SourcePath)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.Multiplexer.Stream(r.Context(), stream.Submission{
		Job:       job,
		Request:   *req,
		Timestamp: timestamp,
	}, sse)
}

func (e *OCRStreamEndpoint) Command(_ func() string) *cobra.Command {
	return nil // `api ocr --stream`
}

// CancelRequest names the job to cancel.
type CancelRequest struct {
	JobID string `json:"job_id"`
}

// CancelResponse confirms a cancel.
type CancelResponse struct {
	Success bool `json:"success"`
}

// CancelEndpoint handles POST /api/ocr/cancel.
type CancelEndpoint struct{}

var _ api.Endpoint = (*CancelEndpoint)(nil)

func (e *CancelEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/ocr/cancel", e.handler
}

// handler godoc
//
//	@Summary		Cancel a running job
//	@Tags			ocr
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CancelRequest	true	"Job to cancel"
//	@Success		200		{object}	CancelResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/ocr/cancel [post]
func (e *CancelEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	registry := svcctx.RegistryFrom(r.Context())
	if registry == nil {
		writeError(w, http.StatusServiceUnavailable, "job registry not initialized")
		return
	}

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	if err := registry.Cancel(req.JobID); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Job not found or already finished")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{Success: true})
}

func (e *CancelEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running OCR job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp CancelResponse
			if err := client.Post(cmd.Context(), "/api/ocr/cancel", CancelRequest{JobID: args[0]}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
