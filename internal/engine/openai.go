package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIName = "openai"

	openAIDefaultModel = "deepseek-ai/DeepSeek-OCR"
	imageTag           = "<image>\n"
	cancelPollInterval = 50 * time.Millisecond
)

// OpenAIConfig holds configuration for an OpenAI-compatible inference server
// (vLLM serving DeepSeek-OCR).
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int
	MaxRetries int
	Timeout    time.Duration // HTTP timeout
	HTTPClient *http.Client  // Optional (tests)
	Logger     *slog.Logger
}

// OpenAI implements Engine over the chat completions streaming API.
type OpenAI struct {
	model     string
	maxTokens int
	client    openai.Client
	logger    *slog.Logger
}

// NewOpenAI creates a new OpenAI-compatible engine.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 600 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// vLLM ignores the key but the SDK requires one.
		apiKey = "EMPTY"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client:    openai.NewClient(opts...),
		logger:    logger.With("engine", OpenAIName),
	}
}

// Name returns the engine identifier.
func (e *OpenAI) Name() string {
	return OpenAIName
}

// Ready reports whether the server answers the models listing.
func (e *OpenAI) Ready(ctx context.Context) bool {
	_, err := e.client.Models.List(ctx)
	return err == nil
}

// Infer streams a completion for one image. The cancel flag is polled
// between chunks and by a watcher that aborts a stalled stream.
func (e *OpenAI) Infer(ctx context.Context, req *Request) (any, error) {
	if req.Cancelled() {
		return nil, ErrCancelled
	}

	dataURL, err := imageDataURL(req.ImagePath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go watchFlag(ctx, req.Cancel, cancel)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
				openai.TextContentPart(strings.TrimPrefix(req.Prompt, imageTag)),
			}),
		},
		MaxTokens:   openai.Int(int64(e.maxTokens)),
		Temperature: openai.Float(0),
	}

	stream := e.client.Chat.Completions.NewStreaming(ctx, params,
		option.WithJSONSet("mm_processor_kwargs", map[string]any{
			"base_size":  req.BaseSize,
			"image_size": req.ImageSize,
			"crop_mode":  req.CropMode,
		}),
	)
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		if req.Cancelled() {
			return nil, ErrCancelled
		}
		chunk := stream.Current()
		if len(chunk.Choices) > 0 {
			sb.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	if req.Cancelled() {
		return nil, ErrCancelled
	}
	if err := stream.Err(); err != nil {
		return nil, mapOpenAIError(err)
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	if req.OutputDir == "" {
		return text, nil
	}
	cleaned, err := Materialize(req.ImagePath, req.OutputDir, text)
	if err != nil {
		e.logger.Warn("failed to write grounding artifacts", "image", req.ImagePath, "error", err)
		return text, nil
	}
	return cleaned, nil
}

// watchFlag cancels the request context once the flag is raised.
func watchFlag(ctx context.Context, flag *Flag, cancel context.CancelFunc) {
	if flag == nil {
		return
	}
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if flag.IsSet() {
				cancel()
				return
			}
		}
	}
}

func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mime := http.DetectContentType(data)
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return fmt.Errorf("inference server error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("inference server error (status %d)", apiErr.StatusCode)
	}
	return fmt.Errorf("inference request failed: %w", err)
}

var _ Engine = (*OpenAI)(nil)
