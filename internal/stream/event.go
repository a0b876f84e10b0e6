package stream

import (
	"encoding/json"

	"github.com/jackzampolin/docstream/internal/pipeline"
)

// EventType tags a wire event.
type EventType string

const (
	TypeStart     EventType = "start"
	TypeChunk     EventType = "chunk"
	TypeMetadata  EventType = "metadata"
	TypeDone      EventType = "done"
	TypeCancelled EventType = "cancelled"
	TypeError     EventType = "error"
)

// Terminal reports whether t ends a stream.
func (t EventType) Terminal() bool {
	return t == TypeDone || t == TypeCancelled || t == TypeError
}

// Event is one SSE payload. Which fields are set depends on Type.
type Event struct {
	Type  EventType `json:"type"`
	JobID string    `json:"job_id,omitempty"`

	// start, error
	Message   string `json:"message,omitempty"`
	StartTime string `json:"start_time,omitempty"`

	// chunk
	Text     *string `json:"text,omitempty"`
	Page     int     `json:"page,omitempty"`
	Total    int     `json:"total,omitempty"`
	ImageURL string  `json:"image_url,omitempty"`

	// metadata
	Mode            string                `json:"mode,omitempty"`
	OutputFormat    string                `json:"output_format,omitempty"`
	PromptUsed      string                `json:"prompt_used,omitempty"`
	Timestamp       string                `json:"timestamp,omitempty"`
	FinalTextLength *int                  `json:"final_text_length,omitempty"`
	ImageURLs       []string              `json:"image_urls,omitempty"`
	ResultStatus    pipeline.Status       `json:"result_status,omitempty"`
	Pages           []pipeline.PageResult `json:"pages,omitempty"`

	// metadata, done
	DurationMS int64 `json:"duration_ms,omitempty"`
}

// TextValue returns the chunk text, or "" when unset.
func (e Event) TextValue() string {
	if e.Text == nil {
		return ""
	}
	return *e.Text
}

// MarshalJSON always writes image_urls on metadata and duration_ms on
// metadata and done, even when empty or zero.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	switch e.Type {
	case TypeMetadata:
		urls := e.ImageURLs
		if urls == nil {
			urls = []string{}
		}
		return json.Marshal(struct {
			plain
			ImageURLs  []string `json:"image_urls"`
			DurationMS int64    `json:"duration_ms"`
		}{plain(e), urls, e.DurationMS})
	case TypeDone:
		return json.Marshal(struct {
			plain
			DurationMS int64 `json:"duration_ms"`
		}{plain(e), e.DurationMS})
	default:
		return json.Marshal(plain(e))
	}
}
