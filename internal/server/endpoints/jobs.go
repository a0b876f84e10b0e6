package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/docstream/internal/api"
	"github.com/jackzampolin/docstream/internal/jobs"
	"github.com/jackzampolin/docstream/internal/svcctx"
)

// ListJobsResponse is the response for listing jobs.
type ListJobsResponse struct {
	Jobs     []jobs.JobInfo       `json:"jobs"`
	Executor *jobs.ExecutorStatus `json:"executor,omitempty"`
}

// ListJobsEndpoint handles GET /api/jobs.
type ListJobsEndpoint struct{}

var (
	_ api.Endpoint = (*ListJobsEndpoint)(nil)
	_ api.Grouped  = (*ListJobsEndpoint)(nil)
)

func (e *ListJobsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs", e.handler
}

func (e *ListJobsEndpoint) Group() (string, string) { return "jobs", "Inspect running jobs" }

// handler godoc
//
//	@Summary		List active jobs
//	@Description	Jobs that are registered and not yet released, oldest first
//	@Tags			jobs
//	@Produce		json
//	@Success		200	{object}	ListJobsResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/jobs [get]
func (e *ListJobsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	registry := svcctx.RegistryFrom(r.Context())
	if registry == nil {
		writeError(w, http.StatusServiceUnavailable, "job registry not initialized")
		return
	}

	resp := ListJobsResponse{Jobs: registry.List()}
	if exec := svcctx.ExecutorFrom(r.Context()); exec != nil {
		status := exec.Status()
		resp.Executor = &status
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListJobsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListJobsResponse
			if err := client.Get(cmd.Context(), "/api/jobs", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// InitialJobsMessage is the first message on a job feed connection.
type InitialJobsMessage struct {
	Type string         `json:"type"` // "initial_jobs"
	Jobs []jobs.JobInfo `json:"jobs"`
}

// WatchJobsEndpoint handles GET /api/jobs/ws.
type WatchJobsEndpoint struct{}

var (
	_ api.Endpoint = (*WatchJobsEndpoint)(nil)
	_ api.Grouped  = (*WatchJobsEndpoint)(nil)
)

func (e *WatchJobsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/ws", e.handler
}

func (e *WatchJobsEndpoint) Group() (string, string) { return "jobs", "Inspect running jobs" }

// handler godoc
//
//	@Summary		Job lifecycle feed
//	@Description	WebSocket. Sends the active jobs, then one message per submitted, progress, cancelled or released event
//	@Tags			jobs
//	@Success		101
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/jobs/ws [get]
func (e *WatchJobsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	registry := svcctx.RegistryFrom(r.Context())
	feed := svcctx.FeedFrom(r.Context())
	if registry == nil || feed == nil {
		writeError(w, http.StatusServiceUnavailable, "job feed not initialized")
		return
	}
	logger := svcctx.LoggerFrom(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if logger != nil {
			logger.Warn("websocket upgrade failed", "error", err)
		}
		return
	}
	defer conn.Close()

	events, unsubscribe := feed.Subscribe()
	defer unsubscribe()

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(InitialJobsMessage{Type: "initial_jobs", Jobs: registry.List()}); err != nil {
		return
	}

	// The client never sends anything we use; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (e *WatchJobsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow job lifecycle events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			wsURL, err := websocketURL(getServerURL(), "/api/jobs/ws")
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer conn.Close()

			go func() {
				<-ctx.Done()
				conn.Close()
			}()

			for {
				var msg map[string]any
				if err := conn.ReadJSON(&msg); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("feed closed: %w", err)
				}
				if err := api.Output(msg); err != nil {
					return err
				}
			}
		},
	}
}

// websocketURL rewrites an http(s) server URL to ws(s) and appends path.
func websocketURL(serverURL, path string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/") + path)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}
