package endpoints

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docstream/internal/api"
	"github.com/jackzampolin/docstream/internal/svcctx"
	"github.com/jackzampolin/docstream/version"
)

// RootResponse identifies the service.
type RootResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

// RootEndpoint handles GET /.
type RootEndpoint struct{}

var _ api.Endpoint = (*RootEndpoint)(nil)

func (e *RootEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/{$}", e.handler
}

// handler godoc
//
//	@Summary	Service banner
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	RootResponse
//	@Router		/ [get]
func (e *RootEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RootResponse{
		Message: "docstream API is running",
		Version: version.GitRelease,
	})
}

func (e *RootEndpoint) Command(_ func() string) *cobra.Command {
	return nil
}

// HealthResponse reports whether the inference engine is usable.
type HealthResponse struct {
	Status      string    `json:"status"`
	ModelLoaded bool      `json:"model_loaded"`
	Engine      string    `json:"engine,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// HealthEndpoint handles GET /api/health.
type HealthEndpoint struct{}

var _ api.Endpoint = (*HealthEndpoint)(nil)

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/health", e.handler
}

// handler godoc
//
//	@Summary		Health check
//	@Description	Reports server health and whether the inference engine is ready
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/api/health [get]
func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Timestamp: time.Now()}
	if eng := svcctx.EngineFrom(r.Context()); eng != nil {
		resp.Engine = eng.Name()
		resp.ModelLoaded = eng.Ready(r.Context())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/api/health", &resp); err != nil {
				return err
			}
			if api.GetOutputFormat() == api.OutputFormatText {
				fmt.Printf("Status:       %s\n", resp.Status)
				fmt.Printf("Engine:       %s\n", resp.Engine)
				fmt.Printf("Model loaded: %v\n", resp.ModelLoaded)
				return nil
			}
			return api.Output(resp)
		},
	}
}
