package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docstream/internal/api"
	"github.com/jackzampolin/docstream/internal/ocr"
)

// ConfigsEndpoint handles GET /api/configs.
type ConfigsEndpoint struct{}

var _ api.Endpoint = (*ConfigsEndpoint)(nil)

func (e *ConfigsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/configs", e.handler
}

// handler godoc
//
//	@Summary		List modes and output formats
//	@Description	Resolution modes, output formats with their prompts, and the defaults
//	@Tags			ocr
//	@Produce		json
//	@Success		200	{object}	ocr.Configs
//	@Router			/api/configs [get]
func (e *ConfigsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ocr.Catalog())
}

func (e *ConfigsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "configs",
		Short: "List OCR modes and output formats",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ocr.Configs
			if err := client.Get(cmd.Context(), "/api/configs", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
