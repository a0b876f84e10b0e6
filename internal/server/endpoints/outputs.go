package endpoints

import (
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docstream/internal/api"
	"github.com/jackzampolin/docstream/internal/svcctx"
)

// OutputsEndpoint serves job output files: annotated images, cropped figures
// and saved results.
type OutputsEndpoint struct{}

var _ api.Endpoint = (*OutputsEndpoint)(nil)

func (e *OutputsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/outputs/{path...}", e.handler
}

func (e *OutputsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	dir := svcctx.HomeFrom(r.Context())
	if dir == nil {
		writeError(w, http.StatusServiceUnavailable, "home directory not initialized")
		return
	}
	if strings.HasSuffix(r.URL.Path, "/") {
		http.NotFound(w, r)
		return
	}
	// http.Dir rejects paths that climb out of the root.
	http.StripPrefix("/outputs", http.FileServer(http.Dir(dir.OutputsPath()))).ServeHTTP(w, r)
}

func (e *OutputsEndpoint) Command(_ func() string) *cobra.Command {
	return nil
}
