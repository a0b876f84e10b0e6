package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Grouped is implemented by endpoints whose CLI command lives under a
// parent command, e.g. "jobs" for `docstream api jobs list`.
type Grouped interface {
	Group() (name, short string)
}

// Registry holds all registered endpoints.
type Registry struct {
	endpoints []Endpoint
}

// NewRegistry creates a new endpoint registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an endpoint to the registry.
func (r *Registry) Register(ep Endpoint) {
	r.endpoints = append(r.endpoints, ep)
}

// RegisterRoutes registers all endpoint HTTP routes with the given mux.
// wrap is applied to every handler.
func (r *Registry) RegisterRoutes(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	for _, ep := range r.endpoints {
		method, path, handler := ep.Route()
		if wrap != nil {
			handler = wrap(handler)
		}
		mux.HandleFunc(method+" "+path, handler)
	}
}

// BuildCommands returns a cobra.Command tree for all registered endpoints.
// Endpoints without a command are skipped.
// getServerURL is called at runtime to get the server URL.
func (r *Registry) BuildCommands(getServerURL func() string) *cobra.Command {
	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Commands that call the running server",
		Long: `API commands call the running docstream server via HTTP.

These commands require a running server (docstream serve).
Use --server to specify a custom server URL.

Examples:
  docstream api health                  # Check server health
  docstream api ocr scan.pdf --stream   # OCR a document and print pages as they finish
  docstream api jobs watch              # Follow job lifecycle events`,
	}

	groups := make(map[string]*cobra.Command)
	for _, ep := range r.endpoints {
		cmd := ep.Command(getServerURL)
		if cmd == nil {
			continue
		}

		g, ok := ep.(Grouped)
		if !ok {
			apiCmd.AddCommand(cmd)
			continue
		}
		name, short := g.Group()
		parent, exists := groups[name]
		if !exists {
			parent = &cobra.Command{Use: name, Short: short}
			groups[name] = parent
			apiCmd.AddCommand(parent)
		}
		parent.AddCommand(cmd)
	}

	return apiCmd
}

// Endpoints returns all registered endpoints.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}
