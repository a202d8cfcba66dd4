package api

import (
	"net/http"

	"github.com/JaimeStill/arbiter/pkg/routes"
)

// registerRoutes mounts every domain group behind the authentication
// middleware. The archive group exists only when the blob sink is enabled.
func registerRoutes(mux *http.ServeMux, domain *Domain, runtime *Runtime) {
	authenticated := []func(http.Handler) http.Handler{domain.Auth.Middleware()}

	approvalsGroup := domain.Approvals.Handler().Routes()
	approvalsGroup.Middleware = append(authenticated, approvalsGroup.Middleware...)

	groups := []routes.Group{approvalsGroup}

	if runtime.Storage != nil {
		archive := newArchiveHandler(runtime.Storage, runtime.Logger).routes()
		archive.Middleware = authenticated
		groups = append(groups, archive)
	}

	routes.Register(mux, groups...)
}
