package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"

	"github.com/JaimeStill/arbiter/internal/auth"
	"github.com/JaimeStill/arbiter/pkg/handlers"
	"github.com/JaimeStill/arbiter/pkg/routes"
	"github.com/JaimeStill/arbiter/pkg/storage"
	"github.com/JaimeStill/arbiter/workflow"
)

var errArchiveForbidden = errors.New("audit archive requires the admin role")

// archiveHandler serves audit records archived by the blob sink.
type archiveHandler struct {
	store  storage.System
	logger *slog.Logger
}

func newArchiveHandler(store storage.System, logger *slog.Logger) *archiveHandler {
	return &archiveHandler{
		store:  store,
		logger: logger.With("handler", "archive"),
	}
}

func (h *archiveHandler) routes() routes.Group {
	return routes.Group{
		Prefix: "/audit/archive",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/{key...}", Handler: h.download},
		},
	}
}

// download streams one archived record. Keys are relative to the storage
// prefix, e.g. 2026/10/01/<record-id>.json.
func (h *archiveHandler) download(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFrom(r.Context())
	if !ok {
		handlers.RespondError(w, h.logger, http.StatusUnauthorized, auth.ErrUnauthenticated)
		return
	}
	if !caller.Roles.Has(workflow.RoleAdmin) {
		handlers.RespondError(w, h.logger, http.StatusForbidden, errArchiveForbidden)
		return
	}

	key := r.PathValue("key")

	body, err := h.store.Download(r.Context(), h.store.Key(key))
	if err != nil {
		handlers.RespondError(w, h.logger, archiveStatus(err), err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(
		"Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", path.Base(key)),
	)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}

func archiveStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrEmptyKey), errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
