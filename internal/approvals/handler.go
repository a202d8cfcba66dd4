package approvals

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/JaimeStill/arbiter/internal/auth"
	"github.com/JaimeStill/arbiter/pkg/handlers"
	"github.com/JaimeStill/arbiter/pkg/routes"
	"github.com/JaimeStill/arbiter/workflow"
)

var errInvalidID = errors.New("invalid fact id")

// Handler provides HTTP endpoints for the approval workflow. Every route
// expects an authenticated caller on the request context.
type Handler struct {
	sys    System
	logger *slog.Logger
}

// NewHandler creates a Handler over sys.
func NewHandler(sys System, logger *slog.Logger) *Handler {
	return &Handler{
		sys:    sys,
		logger: logger.With("handler", "approvals"),
	}
}

// Routes returns the route group definition for approval endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/approvals",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/queue", Handler: h.Queue},
			{Method: "POST", Pattern: "/queue/search", Handler: h.Search},
			{Method: "GET", Pattern: "/transitions", Handler: h.Transitions},
			{Method: "POST", Pattern: "/facts", Handler: h.Submit},
			{Method: "GET", Pattern: "/facts/{id}", Handler: h.Review},
			{Method: "GET", Pattern: "/facts/{id}/auto-approval", Handler: h.AutoApproval},
			{Method: "DELETE", Pattern: "/facts/{id}", Handler: h.Deactivate},
			{Method: "POST", Pattern: "/facts/{id}/decision", Handler: h.Decide},
			{Method: "PUT", Pattern: "/facts/{id}/status", Handler: h.UpdateStatus},
			{Method: "POST", Pattern: "/bulk", Handler: h.Bulk},
		},
	}
}

// Queue returns one page of the approval queue filtered by query parameters.
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	req, err := QueueRequestFromQuery(r.URL.Query())
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	h.queue(w, r, req)
}

// Search accepts filters, sort, and pagination as a JSON body.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	req, err := handlers.DecodeJSON[QueueRequest](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	h.queue(w, r, req)
}

func (h *Handler) queue(w http.ResponseWriter, r *http.Request, req QueueRequest) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	result, err := h.sys.GetQueue(r.Context(), req, caller)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Review returns a fact with related facts and the caller's allowed transitions.
func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}

	review, err := h.sys.GetFactForReview(r.Context(), id, caller)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, review)
}

// AutoApproval reports whether the fact qualifies for direct approval by the caller.
func (h *Handler) AutoApproval(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}

	eligible, err := h.sys.CheckAutoApproval(r.Context(), id, caller)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, map[string]bool{"auto_approvable": eligible})
}

// Submit creates a new pending fact.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	req, err := handlers.DecodeJSON[SubmitRequest](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	f, err := h.sys.Submit(r.Context(), req, caller)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, f)
}

// Deactivate soft-deletes a fact.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}

	if err := h.sys.Deactivate(r.Context(), id, caller); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Decide applies an approve or reject decision.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}

	d, err := handlers.DecodeJSON[Decision](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	f, err := h.sys.Decide(r.Context(), id, d, caller)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, f)
}

// UpdateStatus moves a fact to another status permitted by the rules.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}

	change, err := handlers.DecodeJSON[StatusChange](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	f, err := h.sys.UpdateStatus(r.Context(), id, change, caller)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, f)
}

// Bulk applies one decision to a batch of facts.
func (h *Handler) Bulk(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	req, err := handlers.DecodeJSON[BulkRequest](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	result, err := h.sys.BulkApply(r.Context(), req, caller)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Transitions lists the configured transition table.
func (h *Handler) Transitions(w http.ResponseWriter, r *http.Request) {
	handlers.RespondJSON(w, http.StatusOK, h.sys.Transitions())
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (workflow.Caller, bool) {
	caller, ok := auth.CallerFrom(r.Context())
	if !ok {
		handlers.RespondError(w, h.logger, http.StatusUnauthorized, auth.ErrUnauthenticated)
	}
	return caller, ok
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (workflow.Caller, uuid.UUID, bool) {
	caller, ok := h.caller(w, r)
	if !ok {
		return caller, uuid.Nil, false
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errInvalidID)
		return caller, uuid.Nil, false
	}
	return caller, id, true
}
