package command

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kilnworks/companykernel/internal/actor"
	"github.com/kilnworks/companykernel/internal/httpserver"
)

// Handler serves the command proposal HTTP surface.
type Handler struct {
	logger   *slog.Logger
	pipeline *Pipeline
}

// NewHandler builds a command Handler.
func NewHandler(logger *slog.Logger, pipeline *Pipeline) *Handler {
	return &Handler{logger: logger, pipeline: pipeline}
}

// Routes mounts /proposals and /execute.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/proposals", h.handlePropose)
	r.Get("/proposals/pending", h.handlePending)
	r.Get("/proposals/{id}", h.handleGet)
	r.Post("/proposals/{id}/approve", h.handleApprove)
	r.Post("/proposals/{id}/reject", h.handleReject)
	r.Post("/proposals/{id}/abort", h.handleAbort)
	r.Post("/proposals/{id}/result", h.handleResult)
	r.Post("/execute/{id}", h.handleExecute)
}

func actorStamp(r *http.Request) ActorStamp {
	a, _ := actor.FromContext(r.Context())
	return ActorStamp{Kind: string(a.Kind), ID: a.ID, OrgID: a.OrgID, Display: a.Display}
}

type proposeRequest struct {
	Command                Command `json:"command" validate:"required"`
	Reasoning              string  `json:"reasoning"`
	ApprovalTimeoutSeconds int     `json:"approvalTimeoutSeconds"`
}

func (h *Handler) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	proposal, err := h.pipeline.Propose(r.Context(), req.Command, req.Reasoning, actorStamp(r), req.ApprovalTimeoutSeconds, time.Now().UTC())
	if err != nil {
		h.logger.Error("proposing command", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create proposal")
		return
	}

	httpserver.Respond(w, http.StatusCreated, proposal)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	proposal, err := h.pipeline.Get(r.Context(), id, time.Now().UTC())
	if errors.Is(err, ErrNotFound) {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "proposal not found")
		return
	}
	if err != nil {
		h.logger.Error("fetching proposal", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to fetch proposal")
		return
	}
	httpserver.Respond(w, http.StatusOK, proposal)
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.pipeline.ListPending(r.Context(), time.Now().UTC())
	if err != nil {
		h.logger.Error("listing pending proposals", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list pending proposals")
		return
	}
	httpserver.Respond(w, http.StatusOK, pending)
}

type approveRequest struct {
	ApprovedBy        string  `json:"approvedBy"`
	RecentFailureRate float64 `json:"recentFailureRate"`
	CommandsInSession int     `json:"commandsInSession"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req approveRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	a, _ := actor.FromContext(r.Context())
	proposal, err := h.pipeline.Approve(r.Context(), id, actorStamp(r), ApproveContext{
		ActorKind:         string(a.Kind),
		RecentFailureRate: req.RecentFailureRate,
		CommandsInSession: req.CommandsInSession,
	}, time.Now().UTC())
	h.respondOrConflict(w, proposal, err)
}

type rejectRequest struct {
	RejectedBy string `json:"rejectedBy"`
	Reason     string `json:"reason"`
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req rejectRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	proposal, err := h.pipeline.Reject(r.Context(), id, actorStamp(r), req.Reason, time.Now().UTC())
	h.respondOrConflict(w, proposal, err)
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	proposal, err := h.pipeline.Execute(r.Context(), id, actorStamp(r), time.Now().UTC())
	h.respondOrConflict(w, proposal, err)
}

type resultRequest struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req resultRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	proposal, err := h.pipeline.ReportResult(r.Context(), id, req.Success, req.Message, time.Now().UTC())
	h.respondOrConflict(w, proposal, err)
}

func (h *Handler) handleAbort(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := h.pipeline.Abort(r.Context(), id, actorStamp(r), time.Now().UTC())
	if errors.Is(err, ErrNotFound) {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "proposal not found")
		return
	}
	if err != nil {
		h.logger.Error("aborting proposal", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to abort proposal")
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

func (h *Handler) respondOrConflict(w http.ResponseWriter, proposal *Proposal, err error) {
	switch {
	case err == nil:
		httpserver.Respond(w, http.StatusOK, proposal)
	case errors.Is(err, ErrNotFound):
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "proposal not found")
	case errors.Is(err, ErrNotPendingApproval):
		httpserver.RespondError(w, http.StatusConflict, "conflict", "proposal is not pending approval")
	case errors.Is(err, ErrNotApproved):
		httpserver.RespondError(w, http.StatusConflict, "conflict", "proposal is not approved")
	case errors.Is(err, ErrNotExecuting):
		httpserver.RespondError(w, http.StatusConflict, "conflict", "proposal is not executing")
	case errors.Is(err, ErrOutOfBounds):
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "target value outside allowed range")
	case errors.Is(err, ErrDenied):
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "command denied by governance")
	default:
		h.logger.Error("command operation failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "operation failed")
	}
}
