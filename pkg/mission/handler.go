package mission

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kilnworks/companykernel/internal/actor"
	"github.com/kilnworks/companykernel/internal/audit"
	"github.com/kilnworks/companykernel/internal/httpserver"
)

// Handler serves the mission HTTP surface.
type Handler struct {
	logger *slog.Logger
	facade *Facade
	audit  *audit.Writer
}

// NewHandler builds a mission Handler. audit may be nil, in which case
// human approvals/cancellations go unaudited (acceptable for local dev).
func NewHandler(logger *slog.Logger, facade *Facade, auditWriter *audit.Writer) *Handler {
	return &Handler{logger: logger, facade: facade, audit: auditWriter}
}

// Routes mounts the mission surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/metrics", h.handleMetrics)
	r.Post("/claim", h.handleClaim)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/heartbeat", h.handleHeartbeat)
	r.Post("/{id}/complete", h.handleComplete)
	r.Post("/{id}/fail", h.handleFail)
	r.Post("/{id}/approve", h.handleApprove)
	r.Post("/{id}/cancel", h.handleCancel)
	r.Post("/{id}/retryNow", h.handleRetryNow)
	return r
}

type createRequest struct {
	MissionID      string          `json:"missionId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Goal           string          `json:"goal" validate:"required"`
	Params         json.RawMessage `json:"params"`
	Context        json.RawMessage `json:"context"`
	SubjectID      *string         `json:"subjectId"`
	MaxAttempts    int32           `json:"maxAttempts"`
	Signals        json.RawMessage `json:"signals"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	a, _ := actor.FromContext(r.Context())
	stamp := &ActorStamp{Kind: string(a.Kind), ID: a.ID, OrgID: a.OrgID, Display: a.Display}

	m, created, err := h.facade.Create(r.Context(), FacadeCreateInput{
		MissionID:      req.MissionID,
		IdempotencyKey: req.IdempotencyKey,
		Goal:           req.Goal,
		Params:         req.Params,
		Context:        req.Context,
		SubjectID:      req.SubjectID,
		MaxAttempts:    req.MaxAttempts,
		Signals:        req.Signals,
	}, stamp, time.Now().UTC())
	if err != nil {
		h.logger.Error("creating mission", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create mission")
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	httpserver.Respond(w, status, m)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a, _ := actor.FromContext(r.Context())

	orgID := q.Get("orgId")
	if a.Kind != actor.KindSystem {
		orgID = a.OrgID
	}

	limit, _ := strconv.Atoi(q.Get("limit"))

	missions, err := h.facade.List(r.Context(), ListQuery{
		Status:    q.Get("status"),
		Goal:      q.Get("goal"),
		Agent:     q.Get("agent"),
		SessionID: q.Get("sessionId"),
		SubjectID: q.Get("subjectId"),
		OrgID:     orgID,
		SiteID:    q.Get("siteId"),
		MachineID: q.Get("machineId"),
		Limit:     limit,
	})
	if err != nil {
		h.logger.Error("listing missions", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list missions")
		return
	}

	httpserver.Respond(w, http.StatusOK, missions)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.facade.Metrics(r.Context())
	if err != nil {
		h.logger.Error("computing mission metrics", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to compute metrics")
		return
	}
	httpserver.Respond(w, http.StatusOK, m)
}

type claimRequest struct {
	AgentName string   `json:"agentName" validate:"required"`
	Goals     []string `json:"goals"`
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	m, err := h.facade.ClaimNext(r.Context(), req.AgentName, req.Goals, time.Now().UTC(), 0)
	switch {
	case errors.Is(err, ErrNoneAvailable):
		httpserver.NoContent(w)
		return
	case errors.Is(err, ErrAgentNameMissing):
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "agentName is required")
		return
	case err != nil:
		h.logger.Error("claiming mission", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to claim mission")
		return
	}

	httpserver.Respond(w, http.StatusOK, m)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, _ := actor.FromContext(r.Context())

	m, err := h.facade.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "mission not found")
		return
	}
	if err != nil {
		h.logger.Error("fetching mission", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to fetch mission")
		return
	}

	if a.Kind != actor.KindSystem && a.OrgID != "" && m.OrgID() != "" && m.OrgID() != a.OrgID {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "mission belongs to a different organization")
		return
	}

	httpserver.Respond(w, http.StatusOK, m)
}

type heartbeatRequest struct {
	LeaseID   string `json:"leaseId" validate:"required"`
	AgentName string `json:"agentName"`
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req heartbeatRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	m, err := h.facade.Heartbeat(r.Context(), id, req.LeaseID, time.Now().UTC())
	h.respondMissionOrConflict(w, m, err)
}

type completeRequest struct {
	Summary json.RawMessage `json:"summary"`
	LeaseID *string         `json:"leaseId"`
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req completeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	m, err := h.facade.Complete(r.Context(), id, req.Summary, req.LeaseID, time.Now().UTC())
	h.respondMissionOrConflict(w, m, err)
}

type failRequest struct {
	Error     string          `json:"error" validate:"required"`
	Details   json.RawMessage `json:"details"`
	Retryable bool            `json:"retryable"`
	LeaseID   *string         `json:"leaseId"`
}

func (h *Handler) handleFail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req failRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	m, err := h.facade.Fail(r.Context(), FailInput{
		MissionID: id,
		Retryable: req.Retryable,
		Error:     req.Error,
		Details:   req.Details,
		LeaseID:   req.LeaseID,
	}, time.Now().UTC())
	h.respondMissionOrConflict(w, m, err)
}

type approveRequest struct {
	Note string `json:"note"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req approveRequest
	if r.ContentLength != 0 {
		if !httpserver.DecodeAndValidate(w, r, &req) {
			return
		}
	}

	a, _ := actor.FromContext(r.Context())
	stamp := &ActorStamp{Kind: string(a.Kind), ID: a.ID, OrgID: a.OrgID, Display: a.Display}

	var reasons []GovernanceReason
	if req.Note != "" {
		details, _ := json.Marshal(map[string]string{"note": req.Note})
		reasons = []GovernanceReason{{Code: "HUMAN_APPROVAL", Details: details}}
	} else {
		reasons = []GovernanceReason{{Code: "HUMAN_APPROVAL"}}
	}

	m, err := h.facade.Approve(r.Context(), id, reasons, stamp, time.Now().UTC())
	if err == nil && h.audit != nil {
		h.audit.LogFromRequest(r, "mission.approved", "mission", id, nil)
	}
	h.respondMissionOrConflict(w, m, err)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := h.facade.Cancel(r.Context(), id, time.Now().UTC())
	if err == nil && h.audit != nil {
		h.audit.LogFromRequest(r, "mission.canceled", "mission", id, nil)
	}
	h.respondMissionOrConflict(w, m, err)
}

func (h *Handler) handleRetryNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := h.facade.RetryNow(r.Context(), id, time.Now().UTC())
	h.respondMissionOrConflict(w, m, err)
}

// respondMissionOrConflict maps Repository conflict errors to HTTP status
// codes.
func (h *Handler) respondMissionOrConflict(w http.ResponseWriter, m *Mission, err error) {
	switch {
	case err == nil:
		httpserver.Respond(w, http.StatusOK, m)
	case errors.Is(err, ErrNotFound):
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "mission not found")
	case errors.Is(err, ErrNotRunning):
		httpserver.RespondError(w, http.StatusConflict, "conflict", "mission is not running")
	case errors.Is(err, ErrNotQuarantined):
		httpserver.RespondError(w, http.StatusConflict, "conflict", "mission is not quarantined")
	case errors.Is(err, ErrNotRetry):
		httpserver.RespondError(w, http.StatusConflict, "conflict", "mission is not in retry state")
	case errors.Is(err, ErrLeaseMismatch):
		httpserver.RespondError(w, http.StatusConflict, "conflict", "lease mismatch")
	default:
		h.logger.Error("mission operation failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "operation failed")
	}
}
