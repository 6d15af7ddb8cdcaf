package registry

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kilnworks/companykernel/internal/httpserver"
)

// Handler serves the advisory agent/tool/policy-check surface.
type Handler struct {
	registry *Registry
}

// NewHandler builds a registry Handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// Routes mounts /agents, /tools and /policy/check.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/agents", h.handleRegisterAgent)
	r.Get("/agents", h.handleListAgents)
	r.Get("/agents/{name}", h.handleGetAgent)
	r.Post("/tools", h.handleRegisterTool)
	r.Get("/tools", h.handleListTools)
	r.Post("/policy/check", h.handlePolicyCheck)
}

type registerAgentRequest struct {
	Name  string   `json:"name" validate:"required"`
	Kind  string   `json:"kind"`
	Goals []string `json:"goals"`
}

func (h *Handler) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	a := h.registry.RegisterAgent(Agent{Name: req.Name, Kind: req.Kind, Goals: req.Goals}, time.Now().UTC())
	httpserver.Respond(w, http.StatusOK, a)
}

func (h *Handler) handleListAgents(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	all := h.registry.ListAgents()
	page := pageSlice(all, params)
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(page, params, len(all)))
}

func (h *Handler) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	a, err := h.registry.GetAgent(name)
	if errors.Is(err, ErrNotFound) {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "agent not registered")
		return
	}
	httpserver.Respond(w, http.StatusOK, a)
}

type registerToolRequest struct {
	Name         string `json:"name" validate:"required"`
	Description  string `json:"description"`
	RegisteredBy string `json:"registeredBy"`
}

func (h *Handler) handleRegisterTool(w http.ResponseWriter, r *http.Request) {
	var req registerToolRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	t := h.registry.RegisterTool(Tool{
		Name:         req.Name,
		Description:  req.Description,
		RegisteredBy: req.RegisteredBy,
	}, time.Now().UTC())
	httpserver.Respond(w, http.StatusOK, t)
}

func (h *Handler) handleListTools(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	all := h.registry.ListTools()
	page := pageSlice(all, params)
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(page, params, len(all)))
}

// pageSlice returns the params-selected window of items, clamped to bounds.
func pageSlice[T any](items []T, params httpserver.OffsetParams) []T {
	if params.Offset >= len(items) {
		return items[:0]
	}
	end := params.Offset + params.PageSize
	if end > len(items) {
		end = len(items)
	}
	return items[params.Offset:end]
}

func (h *Handler) handlePolicyCheck(w http.ResponseWriter, r *http.Request) {
	var req PolicyCheckInput
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	httpserver.Respond(w, http.StatusOK, h.registry.PolicyCheck(req))
}
