package trace

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kilnworks/companykernel/internal/httpserver"
)

// Handler serves the peripheral trace surface. None of these routes carry
// any authority over mission or command state; they only expose what the
// subscriber or POST /traces has recorded since the process started.
type Handler struct {
	store *Store
}

// NewHandler builds a trace Handler.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Routes mounts /traces.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{missionId}", h.handleForMission)
	return r
}

type createRequest struct {
	MissionID string `json:"missionId"`
	Kind      string `json:"kind" validate:"required"`
	Detail    any    `json:"detail"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	var detail json.RawMessage
	if req.Detail != nil {
		raw, err := json.Marshal(req.Detail)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "detail is not valid JSON")
			return
		}
		detail = raw
	}

	ev := Event{MissionID: req.MissionID, Kind: req.Kind, Detail: detail, At: time.Now().UTC()}
	h.store.Record(ev)
	httpserver.Respond(w, http.StatusCreated, ev)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	httpserver.Respond(w, http.StatusOK, h.store.List(limit))
}

func (h *Handler) handleForMission(w http.ResponseWriter, r *http.Request) {
	missionID := chi.URLParam(r, "missionId")
	httpserver.Respond(w, http.StatusOK, h.store.ForMission(missionID))
}
