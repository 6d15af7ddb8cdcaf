package governor

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kilnworks/companykernel/internal/audit"
	"github.com/kilnworks/companykernel/internal/httpserver"
)

// Handler serves the Governor Config surface.
type Handler struct {
	logger  *slog.Logger
	service *Service
	audit   *audit.Writer
}

// NewHandler builds a governor Handler. auditWriter may be nil, in which
// case config changes go unaudited (acceptable for local dev).
func NewHandler(logger *slog.Logger, service *Service, auditWriter *audit.Writer) *Handler {
	return &Handler{logger: logger, service: service, audit: auditWriter}
}

// Routes mounts GET/PUT /governor/config.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/governor/config", h.handleGet)
	r.Put("/governor/config", h.handleSet)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.GetConfig(r.Context())
	if err != nil {
		h.logger.Error("reading governor config", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to read governor config")
		return
	}
	httpserver.Respond(w, http.StatusOK, cfg)
}

func (h *Handler) handleSet(w http.ResponseWriter, r *http.Request) {
	var cfg Config
	if !httpserver.DecodeAndValidate(w, r, &cfg) {
		return
	}

	merged, err := h.service.SetConfig(r.Context(), cfg)
	if err != nil {
		h.logger.Error("writing governor config", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to write governor config")
		return
	}
	if h.audit != nil {
		h.audit.LogFromRequest(r, "governor.config.updated", "governor_config", SettingsKey, nil)
	}
	httpserver.Respond(w, http.StatusOK, merged)
}
