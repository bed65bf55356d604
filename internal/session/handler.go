package session

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

const maxPresenceIDs = 200

// Guard authorizes a route for a resource and action.
type Guard interface {
	Require(resource, action string) func(http.Handler) http.Handler
}

// Handler exposes presence lookups.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   Guard
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard Guard) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers presence routes under /users.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require("sessions", "read"))
		r.Get("/presence", h.presenceMany)
		r.Get("/{userID}/presence", h.presence)
	})
}

func (h *Handler) presence(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamID(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Presence(r.Context(), id)
	if err != nil {
		h.fail(w, "presence", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) presenceMany(w http.ResponseWriter, r *http.Request) {
	raw := strings.Split(r.URL.Query().Get("ids"), ",")
	ids := make([]int64, 0, len(raw))
	for _, part := range raw {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := shared.ParseID(part)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		ids = append(ids, id)
	}
	if len(ids) > maxPresenceIDs {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "too many ids")
		return
	}
	out, err := h.service.PresenceMany(r.Context(), ids)
	if err != nil {
		h.fail(w, "presence many", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError && h.logger != nil {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
