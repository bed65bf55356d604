package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Handler exposes decisions over HTTP.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine, validator: validator.New()}
}

// MountRoutes registers authz routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.check)
	r.Get("/me/permissions", h.permissions)
	r.Get("/me/visible/{resource}", h.visible)
}

type checkRequest struct {
	Resource   string `json:"resource" validate:"required"`
	Action     string `json:"action" validate:"required"`
	InstanceID string `json:"instance_id"`
}

// check answers for the calling actor; a denial is a 200 with allowed=false.
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	decision, err := h.engine.Check(r.Context(), currentActor(r), req.Resource, req.Action, req.InstanceID)
	if err != nil {
		h.fail(w, "authz check", err)
		return
	}
	if decision.Reason == ReasonUnauthenticated {
		httpx.RespondError(w, decision.Err())
		return
	}
	httpx.JSON(w, http.StatusOK, decision)
}

func (h *Handler) permissions(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.ActorFromContext(r.Context())
	perms, err := h.engine.EffectivePermissions(r.Context(), id)
	if err != nil {
		h.fail(w, "effective permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) visible(w http.ResponseWriter, r *http.Request) {
	vis, err := h.engine.VisibleRecords(r.Context(), currentActor(r), chi.URLParam(r, "resource"))
	if err != nil {
		h.fail(w, "visible records", err)
		return
	}
	httpx.JSON(w, http.StatusOK, vis)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError && h.logger != nil {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
