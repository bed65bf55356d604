package instances

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Guard authorizes a route for a resource and action.
type Guard interface {
	Require(resource, action string) func(http.Handler) http.Handler
}

// Handler exposes the asset instance registry.
type Handler struct {
	logger    *slog.Logger
	registry  *Registry
	guard     Guard
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, registry *Registry, guard Guard) *Handler {
	return &Handler{logger: logger, registry: registry, guard: guard, validator: validator.New()}
}

// MountRoutes registers instance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guard.Require("asset_instances", "read")).Get("/", h.list)
	r.With(h.guard.Require("asset_instances", "create")).Post("/", h.register)
	r.With(h.guard.Require("asset_instances", "delete")).Delete("/{instanceID}", h.remove)
}

type registerRequest struct {
	AssetID  int64  `json:"asset_id" validate:"required,gt=0"`
	RecordID string `json:"record_id" validate:"required,max=128"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var (
		rows []Instance
		err  error
	)
	if raw := r.URL.Query().Get("asset_id"); raw != "" {
		assetID, perr := shared.ParseID(raw)
		if perr != nil {
			httpx.RespondError(w, perr)
			return
		}
		rows, err = h.registry.ListForAsset(r.Context(), assetID)
	} else {
		rows, err = h.registry.List(r.Context())
	}
	if err != nil {
		h.fail(w, "list instances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	inst, err := h.registry.Register(r.Context(), actorID, req.AssetID, req.RecordID)
	if err != nil {
		h.fail(w, "register instance", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inst)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamID(r, "instanceID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	if err := h.registry.Remove(r.Context(), actorID, id); err != nil {
		h.fail(w, "remove instance", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError && h.logger != nil {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
