package grants

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

// Handler exposes assign, revoke and list endpoints for every relation.
type Handler struct {
	logger    *slog.Logger
	store     *Store
	guard     Guard
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, store *Store, guard Guard) *Handler {
	return &Handler{logger: logger, store: store, guard: guard, validator: validator.New()}
}

// MountRoutes registers grant routes, one sub-tree per link table.
func (h *Handler) MountRoutes(r chi.Router) {
	for _, links := range []*Links{h.store.RolePermissions(), h.store.UserRoles(), h.store.UserInstances()} {
		resource := links.Relation().Table
		r.Route("/"+resource, func(r chi.Router) {
			r.With(h.guard.Require(resource, "read")).Get("/{leftID}", h.list(links))
			r.With(h.guard.Require(resource, "create")).Post("/{leftID}", h.assign(links))
			r.With(h.guard.Require(resource, "delete")).Delete("/{leftID}/{rightID}", h.revoke(links))
		})
	}
}

type assignRequest struct {
	RightID int64 `json:"right_id" validate:"required,gt=0"`
}

func (h *Handler) list(links *Links) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		left, err := httpx.URLParamID(r, "leftID")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		rows, err := links.ListForLeft(r.Context(), left)
		if err != nil {
			h.fail(w, "list grants", err)
			return
		}
		httpx.JSON(w, http.StatusOK, rows)
	}
}

func (h *Handler) assign(links *Links) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		left, err := httpx.URLParamID(r, "leftID")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var req assignRequest
		if err := httpx.Bind(r, h.validator, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		actorID, _ := shared.ActorFromContext(r.Context())
		grant, err := links.Assign(r.Context(), left, req.RightID, actorID)
		if err != nil {
			h.fail(w, "assign grant", err)
			return
		}
		httpx.JSON(w, http.StatusCreated, grant)
	}
}

func (h *Handler) revoke(links *Links) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		left, err := httpx.URLParamID(r, "leftID")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		right, err := httpx.URLParamID(r, "rightID")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		actorID, _ := shared.ActorFromContext(r.Context())
		grant, err := links.Revoke(r.Context(), left, right, actorID)
		if err != nil {
			h.fail(w, "revoke grant", err)
			return
		}
		httpx.JSON(w, http.StatusOK, grant)
	}
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError && h.logger != nil {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
