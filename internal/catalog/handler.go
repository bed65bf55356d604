package catalog

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

// Handler exposes the catalog over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     Guard
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard Guard) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, validator: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/operations", func(r chi.Router) {
		r.With(h.guard.Require("operations", "read")).Get("/", h.listOperations)
		r.With(h.guard.Require("operations", "create")).Post("/", h.createOperation)
		r.With(h.guard.Require("operations", "update")).Put("/{operationID}", h.renameOperation)
	})
	r.Route("/assets", func(r chi.Router) {
		r.With(h.guard.Require("assets", "read")).Get("/", h.listAssets)
		r.With(h.guard.Require("assets", "create")).Post("/", h.createAsset)
	})
	r.Route("/permissions", func(r chi.Router) {
		r.With(h.guard.Require("permissions", "read")).Get("/", h.listPermissions)
		r.With(h.guard.Require("permissions", "create")).Post("/", h.createPermission)
	})
}

type operationRequest struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=255"`
}

type assetRequest struct {
	TableName   string `json:"table_name" validate:"required,max=128"`
	Description string `json:"description" validate:"max=255"`
}

type permissionRequest struct {
	OperationID int64 `json:"operation_id" validate:"required,gt=0"`
	AssetID     int64 `json:"asset_id" validate:"required,gt=0"`
}

func (h *Handler) listOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.service.ListOperations(r.Context())
	if err != nil {
		h.fail(w, "list operations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ops)
}

func (h *Handler) createOperation(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	op, err := h.service.CreateOperation(r.Context(), actorID, req.Name, req.Description)
	if err != nil {
		h.fail(w, "create operation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, op)
}

func (h *Handler) renameOperation(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamID(r, "operationID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req operationRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	op, err := h.service.RenameOperation(r.Context(), actorID, id, req.Name)
	if err != nil {
		h.fail(w, "rename operation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, op)
}

func (h *Handler) listAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.service.ListAssets(r.Context())
	if err != nil {
		h.fail(w, "list assets", err)
		return
	}
	httpx.JSON(w, http.StatusOK, assets)
}

func (h *Handler) createAsset(w http.ResponseWriter, r *http.Request) {
	var req assetRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	asset, err := h.service.CreateAsset(r.Context(), actorID, req.TableName, req.Description)
	if err != nil {
		h.fail(w, "create asset", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, asset)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	perm, err := h.service.CreatePermission(r.Context(), actorID, req.OperationID, req.AssetID)
	if err != nil {
		h.fail(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError && h.logger != nil {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
