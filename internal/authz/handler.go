package authz

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatehouse-io/gatehouse/internal/platform/httpx"
)

// Handler exposes the decision endpoint for sidecar-style consumers that
// cannot link the engine in-process.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	resolver  RoleResolver
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine, resolver RoleResolver) *Handler {
	return &Handler{
		logger:    logger,
		engine:    engine,
		resolver:  resolver,
		validator: validator.New(),
	}
}

// MountRoutes registers the decision routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.check)
}

type checkRequest struct {
	PrincipalID int64    `json:"principal_id" validate:"omitempty,gt=0"`
	Roles       []string `json:"roles"`
	Resource    string   `json:"resource" validate:"required"`
	Action      string   `json:"action" validate:"required"`
	Application string   `json:"application"`
}

type checkResponse struct {
	Permitted bool `json:"permitted"`
}

// check answers a permit/deny question. Callers supply either pre-resolved
// roles or a principal id to resolve here; a denied check is a 200 with
// permitted=false, never an error, and no detail about missing policies
// leaks to the caller.
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	roles := req.Roles
	if len(roles) == 0 && req.PrincipalID > 0 && h.resolver != nil {
		resolved, err := h.resolver.ActiveRoleCodes(r.Context(), req.PrincipalID)
		if err != nil {
			// Fail closed: resolution trouble is a deny, not an error.
			h.logger.Warn("resolve roles for check", slog.Int64("principal", req.PrincipalID), slog.Any("error", err))
			httpx.JSON(w, http.StatusOK, checkResponse{Permitted: false})
			return
		}
		roles = resolved
	}

	permitted := h.engine.IsAuthorized(r.Context(), roles, req.Resource, req.Action, req.Application)
	httpx.JSON(w, http.StatusOK, checkResponse{Permitted: permitted})
}
