package assignments

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatehouse-io/gatehouse/internal/platform/httpx"
	"github.com/gatehouse-io/gatehouse/internal/shared"
)

// Handler manages role assignment endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers assignment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.assign)
	r.Delete("/", h.revoke)
	r.Post("/bulk", h.assignBulk)
	r.Get("/stats", h.stats)
	r.Get("/user/{userID}", h.listByUser)
	r.Get("/user/{userID}/roles", h.roleCodes)
	r.Put("/user/{userID}", h.replaceAll)
}

type assignRequest struct {
	UserID     int64      `json:"user_id" validate:"required,gt=0"`
	RoleID     int64      `json:"role_id" validate:"required,gt=0"`
	AssignedBy int64      `json:"assigned_by" validate:"omitempty,gt=0"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

type revokeRequest struct {
	UserID    int64 `json:"user_id" validate:"required,gt=0"`
	RoleID    int64 `json:"role_id" validate:"required,gt=0"`
	RevokedBy int64 `json:"revoked_by" validate:"omitempty,gt=0"`
}

type bulkRequest struct {
	UserID     int64      `json:"user_id" validate:"required,gt=0"`
	RoleIDs    []int64    `json:"role_ids" validate:"required,min=1,dive,gt=0"`
	AssignedBy int64      `json:"assigned_by" validate:"omitempty,gt=0"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

type replaceRequest struct {
	RoleIDs    []int64    `json:"role_ids" validate:"dive,gt=0"`
	AssignedBy int64      `json:"assigned_by" validate:"omitempty,gt=0"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

// actorID resolves who performed a mutation: an explicit body field wins,
// otherwise the principal header forwarded by the edge gateway.
func actorID(r *http.Request, explicit int64) int64 {
	if explicit > 0 {
		return explicit
	}
	if p, ok := shared.PrincipalFromContext(r.Context()); ok {
		return p.ID
	}
	return 0
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	a, err := h.service.Assign(r.Context(), req.UserID, req.RoleID, actorID(r, req.AssignedBy), req.ExpiresAt)
	if err != nil {
		h.logger.Warn("assign role",
			slog.Int64("user_id", req.UserID),
			slog.Int64("role_id", req.RoleID),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.Revoke(r.Context(), req.UserID, req.RoleID, actorID(r, req.RevokedBy)); err != nil {
		h.logger.Warn("revoke role",
			slog.Int64("user_id", req.UserID),
			slog.Int64("role_id", req.RoleID),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.AssignBulk(r.Context(), req.UserID, req.RoleIDs, actorID(r, req.AssignedBy), req.ExpiresAt)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if len(result.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) replaceAll(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	var req replaceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	granted, err := h.service.ReplaceAll(r.Context(), userID, req.RoleIDs, actorID(r, req.AssignedBy), req.ExpiresAt)
	if err != nil {
		h.logger.Warn("replace roles", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, granted)
}

func (h *Handler) listByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	items, err := h.service.ListActiveByUser(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) roleCodes(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	codes, err := h.service.ActiveRoleCodes(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "roles": codes})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Stats(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, s)
}
