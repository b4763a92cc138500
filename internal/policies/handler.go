package policies

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatehouse-io/gatehouse/internal/platform/httpx"
	"github.com/gatehouse-io/gatehouse/internal/shared"
)

// Handler exposes the administrative policy endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers policy routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/bulk", h.createBulk)
	r.Delete("/", h.delete)
	r.Delete("/role/{role}", h.deleteAllForRole)
}

// MountCacheRoutes registers the cache admin endpoints.
func (h *Handler) MountCacheRoutes(r chi.Router) {
	r.Get("/stats", h.cacheStats)
	r.Post("/sync", h.cacheSync)
}

type policyRequest struct {
	Role        string `json:"role" validate:"required"`
	Resource    string `json:"resource" validate:"required,startswith=/"`
	Action      string `json:"action" validate:"required,oneof=GET POST PUT PATCH DELETE"`
	Application string `json:"application" validate:"omitempty,max=64"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.Create(r.Context(), Policy{
		Role:        req.Role,
		Resource:    req.Resource,
		Action:      Action(req.Action),
		Application: req.Application,
	})
	if err != nil {
		h.logger.Warn("create policy", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) createBulk(w http.ResponseWriter, r *http.Request) {
	var reqs []policyRequest
	if err := httpx.DecodeJSON(r, &reqs); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	batch := make([]Policy, 0, len(reqs))
	for _, req := range reqs {
		if err := h.validator.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		batch = append(batch, Policy{
			Role:        req.Role,
			Resource:    req.Resource,
			Action:      Action(req.Action),
			Application: req.Application,
		})
	}
	created, err := h.service.CreateMany(r.Context(), batch)
	if err != nil {
		h.logger.Warn("create policies bulk", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.Delete(r.Context(), req.Role, req.Resource, Action(req.Action), req.Application); err != nil {
		h.logger.Warn("delete policy", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteAllForRole(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	if role == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "role is required")
		return
	}
	if err := h.service.DeleteAllForRole(r.Context(), role); err != nil {
		h.logger.Warn("delete policies for role", slog.String("role", role), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	filters := Filters{
		Role:        q.Get("role"),
		Resource:    q.Get("resource"),
		Action:      Action(q.Get("action")),
		Application: q.Get("application"),
	}
	items, total, err := h.service.List(r.Context(), page, limit, filters)
	if err != nil {
		h.logger.Error("list policies", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	meta := shared.NewPagination(page, limit, total)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":       items,
		"total":       meta.Total,
		"page":        meta.Page,
		"per_page":    meta.PerPage,
		"total_pages": meta.TotalPages,
	})
}

func (h *Handler) cacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.CacheStats(r.Context())
	if err != nil {
		h.logger.Warn("cache stats", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) cacheSync(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SyncCache(r.Context()); err != nil {
		h.logger.Error("cache sync", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "synced"})
}
