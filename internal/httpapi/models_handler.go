package httpapi

import (
	"net/http"
	"strconv"

	"model_registry/internal/auth"
	"model_registry/internal/models"
	"model_registry/internal/registry"
	"model_registry/internal/utils"

	"github.com/go-chi/chi/v5"
)

type createModelRequest struct {
	Name        string `json:"name"`
	GroupName   string `json:"group_name"`
	Variant     string `json:"variant"`
	Description string `json:"description"`
}

func (h *Handler) CreateModel(w http.ResponseWriter, r *http.Request) {
	var req createModelRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())

	m, err := h.reg.CreateModel(r.Context(), registry.CreateModelRequest{
		Name:        req.Name,
		GroupName:   req.GroupName,
		Variant:     req.Variant,
		Description: req.Description,
		CreatedBy:   userID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, m)
}

func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	list, err := h.reg.ListModels(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Model{}
	}
	utils.RespondWithJSON(w, http.StatusOK, list)
}

func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	m, err := h.reg.GetModel(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, m)
}

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.reg.ListGroups(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if groups == nil {
		groups = []*models.ModelGroup{}
	}
	utils.RespondWithJSON(w, http.StatusOK, groups)
}

func (h *Handler) DeleteModel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.reg.DeleteModel(r.Context(), name); err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Model deleted", "name": name})
}

func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	deleted, err := h.reg.DeleteGroup(r.Context(), group)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"group_name": group, "deleted_models": deleted})
}

func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.reg.ListVersions(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if versions == nil {
		versions = []*models.ModelVersion{}
	}
	utils.RespondWithJSON(w, http.StatusOK, versions)
}

type setAliasRequest struct {
	Version *int `json:"version"`
}

// SetAlias takes the version from the query string or a JSON body.
func (h *Handler) SetAlias(w http.ResponseWriter, r *http.Request) {
	version, err := utils.QueryInt(r, "version")
	if err != nil {
		badRequest(w, "version must be an integer")
		return
	}
	if version == nil {
		var req setAliasRequest
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, "Invalid request body")
			return
		}
		version = req.Version
	}
	if version == nil {
		badRequest(w, "version is required")
		return
	}

	a, err := h.reg.SetAlias(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "alias"), *version)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, a)
}

func (h *Handler) ListAliases(w http.ResponseWriter, r *http.Request) {
	aliases, err := h.reg.ListAliases(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if aliases == nil {
		aliases = []*models.ModelAlias{}
	}
	utils.RespondWithJSON(w, http.StatusOK, aliases)
}

func (h *Handler) DeleteAlias(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	if err := h.reg.DeleteAlias(r.Context(), chi.URLParam(r, "name"), alias); err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Alias deleted", "alias": alias})
}

func selectorFromQuery(r *http.Request) (registry.Selector, error) {
	version, err := utils.QueryInt(r, "version")
	if err != nil {
		return registry.Selector{}, err
	}
	return registry.Selector{Version: version, Alias: r.URL.Query().Get("alias")}, nil
}

func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	sel, err := selectorFromQuery(r)
	if err != nil {
		badRequest(w, "version must be an integer")
		return
	}
	res, err := h.reg.Resolve(r.Context(), chi.URLParam(r, "name"), sel)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) ResolveByGroupVariant(w http.ResponseWriter, r *http.Request) {
	sel, err := selectorFromQuery(r)
	if err != nil {
		badRequest(w, "version must be an integer")
		return
	}
	res, err := h.reg.ResolveByGroupVariant(r.Context(), chi.URLParam(r, "group"), chi.URLParam(r, "variant"), sel)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reg.DashboardStats(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, stats)
}

func (h *Handler) RecentActivity(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.reg.RecentActivity(r.Context(), limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if events == nil {
		events = []*models.AuditEvent{}
	}
	utils.RespondWithJSON(w, http.StatusOK, events)
}
