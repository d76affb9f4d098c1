package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/models"
)

// GetProfile handles member profile lookup.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")

	id, err := uuid.Parse(idStr)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid profile ID format")
		return
	}

	profile, err := h.store.GetProfile(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if profile == nil {
		h.Error(w, http.StatusNotFound, "profile not found")
		return
	}

	h.JSON(w, http.StatusOK, profile)
}

// SearchProfilesResponse represents the profile search response.
type SearchProfilesResponse struct {
	Profiles []models.Profile `json:"profiles"`
}

// SearchProfiles handles profile search by display name.
func (h *Handler) SearchProfiles(w http.ResponseWriter, r *http.Request) {
	query := sanitizeQuery(r.URL.Query().Get("q"))
	if query == "" {
		h.Error(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 100 {
			h.Error(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	profiles, err := h.store.SearchProfiles(r.Context(), query, limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "search failed")
		return
	}
	if profiles == nil {
		profiles = []models.Profile{}
	}

	h.JSON(w, http.StatusOK, SearchProfilesResponse{Profiles: profiles})
}
