package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atelierhq/atelier/internal/api/middleware"
	"github.com/atelierhq/atelier/internal/models"
)

// PresenceResponse lists everyone announced in a scope except the actor.
type PresenceResponse struct {
	Scope  string                 `json:"scope"`
	Others []models.PresenceState `json:"others"`
}

// ScopePresence returns the announced presence of a scope. Presence is
// ephemeral; an empty list means nobody is announced right now.
func (h *Handler) ScopePresence(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActorFromContext(r.Context())
	if actor == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	scope := chi.URLParam(r, "scope")
	if scope == "" {
		h.Error(w, http.StatusBadRequest, "scope is required")
		return
	}

	others, err := h.tracker.Others(r.Context(), scope, actor.ID.String())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "presence lookup failed")
		return
	}
	if others == nil {
		others = []models.PresenceState{}
	}

	h.JSON(w, http.StatusOK, PresenceResponse{Scope: scope, Others: others})
}

// TypingRequest toggles the actor's typing indicator in a scope.
type TypingRequest struct {
	Typing bool `json:"typing"`
}

// Typing broadcasts a typing indicator. Starting re-arms the idle timer;
// with no further calls it clears itself.
func (h *Handler) Typing(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActorFromContext(r.Context())
	if actor == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	scope := chi.URLParam(r, "scope")
	if scope == "" {
		h.Error(w, http.StatusBadRequest, "scope is required")
		return
	}

	var req TypingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var err error
	if req.Typing {
		err = h.tracker.StartTyping(r.Context(), scope, actor.ID.String())
	} else {
		err = h.tracker.StopTyping(r.Context(), scope, actor.ID.String())
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "typing broadcast failed")
		return
	}

	h.JSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}
