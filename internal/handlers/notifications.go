package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/api/middleware"
	"github.com/atelierhq/atelier/internal/models"
)

// ListNotificationsResponse represents the notification list response.
type ListNotificationsResponse struct {
	Notifications []models.Notification `json:"notifications"`
}

// ListNotifications returns the actor's notifications, newest first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActorFromContext(r.Context())
	if actor == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 200 {
			h.Error(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}

	notifications, err := h.store.ListNotifications(r.Context(), actor.ID, limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch notifications")
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}

	h.JSON(w, http.StatusOK, ListNotificationsResponse{Notifications: notifications})
}

// MarkNotificationRead marks one of the actor's notifications as read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActorFromContext(r.Context())
	if actor == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid notification ID format")
		return
	}

	if err := h.store.MarkNotificationRead(r.Context(), actor.ID, id); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to mark notification read")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
