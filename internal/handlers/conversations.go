package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/api/middleware"
	"github.com/atelierhq/atelier/internal/chat"
)

// ListConversationsResponse represents the conversation list response.
type ListConversationsResponse struct {
	Conversations []chat.ConversationView `json:"conversations"`
}

// ListConversations returns the actor's conversations, most recent
// activity first, each with counterpart, last message, and unread count.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActorFromContext(r.Context())
	if actor == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	views, err := h.chat.ListConversations(r.Context(), actor.ID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	if views == nil {
		views = []chat.ConversationView{}
	}

	h.JSON(w, http.StatusOK, ListConversationsResponse{Conversations: views})
}

// CreateConversationRequest represents the create-or-get request body.
type CreateConversationRequest struct {
	ParticipantID string `json:"participant_id"`
}

// CreateConversation returns the conversation with the given member,
// creating it on first use. 201 on create, 200 when it already existed.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActorFromContext(r.Context())
	if actor == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	otherID, err := uuid.Parse(req.ParticipantID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid participant ID format")
		return
	}

	conv, created, err := h.chat.CreateOrGet(r.Context(), actor.ID, otherID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.JSON(w, status, conv)
}

// GetConversation returns one conversation's denormalized view.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActorFromContext(r.Context())
	if actor == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID format")
		return
	}

	view, err := h.chat.View(r.Context(), actor.ID, convID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, view)
}
