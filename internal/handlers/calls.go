package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/api/middleware"
	"github.com/atelierhq/atelier/internal/models"
)

// InitiateCallRequest represents the call initiation request body.
type InitiateCallRequest struct {
	RecipientID string `json:"recipient_id"`
	Kind        string `json:"kind"` // "voice" or "video"
}

// InitiateCallResponse carries the new call record and the recipient's
// profile for the caller's outgoing-call view.
type InitiateCallResponse struct {
	Call      *models.Call    `json:"call"`
	Recipient *models.Profile `json:"recipient"`
}

// InitiateCall starts a ringing call to another member.
func (h *Handler) InitiateCall(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActorFromContext(r.Context())
	if actor == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req InitiateCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	recipientID, err := uuid.Parse(req.RecipientID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid recipient ID format")
		return
	}

	callRec, recipient, err := h.calls.Initiate(r.Context(), actor.ID, recipientID, req.Kind)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, InitiateCallResponse{Call: callRec, Recipient: recipient})
}

// GetCall returns a call record visible to the actor.
func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActorFromContext(r.Context())
	if actor == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	callID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid call ID format")
		return
	}

	callRec, err := h.calls.Get(r.Context(), callID, actor.ID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, callRec)
}

// AcceptCall answers a ringing call. Recipient only.
func (h *Handler) AcceptCall(w http.ResponseWriter, r *http.Request) {
	h.transitionCall(w, r, "accept")
}

// RejectCall declines a ringing call. Recipient only.
func (h *Handler) RejectCall(w http.ResponseWriter, r *http.Request) {
	h.transitionCall(w, r, "reject")
}

// EndCall hangs up. Either participant.
func (h *Handler) EndCall(w http.ResponseWriter, r *http.Request) {
	h.transitionCall(w, r, "end")
}

func (h *Handler) transitionCall(w http.ResponseWriter, r *http.Request, action string) {
	actor := middleware.GetActorFromContext(r.Context())
	if actor == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	callID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid call ID format")
		return
	}

	var callRec *models.Call
	switch action {
	case "accept":
		callRec, err = h.calls.Accept(r.Context(), callID, actor.ID)
	case "reject":
		callRec, err = h.calls.Reject(r.Context(), callID, actor.ID)
	case "end":
		callRec, err = h.calls.End(r.Context(), callID, actor.ID)
	}
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, callRec)
}

// SignalRequest represents an opaque peer-connection signal.
type SignalRequest struct {
	Type    string          `json:"type"` // "offer", "answer", "candidate"
	Payload json.RawMessage `json:"payload"`
}

// Signal relays an opaque signaling payload to the other participant over
// the call's ephemeral channel.
func (h *Handler) Signal(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActorFromContext(r.Context())
	if actor == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	callID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid call ID format")
		return
	}

	var req SignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.calls.Relay(r.Context(), callID, actor.ID, req.Type, req.Payload); err != nil {
		h.ServiceError(w, err)
		return
	}

	h.JSON(w, http.StatusAccepted, map[string]string{"status": "relayed"})
}
