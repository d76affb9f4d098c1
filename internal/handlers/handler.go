package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/atelierhq/atelier/internal/call"
	"github.com/atelierhq/atelier/internal/chat"
	"github.com/atelierhq/atelier/internal/feed"
	"github.com/atelierhq/atelier/internal/presence"
	"github.com/atelierhq/atelier/internal/realtime"
	"github.com/atelierhq/atelier/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store    store.DataStore
	redis    *store.RedisStore // nil in single-instance mode
	chat     *chat.Service
	calls    *call.Coordinator
	tracker  *presence.Tracker
	channels *realtime.Channels
	bus      *feed.Bus
	logger   zerolog.Logger
}

// NewHandler creates a new Handler with the given stores and services.
func NewHandler(ds store.DataStore, redis *store.RedisStore, chatSvc *chat.Service, calls *call.Coordinator, tracker *presence.Tracker, channels *realtime.Channels, bus *feed.Bus, logger zerolog.Logger) *Handler {
	return &Handler{
		store:    ds,
		redis:    redis,
		chat:     chatSvc,
		calls:    calls,
		tracker:  tracker,
		channels: channels,
		bus:      bus,
		logger:   logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// ServiceError maps domain errors onto HTTP statuses. Unknown errors are
// logged and flattened to a 500 without leaking internals.
func (h *Handler) ServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrConversationNotFound),
		errors.Is(err, chat.ErrProfileNotFound),
		errors.Is(err, call.ErrCallNotFound),
		errors.Is(err, call.ErrRecipientNotFound):
		h.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrNotParticipant),
		errors.Is(err, call.ErrNotRecipient),
		errors.Is(err, call.ErrNotInvolved):
		h.Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrBodyTooLong),
		errors.Is(err, chat.ErrInvalidKind),
		errors.Is(err, chat.ErrSelfConversation),
		errors.Is(err, call.ErrInvalidKind),
		errors.Is(err, call.ErrSelfCall),
		errors.Is(err, call.ErrInvalidSignal):
		h.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, call.ErrInvalidTransition):
		h.Error(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error().Err(err).Msg("request failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// sanitizeQuery trims and limits a search query to 100 characters,
// removing control characters.
func sanitizeQuery(q string) string {
	q = strings.TrimSpace(q)

	// Remove control characters
	q = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, q)

	if len(q) > 100 {
		q = q[:100]
	}

	return q
}
