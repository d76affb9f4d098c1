package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/atelierhq/atelier/internal/auth"
	"github.com/atelierhq/atelier/internal/store"
)

type contextKey string

const ActorContextKey contextKey = "actor"

// AuthMiddleware verifies bearer tokens for authenticated endpoints.
type AuthMiddleware struct {
	store  store.DataStore
	secret string
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(ds store.DataStore, secret string) *AuthMiddleware {
	return &AuthMiddleware{store: ds, secret: secret}
}

// RequireAuth verifies the request's token and loads the actor into the
// context. Tokens arrive as an Authorization bearer header, or as a
// ?token= query parameter for WebSocket upgrades where custom headers
// are unavailable.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := bearerToken(r)
		if tokenStr == "" {
			tokenStr = r.URL.Query().Get("token")
		}
		if tokenStr == "" {
			jsonError(w, http.StatusUnauthorized, "missing token")
			return
		}

		actor, err := auth.Parse(m.secret, tokenStr)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		// First sight of an actor materializes its profile, so identity
		// issued upstream works without a separate registration step.
		if err := m.ensureProfile(r.Context(), actor); err != nil {
			jsonError(w, http.StatusInternalServerError, "profile lookup failed")
			return
		}

		ctx := context.WithValue(r.Context(), ActorContextKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) ensureProfile(ctx context.Context, actor *auth.Actor) error {
	profile, err := m.store.GetProfile(ctx, actor.ID)
	if err != nil {
		return err
	}
	if profile != nil {
		return nil
	}
	_, err = m.store.UpsertProfile(ctx, actor.ID, actor.DisplayName)
	return err
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetActorFromContext retrieves the authenticated actor from the request context.
func GetActorFromContext(ctx context.Context) *auth.Actor {
	actor, ok := ctx.Value(ActorContextKey).(*auth.Actor)
	if !ok {
		return nil
	}
	return actor
}
