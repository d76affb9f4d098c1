package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atelierhq/atelier/internal/models"
)

const presenceTTL = 45 * time.Second

// RedisStore handles Redis operations: rate limiting, the presence key
// registry, and the pub/sub client shared by the change-feed and ephemeral
// channel bridges.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for pub/sub consumers.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// presenceKey returns the key for an actor's presence entry in a scope.
func presenceKey(scope, actorID string) string {
	return fmt.Sprintf("presence:%s:%s", scope, actorID)
}

// TrackPresence records an actor's presence in a scope. The TTL keeps
// crashed clients from lingering; live sessions refresh on re-announce.
func (s *RedisStore) TrackPresence(ctx context.Context, scope string, state models.PresenceState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, presenceKey(scope, state.ActorID), data, presenceTTL).Err()
}

// UntrackPresence drops an actor's presence entry.
func (s *RedisStore) UntrackPresence(ctx context.Context, scope, actorID string) error {
	return s.client.Del(ctx, presenceKey(scope, actorID)).Err()
}

// ScopePresence returns every announced presence state in a scope.
func (s *RedisStore) ScopePresence(ctx context.Context, scope string) ([]models.PresenceState, error) {
	var states []models.PresenceState

	pattern := fmt.Sprintf("presence:%s:*", scope)
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue // Expired between scan and get
		}
		var state models.PresenceState
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		states = append(states, state)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return states, nil
}
