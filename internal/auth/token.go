// Package auth verifies bearer tokens issued by the external identity
// provider. The service does not own authentication; it only extracts the
// acting member's id and display name from a signed token.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// Actor is the ambient identity carried by a verified token.
type Actor struct {
	ID          uuid.UUID
	DisplayName string
}

// Mint creates a signed token for an actor. Used by cmd/token and tests;
// in production tokens come from the identity provider.
func Mint(secret string, actorID uuid.UUID, displayName string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  actorID.String(),
		"name": displayName,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Parse verifies a token and returns the actor it identifies.
func Parse(secret, tokenStr string) (*Actor, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	id, err := uuid.Parse(sub)
	if err != nil {
		return nil, ErrInvalidToken
	}

	name, _ := claims["name"].(string)

	return &Actor{ID: id, DisplayName: name}, nil
}
