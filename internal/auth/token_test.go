package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMintParseRoundTrip(t *testing.T) {
	id := uuid.New()
	token, err := Mint("secret", id, "Nadia", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	actor, err := Parse("secret", token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.ID != id {
		t.Fatalf("id: got %s, want %s", actor.ID, id)
	}
	if actor.DisplayName != "Nadia" {
		t.Fatalf("name: got %s", actor.DisplayName)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := Mint("secret", uuid.New(), "x", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := Parse("other-secret", token); err != ErrInvalidToken {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token, err := Mint("secret", uuid.New(), "x", -time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := Parse("secret", token); err != ErrInvalidToken {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("secret", "not-a-token"); err != ErrInvalidToken {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}
