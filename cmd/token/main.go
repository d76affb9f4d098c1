package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/auth"
)

func main() {
	secret := flag.String("secret", "atelier-dev-secret", "Token signing secret (TOKEN_SECRET)")
	actorID := flag.String("actor", "", "Actor UUID (random if omitted)")
	name := flag.String("name", "dev", "Display name")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	id := uuid.New()
	if *actorID != "" {
		parsed, err := uuid.Parse(*actorID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid actor UUID: %v\n", err)
			os.Exit(1)
		}
		id = parsed
	}

	token, err := auth.Mint(*secret, id, *name, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to mint token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Actor ID: %s\n", id)
	fmt.Printf("Token:    %s\n", token)
}
