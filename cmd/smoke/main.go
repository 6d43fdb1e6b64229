package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	"authix.org/internal/client"
)

func main() {
	base := os.Getenv("AUTHIX_BASE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	c, err := client.New(base)
	if err != nil {
		log.Fatalf("client for %s: %v", base, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	suffix := fmt.Sprintf("%d", rand.Int63())
	user, err := c.Signup(ctx, client.SignupRequest{
		Name:     "Smoke Test",
		Username: "smoke" + suffix,
		Email:    "smoke" + suffix + "@example.com",
		Password: "smoke-password-" + suffix,
	})
	if err != nil {
		log.Fatalf("signup: %v", err)
	}

	profile, err := c.Profile(ctx)
	if err != nil {
		log.Fatalf("profile: %v", err)
	}
	if profile.ID != user.ID {
		log.Fatalf("profile id mismatch: %s != %s", profile.ID, user.ID)
	}
	if len(profile.Roles) == 0 {
		log.Fatalf("expected the default role on a fresh account")
	}
	if _, err := c.Profile(ctx); err != nil {
		log.Fatalf("cached profile: %v", err)
	}

	if err := c.Refresh(ctx); err != nil {
		log.Fatalf("refresh: %v", err)
	}
	if _, err := c.ListRoles(ctx); !client.IsStatus(err, http.StatusForbidden) {
		log.Fatalf("expected 403 listing roles without roles.read, got %v", err)
	}

	if err := c.Logout(ctx); err != nil {
		log.Fatalf("logout: %v", err)
	}
	if err := c.Refresh(ctx); !client.IsStatus(err, http.StatusUnauthorized) {
		log.Fatalf("expected 401 refreshing after logout, got %v", err)
	}

	fmt.Printf("smoke ok: user=%s roles=%d\n", user.Username, len(profile.Roles))
}
