// genkey mints an API key for an existing user.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go -user <uuid> [-name "ci key"]
//	go run scripts/genkey/main.go -tenant <uuid> -email alice@example.com [-name "ci key"]
//
// Connects via DATABASE_URL, hashes the key with argon2id, and stores only
// the hash and lookup prefix. The plaintext is printed once and cannot be
// recovered; exchange it for a JWT at POST /auth/token.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ashita-ai/kotoba/internal/auth"
	"github.com/ashita-ai/kotoba/internal/model"
	"github.com/ashita-ai/kotoba/internal/storage"
)

func main() {
	userFlag := flag.String("user", "", "user id to attach the key to")
	tenantFlag := flag.String("tenant", "", "tenant id (required with -email)")
	emailFlag := flag.String("email", "", "look the user up by email instead of id")
	nameFlag := flag.String("name", "api key", "display name stored with the key")
	flag.Parse()

	_ = godotenv.Load()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "error: DATABASE_URL is not set")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	db, err := storage.New(ctx, dsn, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: connect: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	user, err := resolveUser(ctx, db, *userFlag, *tenantFlag, *emailFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	key, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	created, err := db.CreateAPIKey(ctx, model.APIKey{
		UserID:   user.ID,
		TenantID: user.TenantID,
		Name:     *nameFlag,
		Prefix:   prefix,
		KeyHash:  hash,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: store key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("key id:  %s\n", created.ID)
	fmt.Printf("user:    %s (%s)\n", user.Email, user.ID)
	fmt.Printf("api key: %s\n", key)
	fmt.Println("The plaintext above is shown once and cannot be recovered.")
}

func resolveUser(ctx context.Context, db *storage.DB, userID, tenantID, email string) (model.User, error) {
	switch {
	case userID != "":
		id, err := uuid.Parse(userID)
		if err != nil {
			return model.User{}, fmt.Errorf("invalid -user: %w", err)
		}
		return db.GetUser(ctx, id)
	case email != "":
		if tenantID == "" {
			return model.User{}, fmt.Errorf("-email requires -tenant")
		}
		tid, err := uuid.Parse(tenantID)
		if err != nil {
			return model.User{}, fmt.Errorf("invalid -tenant: %w", err)
		}
		return db.GetUserByEmail(ctx, tid, email)
	default:
		return model.User{}, fmt.Errorf("one of -user or -email is required")
	}
}
