// seed creates a default tenant and an ADMIN principal for local testing.
// Idempotent: skips inserts if the admin email already exists.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"tenant-auth-service/internal/config"
	"tenant-auth-service/internal/db"
	"tenant-auth-service/internal/principal/domain"
	principalrepo "tenant-auth-service/internal/principal/repository"
	"tenant-auth-service/internal/security"
)

const (
	defaultAdminEmail    = "admin@example.com"
	defaultAdminPassword = "password123"
	defaultTenantName    = "Default Tenant"
)

func main() {
	email := flag.String("email", envOr("SEED_ADMIN_EMAIL", defaultAdminEmail), "admin email")
	password := flag.String("password", envOr("SEED_ADMIN_PASSWORD", defaultAdminPassword), "admin password")
	tenant := flag.String("tenant", defaultTenantName, "default tenant name")
	flag.Parse()

	cfg, err := config.Read()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or set DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	existing, err := principalrepo.NewPostgresRepository(conn).GetCredentialByEmail(ctx, *email)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists). Skipping.", *email)
		return
	}

	hash, err := security.NewHasher(cfg.BcryptCost).Hash([]byte(*password))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	var adminID int64
	err = db.WithTx(ctx, conn, func(ctx context.Context, tx db.DBTX) error {
		now := time.Now().UTC()
		var tenantID int64
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO tenants (name, address, created_at, updated_at) VALUES ($1, $2, $3, $3) RETURNING id`,
			*tenant, "", now,
		).Scan(&tenantID); err != nil {
			return fmt.Errorf("create tenant: %w", err)
		}
		id, err := principalrepo.NewPostgresRepository(tx).Create(ctx, &domain.Principal{
			FirstName: "Admin",
			LastName:  "User",
			Email:     *email,
			Role:      domain.RoleAdmin,
			TenantID:  &tenantID,
		}, hash)
		if err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		adminID = id
		return nil
	})
	if err != nil {
		log.Fatalf("seed: %v", err)
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Admin login (id %d): %s / %s\n", adminID, *email, *password)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
