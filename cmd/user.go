package cmd

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/volcanicminds/volcanic-backend/internal/auth"
	"github.com/volcanicminds/volcanic-backend/internal/db/bunx"
	"github.com/volcanicminds/volcanic-backend/internal/db/models"
	"github.com/volcanicminds/volcanic-backend/internal/repository"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "User management commands",
}

var (
	userEmail    string
	userPassword string
	userName     string
	userRoles    string
	userSchema   string
)

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a confirmed user",
	Long:  `Creates a user directly in the database, bypassing registration. Use --schema to target a tenant schema.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if userEmail == "" || userPassword == "" {
			return fmt.Errorf("--email and --password are required")
		}

		db, err := bunx.NewDB(cfg.DatabaseURL, cfg.MaxDBConnections)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		ctx := context.Background()
		session, err := bunx.NewPool(db).Acquire(ctx, userSchema)
		if err != nil {
			return fmt.Errorf("acquire session: %w", err)
		}
		defer func() {
			if err := session.Release(); err != nil {
				log.Printf("Warning: release session: %v", err)
			}
		}()

		hash, err := bcrypt.GenerateFromPassword([]byte(userPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		externalID, err := auth.NewExternalID()
		if err != nil {
			return err
		}

		now := time.Now()
		user := &models.User{
			ID:           uuid.NewString(),
			ExternalID:   externalID,
			Email:        userEmail,
			Name:         userName,
			PasswordHash: string(hash),
			Roles:        splitRoles(userRoles),
			Confirmed:    true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		users := repository.NewBunUserRepository()
		if err := users.Create(ctx, session.DB(), user); err != nil {
			return fmt.Errorf("create user: %w", err)
		}

		log.Printf("Created user %s (id %s, roles %v)", user.Email, user.ID, user.Roles)
		return nil
	},
}

var (
	tokenName  string
	tokenRoles string
)

var tokenCreateCmd = &cobra.Command{
	Use:   "token-create",
	Short: "Create an API token",
	Long:  `Creates a machine credential and prints the external id to embed in issued tokens.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenName == "" {
			return fmt.Errorf("--name is required")
		}

		db, err := bunx.NewDB(cfg.DatabaseURL, cfg.MaxDBConnections)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		ctx := context.Background()
		session, err := bunx.NewPool(db).Acquire(ctx, userSchema)
		if err != nil {
			return fmt.Errorf("acquire session: %w", err)
		}
		defer func() {
			if err := session.Release(); err != nil {
				log.Printf("Warning: release session: %v", err)
			}
		}()

		externalID, err := auth.NewExternalID()
		if err != nil {
			return err
		}
		token := &models.APIToken{
			ID:         uuid.NewString(),
			ExternalID: externalID,
			Name:       tokenName,
			Roles:      splitRoles(tokenRoles),
			CreatedAt:  time.Now(),
		}
		tokens := repository.NewBunTokenRepository()
		if err := tokens.Create(ctx, session.DB(), token); err != nil {
			return fmt.Errorf("create token: %w", err)
		}

		log.Printf("Created API token %s (external id %s)", token.Name, token.ExternalID)
		return nil
	},
}

func splitRoles(raw string) models.RoleList {
	if raw == "" {
		return nil
	}
	var out models.RoleList
	for _, code := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(code); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "User email (required)")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "User password (required)")
	userCreateCmd.Flags().StringVar(&userName, "name", "", "Display name")
	userCreateCmd.Flags().StringVar(&userRoles, "roles", "", "Comma-separated role codes")
	userCreateCmd.Flags().StringVar(&userSchema, "schema", "", "Tenant schema (empty for default)")

	tokenCreateCmd.Flags().StringVar(&tokenName, "name", "", "Token name (required)")
	tokenCreateCmd.Flags().StringVar(&tokenRoles, "roles", "", "Comma-separated role codes")
	tokenCreateCmd.Flags().StringVar(&userSchema, "schema", "", "Tenant schema (empty for default)")

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(tokenCreateCmd)
	rootCmd.AddCommand(userCmd)
}
