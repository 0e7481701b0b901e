package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"github.com/volcanicminds/volcanic-backend/internal/db/bunx"
	"github.com/volcanicminds/volcanic-backend/internal/db/models"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management commands",
	Long:  `Commands for creating the shared tables and provisioning tenant schemas.`,
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create shared tables",
	Long:  `Creates the tenants table and the default-schema subject tables. Run this once during initial setup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := bunx.NewDB(cfg.DatabaseURL, cfg.MaxDBConnections)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		ctx := context.Background()
		if _, err := db.NewCreateTable().Model((*models.Tenant)(nil)).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create tenants table: %w", err)
		}
		if err := createSubjectTables(ctx, db); err != nil {
			return err
		}

		log.Printf("Shared tables initialized")
		return nil
	},
}

var dbInitTenantCmd = &cobra.Command{
	Use:   "init-tenant <schema>",
	Short: "Provision a tenant schema",
	Long:  `Creates the schema (PostgreSQL) and the subject tables inside it for one tenant.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schema := args[0]
		if !bunx.ValidSchemaName(schema) {
			return fmt.Errorf("schema name %q must match [A-Za-z0-9_]+", schema)
		}

		db, err := bunx.NewDB(cfg.DatabaseURL, cfg.MaxDBConnections)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		ctx := context.Background()
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, schema)); err != nil {
			return fmt.Errorf("create schema %s: %w", schema, err)
		}

		// Create the tables through a schema-switched session so they land in
		// the tenant's schema, same mechanism the request pipeline uses.
		session, err := bunx.NewPool(db).Acquire(ctx, schema)
		if err != nil {
			return fmt.Errorf("acquire session for schema %s: %w", schema, err)
		}
		defer func() {
			if err := session.Release(); err != nil {
				log.Printf("Warning: release session for schema %s: %v", schema, err)
			}
		}()

		if err := createSubjectTables(ctx, session.DB()); err != nil {
			return err
		}

		log.Printf("Tenant schema %s initialized", schema)
		return nil
	},
}

func createSubjectTables(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateTable().Model((*models.User)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*models.APIToken)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create api_tokens table: %w", err)
	}
	return nil
}

func init() {
	dbCmd.AddCommand(dbInitCmd)
	dbCmd.AddCommand(dbInitTenantCmd)
	rootCmd.AddCommand(dbCmd)
}
