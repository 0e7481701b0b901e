package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/volcanicminds/volcanic-backend/internal/auth"
	"github.com/volcanicminds/volcanic-backend/internal/db/bunx"
	vmiddleware "github.com/volcanicminds/volcanic-backend/internal/middleware"
	"github.com/volcanicminds/volcanic-backend/internal/rbac"
	"github.com/volcanicminds/volcanic-backend/internal/repository"
	"github.com/volcanicminds/volcanic-backend/internal/roles"
	"github.com/volcanicminds/volcanic-backend/internal/server"
	"github.com/volcanicminds/volcanic-backend/internal/tenant"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the backend HTTP server",
	Long:  `Starts the HTTP server with the security pipeline, built-in auth endpoints, and tenant administration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Connect to database
		db, err := bunx.NewDB(cfg.DatabaseURL, cfg.MaxDBConnections)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		log.Printf("Connected to database")

		// Initialize repositories
		userRepo := repository.NewBunUserRepository()
		tokenRepo := repository.NewBunTokenRepository()
		tenantRepo := repository.NewBunTenantRepository(db)

		// Role table: built-ins plus configured extras, frozen before serving.
		registry, err := roles.NewRegistry(cfg.ExtraRoles...)
		if err != nil {
			return fmt.Errorf("build role registry: %w", err)
		}

		enforcer, err := rbac.NewEnforcer(registry)
		if err != nil {
			return fmt.Errorf("configure rbac enforcer: %w", err)
		}

		transport, err := auth.NewTransport(cfg.Auth)
		if err != nil {
			return fmt.Errorf("configure auth transport: %w", err)
		}

		pool := bunx.NewPool(db)
		if cfg.MultiTenant.Enabled && !pool.SupportsSchemaIsolation() {
			return fmt.Errorf("multi-tenant mode: %w", bunx.ErrSchemaIsolationUnsupported)
		}
		sessions := vmiddleware.NewPoolSource(pool)

		var resolver *tenant.Resolver
		if cfg.MultiTenant.Enabled {
			resolver = tenant.NewResolver(cfg.MultiTenant, tenantRepo)
			log.Printf("Multi-tenant mode enabled (resolver: %s)", cfg.MultiTenant.Resolver)
		}

		deps := vmiddleware.SecurityDependencies{
			Cfg:       cfg,
			Verifier:  auth.NewVerifier(cfg.Auth.Secret),
			Transport: transport,
			Resolver:  resolver,
			Sessions:  sessions,
			Users:     userRepo,
			Tokens:    tokenRepo,
			Enforcer:  enforcer,
		}

		handlers := &server.Handlers{
			Cfg:       cfg,
			Issuer:    auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL, cfg.Auth.PreAuthTTL),
			Transport: transport,
			Users:     userRepo,
			Tokens:    tokenRepo,
			Tenants:   tenantRepo,
			Sessions:  sessions,
		}

		r, err := server.NewRouter(server.RouterOptions{
			Cfg:      cfg,
			Deps:     deps,
			Enforcer: enforcer,
			Routes:   handlers.Routes(),
		})
		if err != nil {
			return fmt.Errorf("assemble router: %w", err)
		}

		// h2c keeps HTTP/2 available to clients without TLS termination here.
		h2cHandler := h2c.NewHandler(r, &http2.Server{})

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      h2cHandler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		// Start server in goroutine
		serverErrors := make(chan error, 1)
		go func() {
			log.Printf("Starting server on %s", cfg.ServerAddr)
			serverErrors <- srv.ListenAndServe()
		}()

		// Wait for interrupt signal
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			log.Printf("Received signal %v, shutting down gracefully", sig)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}

			log.Printf("Server stopped")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
