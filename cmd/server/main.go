package main

import (
	"c4chat/internal/api"
	"c4chat/internal/api/handlers"
	"c4chat/internal/app"
	"c4chat/internal/auth"
	"c4chat/internal/cache"
	"c4chat/internal/config"
	"c4chat/internal/logger"
	"c4chat/internal/repository/postgres"
	"c4chat/internal/service/chat"
	"c4chat/internal/service/llm"
	"c4chat/internal/storage"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:           "c4chat",
	Short:         "Hosted AI chat server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run migrations and start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd.Context(), func(database *postgres.PostgresDB, appConfig *config.AppConfig) error {
			return database.RunMigrations(appConfig.Database.MigrationsPath)
		})
	},
}

var rollbackSteps int

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back applied migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd.Context(), func(database *postgres.PostgresDB, appConfig *config.AppConfig) error {
			return database.RollbackMigrations(appConfig.Database.MigrationsPath, rollbackSteps)
		})
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&rollbackSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Log.WithError(err).Fatal("Command failed")
	}
}

func withDatabase(ctx context.Context, fn func(*postgres.PostgresDB, *config.AppConfig) error) error {
	appConfig, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := postgres.NewPostgresDB(ctx, appConfig.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	return fn(database, appConfig)
}

func serve(ctx context.Context) error {
	// Load configuration
	appConfig, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize database
	logger.Log.Info("Initializing database...")
	database, err := postgres.NewPostgresDB(ctx, appConfig.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.RunMigrations(appConfig.Database.MigrationsPath); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	blobs, err := storage.NewMinIOStore(ctx, appConfig.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize blob storage: %w", err)
	}

	modelCache, err := cache.NewModelCacheFromAddr(ctx, appConfig.Cache.RedisAddr, database, appConfig.Cache.ModelTTL)
	if err != nil {
		return fmt.Errorf("failed to initialize model cache: %w", err)
	}
	defer modelCache.Close()

	appCfg := app.NewConfig(database, appConfig, blobs, modelCache)

	chatService := chat.NewChatService(database, appCfg,
		llm.NewOpenRouterRelay(&appConfig.LLM),
		llm.NewTitleGenerator(&appConfig.LLM, appConfig.Prompts))

	router, err := api.NewRouter(appCfg, auth.New(appCfg), handlers.NewChatHandlers(appCfg, chatService))
	if err != nil {
		return err
	}

	// no write timeout: /postMessage streams for as long as generation runs
	server := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Log.WithField("port", appConfig.Server.Port).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Warn("Server shutdown did not complete cleanly")
	}
	chatService.Wait()

	logger.Log.Info("Server stopped")
	return nil
}
