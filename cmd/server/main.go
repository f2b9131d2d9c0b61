package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/ledgerdesk/backend/docs"
	"github.com/ledgerdesk/backend/internal/auth"
	"github.com/ledgerdesk/backend/internal/database"
	mW "github.com/ledgerdesk/backend/internal/middleware"
	"github.com/ledgerdesk/backend/internal/models"
	"github.com/ledgerdesk/backend/internal/services"
)

// @title Ledgerdesk API
// @version 1.0
// @description Personal accounting backend: ledgers, vouchers, and a
// @description role-gated admin surface with an append-only audit trail
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")

	viper.BindEnv("seed.admin_name", "SEED_ADMIN_NAME")
	viper.BindEnv("seed.admin_email", "SEED_ADMIN_EMAIL")
	viper.BindEnv("seed.admin_password", "SEED_ADMIN_PASSWORD")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	viper.SetDefault("seed.admin_name", "Administrator")
	viper.SetDefault("seed.admin_email", "admin@example.com")
	viper.SetDefault("seed.admin_password", "admin123")

	if viper.GetString("jwt.secret_key") == "" {
		log.Fatal("JWT_SECRET_KEY must be set")
	}

	// Initialize storage
	db := database.InitDatabase()
	defer database.CloseDB()

	ctx := context.Background()
	if err := database.RunMigrations(ctx, db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	if err := services.SeedMasterAdmin(db,
		viper.GetString("seed.admin_name"),
		viper.GetString("seed.admin_email"),
		viper.GetString("seed.admin_password"),
	); err != nil {
		log.Fatalf("Failed to seed master admin: %v", err)
	}

	// Initialize services
	tokens := auth.NewTokenService()
	recorder := services.NewAuditRecorder(db)
	authService := services.NewAuthService(db, tokens, recorder)
	userService := services.NewUserService(db, recorder)
	ledgerService := services.NewLedgerService(db, recorder)
	transactionService := services.NewTransactionService(db, recorder)
	auditService := services.NewAuditService(db)

	authenticated := mW.Authenticator(db, tokens)
	anyAccount := mW.RequireRoles(models.RoleMasterAdmin, models.RoleUser)
	masterOnly := mW.RequireRoles(models.RoleMasterAdmin)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/login", authService.Login)

		// Protected endpoints (any authenticated account)
		r.Group(func(r chi.Router) {
			r.Use(authenticated)
			r.Use(anyAccount)

			r.Get("/auth/me", authService.Me)
			r.Post("/auth/logout", authService.Logout)
			r.Put("/auth/change-password", authService.ChangePassword)

			r.Get("/ledgers", ledgerService.List)
			r.Get("/ledgers/summary", ledgerService.Summary)
			r.Get("/ledgers/{id}", ledgerService.Get)
			r.Post("/ledgers", ledgerService.Create)
			r.Put("/ledgers/{id}", ledgerService.Update)

			r.Get("/transactions", transactionService.List)
			r.Get("/transactions/stats", transactionService.Stats)
			r.Get("/transactions/{id}", transactionService.Get)
			r.Post("/transactions", transactionService.Create)
			r.Put("/transactions/{id}", transactionService.Update)
			r.Delete("/transactions/{id}", transactionService.Delete)
		})

		// Master admin endpoints
		r.Group(func(r chi.Router) {
			r.Use(authenticated)
			r.Use(masterOnly)

			r.Post("/auth/register", userService.Create)
			r.Delete("/ledgers/{id}", ledgerService.Delete)

			r.Get("/admin/users", userService.List)
			r.Get("/admin/users/{id}", userService.Get)
			r.Put("/admin/users/{id}", userService.Update)
			r.Put("/admin/users/{id}/activate", userService.Activate)
			r.Put("/admin/users/{id}/deactivate", userService.Deactivate)
			r.Delete("/admin/users/{id}", userService.Delete)
			r.Put("/admin/users/{id}/reset-password", userService.ResetPassword)

			r.Get("/admin/audit-logs", auditService.ListLogs)
			r.Get("/admin/audit-logs/stats", auditService.Stats)
			r.Get("/admin/audit-logs/recent", auditService.Recent)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
