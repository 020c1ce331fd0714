// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vitalsync/internal/models"
	"github.com/vitalsync/internal/service"
	"github.com/vitalsync/internal/types"
	"github.com/vitalsync/internal/worker"
)

// Service interfaces for dependency injection and testing

// SyncServiceInterface defines the sync orchestrator operations the API exposes
type SyncServiceInterface interface {
	SyncUser(ctx context.Context, userID string, trigger types.SyncTrigger) (*models.SyncLog, error)
	GetSyncLog(ctx context.Context, jobID string) (*models.SyncLog, error)
	GetSyncStats(ctx context.Context, window time.Duration) (*service.SyncStatsReport, error)
	GetUserSyncHistory(ctx context.Context, userID string, limit, offset int) ([]*models.SyncLog, error)
}

// SchedulerInterface defines the scheduler operations the API exposes
type SchedulerInterface interface {
	TriggerManualSync(ctx context.Context, maxUsers int) (*service.CycleStats, error)
	GetStatus() *worker.SchedulerStatus
}

// UserServiceInterface defines the user operations the API exposes
type UserServiceInterface interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	SetAccessToken(ctx context.Context, userID string, encryptedToken string) error
}

// TokenEncrypter seals a plaintext upstream token for storage.
type TokenEncrypter interface {
	Encrypt(token string) (string, error)
}

// Server represents the HTTP API server.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	syncService SyncServiceInterface
	scheduler   SchedulerInterface
	userService UserServiceInterface
	vault       TokenEncrypter
	config      *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	APIKey          string // empty disables API key auth
	FreeTierRPS     int    // Requests per second for free tier
	PaidTierRPS     int    // Requests per second for paid tier
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	syncService SyncServiceInterface,
	scheduler SchedulerInterface,
	userService UserServiceInterface,
	vault TokenEncrypter,
) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		syncService: syncService,
		scheduler:   scheduler,
		userService: userService,
		vault:       vault,
		config:      config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Create rate limiter
	rateLimiter := NewRateLimiter(s.config.FreeTierRPS, s.config.PaidTierRPS)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(APIKeyMiddleware(s.config.APIKey))
	s.router.Use(RateLimitMiddleware(rateLimiter)) // Rate limiting after auth
	s.router.Use(CompressionMiddleware)

	// Set up routes
	s.setupRoutes()

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// API v1 routes
	api := s.router.PathPrefix("/api").Subrouter()

	// Sync endpoints
	api.HandleFunc("/sync/trigger", s.handleTriggerSync).Methods("POST")
	api.HandleFunc("/sync/status", s.handleSyncStatus).Methods("GET")
	api.HandleFunc("/sync/stats", s.handleSyncStats).Methods("GET")
	api.HandleFunc("/sync/jobs/{jobId}", s.handleGetSyncJob).Methods("GET")

	// User endpoints
	api.HandleFunc("/users", s.handleCreateUser).Methods("POST")
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods("GET")
	api.HandleFunc("/users/{id}/token", s.handleSetUserToken).Methods("PUT")
	api.HandleFunc("/users/{id}/sync", s.handleSyncUser).Methods("POST")
	api.HandleFunc("/users/{id}/sync/history", s.handleGetSyncHistory).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "vitalsync",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
