// Package api exposes the signal engine over HTTP: evaluation, outcome
// reporting, signal history, breaker control and a WebSocket event stream.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"market-structure-engine/internal/auth"
	"market-structure-engine/internal/cache"
	"market-structure-engine/internal/circuit"
	"market-structure-engine/internal/engine"
	"market-structure-engine/internal/events"
	"market-structure-engine/internal/retrain"
	"market-structure-engine/internal/scoring"
	"market-structure-engine/internal/signal"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ProductionMode bool     `json:"production_mode"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      ServerConfig
	engine      *engine.Engine
	records     signal.Store
	breakers    *circuit.Manager
	holder      *scoring.TableHolder
	trainer     *retrain.Trainer
	cacheSvc    *cache.CacheService // nil when Redis is disabled
	authService *auth.Service       // nil when auth is disabled
	jwtManager  *auth.JWTManager
	hub         *WSHub
	rateLimiter *RateLimiter
	logger      zerolog.Logger
	startedAt   time.Time
}

// Deps bundles the server's collaborators
type Deps struct {
	Engine      *engine.Engine
	Records     signal.Store
	Breakers    *circuit.Manager
	Holder      *scoring.TableHolder
	Trainer     *retrain.Trainer
	Cache       *cache.CacheService
	AuthService *auth.Service
	JWTManager  *auth.JWTManager
	Bus         *events.EventBus
	Logger      zerolog.Logger
}

// NewServer creates the API server and registers all routes
func NewServer(config ServerConfig, deps Deps) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		config:      config,
		engine:      deps.Engine,
		records:     deps.Records,
		breakers:    deps.Breakers,
		holder:      deps.Holder,
		trainer:     deps.Trainer,
		cacheSvc:    deps.Cache,
		authService: deps.AuthService,
		jwtManager:  deps.JWTManager,
		hub:         NewWSHub(deps.Bus, deps.Logger),
		rateLimiter: NewRateLimiter(120, time.Minute),
		logger:      deps.Logger.With().Str("component", "api").Logger(),
		startedAt:   time.Now(),
	}

	server.setupRoutes()
	return server
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !s.rateLimiter.Allow(path) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
				"path":  path,
			})
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.hub.handleWebSocket)

	authEnabled := s.authService != nil
	s.router.GET("/api/auth/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"enabled": authEnabled})
	})
	if authEnabled {
		authGroup := s.router.Group("/api/auth")
		authGroup.POST("/login", s.authService.HandleLogin)
		authGroup.POST("/refresh", s.authService.HandleRefresh)
	}

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	if authEnabled {
		api.Use(auth.Middleware(s.jwtManager))
	}

	api.POST("/evaluate", s.handleEvaluate)
	api.POST("/outcomes/:id", s.handleOutcome)
	api.GET("/signals", s.handleListSignals)
	api.GET("/signals/:id", s.handleGetSignal)
	api.GET("/signals/last/:symbol/:timeframe", s.handleLastSignal)
	api.GET("/breakers", s.handleBreakers)
	api.GET("/weights", s.handleWeights)

	admin := api.Group("")
	if authEnabled {
		admin.Use(auth.AdminOnly())
	}
	admin.POST("/breakers/:symbol/reset", s.handleBreakerReset)
	admin.POST("/retrain", s.handleRetrain)
}

// Start runs the hub and the HTTP listener. Blocks until the listener stops.
func (s *Server) Start() error {
	go s.hub.Run()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}
