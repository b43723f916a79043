// Package api is the HTTP/WebSocket control surface (§6.1): bot
// lifecycle, manual trades, trade history, and a live event stream.
// Grounded on the teacher's internal/api/server.go gin.Engine +
// gin-contrib/cors wiring, trimmed from its multi-tenant billing/license/
// autopilot surface down to the eight routes SPEC_FULL.md names.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"cyphertrade/internal/auth"
	"cyphertrade/internal/botmgr"
	"cyphertrade/internal/events"
	"cyphertrade/internal/position"
)

// TradeHistory is the read-side query surface GET /trades needs.
type TradeHistory interface {
	TradeHistory(ctx context.Context, symbol string, limit int) ([]position.Trade, error)
}

// ServerConfig holds the HTTP bind address and mode.
type ServerConfig struct {
	Host           string
	Port           int
	ProductionMode bool
}

// Server is the control-plane HTTP/WS surface.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	bots        *botmgr.Manager
	trades      TradeHistory
	bus         *events.Bus
	authService *auth.Service // nil disables auth entirely (local/dev only)
	logger      zerolog.Logger
}

// NewServer builds the gin router and registers every route.
func NewServer(cfg ServerConfig, bots *botmgr.Manager, trades TradeHistory, bus *events.Bus, authService *auth.Service, logger zerolog.Logger) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		bots:        bots,
		trades:      trades,
		bus:         bus,
		authService: authService,
		logger:      logger,
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the WS stream holds connections open indefinitely
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.router.Group("/api/v1")

	if s.authService != nil {
		v1.POST("/auth/login", s.handleLogin)
		v1.Use(auth.Middleware(s.authService.JWTManager()))
	}

	v1.POST("/bots", s.handleStartBot)
	v1.POST("/bots/:id/stop", s.handleStopBot)
	v1.GET("/bots/:id", s.handleGetBot)
	v1.GET("/bots", s.handleListBots)
	v1.POST("/bots/:id/trade", s.handleManualTrade)
	v1.GET("/trades", s.handleTradeHistory)
	v1.GET("/ws/events", s.handleEventStream)
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
