package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dashboard-sync/src/interfaces"
	"dashboard-sync/src/logger"
	"dashboard-sync/src/models"
	"dashboard-sync/src/observability"
	"dashboard-sync/src/registry"
	"dashboard-sync/src/scheduler"
	"dashboard-sync/src/store"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

// StreamStatus is the liveness view of the push stream.
type StreamStatus interface {
	Connected() bool
	LastPing() time.Time
}

// Deps are the collaborators the server reads from and commands.
// Stream, Market and Metrics are optional.
type Deps struct {
	State     *store.TradingState
	Registry  *registry.SymbolRegistry
	Scheduler *scheduler.PollScheduler
	Source    interfaces.IBackendSource
	Provider  *scheduler.ReadinessGate
	Market    *scheduler.MarketHoursGate
	Stream    StreamStatus
	Metrics   *observability.Metrics
}

// -----------------------------------------------------------------------------
// DashboardServer
// -----------------------------------------------------------------------------

type DashboardServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	deps   Deps
	engine *gin.Engine

	httpMu     sync.Mutex
	httpServer *http.Server

	// WebSocket hub; clients is owned by the hub goroutine.
	clients     map[*Client]struct{}
	clientCount atomic.Int64
	broadcast   chan models.MStateEvent
	register    chan *Client
	unregister  chan *Client
	commands    chan clientCommand
	visibility  *scheduler.VisibilityState

	hubOnce  sync.Once
	stopOnce sync.Once
	done     chan struct{}
	unsubs   []func()
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewDashboardServer(cfg *models.MConfig, deps Deps, log *logger.Logger) *DashboardServer {
	if log == nil {
		log = logger.NewLogger(cfg, "DashboardServer")
	}
	if gin.Mode() == gin.DebugMode && !strings.EqualFold(cfg.LogLevel, "DEBUG") {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &DashboardServer{
		Config:     cfg,
		Logger:     log,
		deps:       deps,
		engine:     gin.New(),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan models.MStateEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan clientCommand, 64),
		done:       make(chan struct{}),
	}
	if deps.Scheduler != nil {
		s.visibility = deps.Scheduler.Visibility()
	}

	s.engine.Use(gin.Recovery(), s.requestLogger(), corsMiddleware())
	s.setupRoutes()

	if deps.State != nil {
		s.unsubs = append(s.unsubs, deps.State.Subscribe(s.Broadcast))
	}
	if deps.Registry != nil {
		s.unsubs = append(s.unsubs, deps.Registry.OnChange(func([]models.MWatchlistItem) {
			s.Broadcast(models.MStateEvent{Kind: models.EventWatchlist, Timestamp: time.Now().UnixMilli()})
		}))
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *DashboardServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *DashboardServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Logger.Debug("%s %s -> %d in %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *DashboardServer) setupRoutes() {
	api := s.engine.Group("/api")

	api.GET("/health", s.getHealth)
	api.GET("/status", s.getStatus)

	api.GET("/watchlist", s.getWatchlist)
	api.POST("/watchlist", s.addSymbol)
	api.DELETE("/watchlist/:symbol", s.removeSymbol)
	api.POST("/watchlist/:symbol/start", s.startSymbol)
	api.POST("/watchlist/:symbol/stop", s.stopSymbol)

	api.POST("/strategy/start", s.startSymbols)
	api.POST("/strategy/stop", s.stopSymbols)
	api.POST("/strategy/start-all", s.startAll)
	api.POST("/strategy/stop-all", s.stopAll)
	api.POST("/strategy/flatten", s.flatten)

	api.GET("/orders/:symbol", s.getOrders)
	api.GET("/fills/:symbol", s.getFills)
	api.GET("/positions/:symbol", s.getPosition)
	api.GET("/quotes", s.getQuotes)
	api.GET("/quotes/:symbol", s.getQuote)
	api.GET("/metrics", s.getMetrics)

	api.POST("/refresh", s.refresh)
	api.PUT("/provider", s.setProvider)

	if s.deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start runs the hub and serves HTTP until Stop. It blocks.
func (s *DashboardServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.startHub()

	s.httpMu.Lock()
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	srv := s.httpServer
	s.httpMu.Unlock()

	s.Logger.Info("Starting server on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

// Stop shuts the HTTP server down gracefully and disconnects every client.
func (s *DashboardServer) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		for _, u := range s.unsubs {
			u()
		}

		s.httpMu.Lock()
		srv := s.httpServer
		s.httpMu.Unlock()
		if srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			err = srv.Shutdown(ctx)
		}

		close(s.done)
		s.Logger.Info("Dashboard server stopped")
	})
	return err
}

var _ interfaces.IDataExchanger = (*DashboardServer)(nil)
