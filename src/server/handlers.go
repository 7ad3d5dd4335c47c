package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"dashboard-sync/src/helpers"
	"dashboard-sync/src/models"
	"dashboard-sync/src/normalizer"
	"dashboard-sync/src/scheduler"

	"github.com/gin-gonic/gin"
)

type symbolRequest struct {
	Symbol string `json:"symbol"`
}

type symbolsRequest struct {
	Symbols []string `json:"symbols"`
}

type providerRequest struct {
	Provider string `json:"provider"`
}

// -----------------------------------------------------------------------------
// Health / Status
// -----------------------------------------------------------------------------

func (s *DashboardServer) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": s.clientCount.Load(),
		"timestamp":   time.Now().UnixMilli(),
	})
}

// -----------------------------------------------------------------------------

func (s *DashboardServer) getStatus(c *gin.Context) {
	resp := gin.H{
		"connections": s.clientCount.Load(),
	}
	if s.deps.Scheduler != nil {
		resp["scheduler"] = s.deps.Scheduler.Status()
		resp["visible"] = s.deps.Scheduler.Visibility().IsVisible()
	}
	if s.deps.Source != nil {
		resp["provider"] = s.deps.Source.Provider()
	}
	if s.deps.Registry != nil {
		resp["busy"] = s.deps.Registry.Busy()
	}
	if s.deps.Stream != nil {
		stream := gin.H{"connected": s.deps.Stream.Connected()}
		if ping := s.deps.Stream.LastPing(); !ping.IsZero() {
			stream["last_ping"] = ping.UnixMilli()
		}
		resp["stream"] = stream
	}
	if s.deps.Market != nil {
		resp["market_open"] = s.deps.Market.Ready()
		resp["markets"] = s.deps.Market.MICs()
	}
	c.JSON(http.StatusOK, resp)
}

// -----------------------------------------------------------------------------
// Watchlist
// -----------------------------------------------------------------------------

func (s *DashboardServer) getWatchlist(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Registry.Items())
}

func (s *DashboardServer) addSymbol(c *gin.Context) {
	var req symbolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	created, err := s.deps.Registry.Add(req.Symbol)
	if err != nil {
		s.writeError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, s.deps.Registry.Items())
}

func (s *DashboardServer) removeSymbol(c *gin.Context) {
	symbol := normalizer.NormalizeSymbol(c.Param("symbol"))
	if !s.deps.Registry.Remove(symbol) {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not in watchlist"})
		return
	}
	s.deps.State.RemoveSymbol(symbol)
	c.JSON(http.StatusOK, s.deps.Registry.Items())
}

// -----------------------------------------------------------------------------
// Commands
// -----------------------------------------------------------------------------

func (s *DashboardServer) startSymbol(c *gin.Context) {
	s.command(c, func(ctx context.Context) error {
		return s.deps.Registry.Start(ctx, c.Param("symbol"))
	})
}

func (s *DashboardServer) stopSymbol(c *gin.Context) {
	s.command(c, func(ctx context.Context) error {
		return s.deps.Registry.Stop(ctx, c.Param("symbol"))
	})
}

func (s *DashboardServer) startSymbols(c *gin.Context) {
	var req symbolsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	s.command(c, func(ctx context.Context) error {
		return s.deps.Registry.Start(ctx, req.Symbols...)
	})
}

func (s *DashboardServer) stopSymbols(c *gin.Context) {
	var req symbolsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	s.command(c, func(ctx context.Context) error {
		return s.deps.Registry.Stop(ctx, req.Symbols...)
	})
}

func (s *DashboardServer) startAll(c *gin.Context) {
	s.command(c, s.deps.Registry.StartAll)
}

func (s *DashboardServer) stopAll(c *gin.Context) {
	s.command(c, s.deps.Registry.StopAll)
}

// flatten accepts an optional {"symbols": [...]} body.
func (s *DashboardServer) flatten(c *gin.Context) {
	var req symbolsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, err)
			return
		}
	}
	s.command(c, func(ctx context.Context) error {
		return s.deps.Registry.Flatten(ctx, req.Symbols...)
	})
}

func (s *DashboardServer) command(c *gin.Context, fn func(context.Context) error) {
	if err := fn(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Registry.Items())
}

// -----------------------------------------------------------------------------
// Selectors
// -----------------------------------------------------------------------------

func (s *DashboardServer) getOrders(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.State.Orders(c.Param("symbol")))
}

func (s *DashboardServer) getFills(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.State.Fills(c.Param("symbol")))
}

func (s *DashboardServer) getPosition(c *gin.Context) {
	p, ok := s.deps.State.Position(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no position"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *DashboardServer) getQuotes(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.State.Quotes())
}

func (s *DashboardServer) getQuote(c *gin.Context) {
	q, ok := s.deps.State.Quote(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no quote"})
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *DashboardServer) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.State.Metrics())
}

// -----------------------------------------------------------------------------
// Refresh / Provider
// -----------------------------------------------------------------------------

// refresh joins or starts a refresh and answers once it completed.
func (s *DashboardServer) refresh(c *gin.Context) {
	err := s.deps.Scheduler.Refresh(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, s.deps.Scheduler.Status())
	case errors.Is(err, scheduler.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "status": s.deps.Scheduler.Status()})
	}
}

func (s *DashboardServer) setProvider(c *gin.Context) {
	var req providerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	s.deps.Source.SetProvider(req.Provider)
	provider := s.deps.Source.Provider()
	if s.deps.Provider != nil {
		s.deps.Provider.Set(provider != "")
	}
	s.Logger.Info("Active provider set to %q", provider)
	c.JSON(http.StatusOK, gin.H{"provider": provider})
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

func (s *DashboardServer) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// writeError maps domain errors onto HTTP statuses.
func (s *DashboardServer) writeError(c *gin.Context, err error) {
	var cmdErr *helpers.CommandError
	switch {
	case errors.Is(err, helpers.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, helpers.ErrEmptySymbol):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &cmdErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   err.Error(),
			"command": cmdErr.Command,
			"symbols": cmdErr.Symbols,
		})
	default:
		s.Logger.Error("Unhandled error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// initialEvents tells a fresh client to load every kind.
func initialEvents() []models.MStateEvent {
	now := time.Now().UnixMilli()
	kinds := []string{
		models.EventWatchlist, models.EventQuotes, models.EventPositions,
		models.EventOrders, models.EventFills, models.EventMetrics,
	}
	events := make([]models.MStateEvent, len(kinds))
	for i, k := range kinds {
		events[i] = models.MStateEvent{Kind: k, Timestamp: now}
	}
	return events
}
