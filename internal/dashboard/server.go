package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"marketdash/config"
	"marketdash/internal/metrics"
	"marketdash/internal/view"
	"marketdash/logger"
)

// Server exposes the view model and the dashboard controls over HTTP.
type Server struct {
	cfg           config.DashboardConfig
	log           *logger.Log
	manager       *Manager
	prometheus    http.Handler
	metricStore   *metricStore
	logStore      *logStore
	metricHandler metrics.MetricHandlerID
	httpServer    *http.Server
}

// NewServer constructs the HTTP adapter when the dashboard is enabled. When it
// is disabled the returned server is nil. prom may be nil to skip /metrics.
func NewServer(cfg config.DashboardConfig, log *logger.Log, manager *Manager, prom http.Handler) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if manager == nil {
		return nil, errors.New("dashboard server requires a manager")
	}

	cfg.Address = normalizeAddress(cfg.Address)

	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}

	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:           cfg,
		log:           log,
		manager:       manager,
		prometheus:    prom,
		metricStore:   metricStore,
		logStore:      logStore,
		metricHandler: handlerID,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("dashboard listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	board := s.manager.Board()

	router.GET("/api/view", func(c *gin.Context) {
		c.JSON(http.StatusOK, board.Model())
	})
	router.GET("/api/ticker", snapshotHandler(board.Ticker))
	router.GET("/api/orderbook", snapshotHandler(board.OrderBook))
	router.GET("/api/klines", snapshotHandler(board.Klines))
	router.GET("/api/volume", snapshotHandler(board.Volume))
	router.GET("/api/indicators", snapshotHandler(board.Indicators))
	router.GET("/api/tickers", snapshotHandler(board.Tickers))
	router.GET("/api/status", func(c *gin.Context) {
		payload := gin.H{"label": "OFFLINE", "symbols": s.manager.Symbols()}
		if st, ok := board.Status.Latest(); ok {
			payload["label"] = st.Label()
			payload["status"] = st
		}
		if bar, ok := board.BarStatus.Latest(); ok {
			payload["ticker_bar"] = bar
		}
		c.JSON(http.StatusOK, payload)
	})

	router.POST("/api/symbol", func(c *gin.Context) {
		var req struct {
			Symbol string `json:"symbol" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.manager.SwitchSymbol(c.Request.Context(), req.Symbol); err != nil {
			s.abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"symbol": strings.ToUpper(strings.TrimSpace(req.Symbol))})
	})

	router.POST("/api/orderbook/levels", func(c *gin.Context) {
		var req struct {
			Levels int `json:"levels"`
		}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		ctx := c.Request.Context()
		if req.Levels == 0 {
			levels, err := s.manager.ToggleLevels(ctx)
			if err != nil {
				s.abort(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"levels": levels})
			return
		}
		if err := s.manager.SetLevels(ctx, req.Levels); err != nil {
			s.abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"levels": req.Levels})
	})

	router.POST("/api/klines/reload", func(c *gin.Context) {
		if err := s.manager.ReloadKlines(c.Request.Context()); err != nil {
			s.abort(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"reload": "klines"})
	})

	router.POST("/api/indicators/reload", func(c *gin.Context) {
		if err := s.manager.ReloadIndicators(c.Request.Context()); err != nil {
			s.abort(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"reload": "indicators"})
	})

	router.GET("/api/metrics", func(c *gin.Context) {
		metricsSnapshot := s.metricStore.snapshot(filterFromQuery(c.Query("component"), c.Query("symbol"), ""))
		payload := make([]gin.H, 0, len(metricsSnapshot))
		for _, m := range metricsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		logsSnapshot := s.logStore.snapshot(filterFromQuery(c.Query("component"), c.Query("symbol"), c.Query("level")))
		payload := make([]gin.H, 0, len(logsSnapshot))
		for _, l := range logsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": l.Timestamp.Format(time.RFC3339Nano),
				"level":     l.Level,
				"component": l.Component,
				"symbol":    l.Symbol,
				"message":   l.Message,
				"fields":    l.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"logs": payload})
	})

	if s.prometheus != nil {
		router.GET("/metrics", gin.WrapH(s.prometheus))
	}

	return router, nil
}

// snapshotHandler serves the latest snapshot of p, or 204 before the first one.
func snapshotHandler[T any](p *view.Publisher[T]) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := p.Latest()
		if !ok {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func (s *Server) abort(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownSymbol), errors.Is(err, ErrInvalidLevels):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotStarted), errors.Is(err, view.ErrLoopClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	if status == http.StatusInternalServerError {
		s.log.WithComponent("dashboard").WithError(err).WithFields(logger.Fields{"path": c.FullPath()}).Error("dashboard control failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
