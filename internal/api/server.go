// Package api exposes relay status and prometheus metrics over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gas-price-relay/internal/history"
	"gas-price-relay/internal/metrics"
	"gas-price-relay/internal/scheduler"
	"gas-price-relay/internal/stats"
)

// StatusProvider reports scheduler counters.
type StatusProvider interface {
	Stats() scheduler.Snapshot
}

// WindowProvider exposes per-source rolling windows.
type WindowProvider interface {
	Sources() []string
	Window(id string) (*history.Window, bool)
}

// Config wires the server's collaborators.
type Config struct {
	Addr      string
	Scheduler StatusProvider
	Windows   WindowProvider
	Engine    *stats.Engine
}

// Server is the gin-backed status listener.
type Server struct {
	addr    string
	sched   StatusProvider
	windows WindowProvider
	engine  *stats.Engine
	router  *gin.Engine
	logger  zerolog.Logger
	now     func() time.Time
}

// WindowView is the JSON shape of one source's window.
type WindowView struct {
	Source        string `json:"source"`
	Samples       int    `json:"samples"`
	Capacity      int    `json:"capacity"`
	HighGwei      string `json:"high_gwei,omitempty"`
	LowGwei       string `json:"low_gwei,omitempty"`
	MeanGwei      string `json:"mean_gwei,omitempty"`
	VolatilityPct string `json:"volatility_pct,omitempty"`
}

// New builds the router.
func New(cfg Config, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:    cfg.Addr,
		sched:   cfg.Scheduler,
		windows: cfg.Windows,
		engine:  cfg.Engine,
		router:  router,
		logger:  logger.With().Str("component", "api").Logger(),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/sources/:id", s.handleSource)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// Handler returns the router for embedding or tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("status api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{}
	if s.sched != nil {
		snap := s.sched.Stats()
		resp["scheduler"] = gin.H{
			"updates":    snap.UpdateCount,
			"errors":     snap.ErrorCount,
			"empty":      snap.EmptyCount,
			"skipped":    snap.SkippedCount,
			"in_flight":  snap.InFlight,
			"started_at": snap.StartedAt,
			"uptime":     s.now().Sub(snap.StartedAt).Round(time.Second).String(),
		}
	}
	if s.engine != nil {
		resp["threshold_pct"] = s.engine.ThresholdPct()
	}
	views := []WindowView{}
	if s.windows != nil {
		for _, id := range s.windows.Sources() {
			if w, ok := s.windows.Window(id); ok {
				views = append(views, viewOf(id, w))
			}
		}
	}
	resp["sources"] = views
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSource(c *gin.Context) {
	id := c.Param("id")
	if s.windows == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
		return
	}
	w, ok := s.windows.Window(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
		return
	}
	c.JSON(http.StatusOK, viewOf(id, w))
}

func viewOf(id string, w *history.Window) WindowView {
	view := WindowView{Source: id, Capacity: w.Cap()}
	st, ok := w.Stats()
	if !ok {
		return view
	}
	view.Samples = st.Count
	view.HighGwei = stats.Gwei(st.Max).String()
	view.LowGwei = stats.Gwei(st.Min).String()
	view.MeanGwei = stats.Gwei(st.Mean).String()
	view.VolatilityPct = stats.Volatility(st).String()
	return view
}
