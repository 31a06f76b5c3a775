package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ggonzalez94/stratsync/internal/admin"
	"github.com/ggonzalez94/stratsync/internal/execution"
	"github.com/ggonzalez94/stratsync/internal/journal"
	"github.com/ggonzalez94/stratsync/internal/positions"
	"github.com/ggonzalez94/stratsync/internal/registry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// ActivityLister is the read side of the activity journal.
type ActivityLister interface {
	List(ctx context.Context, f journal.Filter) ([]journal.Entry, error)
}

type Deps struct {
	Registry     *registry.Registry
	Orchestrator *execution.Orchestrator
	Activity     ActivityLister
	Admin        *admin.Store
	Positions    positions.Reader
	Logger       *logrus.Logger
}

// Server exposes one orchestrator session over HTTP.
type Server struct {
	deps   Deps
	engine *gin.Engine
	now    func() time.Time
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Admin == nil {
		deps.Admin = admin.NewStore()
	}
	if deps.Positions == nil {
		deps.Positions = positions.StubReader{}
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{deps: deps, engine: gin.New(), now: time.Now}
	s.engine.Use(gin.Recovery(), requestLogger(deps.Logger))
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	r := s.engine
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/chains", s.listChains)

	strategies := api.Group("/strategies")
	strategies.GET("", s.listStrategies)
	strategies.GET("/:id", s.getStrategy)
	strategies.GET("/:id/chains", s.strategyChains)
	strategies.GET("/:id/positions", s.strategyPositions)

	session := api.Group("/session")
	session.GET("", s.getSession)
	session.PUT("/chain", s.selectChain)
	session.PUT("/wallet", s.switchWalletChain)

	actions := api.Group("/actions")
	actions.GET("", s.actionStatus)
	actions.GET("/:strategy/:action", s.actionSnapshot)
	actions.PUT("/:strategy/:action/inputs", s.setInputs)
	actions.POST("/:strategy/:action/plan", s.planAction)
	actions.POST("/:strategy/:action/execute", s.executeAction)

	api.GET("/activity", s.listActivity)

	adm := api.Group("/admin")
	adm.GET("/stats", s.adminStats)
	adm.GET("/configs", s.adminConfigs)
	adm.GET("/protocols", s.adminProtocols)
	adm.POST("/actions", s.adminSetAction)
	adm.POST("/strategy-actions", s.adminSetStrategyAction)
	adm.POST("/protocols", s.adminSetProtocol)
}

// ListenAndServe blocks until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.WithField("addr", addr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	}
}
