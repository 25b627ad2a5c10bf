package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dealsignal/internal/clock"
	"dealsignal/internal/config"
)

const shutdownTimeout = 10 * time.Second

// prices are served as JSON numbers
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// Server hosts the deals API.
type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg config.APIConfig, lister DealLister, clicks ClickSink, clk clock.Clock, logger zerolog.Logger) *gin.Engine {
	if clk == nil {
		clk = clock.System{}
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogging(logger))

	origins := cfg.AllowedOrigins
	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}
	engine.Use(cors.New(corsCfg))

	h := &Handlers{
		deals:    lister,
		clicks:   clicks,
		clock:    clk,
		maxLimit: cfg.MaxLimit,
		logger:   logger,
	}

	group := engine.Group("/api")
	group.GET("/ping", h.Ping)
	group.GET("/deals", h.ListDeals)
	group.GET("/categories", h.ListCategories)
	group.POST("/clicks", h.RecordClick)

	return engine
}

// NewServer wraps the router in an http.Server.
func NewServer(cfg config.APIConfig, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:           cfg.Addr,
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			MaxHeaderBytes: 1 << 20,
		},
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("api listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api server: %w", err)
	}
	s.logger.Info().Msg("api stopped")
	return ctx.Err()
}
