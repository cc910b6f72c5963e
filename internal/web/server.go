// Package web serves the estimation form over HTTP.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/raine/local-market-estimator/internal/estimate"
	"github.com/raine/local-market-estimator/internal/form"
)

const shutdownTimeout = 10 * time.Second

// Options configures a Server.
type Options struct {
	Addr      string
	Registry  *form.Registry
	Estimator estimate.Estimator // Used by the stateless JSON endpoint
	Gatherer  prometheus.Gatherer
	// SessionTTL sets the session cookie lifetime
	SessionTTL time.Duration
}

// Server is the HTTP shell around the form registry.
type Server struct {
	addr       string
	engine     *gin.Engine
	registry   *form.Registry
	estimator  estimate.Estimator
	validator  *estimate.Validator
	sessionTTL time.Duration
}

func NewServer(opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = form.DefaultSessionTTL
	}
	s := &Server{
		addr:       opts.Addr,
		engine:     gin.New(),
		registry:   opts.Registry,
		estimator:  opts.Estimator,
		validator:  estimate.NewValidator(),
		sessionTTL: opts.SessionTTL,
	}
	s.engine.MaxMultipartMemory = maxUploadBytes

	s.engine.Use(requestID(), requestLogger(), recovery())

	s.engine.GET("/", s.handleIndex)
	s.engine.POST("/image", s.handleSelectImage)
	s.engine.POST("/postal-code", s.handleSetPostalCode)
	s.engine.POST("/estimate", s.handleSubmit)
	s.engine.POST("/reset", s.handleReset)
	s.engine.GET("/preview/:id", s.handlePreview)

	s.engine.POST("/api/estimate", s.handleAPIEstimate)

	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("http server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
