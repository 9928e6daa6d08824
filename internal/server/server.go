// Package server runs the HTTP status server next to the bot.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/coah80/yoinktube/internal/middleware"
	"github.com/coah80/yoinktube/internal/routes"
)

type Options struct {
	Addr        string
	CORSOrigins []string
	RateLimit   int
	RateWindow  time.Duration
}

type Server struct {
	srv     *http.Server
	limiter *middleware.RateLimiter
	log     zerolog.Logger
}

func New(opts Options, deps routes.StatusDeps, log zerolog.Logger) *Server {
	log = log.With().Str("component", "http").Logger()
	if opts.RateLimit <= 0 {
		opts.RateLimit = 60
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	limiter := middleware.NewRateLimiter(opts.RateLimit, opts.RateWindow)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)
	r.Use(middleware.CORS(opts.CORSOrigins, log))
	r.Use(limiter.Handler)

	routes.StatusRoutes(r, deps)

	return &Server{
		srv: &http.Server{
			Addr:              opts.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		limiter: limiter,
		log:     log,
	}
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.limiter.StartCleanup(ctx)

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("Status server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info().Msg("Status server stopped")
	return nil
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
