// Package web implements the JSON API server of the job board
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/laborportal/app/board"
	"github.com/umputun/laborportal/app/store"
)

// Board defines the board operations used by the server
type Board interface {
	NewSessionID() string
	GetSession(ctx context.Context, sid string) (store.Session, bool, error)
	ClearSession(ctx context.Context, sid string) error
	RequireRole(ctx context.Context, sid string, role store.Role) (store.Session, error)
	VerifyOrSetupRecruiter(ctx context.Context, sid, email, password string) (store.Session, bool, error)
	LoginLabor(ctx context.Context, sid, name, contact, passkey string) (store.Session, error)
	AddJob(ctx context.Context, req board.JobRequest) (store.Job, error)
	DeleteJob(ctx context.Context, id, byUser string) (bool, error)
	ApplyToJobWithDetails(ctx context.Context, jobID string, req board.ApplicantRequest) (store.Job, error)
	UnapplyFromJobByContact(ctx context.Context, jobID, contact string) (store.Job, error)
	RemoveApplicant(ctx context.Context, jobID, contact, byUser string) (store.Job, error)
	OpenJobs(ctx context.Context) ([]store.Job, error)
	JobsForRecruiter(ctx context.Context, username string) ([]store.Job, error)
	JobsForLaborer(ctx context.Context, username string) ([]store.Job, error)
}

// Config defines server parameters
type Config struct {
	Board      Board
	Secret     string        // signing key of session tokens
	SessionTTL time.Duration // cookie and token lifetime, 24h if zero
	LoginRate  float64       // login attempts per second per client, 0 disables limiting
	BaseURL    string        // base URL path for reverse proxy (e.g., /jobs), empty for root
	Version    string
}

// Server is the API server
type Server struct {
	board          Board
	secret         []byte
	sessionTTL     time.Duration
	loginRate      float64
	baseURL        string
	version        string
	csrfProtection *http.CrossOriginProtection
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Board == nil {
		return nil, errors.New("web server initialization failed: board is required")
	}
	if cfg.Secret == "" {
		return nil, errors.New("web server initialization failed: secret is required")
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Server{
		board:          cfg.Board,
		secret:         []byte(cfg.Secret),
		sessionTTL:     ttl,
		loginRate:      cfg.LoginRate,
		baseURL:        cfg.BaseURL,
		version:        cfg.Version,
		csrfProtection: http.NewCrossOriginProtection(),
	}, nil
}

// Run starts the web server and blocks until ctx is canceled
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// handler returns the http.Handler with base URL wrapping applied
func (s *Server) handler() http.Handler {
	routes := s.routes()
	if s.baseURL == "" {
		return routes
	}
	mux := http.NewServeMux()
	mux.HandleFunc(s.baseURL, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, s.baseURL+"/", http.StatusMovedPermanently)
	})
	mux.Handle(s.baseURL+"/", http.StripPrefix(s.baseURL, routes))
	return mux
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("laborportal", "umputun", s.version),
		rest.Ping,
		rest.SizeLimit(64*1024),
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache, s.csrfProtection.Handler, s.sessionMiddleware)

		api.Group().Route(func(login *routegroup.Bundle) {
			if s.loginRate > 0 {
				login.Use(tollbooth.HTTPMiddleware(s.loginLimiter()))
			}
			login.HandleFunc("POST /login/recruiter", s.handleLoginRecruiter)
			login.HandleFunc("POST /login/laborer", s.handleLoginLaborer)
		})
		api.HandleFunc("POST /logout", s.handleLogout)
		api.HandleFunc("GET /session", s.handleSession)

		api.HandleFunc("GET /jobs/open", s.handleOpenJobs)
		api.HandleFunc("GET /jobs/mine", s.handleMyJobs)
		api.HandleFunc("POST /jobs", s.handleAddJob)
		api.HandleFunc("DELETE /jobs/{id}", s.handleDeleteJob)
		api.HandleFunc("POST /jobs/{id}/apply", s.handleApply)
		api.HandleFunc("POST /jobs/{id}/unapply", s.handleUnapply)
	})

	return router
}

// loginLimiter makes a per-client limiter for login attempts
func (s *Server) loginLimiter() *limiter.Limiter {
	lmt := tollbooth.NewLimiter(s.loginRate, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})
	lmt.SetMessageContentType("application/json")
	lmt.SetMessage(`{"error":"Too many login attempts","reason":"rate_limited"}`)
	return lmt
}
