package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/duressvault/internal/audit"
	"github.com/org/duressvault/internal/auth"
	"github.com/org/duressvault/internal/duress"
	"github.com/org/duressvault/internal/events"
	"github.com/org/duressvault/internal/storage"
	"github.com/org/duressvault/pkg/models"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	DevMode     bool
	RateLimit   int
	RateBurst   int
}

// AuditLogger is the interface the server needs from an audit logger.
type AuditLogger interface {
	LogRequest(ctx context.Context, entry *models.AuditEntry)
	Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error)
}

// Server is the API server.
type Server struct {
	store      storage.Backend
	engine     *duress.Engine
	identities *auth.IdentityService
	auditor    AuditLogger
	cfg        Config
	httpSrv    *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(store storage.Backend, pub events.Publisher, opts duress.Options, cfg Config) *Server {
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 100
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 200
	}
	return &Server{
		store:      store,
		engine:     duress.NewEngine(store, pub, opts),
		identities: auth.NewIdentityService(store),
		auditor:    audit.NewLogger(store),
		cfg:        cfg,
	}
}

// Engine exposes the duress engine (for CLI-embedded and test use).
func (s *Server) Engine() *duress.Engine {
	return s.engine
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst).middleware)
	r.Use(auditMiddleware(s.auditor))

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())

	// Public routes (no auth required)
	r.Group(func(r chi.Router) {
		r.Get("/v1/sys/health", s.HealthHandler)
		r.Post("/v1/auth/register", s.RegisterHandler)
		r.Get("/v1/flags/attacker/{address}", s.AttackerFlagsHandler)
		r.Get("/v1/flags/compromised/{address}", s.CompromisedFlagHandler)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.identities))

		// Panic protocol
		r.Post("/v1/panic/config", s.ConfigHandler)
		r.Post("/v1/panic/deposit", s.DepositHandler)
		r.Post("/v1/panic/trigger", s.TriggerHandler)
		r.Post("/v1/panic/recovery/initiate", s.RecoveryInitiateHandler)
		r.Post("/v1/panic/recovery/approve", s.RecoveryApproveHandler)
		r.Post("/v1/panic/claim", s.ClaimHandler)
		r.Get("/v1/panic/status", s.StatusHandler)

		// Account
		r.Get("/v1/account/balance", s.BalanceHandler)
		r.Post("/v1/account/fund", s.FundHandler)

		// Sys
		r.Get("/v1/sys/audit-log", s.AuditLogHandler)
		r.Get("/v1/sys/events", s.EventsHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		tlsCfg := &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		s.httpSrv.TLSConfig = tlsCfg
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
