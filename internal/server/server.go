package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/raakeshmj/campusguard/internal/audit"
	"github.com/raakeshmj/campusguard/internal/auth"
	"github.com/raakeshmj/campusguard/internal/config"
	"github.com/raakeshmj/campusguard/internal/consent"
	"github.com/raakeshmj/campusguard/internal/fieldcrypt"
	"github.com/raakeshmj/campusguard/internal/firewall"
	"github.com/raakeshmj/campusguard/internal/logging"
	"github.com/raakeshmj/campusguard/internal/masking"
	"github.com/raakeshmj/campusguard/internal/metrics"
	"github.com/raakeshmj/campusguard/internal/middleware"
	"github.com/raakeshmj/campusguard/internal/service"
)

// Check is one readiness probe, e.g. a Redis or Postgres ping.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Deps are the collaborators wired by cmd/server.
type Deps struct {
	Config   *config.Config
	Firewall *config.Manager
	Pipeline *firewall.Pipeline
	JWT      *auth.JWTManager
	Crypto   *fieldcrypt.Engine
	Masking  *masking.Engine
	Consent  *consent.Gate
	Devices  *service.DeviceService
	Recorder *audit.Recorder
	Metrics  *metrics.MetricsCollector
	Checks   []Check
	Log      *zap.Logger
}

type Server struct {
	cfg      *config.Config
	firewall *config.Manager
	pipeline *firewall.Pipeline
	jwt      *auth.JWTManager
	crypto   *fieldcrypt.Engine
	masking  *masking.Engine
	consent  *consent.Gate
	devices  *service.DeviceService
	recorder *audit.Recorder
	metrics  *metrics.MetricsCollector
	checks   []Check
	log      *zap.Logger
	now      func() time.Time

	router chi.Router
}

func New(d Deps) *Server {
	log := logging.OrNop(d.Log)
	s := &Server{
		cfg:      d.Config,
		firewall: d.Firewall,
		pipeline: d.Pipeline,
		jwt:      d.JWT,
		crypto:   d.Crypto,
		masking:  d.Masking,
		consent:  d.Consent,
		devices:  d.Devices,
		recorder: d.Recorder,
		metrics:  d.Metrics,
		checks:   d.Checks,
		log:      log,
		now:      time.Now,
	}
	s.router = s.routes()
	return s
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	// Order: Metrics (Outer) -> Identity -> Firewall -> Audit -> FieldCrypto -> Masking -> Handler
	// Identity only marks invalid tokens; Firewall answers 401 once the request is recorded.
	r.Use(
		middleware.MetricsMiddleware(s.metrics),
		middleware.Identity(s.jwt, s.log),
		middleware.Firewall(s.pipeline, s.firewall, s.log),
		middleware.ActivityAudit(s.recorder),
		middleware.FieldCrypto(s.crypto, s.log),
		middleware.Masking(s.masking, middleware.MaskStudent, s.log),
	)

	// Basic Health Check (Liveness)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Get("/ready", s.ready)

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.RequireUser(auth.UserTypeAdmin, auth.UserTypeStaff)).
			Post("/security/login-events", s.loginEvent)
		r.Get("/security/risk", s.risk)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser())
			r.Get("/devices", s.listDevices)
			r.Post("/devices/{hash}/revoke", s.revokeDevice)
			r.Post("/consents", s.grantConsent)
			r.Delete("/consents", s.revokeConsent)
		})

		r.Route("/guardians/dependents/{dependentID}", func(r chi.Router) {
			r.Use(
				middleware.Consent(s.consent, func(r *http.Request) string {
					return chi.URLParam(r, "dependentID")
				}, s.log),
				middleware.Masking(s.masking, middleware.MaskParent, s.log),
			)
			r.Get("/", s.dependent)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser(auth.UserTypeAdmin))
			r.Get("/admin/firewall/layers", s.listLayers)
			r.Put("/admin/firewall/layers", s.updateLayers)
			r.Post("/admin/firewall/reload", s.reloadFirewall)
			r.Get("/admin/crypto/status", s.cryptoStatus)
			r.Get("/metrics", s.stats)
		})
	})

	return r
}

// Readiness Check (Dependencies)
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for _, c := range s.checks {
		if err := c.Ping(ctx); err != nil {
			s.log.Warn("readiness check failed", zap.String("check", c.Name), zap.Error(err))
			failed[c.Name] = "unavailable"
		}
	}
	if len(failed) > 0 {
		respond(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not_ready", "checks": failed})
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, status int, code, message string) {
	respond(w, status, map[string]interface{}{
		"success": false,
		"message": message,
		"code":    code,
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// Start serves until SIGINT or SIGTERM and then drains for up to 5 seconds.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.ServerPort,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	go func() {
		s.log.Info("server starting", zap.String("port", s.cfg.ServerPort))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for an interrupt or terminate signal from the OS.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		s.log.Info("shutdown started", zap.String("signal", sig.String()))

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}
