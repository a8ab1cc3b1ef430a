package web

import (
	"net/http"
	"strings"

	"crm-job-engine/internal/domain/ports/repository"
	"crm-job-engine/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Server struct {
	enqueueUC usecase.EnqueueUseCase
	controlUC usecase.ControlUseCase
	statsUC   usecase.StatsUseCase
	jobs      repository.JobRepository
	auth      *AuthManager
	apiKey    string
	log       *zerolog.Logger
}

func NewServer(
	enqueueUC usecase.EnqueueUseCase,
	controlUC usecase.ControlUseCase,
	statsUC usecase.StatsUseCase,
	jobs repository.JobRepository,
	auth *AuthManager,
	apiKey string,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "WebServer").Logger()
	return &Server{
		enqueueUC: enqueueUC,
		controlUC: controlUC,
		statsUC:   statsUC,
		jobs:      jobs,
		auth:      auth,
		apiKey:    apiKey,
		log:       &l,
	}
}

// Router builds the HTTP routing tree for the ops API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Session endpoints trade the static API key for a short-lived JWT so
	// the dashboard does not hold the key in the browser.
	r.Post("/api/v1/session", s.apiKeyMiddleware(sessionCreateHandler(s.auth)).ServeHTTP)
	r.Delete("/api/v1/session", sessionDeleteHandler(s.auth))

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/api/v1/status", statusHandler(s.statsUC))
		r.Get("/api/v1/dashboard", dashboardHandler(s.statsUC))
		r.Post("/api/v1/control", controlHandler(s.controlUC))

		r.Post("/api/v1/jobs", jobsCreateHandler(s.enqueueUC))
		r.Get("/api/v1/jobs/{jobID}", jobGetHandler(s.jobs))
	})

	return r
}

// apiKeyMiddleware accepts only the static bearer API key.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("Ops API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if bearerToken(r) != s.apiKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware accepts either the static API key or a valid operator
// session token.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && bearerToken(r) == s.apiKey {
			next.ServeHTTP(w, r)
			return
		}
		if _, err := s.auth.ParseFromRequest(r); err == nil {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

func bearerToken(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return ""
	}
	parts := strings.Split(hdr, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}
