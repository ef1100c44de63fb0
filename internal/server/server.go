// Package server exposes the API wrappers over a local HTTP surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/zach-fau/suno-api/internal/captcha"
	"github.com/zach-fau/suno-api/internal/challenge"
	"github.com/zach-fau/suno-api/internal/config"
	"github.com/zach-fau/suno-api/internal/identity"
	"github.com/zach-fau/suno-api/internal/suno"
)

// Server serves the configured identity's API surface.
type Server struct {
	cfg      *config.Config
	registry *identity.Registry
	solver   captcha.Solver
	logger   *zap.Logger
	http     *http.Server
}

// New builds the server and its router.
func New(cfg *config.Config, registry *identity.Registry, solver captcha.Solver, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		solver:   solver,
		logger:   logger.Named("server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Post("/api/generate", s.handleGenerate(false))
	r.Post("/api/custom_generate", s.handleGenerate(true))
	r.Get("/api/get", s.handleFeed)
	r.Get("/api/get_limit", s.handleCredits)
	r.Post("/api/generate_lyrics", s.handleLyrics)

	s.http = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP surface listening", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)),
		)
	})
}

// client resolves the configured identity into an API client, creating
// the session handle on first use.
func (s *Server) client(ctx context.Context) (*suno.Client, error) {
	handle, err := s.registry.Lookup(s.cfg.Identity.Cookie)
	if err != nil {
		return nil, err
	}
	if handle.Sessions.Session().SessionID == "" {
		if err := handle.Sessions.Acquire(ctx); err != nil {
			return nil, err
		}
	}
	flow := challenge.NewFlow(s.cfg, handle, s.solver, s.logger)
	return suno.NewClient(s.cfg.Suno, handle.Sessions, flow, s.logger)
}

type generatePayload struct {
	Prompt       string `json:"prompt"`
	Tags         string `json:"tags"`
	Title        string `json:"title"`
	Model        string `json:"model"`
	Instrumental bool   `json:"make_instrumental"`
}

func (s *Server) handleGenerate(custom bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p generatePayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if p.Prompt == "" {
			writeError(w, http.StatusBadRequest, "prompt is required")
			return
		}

		client, err := s.client(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		clips, err := client.Generate(r.Context(), suno.GenerateRequest{
			Prompt:       p.Prompt,
			Tags:         p.Tags,
			Title:        p.Title,
			Model:        p.Model,
			Instrumental: p.Instrumental,
			Custom:       custom,
		})
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, clips)
	}
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	client, err := s.client(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}

	if ids := r.URL.Query().Get("ids"); ids != "" {
		clips, err := client.Clips(r.Context(), strings.Split(ids, ","))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, clips)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	clips, err := client.Feed(r.Context(), page)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clips)
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	client, err := s.client(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	credits, err := client.Credits(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"credits_left": credits})
}

func (s *Server) handleLyrics(w http.ResponseWriter, r *http.Request) {
	var p struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	client, err := s.client(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	lyrics, err := client.GenerateLyrics(r.Context(), p.Prompt)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lyrics)
}

// fail maps subsystem errors onto HTTP statuses. An invalid refresh
// credential is the caller's problem; everything else is ours.
func (s *Server) fail(w http.ResponseWriter, err error) {
	s.logger.Error("Request failed", zap.Error(err))
	switch {
	case errors.Is(err, identity.ErrSessionAcquisition):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, challenge.ErrSolveFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
