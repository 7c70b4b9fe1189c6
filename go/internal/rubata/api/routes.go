// Package api exposes the rubata engine over JSON HTTP and websockets.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/rubata/engine"
	"github.com/mcdev12/rubata/go/internal/rubata/gateway"
	"github.com/mcdev12/rubata/go/internal/rubata/preference"
	"github.com/mcdev12/rubata/go/internal/rubata/storage"
	"github.com/mcdev12/rubata/go/internal/rubata/validator"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// RosterSeeder registers the members of a new session with the league roster.
type RosterSeeder interface {
	Seed(ctx context.Context, leagueID uuid.UUID, defaultBudget int64, seeds []validator.Seed) error
}

// Deps are the services behind the HTTP surface. History, Roster and
// Sockets are optional.
type Deps struct {
	Sessions      *engine.Manager
	Preferences   *preference.Service
	History       storage.Reader
	Roster        RosterSeeder
	Sockets       *gateway.ConnectionManager
	DefaultBudget int64
}

type Server struct {
	deps Deps
}

func NewServer(deps Deps) *Server {
	return &Server{deps: deps}
}

// Routes builds the router with CORS applied for allowedOrigins.
func (s *Server) Routes(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.With(s.requireHistory).Get("/audit", s.listAudit)
			r.With(s.requireHistory).Get("/bids", s.listBids)
			r.With(s.requireHistory).Get("/transfers", s.listTransfers)
			r.With(s.requireHistory).Get("/prophecies", s.listProphecies)

			r.Post("/preview", s.adminAction((*engine.Engine).OpenPreview))
			r.Post("/start", s.adminAction((*engine.Engine).StartSession))
			r.Post("/force-ready", s.adminAction((*engine.Engine).ForceReadyAll))
			r.Post("/advance", s.adminAction((*engine.Engine).Advance))
			r.Post("/pause", s.adminAction((*engine.Engine).Pause))
			r.Post("/resume", s.adminAction((*engine.Engine).Resume))
			r.Post("/appeals/decision", s.decideAppeal)

			r.Post("/ready", s.memberAction((*engine.Engine).SetReady))
			r.Post("/intent", s.memberAction((*engine.Engine).DeclareIntentToContest))
			r.Post("/appeal-ack", s.memberAction((*engine.Engine).AcknowledgeAppealDecision))
			r.Post("/resume-ready", s.memberAction((*engine.Engine).MarkReadyToResume))
			r.Post("/bids", s.placeBid)
			r.Post("/appeals", s.submitAppeal)
			r.Post("/ack", s.acknowledge)
		})
	})
	r.With(s.requireHistory).Get("/api/appeals/{appealID}", s.getAppeal)

	r.Route("/api/leagues/{leagueID}/members/{memberID}/preferences", func(r chi.Router) {
		r.Get("/", s.listPreferences)
		r.Get("/{playerID}", s.getPreference)
		r.Put("/{playerID}", s.putPreference)
		r.Delete("/{playerID}", s.deletePreference)
	})

	r.Get("/ws/sessions/{sessionID}", s.subscribe)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
		},
		AllowedOrigins: allowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}
