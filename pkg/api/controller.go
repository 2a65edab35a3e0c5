// Package api is the operator HTTP surface of the sync daemon.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"peer-sync/pkg/auth"
	"peer-sync/pkg/middleware"
	"peer-sync/pkg/syncer"
	"peer-sync/pkg/version"
)

// Pinger checks reachability of the local agent.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the API to the engine and its collaborators.
type Deps struct {
	Engine   *syncer.Engine
	Settings *syncer.Settings
	Local    Pinger
	DB       *gorm.DB // users table
	Issuer   *auth.Issuer
	Token    string // static bearer token accepted besides JWTs; empty disables it
}

type Server struct {
	deps Deps
	hub  *Hub
}

// NewServer attaches a websocket hub to the engine's event stream.
func NewServer(d Deps) *Server {
	return &Server{deps: d, hub: NewHub(d.Engine)}
}

// Close detaches the hub from the engine and drops all subscribers.
func (s *Server) Close() { s.hub.Close() }

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Logger, middleware.Recoverer)

	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("peer-sync daemon"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, version.Current())
	}).Methods(http.MethodGet)

	ah := &AuthHandler{DB: s.deps.DB, Issuer: s.deps.Issuer}
	ah.RegisterRoutes(v1)

	guarded := v1.NewRoute().Subrouter()
	guarded.Use(s.requireAuth)
	s.registerSyncRoutes(guarded)
	guarded.HandleFunc("/ws/sync", s.hub.HandleSync).Methods(http.MethodGet)
	return r
}

// requireAuth accepts a JWT from login or, when configured, the static token.
// Browsers cannot set headers on websocket upgrades, so ?token= is accepted too.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	tok := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		tok = strings.TrimPrefix(h, "Bearer ")
	}
	if tok == "" {
		return false
	}
	if s.deps.Token != "" && tok == s.deps.Token {
		return true
	}
	if s.deps.Issuer == nil {
		return false
	}
	_, err := s.deps.Issuer.Parse(tok)
	return err == nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
