// Package agent is the on-premises peer server the sync daemon reconciles against.
// It keeps peer records in sqlite (or memory) and overlays WireGuard runtime stats.
package agent

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"peer-sync/pkg/localclient"
	"peer-sync/pkg/logs"
	"peer-sync/pkg/middleware"
	"peer-sync/pkg/model"
	"peer-sync/pkg/store"
)

// Server serves GET/POST /peers, PUT /peers/{id} and GET /healthz.
type Server struct {
	peers  store.PeerStore
	secret string
	stats  StatsSource
	now    func() time.Time
}

// NewServer builds the agent server. stats may be nil when no WireGuard device is managed.
func NewServer(peers store.PeerStore, secret string, stats StatsSource) *Server {
	return &Server{peers: peers, secret: secret, stats: stats, now: time.Now}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Logger, middleware.Recoverer)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)

	p := r.PathPrefix("/peers").Subrouter()
	p.Use(s.requireSecret)
	p.HandleFunc("", s.listPeers).Methods(http.MethodGet)
	p.HandleFunc("", s.createPeer).Methods(http.MethodPost)
	p.HandleFunc("/{id}", s.updatePeer).Methods(http.MethodPut)
	return r
}

func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.secret != "" {
			got := r.Header.Get(localclient.SecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.peers.FetchAll(r.Context())
	if err != nil {
		logs.Logger.Errorf("list peers failed: %v", err)
		http.Error(w, "failed to list peers", http.StatusInternalServerError)
		return
	}
	if peers == nil {
		peers = []model.Peer{}
	}
	if s.stats != nil {
		stats, err := s.stats.PeerStats()
		if err != nil {
			logs.Logger.Warnf("wireguard stats unavailable: %v", err)
		} else {
			overlay(peers, stats, s.now())
		}
	}
	writeJSON(w, http.StatusOK, peers)
}

func (s *Server) createPeer(w http.ResponseWriter, r *http.Request) {
	p, ok := s.decodePeer(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(p.ID) == "" {
		p.ID = uuid.NewString()
	}
	if err := s.peers.Create(r.Context(), p); err != nil {
		if errors.Is(err, store.ErrExists) {
			http.Error(w, "peer already exists", http.StatusConflict)
			return
		}
		logs.Logger.Errorf("create peer %s failed: %v", p.ID, err)
		http.Error(w, "failed to create peer", http.StatusInternalServerError)
		return
	}
	logs.Logger.Infof("peer created id=%s name=%s", p.ID, p.Name)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) updatePeer(w http.ResponseWriter, r *http.Request) {
	p, ok := s.decodePeer(w, r)
	if !ok {
		return
	}
	p.ID = mux.Vars(r)["id"]
	if err := s.peers.Update(r.Context(), p); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "peer not found", http.StatusNotFound)
			return
		}
		logs.Logger.Errorf("update peer %s failed: %v", p.ID, err)
		http.Error(w, "failed to update peer", http.StatusInternalServerError)
		return
	}
	logs.Logger.Infof("peer updated id=%s", p.ID)
	writeJSON(w, http.StatusOK, p)
}

// decodePeer validates the body and stamps updated_at when the caller left it out.
// updated_at is stored at version precision, the same as the cloud table.
func (s *Server) decodePeer(w http.ResponseWriter, r *http.Request) (model.Peer, bool) {
	var p model.Peer
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return p, false
	}
	if !ValidKey(p.PublicKey) {
		http.Error(w, "invalid public key", http.StatusBadRequest)
		return p, false
	}
	if p.PrivateKey != nil && *p.PrivateKey != "" && !ValidKey(*p.PrivateKey) {
		http.Error(w, "invalid private key", http.StatusBadRequest)
		return p, false
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}
	return p.Normalized(), true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
