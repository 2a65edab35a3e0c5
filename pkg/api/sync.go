package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"peer-sync/pkg/logs"
	"peer-sync/pkg/model"
	"peer-sync/pkg/syncer"
)

type autoSyncResponse struct {
	Running bool             `json:"running"`
	Config  model.SyncConfig `json:"config"`
}

func (s *Server) registerSyncRoutes(r *mux.Router) {
	r.HandleFunc("/sync/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/sync/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/sync/history", s.handleClearHistory).Methods(http.MethodDelete)
	r.HandleFunc("/sync/run", s.handleRun).Methods(http.MethodPost)
	r.HandleFunc("/sync/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/sync/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/sync/config", s.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/sync/config", s.handlePutConfig).Methods(http.MethodPut)
	r.HandleFunc("/sync/local/ping", s.handlePing).Methods(http.MethodGet)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.GetSyncStatus())
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.GetSyncHistory())
}

func (s *Server) handleClearHistory(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Engine.ClearSyncHistory(); err != nil {
		logs.Logger.Errorf("clear sync history: %v", err)
		http.Error(w, "failed to clear history", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRun performs one pass. An optional body overrides the stored configuration
// for this pass only; the enabled flag does not gate manual runs. A client hanging up
// does not cancel the pass.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Settings.SyncConfig()
	if err != nil {
		http.Error(w, "failed to load sync config", http.StatusInternalServerError)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &cfg); err != nil {
			http.Error(w, "invalid payload: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	res := s.deps.Engine.PerformSync(context.WithoutCancel(r.Context()), cfg)
	if res.Message == syncer.ErrBusy.Error() {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	cfg, err := s.deps.Settings.SyncConfig()
	if err != nil {
		http.Error(w, "failed to load sync config", http.StatusInternalServerError)
		return
	}
	running := s.deps.Engine.StartAutoSync(cfg)
	writeJSON(w, http.StatusOK, autoSyncResponse{Running: running, Config: cfg})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.deps.Engine.StopAutoSync()
	cfg, _ := s.deps.Settings.SyncConfig()
	writeJSON(w, http.StatusOK, autoSyncResponse{Running: false, Config: cfg})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	cfg, err := s.deps.Settings.SyncConfig()
	if err != nil {
		http.Error(w, "failed to load sync config", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handlePutConfig saves the configuration and reinstalls the auto-sync timer
// so a new interval takes effect immediately.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	cfg, err := model.DecodeSyncConfig(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.deps.Settings.Save(cfg); err != nil {
		if errors.Is(err, syncer.ErrInvalidConfig) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logs.Logger.Errorf("save sync config: %v", err)
		http.Error(w, "failed to save sync config", http.StatusInternalServerError)
		return
	}
	running := s.deps.Engine.StartAutoSync(cfg)
	logs.Logger.Infof("sync config updated enabled=%v interval=%ds direction=%s policy=%s",
		cfg.Enabled, cfg.Interval, cfg.Direction, cfg.ConflictResolution)
	writeJSON(w, http.StatusOK, autoSyncResponse{Running: running, Config: cfg})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if s.deps.Local == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": false, "error": syncer.MsgNotConfigured})
		return
	}
	if err := s.deps.Local.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}
