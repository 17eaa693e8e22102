package web

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleAPIState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) handleAPIChannels(w http.ResponseWriter, r *http.Request) {
	snap := s.state.Snapshot()
	s.writeJSON(w, http.StatusOK, snap.Channels)
}

func (s *Server) handleAPISettings(w http.ResponseWriter, r *http.Request) {
	snap := s.state.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"settings":    snap.Settings,
		"gpioConfigs": snap.GPIOConfigs,
	})
}

func (s *Server) handleAPISurvey(w http.ResponseWriter, r *http.Request) {
	snap := s.state.Snapshot()
	if snap.LastSurvey == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no survey yet", "state": snap.Survey})
		return
	}
	s.writeJSON(w, http.StatusOK, snap.LastSurvey)
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.state.Snapshot()
	code := http.StatusOK
	if snap.Connection != "connected" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]string{"connection": snap.Connection})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
