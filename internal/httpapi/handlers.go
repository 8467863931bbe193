package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/DoyleJ11/cogbench/internal/engine"
	"github.com/DoyleJ11/cogbench/internal/hub"
	"github.com/DoyleJ11/cogbench/internal/peer"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type createBenchmarkRequest struct {
	Name string `json:"name"`
}

type benchmarkState struct {
	Name    string       `json:"name"`
	Version int          `json:"version"`
	State   engine.State `json:"state"`
}

type peersResponse struct {
	Self    peerSelf          `json:"self"`
	Running bool              `json:"running"`
	Peers   []peer.PeerStatus `json:"peers"`
}

type peerSelf struct {
	ID   peer.ID `json:"id"`
	Name string  `json:"name"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func CreateBenchmark(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createBenchmarkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
			http.Error(w, "expected {\"name\": ...}", http.StatusBadRequest)
			return
		}

		if _, err := h.Ensure(r.Context(), req.Name); err != nil {
			if errors.Is(err, hub.ErrUnknownBenchmark) {
				http.Error(w, "unknown benchmark", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to start benchmark", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, createBenchmarkRequest{Name: req.Name})
	}
}

func BenchmarkState(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		rn, err := h.Get(r.Context(), name)
		if err != nil {
			http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
			return
		}
		if rn == nil {
			http.Error(w, "benchmark not running", http.StatusNotFound)
			return
		}
		v, err := rn.View(r.Context())
		if err != nil {
			http.Error(w, "benchmark unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, benchmarkState{Name: v.Name, Version: v.Version, State: v.State})
	}
}

func Peers(s *peer.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		self := s.Self()
		writeJSON(w, http.StatusOK, peersResponse{
			Self:    peerSelf{ID: self.ID, Name: self.DisplayName},
			Running: s.Running(),
			Peers:   s.Peers(),
		})
	}
}

func BeginSession(s *peer.Session, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// the session outlives this request
		if err := s.Connect(context.WithoutCancel(r.Context())); err != nil {
			log.Error("begin session", zap.Error(err))
			http.Error(w, "failed to start session", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func EndSession(s *peer.Session, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Disconnect(); err != nil {
			log.Error("end session", zap.Error(err))
			http.Error(w, "failed to end session", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
