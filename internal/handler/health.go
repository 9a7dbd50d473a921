package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"trafficsim/internal/store"
)

type ReadyChecker interface {
	IsReady() bool
}

type HealthHandler struct {
	runner ReadyChecker
	store  *store.Store
}

func NewHealthHandler(r ReadyChecker, s *store.Store) *HealthHandler {
	return &HealthHandler{
		runner: r,
		store:  s,
	}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready        bool      `json:"ready"`
	Running      bool      `json:"running"`
	Tick         uint64    `json:"tick"`
	VehicleCount int       `json:"vehicleCount"`
	ServerTime   time.Time `json:"serverTime"`
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ready := h.runner.IsReady()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	resp := ReadyResponse{
		Ready:        ready,
		VehicleCount: h.store.Count(),
		ServerTime:   time.Now(),
	}
	if snap, ok := h.store.Snapshot(); ok {
		resp.Running = snap.Running
		resp.Tick = snap.Tick
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
