package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"trafficsim/internal/domain"
	"trafficsim/internal/store"
)

type HTTPHandler struct {
	store *store.Store
}

func NewHTTPHandler(store *store.Store) *HTTPHandler {
	return &HTTPHandler{store: store}
}

type VehiclesResponse struct {
	Vehicles   []*domain.Vehicle `json:"vehicles"`
	Count      int               `json:"count"`
	ServerTime time.Time         `json:"serverTime"`
}

type SignalResponse struct {
	Signal  domain.SignalState   `json:"signal"`
	Lamps   map[string]string    `json:"lamps"`
	Bounds  domain.Bounds        `json:"bounds"`
	Manual  bool                 `json:"manual"`
	Queues  domain.QueueSnapshot `json:"queues"`
	QValues []float64            `json:"qValues"`
}

type EventsResponse struct {
	Events []domain.LogEntry `json:"events"`
}

// snapshot writes 503 and returns false until the runner has published once
func (h *HTTPHandler) snapshot(w http.ResponseWriter) (domain.Snapshot, bool) {
	snap, ok := h.store.Snapshot()
	if !ok {
		respondError(w, http.StatusServiceUnavailable, "simulation not ready")
	}
	return snap, ok
}

func (h *HTTPHandler) GetState(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (h *HTTPHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	opts := store.ListOptions{}

	if axisStr := r.URL.Query().Get("axis"); axisStr != "" {
		axis := domain.Axis(axisStr)
		if axis != domain.AxisNS && axis != domain.AxisEW {
			respondError(w, http.StatusBadRequest, "invalid axis parameter: must be ns or ew")
			return
		}
		opts.Axis = &axis
	}

	opts.PathID = r.URL.Query().Get("path")

	vehicles := h.store.List(opts)

	respondJSON(w, http.StatusOK, VehiclesResponse{
		Vehicles:   vehicles,
		Count:      len(vehicles),
		ServerTime: time.Now(),
	})
}

func (h *HTTPHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid vehicle id")
		return
	}

	vehicle, ok := h.store.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "vehicle not found")
		return
	}

	respondJSON(w, http.StatusOK, vehicle)
}

func (h *HTTPHandler) GetSignal(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, SignalResponse{
		Signal: snap.Signal,
		Lamps: map[string]string{
			string(domain.AxisNS): snap.Signal.Phase.Lamp(domain.AxisNS),
			string(domain.AxisEW): snap.Signal.Phase.Lamp(domain.AxisEW),
		},
		Bounds:  snap.Bounds,
		Manual:  snap.Manual,
		Queues:  snap.Queues,
		QValues: snap.QValues,
	})
}

func (h *HTTPHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	events := snap.Log
	if events == nil {
		events = []domain.LogEntry{}
	}
	respondJSON(w, http.StatusOK, EventsResponse{Events: events})
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
