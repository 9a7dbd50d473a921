package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"trafficsim/internal/domain"
	"trafficsim/internal/queue"
	"trafficsim/internal/runner"
)

// Submitter queues commands for the simulation driver
type Submitter interface {
	Submit(cmd runner.Command) error
}

type ControlHandler struct {
	runner Submitter
	logger *slog.Logger
}

func NewControlHandler(r Submitter, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{runner: r, logger: logger.With("component", "control")}
}

type QueuedResponse struct {
	Status  string         `json:"status"`
	Command runner.Command `json:"command"`
}

type BoundsRequest struct {
	MinGreen *int `json:"minGreen"`
	MaxGreen *int `json:"maxGreen"`
}

type PhaseRequest struct {
	Phase string `json:"phase"`
}

type ModeRequest struct {
	Manual *bool `json:"manual"`
}

type ViewRequest struct {
	Locked *bool `json:"locked"`
}

// submit queues cmd and writes the response; it reports whether cmd was queued
func (h *ControlHandler) submit(w http.ResponseWriter, cmd runner.Command) bool {
	if err := h.runner.Submit(cmd); err != nil {
		if errors.Is(err, queue.ErrFull) {
			h.logger.Warn("command queue full", "command", cmd.String())
			respondError(w, http.StatusServiceUnavailable, "command queue full, retry shortly")
			return false
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return false
	}
	h.logger.Debug("command queued", "command", cmd.String())
	respondJSON(w, http.StatusAccepted, QueuedResponse{Status: "queued", Command: cmd})
	return true
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (h *ControlHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.submit(w, runner.Start())
}

func (h *ControlHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.submit(w, runner.Pause())
}

func (h *ControlHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.submit(w, runner.Reset())
}

func (h *ControlHandler) Collision(w http.ResponseWriter, r *http.Request) {
	h.submit(w, runner.Collision())
}

func (h *ControlHandler) Connect(w http.ResponseWriter, r *http.Request) {
	h.submit(w, runner.Connect())
}

// SetBounds accepts any integers; inverted limits are clamped by the controller
func (h *ControlHandler) SetBounds(w http.ResponseWriter, r *http.Request) {
	var req BoundsRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MinGreen == nil || req.MaxGreen == nil {
		respondError(w, http.StatusBadRequest, "minGreen and maxGreen are required")
		return
	}
	h.submit(w, runner.SetBounds(*req.MinGreen, *req.MaxGreen))
}

func (h *ControlHandler) ForcePhase(w http.ResponseWriter, r *http.Request) {
	var req PhaseRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	phase, err := domain.ParsePhase(req.Phase)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.submit(w, runner.ForcePhase(phase))
}

func (h *ControlHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Manual == nil {
		respondError(w, http.StatusBadRequest, "manual is required")
		return
	}
	h.submit(w, runner.SetManual(*req.Manual))
}

func (h *ControlHandler) SetView(w http.ResponseWriter, r *http.Request) {
	var req ViewRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Locked == nil {
		respondError(w, http.StatusBadRequest, "locked is required")
		return
	}
	h.submit(w, runner.LockView(*req.Locked))
}
