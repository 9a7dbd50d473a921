package handler

import (
	"errors"
	"net/http"
	"strconv"

	"trafficsim/internal/history"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

type HistoryHandler struct {
	reader *history.Reader
}

// NewHistoryHandler serves persisted history. A nil reader answers 404.
func NewHistoryHandler(reader *history.Reader) *HistoryHandler {
	return &HistoryHandler{reader: reader}
}

type TransitionsResponse struct {
	Transitions []history.TransitionRecord `json:"transitions"`
	Count       int                        `json:"count"`
}

type SamplesResponse struct {
	Samples []history.SampleRecord `json:"samples"`
	Count   int                    `json:"count"`
}

func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid limit parameter: must be a positive integer")
	}
	return min(n, maxHistoryLimit), nil
}

func (h *HistoryHandler) respondErr(w http.ResponseWriter, err error) {
	if errors.Is(err, history.ErrDisabled) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func (h *HistoryHandler) ListTransitions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.reader.ListTransitions(r.Context(), limit)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, TransitionsResponse{Transitions: out, Count: len(out)})
}

func (h *HistoryHandler) ListSamples(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.reader.ListSamples(r.Context(), limit)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, SamplesResponse{Samples: out, Count: len(out)})
}
