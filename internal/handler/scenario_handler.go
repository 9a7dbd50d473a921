package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"trafficsim/internal/runner"
	"trafficsim/internal/scenario"
)

type ScenarioHandler struct {
	scenarios *scenario.Service
	control   *ControlHandler
	logger    *slog.Logger
}

func NewScenarioHandler(s *scenario.Service, control *ControlHandler, logger *slog.Logger) *ScenarioHandler {
	return &ScenarioHandler{scenarios: s, control: control, logger: logger.With("component", "scenario_handler")}
}

type ImportRequest struct {
	CityName string `json:"cityName"`
}

type CitiesResponse struct {
	Cities []string `json:"cities"`
}

func (h *ScenarioHandler) GetScenario(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.scenarios.Current()
	if !ok {
		respondError(w, http.StatusNotFound, "no scenario imported")
		return
	}
	respondJSON(w, http.StatusOK, sc)
}

// ImportScenario builds the scenario and queues the configure command that
// marks the simulation as configured. The scenario becomes current only
// once the command is queued.
func (h *ScenarioHandler) ImportScenario(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sc, err := h.scenarios.Build(req.CityName)
	if err != nil {
		if errors.Is(err, scenario.ErrEmptyCity) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.control.submit(w, runner.Configure(sc)) {
		h.scenarios.Commit(sc)
	}
}

func (h *ScenarioHandler) ListCities(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, CitiesResponse{Cities: scenario.Cities()})
}

