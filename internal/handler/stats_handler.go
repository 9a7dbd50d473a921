package handler

import (
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"trafficsim/internal/domain"
	"trafficsim/internal/hub"
	"trafficsim/internal/middleware"
	"trafficsim/internal/store"
)

// Stats tracks server-wide counters
type Stats struct {
	startTime        time.Time
	requestCount     atomic.Int64
	wsConnections    atomic.Int64
	wsMessagesIn     atomic.Int64
	wsMessagesOut    atomic.Int64
	rateLimitBlocked atomic.Int64
}

func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

func (s *Stats) IncRequests()         { s.requestCount.Add(1) }
func (s *Stats) IncWSConnections()    { s.wsConnections.Add(1) }
func (s *Stats) DecWSConnections()    { s.wsConnections.Add(-1) }
func (s *Stats) IncWSMessagesIn()     { s.wsMessagesIn.Add(1) }
func (s *Stats) IncWSMessagesOut()    { s.wsMessagesOut.Add(1) }
func (s *Stats) IncRateLimitBlocked() { s.rateLimitBlocked.Add(1) }

type PendingCounter interface {
	Pending() int
}

type StatsHandler struct {
	stats    *Stats
	store    *store.Store
	hub      *hub.Hub
	commands PendingCounter
	limiter  *middleware.RateLimiter
}

func NewStatsHandler(stats *Stats, s *store.Store, h *hub.Hub, commands PendingCounter, limiter *middleware.RateLimiter) *StatsHandler {
	return &StatsHandler{
		stats:    stats,
		store:    s,
		hub:      h,
		commands: commands,
		limiter:  limiter,
	}
}

type StatsResponse struct {
	Server     ServerStatsResponse     `json:"server"`
	Simulation SimulationStatsResponse `json:"simulation"`
	WebSocket  WebSocketStatsResponse  `json:"websocket"`
	RateLimit  *middleware.Stats       `json:"rate_limit,omitempty"`
	Go         GoStatsResponse         `json:"go"`
}

type ServerStatsResponse struct {
	Uptime        string    `json:"uptime"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	StartTime     time.Time `json:"start_time"`
	RequestCount  int64     `json:"request_count"`
	RateLimited   int64     `json:"rate_limited"`
}

type SimulationStatsResponse struct {
	RunID           string         `json:"run_id"`
	Tick            uint64         `json:"tick"`
	Running         bool           `json:"running"`
	Advancing       bool           `json:"advancing"`
	Phase           domain.Phase   `json:"phase"`
	Vehicles        int            `json:"vehicles"`
	VehiclesByAxis  map[string]int `json:"vehicles_by_axis"`
	PendingCommands int            `json:"pending_commands"`
}

type WebSocketStatsResponse struct {
	Connections int64          `json:"connections"`
	Clients     int            `json:"clients"`
	Subscribers map[string]int `json:"subscribers"`
	MessagesIn  int64          `json:"messages_in"`
	MessagesOut int64          `json:"messages_out"`
}

type GoStatsResponse struct {
	Goroutines  int     `json:"goroutines"`
	HeapAlloc   uint64  `json:"heap_alloc_bytes"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	NumGC       uint32  `json:"num_gc"`
	GoVersion   string  `json:"go_version"`
}

func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.stats.startTime)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	sim := SimulationStatsResponse{
		Vehicles:       h.store.Count(),
		VehiclesByAxis: make(map[string]int),
	}
	if snap, ok := h.store.Snapshot(); ok {
		sim.RunID = snap.RunID
		sim.Tick = snap.Tick
		sim.Running = snap.Running
		sim.Advancing = snap.Advancing
		sim.Phase = snap.Signal.Phase
	}
	for axis, n := range h.store.CountByAxis() {
		sim.VehiclesByAxis[string(axis)] = n
	}
	if h.commands != nil {
		sim.PendingCommands = h.commands.Pending()
	}

	ws := WebSocketStatsResponse{
		Connections: h.stats.wsConnections.Load(),
		Subscribers: make(map[string]int),
		MessagesIn:  h.stats.wsMessagesIn.Load(),
		MessagesOut: h.stats.wsMessagesOut.Load(),
	}
	if h.hub != nil {
		ws.Clients = h.hub.ClientCount()
		for topic, n := range h.hub.SubscriberCounts() {
			ws.Subscribers[string(topic)] = n
		}
	}

	response := StatsResponse{
		Server: ServerStatsResponse{
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			StartTime:     h.stats.startTime,
			RequestCount:  h.stats.requestCount.Load(),
			RateLimited:   h.stats.rateLimitBlocked.Load(),
		},
		Simulation: sim,
		WebSocket:  ws,
		Go: GoStatsResponse{
			Goroutines:  runtime.NumGoroutine(),
			HeapAlloc:   mem.HeapAlloc,
			HeapAllocMB: float64(mem.HeapAlloc) / 1024 / 1024,
			NumGC:       mem.NumGC,
			GoVersion:   runtime.Version(),
		},
	}
	if h.limiter != nil {
		rl := h.limiter.Stats()
		response.RateLimit = &rl
	}

	w.Header().Set("Cache-Control", "no-cache")
	respondJSON(w, http.StatusOK, response)
}
