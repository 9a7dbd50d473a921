package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"trafficsim/internal/domain"
)

// Topic is a stream a websocket client can subscribe to
type Topic string

const (
	TopicVehicles Topic = "vehicles"
	TopicSignal   Topic = "signal"
	TopicMetrics  Topic = "metrics"
	TopicEvents   Topic = "events"
)

var knownTopics = map[Topic]struct{}{
	TopicVehicles: {},
	TopicSignal:   {},
	TopicMetrics:  {},
	TopicEvents:   {},
}

// ParseTopics validates topic names sent by a client
func ParseTopics(names []string) ([]Topic, error) {
	topics := make([]Topic, 0, len(names))
	for _, n := range names {
		t := Topic(n)
		if _, ok := knownTopics[t]; !ok {
			return nil, fmt.Errorf("unknown topic %q", n)
		}
		topics = append(topics, t)
	}
	return topics, nil
}

type Client struct {
	ID     string
	Send   chan []byte
	topics map[Topic]struct{}
	mu     sync.RWMutex

	// closed is guarded by Hub.mu
	closed bool
}

func NewClient(id string, bufferSize int) *Client {
	return &Client{
		ID:     id,
		Send:   make(chan []byte, bufferSize),
		topics: make(map[Topic]struct{}),
	}
}

func (c *Client) Has(t Topic) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[t]
	return ok
}

func (c *Client) add(topics []Topic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		c.topics[t] = struct{}{}
	}
}

func (c *Client) remove(topics []Topic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.topics, t)
	}
}

func (c *Client) Topics() []Topic {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Topic, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

// SignalView is the signal section of a frame
type SignalView struct {
	State  domain.SignalState `json:"state"`
	Bounds domain.Bounds      `json:"bounds"`
	Manual bool               `json:"manual"`
	Lamps  map[string]string  `json:"lamps"`
}

// MetricsView is the metrics section of a frame
type MetricsView struct {
	Queues   domain.QueueSnapshot `json:"queues"`
	QValues  []float64            `json:"qValues"`
	Activity []float64            `json:"activity,omitempty"`
	Vehicles int                  `json:"vehicles"`
}

// Frame is what one simulation tick changed. Nil sections did not change.
type Frame struct {
	Tick    uint64
	Deltas  []domain.VehicleDelta
	Signal  *SignalView
	Metrics *MetricsView
	Events  []domain.LogEntry
}

func (f Frame) empty() bool {
	return len(f.Deltas) == 0 && f.Signal == nil && f.Metrics == nil && f.Events == nil
}

// NewSignalView builds the signal section from a snapshot
func NewSignalView(snap domain.Snapshot) *SignalView {
	return &SignalView{
		State:  snap.Signal,
		Bounds: snap.Bounds,
		Manual: snap.Manual,
		Lamps: map[string]string{
			string(domain.AxisNS): snap.Signal.Phase.Lamp(domain.AxisNS),
			string(domain.AxisEW): snap.Signal.Phase.Lamp(domain.AxisEW),
		},
	}
}

// NewMetricsView builds the metrics section from a snapshot
func NewMetricsView(snap domain.Snapshot) *MetricsView {
	return &MetricsView{
		Queues:   snap.Queues,
		QValues:  snap.QValues,
		Activity: snap.Activity,
		Vehicles: len(snap.Vehicles),
	}
}

type Hub struct {
	mu           sync.RWMutex
	clients      map[*Client]struct{}
	topicClients map[Topic]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan Frame

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:      make(map[*Client]struct{}),
		topicClients: make(map[Topic]map[*Client]struct{}),
		register:     make(chan *Client, 16),
		unregister:   make(chan *Client, 16),
		broadcast:    make(chan Frame, 256),
		logger:       logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.ID, "total", total)

		case client := <-h.unregister:
			h.removeClient(client)

		case frame := <-h.broadcast:
			h.fanout(frame)
		}
	}
}

func (h *Hub) Subscribe(client *Client, topics []Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.add(topics)
	for _, t := range topics {
		if h.topicClients[t] == nil {
			h.topicClients[t] = make(map[*Client]struct{})
		}
		h.topicClients[t][client] = struct{}{}
	}
}

func (h *Hub) Unsubscribe(client *Client, topics []Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.remove(topics)
	h.dropFromTopics(client, topics)
}

// Broadcast queues a frame for fan-out without blocking the caller. It
// reports false when the frame was dropped because the queue is full.
func (h *Hub) Broadcast(frame Frame) bool {
	if frame.empty() {
		return true
	}
	select {
	case h.broadcast <- frame:
		return true
	default:
		h.logger.Warn("broadcast channel full, dropping frame", "tick", frame.Tick)
		return false
	}
}

// SendTo delivers a message to one client without blocking. It reports
// false when the buffer is full or the hub has already closed the client.
func (h *Hub) SendTo(client *Client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if client.closed {
		return false
	}
	select {
	case client.Send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCounts returns the number of clients per topic
func (h *Hub) SubscriberCounts() map[Topic]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[Topic]int, len(h.topicClients))
	for t, cs := range h.topicClients {
		out[t] = len(cs)
	}
	return out
}

type FrameMessage struct {
	Type    string       `json:"type"`
	Payload FramePayload `json:"payload"`
}

type FramePayload struct {
	Tick    uint64            `json:"tick"`
	Updates []*domain.Vehicle `json:"updates,omitempty"`
	Removes []uint64          `json:"removes,omitempty"`
	Signal  *SignalView       `json:"signal,omitempty"`
	Metrics *MetricsView      `json:"metrics,omitempty"`
	Events  []domain.LogEntry `json:"events,omitempty"`
}

func (h *Hub) fanout(frame Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// clients sharing a topic set share one encoded message
	encoded := make(map[string][]byte)

	for client := range h.clients {
		payload, key := buildPayload(frame, client)
		if key == "" {
			continue
		}

		data, ok := encoded[key]
		if !ok {
			var err error
			data, err = json.Marshal(FrameMessage{Type: "frame", Payload: payload})
			if err != nil {
				h.logger.Error("failed to encode frame", "error", err)
				return
			}
			encoded[key] = data
		}

		select {
		case client.Send <- data:
		default:
			h.logger.Debug("client send buffer full", "client_id", client.ID)
		}
	}
}

// buildPayload keeps the sections of frame the client subscribed to. key
// identifies the section set and is empty when nothing is left to send.
func buildPayload(frame Frame, client *Client) (FramePayload, string) {
	p := FramePayload{Tick: frame.Tick}
	key := ""

	if len(frame.Deltas) > 0 && client.Has(TopicVehicles) {
		for _, d := range frame.Deltas {
			switch d.Type {
			case domain.DeltaUpdate:
				p.Updates = append(p.Updates, d.Vehicle)
			case domain.DeltaRemove:
				p.Removes = append(p.Removes, d.ID)
			}
		}
		key += "v"
	}
	if frame.Signal != nil && client.Has(TopicSignal) {
		p.Signal = frame.Signal
		key += "s"
	}
	if frame.Metrics != nil && client.Has(TopicMetrics) {
		p.Metrics = frame.Metrics
		key += "m"
	}
	if frame.Events != nil && client.Has(TopicEvents) {
		p.Events = frame.Events
		key += "e"
	}
	return p, key
}

func (h *Hub) dropFromTopics(client *Client, topics []Topic) {
	for _, t := range topics {
		if h.topicClients[t] != nil {
			delete(h.topicClients[t], client)
			if len(h.topicClients[t]) == 0 {
				delete(h.topicClients, t)
			}
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	h.dropFromTopics(client, client.Topics())
	delete(h.clients, client)
	client.closed = true
	close(client.Send)
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", len(h.clients))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.closed = true
		close(client.Send)
	}
	h.clients = make(map[*Client]struct{})
	h.topicClients = make(map[Topic]map[*Client]struct{})
}
