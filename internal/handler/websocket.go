package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"trafficsim/internal/domain"
	"trafficsim/internal/hub"
	"trafficsim/internal/store"
)

type WSHandler struct {
	hub    *hub.Hub
	store  *store.Store
	stats  *Stats
	logger *slog.Logger
}

func NewWSHandler(h *hub.Hub, s *store.Store, stats *Stats, logger *slog.Logger) *WSHandler {
	return &WSHandler{hub: h, store: s, stats: stats, logger: logger.With("component", "websocket")}
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type TopicsPayload struct {
	Topics []string `json:"topics"`
}

type SnapshotMessage struct {
	Type    string          `json:"type"`
	Payload domain.Snapshot `json:"payload"`
}

type ErrorMessage struct {
	Type    string        `json:"type"`
	Payload errorResponse `json:"payload"`
}

type PongMessage struct {
	Type string `json:"type"`
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := hub.NewClient(clientID, 256)

	h.hub.Register(client)
	h.stats.IncWSConnections()
	defer h.stats.DecWSConnections()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}
		h.stats.IncWSMessagesIn()

		if msgType != websocket.MessageText {
			continue
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid message format", "client_id", client.ID, "error", err)
			continue
		}

		switch msg.Type {
		case "subscribe", "unsubscribe":
			var payload TopicsPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				h.send(client, ErrorMessage{Type: "error", Payload: errorResponse{Error: "invalid topics payload"}})
				continue
			}
			topics, err := hub.ParseTopics(payload.Topics)
			if err != nil {
				h.send(client, ErrorMessage{Type: "error", Payload: errorResponse{Error: err.Error()}})
				continue
			}
			if len(topics) == 0 {
				continue
			}
			if msg.Type == "subscribe" {
				h.hub.Subscribe(client, topics)
				h.sendSnapshot(client)
			} else {
				h.hub.Unsubscribe(client, topics)
			}

		case "ping":
			h.send(client, PongMessage{Type: "pong"})
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
			h.stats.IncWSMessagesOut()

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// sendSnapshot gives a new subscriber the full state the next frames apply to
func (h *WSHandler) sendSnapshot(client *hub.Client) {
	snap, ok := h.store.Snapshot()
	if !ok {
		return
	}
	h.send(client, SnapshotMessage{Type: "snapshot", Payload: snap})
}

func (h *WSHandler) send(client *hub.Client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	if !h.hub.SendTo(client, data) {
		h.logger.Debug("message not delivered", "client_id", client.ID)
	}
}
