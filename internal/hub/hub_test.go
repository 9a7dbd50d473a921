package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficsim/internal/domain"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func register(t *testing.T, h *Hub, id string, topics ...Topic) *Client {
	t.Helper()
	c := NewClient(id, 8)
	want := h.ClientCount() + 1
	h.Register(c)
	require.Eventually(t, func() bool { return h.ClientCount() == want }, time.Second, 5*time.Millisecond)
	h.Subscribe(c, topics)
	return c
}

func receive(t *testing.T, c *Client) FrameMessage {
	t.Helper()
	select {
	case data := <-c.Send:
		var msg FrameMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.ID)
		return FrameMessage{}
	}
}

func TestParseTopics(t *testing.T) {
	topics, err := ParseTopics([]string{"vehicles", "events"})
	require.NoError(t, err)
	assert.Equal(t, []Topic{TopicVehicles, TopicEvents}, topics)

	_, err = ParseTopics([]string{"vehicles", "weather"})
	assert.Error(t, err)
}

func TestHub_FanoutByTopic(t *testing.T) {
	h := startHub(t)
	cars := register(t, h, "cars", TopicVehicles)
	lights := register(t, h, "lights", TopicSignal, TopicEvents)

	v := domain.Vehicle{ID: 4, PathID: "ns_1", Axis: domain.AxisNS, Distance: 0.2}
	snap := domain.Snapshot{Signal: domain.SignalState{Phase: domain.PhaseEWGreen, Elapsed: 3}}
	h.Broadcast(Frame{
		Tick: 9,
		Deltas: []domain.VehicleDelta{
			{Type: domain.DeltaUpdate, Vehicle: &v, ID: 4, Axis: domain.AxisNS},
			{Type: domain.DeltaRemove, ID: 2, Axis: domain.AxisEW},
		},
		Signal: NewSignalView(snap),
	})

	msg := receive(t, cars)
	assert.Equal(t, "frame", msg.Type)
	assert.Equal(t, uint64(9), msg.Payload.Tick)
	require.Len(t, msg.Payload.Updates, 1)
	assert.Equal(t, uint64(4), msg.Payload.Updates[0].ID)
	assert.Equal(t, []uint64{2}, msg.Payload.Removes)
	assert.Nil(t, msg.Payload.Signal)

	msg = receive(t, lights)
	assert.Empty(t, msg.Payload.Updates)
	require.NotNil(t, msg.Payload.Signal)
	assert.Equal(t, domain.PhaseEWGreen, msg.Payload.Signal.State.Phase)
	assert.Equal(t, "green", msg.Payload.Signal.Lamps["ew"])
	assert.Equal(t, "red", msg.Payload.Signal.Lamps["ns"])
}

func TestHub_SkipsClientsWithNothingToSend(t *testing.T) {
	h := startHub(t)
	events := register(t, h, "events", TopicEvents)
	metrics := register(t, h, "metrics", TopicMetrics)

	h.Broadcast(Frame{Tick: 1, Metrics: &MetricsView{QValues: []float64{0.2, 0.1, 0.05, 0.05}}})
	h.Broadcast(Frame{Tick: 2, Events: []domain.LogEntry{{Level: domain.LogInfo, Message: "hello"}}})

	msg := receive(t, metrics)
	assert.Equal(t, uint64(1), msg.Payload.Tick)

	msg = receive(t, events)
	assert.Equal(t, uint64(2), msg.Payload.Tick, "the metrics-only frame is not sent to event subscribers")
	require.Len(t, msg.Payload.Events, 1)
}

func TestHub_UnsubscribeAndUnregister(t *testing.T) {
	h := startHub(t)
	c := register(t, h, "c1", TopicVehicles, TopicSignal)
	assert.Equal(t, map[Topic]int{TopicVehicles: 1, TopicSignal: 1}, h.SubscriberCounts())

	h.Unsubscribe(c, []Topic{TopicVehicles})
	assert.False(t, c.Has(TopicVehicles))
	assert.Equal(t, map[Topic]int{TopicSignal: 1}, h.SubscriberCounts())

	h.Unregister(c)
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-c.Send
	assert.False(t, open)
	assert.Empty(t, h.SubscriberCounts())
}

func TestHub_EmptyFrameIsDropped(t *testing.T) {
	h := startHub(t)
	c := register(t, h, "c1", TopicVehicles, TopicSignal, TopicMetrics, TopicEvents)

	h.Broadcast(Frame{Tick: 5})
	h.Broadcast(Frame{Tick: 6, Signal: &SignalView{}})

	assert.Equal(t, uint64(6), receive(t, c).Payload.Tick)
}

func TestHub_SendToClosedClient(t *testing.T) {
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	c := register(t, h, "late", TopicSignal)
	assert.True(t, h.SendTo(c, []byte(`{"type":"pong"}`)))
	assert.Equal(t, `{"type":"pong"}`, string(<-c.Send))

	cancel()
	<-done

	assert.NotPanics(t, func() {
		assert.False(t, h.SendTo(c, []byte(`{"type":"pong"}`)))
	})
}

func TestHub_SendToUnregisteredClient(t *testing.T) {
	h := startHub(t)
	c := register(t, h, "gone")

	h.Unregister(c)
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	assert.NotPanics(t, func() {
		assert.False(t, h.SendTo(c, []byte("x")))
	})
}

func TestHub_BroadcastReportsDrop(t *testing.T) {
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	frame := Frame{Tick: 1, Signal: &SignalView{}}

	for range cap(h.broadcast) {
		require.True(t, h.Broadcast(frame))
	}
	assert.False(t, h.Broadcast(frame))
	assert.True(t, h.Broadcast(Frame{Tick: 2}), "empty frames are never queued")
}
