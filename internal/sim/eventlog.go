package sim

import (
	"time"

	"trafficsim/internal/domain"
)

// EventLog keeps the most recent operator-facing entries, newest first
type EventLog struct {
	entries  []domain.LogEntry
	capacity int
}

func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventLog{capacity: capacity}
}

func (l *EventLog) Add(level domain.LogLevel, msg string, at time.Time) {
	entry := domain.LogEntry{Level: level, Message: msg, At: at}
	l.entries = append([]domain.LogEntry{entry}, l.entries...)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[:l.capacity]
	}
}

func (l *EventLog) Entries() []domain.LogEntry {
	out := make([]domain.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *EventLog) Len() int { return len(l.entries) }
