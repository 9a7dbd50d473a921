// Package history persists signal transitions and metrics samples to SQL
// through GORM. SQLite is the default backend; Postgres is used when
// configured and reachable.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trafficsim/internal/domain"
)

// ErrDisabled is returned by queries when no history backend is configured
var ErrDisabled = errors.New("history is disabled")

// TransitionRecord is one persisted phase change
type TransitionRecord struct {
	ID       uint      `json:"id" gorm:"primarykey"`
	RunID    string    `json:"runId" gorm:"index"`
	From     string    `json:"from" gorm:"column:from_phase"`
	To       string    `json:"to" gorm:"column:to_phase"`
	Elapsed  int       `json:"elapsed"`
	QueueNS  int       `json:"queueNs"`
	QueueEW  int       `json:"queueEw"`
	Pressure int       `json:"pressure"`
	Manual   bool      `json:"manual"`
	Cause    string    `json:"cause"`
	At       time.Time `json:"at" gorm:"index"`
}

// SampleRecord is one persisted metrics tick
type SampleRecord struct {
	ID       uint           `json:"id" gorm:"primarykey"`
	RunID    string         `json:"runId" gorm:"index"`
	Tick     uint64         `json:"tick"`
	Phase    string         `json:"phase"`
	Elapsed  int            `json:"phaseElapsed"`
	QueueNS  int            `json:"queueNs"`
	QueueEW  int            `json:"queueEw"`
	QValues  datatypes.JSON `json:"qValues"`
	Vehicles int            `json:"vehicles"`
	At       time.Time      `json:"at" gorm:"index"`
}

func newTransitionRecord(t domain.Transition) TransitionRecord {
	return TransitionRecord{
		RunID:    t.RunID,
		From:     string(t.From),
		To:       string(t.To),
		Elapsed:  t.Elapsed,
		QueueNS:  t.Queues.NS,
		QueueEW:  t.Queues.EW,
		Pressure: t.Pressure,
		Manual:   t.Manual,
		Cause:    string(t.Cause),
		At:       t.At,
	}
}

func newSampleRecord(s domain.MetricsSample) (SampleRecord, error) {
	qv, err := json.Marshal(s.QValues)
	if err != nil {
		return SampleRecord{}, fmt.Errorf("encode q-values: %w", err)
	}
	return SampleRecord{
		RunID:    s.RunID,
		Tick:     s.Tick,
		Phase:    string(s.Phase),
		Elapsed:  s.Elapsed,
		QueueNS:  s.Queues.NS,
		QueueEW:  s.Queues.EW,
		QValues:  datatypes.JSON(qv),
		Vehicles: s.Vehicles,
		At:       s.At,
	}, nil
}

// Open connects to the configured backend and migrates the schema. A
// postgres DSN that cannot be reached falls back to a local SQLite file.
func Open(driver, dsn string, log *slog.Logger) (*gorm.DB, error) {
	cfg := &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}

	var db *gorm.DB
	var err error
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		}), cfg)
		if err == nil {
			err = ping(db)
		}
		if err != nil {
			log.Warn("postgres unavailable, falling back to sqlite", "error", err)
			db, err = gorm.Open(sqlite.Open("trafficsim.db"), cfg)
		}
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported history driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	if err := db.AutoMigrate(&TransitionRecord{}, &SampleRecord{}); err != nil {
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}
	log.Info("history database ready", "backend", db.Name())
	return db, nil
}

func ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

const (
	maxBatch        = 512
	insertBatchSize = 200
)

type item struct {
	transition *domain.Transition
	sample     *domain.MetricsSample
}

// Recorder writes transitions and samples from a background goroutine.
// Records are dropped when the buffer is full.
type Recorder struct {
	db      *gorm.DB
	items   chan item
	logger  *slog.Logger
	done    chan struct{}
	dropped int
	mu      sync.Mutex
}

func NewRecorder(db *gorm.DB, buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 1
	}
	return &Recorder{
		db:     db,
		items:  make(chan item, buffer),
		logger: logger.With("component", "history"),
		done:   make(chan struct{}),
	}
}

// Run drains the buffer until ctx is cancelled, then flushes what is left.
// Records that arrive together are written in one transaction.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			for {
				batch := r.drain(nil)
				if len(batch) == 0 {
					return
				}
				r.flush(context.Background(), batch)
			}
		case it := <-r.items:
			r.flush(ctx, r.drain([]item{it}))
		}
	}
}

// drain appends buffered items to batch without blocking, up to maxBatch
func (r *Recorder) drain(batch []item) []item {
	for len(batch) < maxBatch {
		select {
		case it := <-r.items:
			batch = append(batch, it)
		default:
			return batch
		}
	}
	return batch
}

// Done is closed once Run has flushed and returned
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

func (r *Recorder) RecordTransition(t domain.Transition) {
	r.enqueue(item{transition: &t})
}

func (r *Recorder) RecordSample(s domain.MetricsSample) {
	r.enqueue(item{sample: &s})
}

// Dropped returns how many records did not fit in the buffer
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Recorder) enqueue(it item) {
	select {
	case r.items <- it:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		r.logger.Debug("history buffer full, dropping record")
	}
}

func (r *Recorder) flush(ctx context.Context, batch []item) {
	var transitions []TransitionRecord
	var samples []SampleRecord
	for _, it := range batch {
		switch {
		case it.transition != nil:
			transitions = append(transitions, newTransitionRecord(*it.transition))
		case it.sample != nil:
			rec, err := newSampleRecord(*it.sample)
			if err != nil {
				r.logger.Error("failed to encode sample", "error", err)
				continue
			}
			samples = append(samples, rec)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(transitions) > 0 {
			if err := tx.CreateInBatches(&transitions, insertBatchSize).Error; err != nil {
				return fmt.Errorf("store transitions: %w", err)
			}
		}
		if len(samples) > 0 {
			if err := tx.CreateInBatches(&samples, insertBatchSize).Error; err != nil {
				return fmt.Errorf("store samples: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to write history batch", "transitions", len(transitions), "samples", len(samples), "error", err)
		return
	}
	r.logger.Debug("history batch written", "transitions", len(transitions), "samples", len(samples))
}

// Reader queries persisted history. A Reader with no database returns
// ErrDisabled.
type Reader struct {
	db *gorm.DB
}

func NewReader(db *gorm.DB) *Reader {
	return &Reader{db: db}
}

// ListTransitions returns the newest transitions first
func (r *Reader) ListTransitions(ctx context.Context, limit int) ([]TransitionRecord, error) {
	if r == nil || r.db == nil {
		return nil, ErrDisabled
	}
	var out []TransitionRecord
	err := r.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	return out, nil
}

// ListSamples returns the newest samples first
func (r *Reader) ListSamples(ctx context.Context, limit int) ([]SampleRecord, error) {
	if r == nil || r.db == nil {
		return nil, ErrDisabled
	}
	var out []SampleRecord
	err := r.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	return out, nil
}
