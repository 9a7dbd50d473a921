// Package influx writes metrics samples and signal transitions to InfluxDB.
// When the server cannot be reached the points are appended as line
// protocol to a gzip backup file instead.
package influx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/klauspost/compress/gzip"

	"trafficsim/internal/domain"
)

const (
	measurementSample     = "intersection_metrics"
	measurementTransition = "signal_transition"
)

type Options struct {
	URL        string
	Token      string
	Org        string
	Bucket     string
	BackupPath string
}

// Sink forwards simulation output to InfluxDB. The write API is
// non-blocking; points are batched by the client.
type Sink struct {
	client influxdb2.Client
	writer influxdb2_api.WriteAPI

	mu     sync.Mutex
	backup *gzip.Writer
	file   io.Closer

	logger *slog.Logger
}

// Connect creates the client and checks the server. An unreachable server
// switches the sink to the backup file.
func Connect(ctx context.Context, opts Options, logger *slog.Logger) (*Sink, error) {
	s := &Sink{logger: logger.With("component", "influx")}

	s.client = influxdb2.NewClientWithOptions(
		opts.URL,
		opts.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	running, err := s.client.Ping(ctx)
	if err != nil || !running {
		s.client.Close()
		s.client = nil
		if opts.BackupPath == "" {
			return nil, fmt.Errorf("influxdb at %s unreachable: %v", opts.URL, err)
		}
		if err := s.openBackup(opts.BackupPath); err != nil {
			return nil, err
		}
		s.logger.Warn("InfluxDB unreachable, writing to backup file", "path", opts.BackupPath)
		return s, nil
	}

	s.writer = s.client.WriteAPI(opts.Org, opts.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			s.logger.Error("error sending data to InfluxDB", "bucket", opts.Bucket, "error", writeErr)
		}
	}(s.writer.Errors())

	s.logger.Info("InfluxDB client initialized", "url", opts.URL, "bucket", opts.Bucket)
	return s, nil
}

// NewBackupSink writes every point to w as gzip-compressed line protocol
func NewBackupSink(w io.Writer, logger *slog.Logger) *Sink {
	return &Sink{
		backup: gzip.NewWriter(w),
		logger: logger.With("component", "influx"),
	}
}

func (s *Sink) openBackup(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	s.backup = gzip.NewWriter(file)
	s.file = file
	return nil
}

func (s *Sink) RecordSample(sample domain.MetricsSample) {
	s.write(SamplePoint(sample))
}

func (s *Sink) RecordTransition(t domain.Transition) {
	s.write(TransitionPoint(t))
}

func (s *Sink) write(p *influxdb2_write.Point) {
	if s.writer != nil {
		s.writer.WritePoint(p)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backup == nil {
		return
	}
	line := strings.TrimSuffix(influxdb2_write.PointToLineProtocol(p, time.Nanosecond), "\n")
	if _, err := s.backup.Write([]byte(line + "\n")); err != nil {
		s.logger.Error("error writing to InfluxDB backup file", "error", err)
	}
}

// Close flushes pending points and releases the client or backup file
func (s *Sink) Close() error {
	if s.writer != nil {
		s.writer.Flush()
		s.writer = nil
	}
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backup == nil {
		return nil
	}
	err := s.backup.Close()
	s.backup = nil
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// SamplePoint maps a metrics sample onto a point tagged with run and phase
func SamplePoint(sample domain.MetricsSample) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(measurementSample).
		AddTag("phase", string(sample.Phase)).
		AddField("tick", int64(sample.Tick)).
		AddField("phase_elapsed", sample.Elapsed).
		AddField("queue_ns", sample.Queues.NS).
		AddField("queue_ew", sample.Queues.EW).
		AddField("pressure", sample.Queues.Pressure()).
		AddField("vehicles", sample.Vehicles).
		SetTime(sample.At)
	if sample.RunID != "" {
		p.AddTag("run_id", sample.RunID)
	}
	for i, q := range sample.QValues {
		p.AddField(fmt.Sprintf("q%d", i), q)
	}
	return p
}

// TransitionPoint maps a phase change onto a point
func TransitionPoint(t domain.Transition) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(measurementTransition).
		AddTag("from", string(t.From)).
		AddTag("to", string(t.To)).
		AddTag("cause", string(t.Cause)).
		AddField("elapsed", t.Elapsed).
		AddField("queue_ns", t.Queues.NS).
		AddField("queue_ew", t.Queues.EW).
		AddField("pressure", t.Pressure).
		AddField("manual", t.Manual).
		SetTime(t.At)
	if t.RunID != "" {
		p.AddTag("run_id", t.RunID)
	}
	return p
}
