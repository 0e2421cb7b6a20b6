package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xeo-systems/org-platform/internal/kafka"
	"github.com/xeo-systems/org-platform/internal/metrics"
	"github.com/xeo-systems/org-platform/internal/model"
	"github.com/xeo-systems/org-platform/internal/repository"
)

// MessageSource abstracts the Kafka consumer so tests can feed envelopes
// without a broker.
type MessageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Exporter:
// - fetches usage envelopes from Kafka (published off the outbox),
// - fans out to parser goroutines,
// - batch-inserts events into ClickHouse on size/time flush.
//
// The pipeline is at-least-once; ClickHouse deduplicates on the event ULID.
type Exporter struct {
	Source MessageSource
	Events repository.CHEventsRepository
	Log    *zap.Logger

	Workers   int
	BatchSize int
	BatchWait time.Duration
}

// NewExporter builds an exporter with sane defaults.
func NewExporter(source MessageSource, events repository.CHEventsRepository, log *zap.Logger) *Exporter {
	return &Exporter{
		Source:    source,
		Events:    events,
		Log:       log,
		Workers:   16,
		BatchSize: 200,
		BatchWait: 300 * time.Millisecond,
	}
}

// Run starts the exporter and blocks until ctx is cancelled.
func (w *Exporter) Run(ctx context.Context) error {
	if w.Source == nil || w.Events == nil {
		return errors.New("exporter: missing source or sink")
	}
	if w.Workers <= 0 {
		w.Workers = 16
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 200
	}
	if w.BatchWait <= 0 {
		w.BatchWait = 300 * time.Millisecond
	}

	out := make(chan model.Envelope, w.BatchSize*2)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		w.runBatchWriter(ctx, out)
	}()

	msgCh := make(chan kafka.Message, w.Workers*2)

	// fetcher
	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				m, err := w.Source.Fetch(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					w.Log.Warn("exporter: kafka fetch failed", zap.Error(err))
					time.Sleep(200 * time.Millisecond)
					continue
				}
				msgCh <- m
			}
		}
	}()

	// parsers
	for i := 0; i < w.Workers; i++ {
		go w.runParser(ctx, msgCh, out)
	}

	<-ctx.Done()
	<-writerDone
	return nil
}

func (w *Exporter) runParser(ctx context.Context, in <-chan kafka.Message, out chan<- model.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			w.processOne(ctx, m, out)
		}
	}
}

func (w *Exporter) processOne(ctx context.Context, m kafka.Message, out chan<- model.Envelope) {
	var env model.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil || env.ID == "" {
		// poison message: commit and skip
		metrics.ExporterEventsTotal.WithLabelValues("poison").Inc()
		_ = w.Source.Commit(ctx, m)
		if err != nil {
			w.Log.Warn("exporter: bad envelope json", zap.Error(err))
		} else {
			w.Log.Warn("exporter: envelope missing id")
		}
		return
	}

	select {
	case out <- env:
	case <-ctx.Done():
		return
	}

	if err := w.Source.Commit(ctx, m); err != nil {
		w.Log.Warn("exporter: commit failed", zap.String("event_id", env.ID), zap.Error(err))
	}
}

// runBatchWriter does size/time-based flush of ClickHouse inserts.
func (w *Exporter) runBatchWriter(ctx context.Context, in <-chan model.Envelope) {
	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	batch := make([]model.Envelope, 0, w.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// flushes race shutdown; give the insert its own deadline
		fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := w.Events.InsertBatch(fctx, batch); err != nil {
			metrics.ExporterEventsTotal.WithLabelValues("error").Add(float64(len(batch)))
			w.Log.Error("exporter: clickhouse batch insert failed",
				zap.Int("batch", len(batch)), zap.Error(err))
		} else {
			metrics.ExporterEventsTotal.WithLabelValues("flushed").Add(float64(len(batch)))
			w.Log.Debug("exporter: flushed", zap.Int("batch", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case env, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, env)
			if len(batch) >= w.BatchSize {
				flush()
			}

		case <-tick.C:
			flush()
		}
	}
}
