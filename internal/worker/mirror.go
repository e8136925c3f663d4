package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/studiolink/smshub/internal/kafka"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/repository"
	"go.uber.org/zap"
)

// Source is the consumer side of the message events topic.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, ms ...kafka.Message) error
}

// Mirror:
// - fetches message events from Kafka,
// - batches them into ClickHouse by size or time,
// - commits offsets only after the batch is written.
type Mirror struct {
	Source    Source
	Events    repository.CHMessagesRepository
	BatchSize int
	BatchWait time.Duration
	Log       *zap.Logger
}

func NewMirror(src Source, events repository.CHMessagesRepository, log *zap.Logger) *Mirror {
	return &Mirror{
		Source:    src,
		Events:    events,
		BatchSize: 200,
		BatchWait: 500 * time.Millisecond,
		Log:       log,
	}
}

// Run blocks until ctx is cancelled. Pending events are flushed on the way out.
func (w *Mirror) Run(ctx context.Context) error {
	if w.BatchSize <= 0 {
		w.BatchSize = 200
	}
	if w.BatchWait <= 0 {
		w.BatchWait = 500 * time.Millisecond
	}

	in := make(chan kafka.Message, w.BatchSize*2)
	go w.fetch(ctx, in)
	w.runBatchWriter(ctx, in)
	return nil
}

func (w *Mirror) fetch(ctx context.Context, out chan<- kafka.Message) {
	defer close(out)
	for {
		m, err := w.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Log.Warn("kafka fetch", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		select {
		case out <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Mirror) runBatchWriter(ctx context.Context, in <-chan kafka.Message) {
	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	var (
		events  []model.MessageEvent
		offsets []kafka.Message
	)

	flush := func(ctx context.Context) {
		if len(offsets) == 0 {
			return
		}
		if err := w.Events.InsertBatch(ctx, events); err != nil {
			// Keep the batch; the next tick retries it.
			w.Log.Error("mirror batch insert", zap.Int("events", len(events)), zap.Error(err))
			return
		}
		if err := w.Source.Commit(ctx, offsets...); err != nil {
			w.Log.Warn("kafka commit", zap.Error(err))
		}
		w.Log.Debug("mirror flushed", zap.Int("events", len(events)), zap.Int("offsets", len(offsets)))
		events, offsets = events[:0], offsets[:0]
	}

	for {
		// A full batch that failed to insert holds back reads until the
		// ticker retry succeeds, so the buffer never exceeds BatchSize.
		recv := in
		if len(offsets) >= w.BatchSize {
			recv = nil
		}

		select {
		case <-ctx.Done():
			flush(context.WithoutCancel(ctx))
			return

		case m, ok := <-recv:
			if !ok {
				flush(context.WithoutCancel(ctx))
				return
			}
			// Undecodable events are committed with the batch and skipped.
			offsets = append(offsets, m)
			var ev model.MessageEvent
			if err := json.Unmarshal(m.Value, &ev); err != nil || ev.ID == "" {
				w.Log.Warn("bad message event", zap.Int64("offset", m.Offset), zap.Error(err))
			} else {
				events = append(events, ev)
			}
			if len(offsets) >= w.BatchSize {
				flush(ctx)
			}

		case <-tick.C:
			flush(ctx)
		}
	}
}
