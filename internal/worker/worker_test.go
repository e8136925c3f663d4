package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/studiolink/smshub/internal/kafka"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/service/sweep"
	"go.uber.org/zap"
)

type fakeSource struct {
	in chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
}

func (f *fakeSource) Fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-f.in:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (f *fakeSource) Commit(_ context.Context, ms ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, ms...)
	return nil
}

func (f *fakeSource) commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

type fakeEvents struct {
	mu    sync.Mutex
	fail  int
	calls int
	max   int
	rows  []model.MessageEvent
}

func (f *fakeEvents) InsertBatch(_ context.Context, evs []model.MessageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(evs) > f.max {
		f.max = len(evs)
	}
	if f.fail > 0 {
		f.fail--
		return errors.New("clickhouse down")
	}
	f.rows = append(f.rows, evs...)
	return nil
}

func (f *fakeEvents) ListByStudio(context.Context, string, string, model.MessageStatus, int, int) ([]model.MessageEvent, error) {
	return nil, nil
}

func (f *fakeEvents) stored() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func eventMsg(t *testing.T, offset int64, id string) kafka.Message {
	t.Helper()
	b, err := json.Marshal(model.MessageEvent{ID: id, Status: model.StatusSent})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return kafka.Message{Offset: offset, Key: []byte(id), Value: b}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMirrorFlushesBySizeAndCommitsAfterInsert(t *testing.T) {
	src := &fakeSource{in: make(chan kafka.Message, 4)}
	evs := &fakeEvents{}
	m := NewMirror(src, evs, zap.NewNop())
	m.BatchSize = 3
	m.BatchWait = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = m.Run(ctx); close(done) }()

	src.in <- eventMsg(t, 1, "a")
	src.in <- kafka.Message{Offset: 2, Value: []byte("not json")}
	src.in <- eventMsg(t, 3, "b")

	waitFor(t, func() bool { return src.commits() == 3 })
	if evs.stored() != 2 {
		t.Fatalf("expected 2 events stored, poison skipped; got %d", evs.stored())
	}

	cancel()
	<-done
}

func TestMirrorRetriesFailedBatchBeforeCommit(t *testing.T) {
	src := &fakeSource{in: make(chan kafka.Message, 4)}
	evs := &fakeEvents{fail: 1}
	m := NewMirror(src, evs, zap.NewNop())
	m.BatchSize = 100
	m.BatchWait = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = m.Run(ctx); close(done) }()

	src.in <- eventMsg(t, 1, "a")
	waitFor(t, func() bool { return src.commits() == 1 })
	if evs.stored() != 1 {
		t.Fatalf("expected event stored on retry, got %d", evs.stored())
	}

	cancel()
	<-done
}

func TestMirrorHoldsReadsWhileFullBatchFails(t *testing.T) {
	src := &fakeSource{in: make(chan kafka.Message, 4)}
	evs := &fakeEvents{fail: 3}
	m := NewMirror(src, evs, zap.NewNop())
	m.BatchSize = 2
	m.BatchWait = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = m.Run(ctx); close(done) }()

	for i, id := range []string{"a", "b", "c", "d"} {
		src.in <- eventMsg(t, int64(i+1), id)
	}
	waitFor(t, func() bool { return src.commits() == 4 })

	evs.mu.Lock()
	largest, stored := evs.max, len(evs.rows)
	evs.mu.Unlock()
	if largest > 2 {
		t.Fatalf("expected batches capped at 2 events while inserts fail, saw %d", largest)
	}
	if stored != 4 {
		t.Fatalf("expected all events stored after recovery, got %d", stored)
	}

	cancel()
	<-done
}

type blockingSweeper struct {
	runs    atomic.Int32
	release chan struct{}
}

func (b *blockingSweeper) Run(ctx context.Context) (sweep.Report, error) {
	b.runs.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return sweep.Report{OK: true}, nil
}

func TestSweepJobSkipsOverlappingTicks(t *testing.T) {
	s := &blockingSweeper{release: make(chan struct{})}
	job := NewSweepJob(s, 5*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = job.Run(ctx); close(done) }()

	time.Sleep(60 * time.Millisecond)
	if n := s.runs.Load(); n != 1 {
		t.Fatalf("expected one run while the first is blocked, got %d", n)
	}

	close(s.release)
	waitFor(t, func() bool { return s.runs.Load() > 1 })

	cancel()
	<-done
}
