package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/studiolink/smshub/internal/model"
	"go.uber.org/zap"
)

type memWriter struct {
	keys, values [][]byte
	err          error
}

func (m *memWriter) Write(ctx context.Context, key, value []byte) error {
	if m.err != nil {
		return m.err
	}
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
	return nil
}

func TestKafkaPublisherKeysByMessageID(t *testing.T) {
	w := &memWriter{}
	NewKafkaPublisher(w, zap.NewNop()).Publish(context.Background(), model.MessageEvent{
		ID: "01HX", Provider: model.ProviderTwilio, Status: model.StatusSent,
	})

	if len(w.keys) != 1 || string(w.keys[0]) != "01HX" {
		t.Fatalf("unexpected keys %q", w.keys)
	}
	var ev model.MessageEvent
	if err := json.Unmarshal(w.values[0], &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Provider != model.ProviderTwilio || ev.Status != model.StatusSent {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestKafkaPublisherSwallowsWriteErrors(t *testing.T) {
	w := &memWriter{err: errors.New("broker down")}
	NewKafkaPublisher(w, zap.NewNop()).Publish(context.Background(), model.MessageEvent{ID: "x"})
}
