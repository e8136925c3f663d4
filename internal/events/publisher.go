// Package events publishes message lifecycle events for the analytics mirror.
package events

import (
	"context"
	"encoding/json"

	"github.com/studiolink/smshub/internal/model"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, ev model.MessageEvent)
}

// Writer is the producer side of a topic.
type Writer interface {
	Write(ctx context.Context, key, value []byte) error
}

// KafkaPublisher writes events keyed by message id. Publishing is best effort:
// the relational store stays the source of truth.
type KafkaPublisher struct {
	w   Writer
	log *zap.Logger
}

func NewKafkaPublisher(w Writer, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{w: w, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev model.MessageEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("marshal message event", zap.String("message_id", ev.ID), zap.Error(err))
		return
	}
	if err := p.w.Write(ctx, []byte(ev.ID), b); err != nil {
		p.log.Warn("publish message event",
			zap.String("message_id", ev.ID),
			zap.String("status", ev.Status.String()),
			zap.Error(err),
		)
	}
}

type Nop struct{}

func (Nop) Publish(context.Context, model.MessageEvent) {}
