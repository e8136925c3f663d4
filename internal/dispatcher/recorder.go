package dispatcher

import (
	"context"
	"time"

	"github.com/studiolink/smshub/internal/events"
	"github.com/studiolink/smshub/internal/metrics"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/provider"
	"github.com/studiolink/smshub/internal/repository"
	"github.com/studiolink/smshub/internal/util"
	"go.uber.org/zap"
)

// StoreRecorder persists send attempts to the messages table and publishes
// the resulting row. Targeted attempts settle their sentinel in place.
type StoreRecorder struct {
	messages repository.MessagesRepository
	events   events.Publisher
	log      *zap.Logger
	now      func() time.Time
}

func NewStoreRecorder(messages repository.MessagesRepository, pub events.Publisher, log *zap.Logger) *StoreRecorder {
	if pub == nil {
		pub = events.Nop{}
	}
	return &StoreRecorder{messages: messages, events: pub, log: log, now: time.Now}
}

var _ provider.Recorder = (*StoreRecorder)(nil)

func (r *StoreRecorder) Record(ctx context.Context, a provider.Attempt) error {
	at := a.At
	if at.IsZero() {
		at = r.now().UTC()
	}
	req := a.Request
	code, msg := provider.ErrorDetails(a.Err)

	stage := "sent"
	if a.Err != nil {
		stage = "failed"
	}
	defer metrics.MessagesTotal.WithLabelValues(stage, a.Provider.String()).Inc()

	if t := req.Target; t != nil {
		var err error
		if a.Err != nil {
			err = r.messages.Release(ctx, t.ID, t.ClaimToken, repository.Failure{
				Provider:     a.Provider,
				ErrorCode:    code,
				ErrorMessage: msg,
				At:           at,
			})
		} else {
			err = r.messages.Confirm(ctx, t.ID, t.ClaimToken, repository.Confirmation{
				Provider:          a.Provider,
				ProviderMessageID: a.MessageID,
				FromNumber:        util.NormalizePhone(req.From),
				Body:              req.Body,
				StudioID:          model.StrPtr(req.StudioID),
				ContactID:         model.StrPtr(req.ContactID),
				At:                at,
			})
		}
		if err != nil {
			return err
		}
		r.publishStored(ctx, t.ID)
		return nil
	}

	m := model.Message{
		ID:                util.NewID(),
		FromNumber:        util.NormalizePhone(req.From),
		ToNumber:          util.NormalizePhone(req.To),
		Body:              req.Body,
		Provider:          a.Provider,
		ProviderMessageID: model.StrPtr(a.MessageID),
		StudioID:          model.StrPtr(req.StudioID),
		ContactID:         model.StrPtr(req.ContactID),
		ErrorCode:         model.StrPtr(code),
		ErrorMessage:      model.StrPtr(msg),
		Status:            model.StatusSent,
		Direction:         model.DirectionOutbound,
		MessageDate:       &at,
		CreatedAt:         at,
		UpdatedAt:         at,
	}
	if a.Err != nil {
		m.Status = model.StatusFailed
	}
	if err := r.messages.Insert(ctx, m); err != nil {
		return err
	}
	r.events.Publish(ctx, model.EventFromMessage(m))
	return nil
}

func (r *StoreRecorder) publishStored(ctx context.Context, id string) {
	m, err := r.messages.GetByID(ctx, id)
	if err != nil || m == nil {
		r.log.Warn("reload message for event", zap.String("message_id", id), zap.Error(err))
		return
	}
	r.events.Publish(ctx, model.EventFromMessage(*m))
}
