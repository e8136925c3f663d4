// Package conversation merges provider history with stored messages into one
// timeline per contact.
package conversation

import (
	"context"
	"sort"
	"time"

	"github.com/studiolink/smshub/internal/apperr"
	"github.com/studiolink/smshub/internal/cache"
	"github.com/studiolink/smshub/internal/metrics"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/provider"
	"github.com/studiolink/smshub/internal/repository"
	"github.com/studiolink/smshub/internal/util"
	"go.uber.org/zap"
)

type Query struct {
	Mobile    string
	StudioID  string
	ContactID string
}

type UIMessage struct {
	ID                string              `json:"id"`
	Provider          model.Provider      `json:"provider"`
	ProviderMessageID string              `json:"providerMessageId,omitempty"`
	From              string              `json:"from"`
	To                string              `json:"to"`
	Body              string              `json:"body"`
	Direction         model.Direction     `json:"direction"`
	Status            model.MessageStatus `json:"status"`
	ErrorMessage      string              `json:"errorMessage,omitempty"`
	FollowUp          bool                `json:"isFollowUpMessage"`
	Welcome           bool                `json:"isWelcomeMessage"`
	Timestamp         time.Time           `json:"timestamp"`
	StudioName        string              `json:"studioName"`
}

// Directory resolves studio phone numbers to names.
type Directory interface {
	Names(ctx context.Context) (map[string]string, error)
}

type Service struct {
	messages    repository.MessagesRepository
	studios     repository.StudiosRepository
	ringcentral provider.Adapter
	twilio      provider.Adapter
	dir         Directory
	log         *zap.Logger
}

// NewService takes nil adapters for providers that are not configured.
func NewService(
	messages repository.MessagesRepository,
	studios repository.StudiosRepository,
	ringcentral, twilio provider.Adapter,
	dir Directory,
	log *zap.Logger,
) *Service {
	return &Service{
		messages:    messages,
		studios:     studios,
		ringcentral: ringcentral,
		twilio:      twilio,
		dir:         dir,
		log:         log,
	}
}

func dedupKey(p model.Provider, id string) string { return string(p) + ":" + id }

func (s *Service) GetConversation(ctx context.Context, q Query) ([]UIMessage, error) {
	phone := util.NormalizePhone(q.Mobile)
	if phone == "" {
		return nil, apperr.Validation("conversation.get", "contact mobile is required")
	}
	log := s.log.With(zap.String("studio_id", q.StudioID), zap.String("contact_id", q.ContactID))

	local, err := s.messages.ListByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}

	if q.ContactID != "" && q.StudioID != "" && s.ringcentral != nil {
		n, err := s.syncRingCentral(ctx, q, phone, local)
		if err != nil {
			log.Warn("ringcentral sync failed, serving stored messages", zap.Error(err))
		} else if n > 0 {
			if local, err = s.messages.ListByPhone(ctx, phone); err != nil {
				return nil, err
			}
		}
	}

	out := make([]UIMessage, 0, len(local))
	seen := make(map[string]struct{}, len(local))
	for _, m := range local {
		if m.ProviderMessageID != nil {
			seen[dedupKey(m.Provider, *m.ProviderMessageID)] = struct{}{}
		}
		out = append(out, fromStored(m))
	}

	if legacy, err := s.twilioHistory(ctx, q, phone); err != nil {
		log.Warn("twilio history unavailable", zap.Error(err))
	} else {
		for _, pm := range legacy {
			k := dedupKey(pm.Provider, pm.ID)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, fromProvider(pm))
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	s.annotate(ctx, out, phone, log)
	return out, nil
}

// syncRingCentral stores RingCentral messages not yet known locally and
// returns how many rows were written.
func (s *Service) syncRingCentral(ctx context.Context, q Query, phone string, local []model.Message) (int64, error) {
	fetched, err := s.ringcentral.ListMessages(ctx, provider.Filter{StudioID: q.StudioID, Phone: phone})
	if err != nil {
		return 0, err
	}

	known := make(map[string]struct{}, len(local))
	for _, m := range local {
		if m.ProviderMessageID != nil {
			known[dedupKey(m.Provider, *m.ProviderMessageID)] = struct{}{}
		}
	}

	var fresh []model.Message
	for _, pm := range fetched {
		k := dedupKey(pm.Provider, pm.ID)
		if _, ok := known[k]; ok || pm.ID == "" {
			continue
		}
		known[k] = struct{}{}
		fresh = append(fresh, toStored(pm, q))
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	n, err := s.messages.InsertIgnoreBatch(ctx, fresh)
	if err != nil {
		return 0, err
	}
	metrics.MessagesTotal.WithLabelValues("synced", model.ProviderRingCentral.String()).Add(float64(n))
	return n, nil
}

func (s *Service) twilioHistory(ctx context.Context, q Query, phone string) ([]provider.Message, error) {
	if s.twilio == nil || q.StudioID == "" {
		return nil, nil
	}
	studio, err := s.studios.GetByID(ctx, q.StudioID)
	if err != nil {
		return nil, err
	}
	if studio == nil || !studio.HasProvider(model.ProviderTwilio) {
		return nil, nil
	}
	return s.twilio.ListMessages(ctx, provider.Filter{StudioID: studio.ID, Phone: phone})
}

func (s *Service) annotate(ctx context.Context, msgs []UIMessage, contactPhone string, log *zap.Logger) {
	names, err := s.dir.Names(ctx)
	if err != nil {
		log.Warn("studio directory unavailable", zap.Error(err))
	}
	for i := range msgs {
		other := msgs[i].From
		if other == contactPhone {
			other = msgs[i].To
		}
		msgs[i].StudioName = cache.Lookup(names, other)
	}
}

func toStored(pm provider.Message, q Query) model.Message {
	now := time.Now().UTC()
	m := model.Message{
		ID:                util.NewID(),
		FromNumber:        pm.From,
		ToNumber:          pm.To,
		Body:              pm.Body,
		Provider:          pm.Provider,
		ProviderMessageID: model.StrPtr(pm.ID),
		StudioID:          model.StrPtr(q.StudioID),
		ContactID:         model.StrPtr(q.ContactID),
		Status:            pm.Status,
		Direction:         pm.Direction,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if !pm.SentAt.IsZero() {
		at := pm.SentAt
		m.MessageDate = &at
	}
	return m
}

func fromStored(m model.Message) UIMessage {
	return UIMessage{
		ID:                m.ID,
		Provider:          m.Provider,
		ProviderMessageID: model.Deref(m.ProviderMessageID),
		From:              m.FromNumber,
		To:                m.ToNumber,
		Body:              m.Body,
		Direction:         m.Direction,
		Status:            m.Status,
		ErrorMessage:      model.Deref(m.ErrorMessage),
		FollowUp:          m.IsFollowUpMessage,
		Welcome:           m.IsWelcomeMessage,
		Timestamp:         m.Timestamp(),
	}
}

func fromProvider(pm provider.Message) UIMessage {
	return UIMessage{
		ID:                pm.ID,
		Provider:          pm.Provider,
		ProviderMessageID: pm.ID,
		From:              pm.From,
		To:                pm.To,
		Body:              pm.Body,
		Direction:         pm.Direction,
		Status:            pm.Status,
		Timestamp:         pm.SentAt,
	}
}
