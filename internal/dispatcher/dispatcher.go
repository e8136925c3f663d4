// Package dispatcher routes outbound sends to the provider a studio is set up for.
package dispatcher

import (
	"context"
	"strings"

	"github.com/studiolink/smshub/internal/apperr"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/provider"
	"github.com/studiolink/smshub/internal/repository"
	"github.com/studiolink/smshub/internal/util"
	"go.uber.org/zap"
)

type SendRequest struct {
	To       string
	From     string
	Body     string
	StudioID string
	// SelectedSender names a studio whose identity overrides StudioID.
	SelectedSender string
	Contact        *model.Contact
	Target         *provider.Target
}

type SendResult struct {
	Success   bool           `json:"success"`
	Provider  model.Provider `json:"provider"`
	MessageID string         `json:"messageId"`
}

// Sender is the send surface the workflows depend on.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

type Dispatcher struct {
	studios  repository.StudiosRepository
	adapters map[model.Provider]provider.Adapter
	rec      provider.Recorder
	log      *zap.Logger
}

// NewDispatcher wires adapters by name. rec persists sends for adapters that
// do not record their own attempts.
func NewDispatcher(studios repository.StudiosRepository, adapters []provider.Adapter, rec provider.Recorder, log *zap.Logger) *Dispatcher {
	byName := make(map[model.Provider]provider.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Dispatcher{studios: studios, adapters: byName, rec: rec, log: log}
}

var _ Sender = (*Dispatcher)(nil)

func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	const op = "dispatcher.send"

	if req.Contact != nil && req.Contact.SMSOptOut {
		return SendResult{}, apperr.Validation(op, "contact %s has opted out of SMS", req.Contact.ID)
	}
	if util.NormalizePhone(req.To) == "" {
		return SendResult{}, apperr.Validation(op, "recipient number is required")
	}

	studioID := req.StudioID
	if name := strings.TrimSpace(req.SelectedSender); name != "" {
		override, err := d.studios.GetByName(ctx, name)
		if err != nil {
			return SendResult{}, err
		}
		if override == nil {
			return SendResult{}, apperr.NotFound(op, "sender studio %q not found", name)
		}
		studioID = override.ID
	}
	if studioID == "" {
		return SendResult{}, apperr.Validation(op, "studio id is required")
	}

	studio, err := d.studios.GetByID(ctx, studioID)
	if err != nil {
		return SendResult{}, err
	}
	if studio == nil || !studio.Active {
		return SendResult{}, apperr.NotFound(op, "studio %s not found or inactive", studioID)
	}

	p, err := SelectProvider(*studio, req.From)
	if err != nil {
		return SendResult{}, err
	}
	adapter, ok := d.adapters[p]
	if !ok {
		return SendResult{}, apperr.Configuration(op, "provider %s is not enabled", p)
	}

	preq := provider.SendRequest{
		StudioID: studio.ID,
		From:     studio.PhoneFor(p),
		To:       req.To,
		Body:     req.Body,
		Target:   req.Target,
	}
	if req.Contact != nil {
		preq.ContactID = req.Contact.ID
	}

	res, err := adapter.Send(ctx, preq)
	if p == model.ProviderRingCentral && (err == nil || req.Target != nil) {
		attempt := provider.Attempt{Provider: p, Request: preq, MessageID: res.MessageID, Err: err}
		if rerr := d.rec.Record(context.WithoutCancel(ctx), attempt); rerr != nil {
			d.log.Error("record ringcentral send",
				zap.String("studio_id", studio.ID),
				zap.String("message_id", res.MessageID),
				zap.Error(rerr),
			)
			if err == nil {
				err = rerr
			}
		}
	}
	if err != nil {
		return SendResult{Provider: p}, err
	}

	return SendResult{Success: true, Provider: p, MessageID: res.MessageID}, nil
}

// SelectProvider picks the provider for a send from the studio. An exact
// match on from wins; otherwise RingCentral is preferred over Twilio.
func SelectProvider(studio model.Studio, from string) (model.Provider, error) {
	f := util.NormalizePhone(from)
	rc := util.NormalizePhone(studio.PhoneFor(model.ProviderRingCentral))
	tw := util.NormalizePhone(studio.PhoneFor(model.ProviderTwilio))

	switch {
	case f != "" && f == rc:
		return model.ProviderRingCentral, nil
	case f != "" && f == tw:
		return model.ProviderTwilio, nil
	case rc != "":
		return model.ProviderRingCentral, nil
	case tw != "":
		return model.ProviderTwilio, nil
	default:
		return "", apperr.Configuration("dispatcher.select", "studio %s has no provider number configured", studio.ID)
	}
}
