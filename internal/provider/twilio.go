package provider

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/studiolink/smshub/internal/apperr"
	"github.com/studiolink/smshub/internal/metrics"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/util"
	"github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// MessageAPI is the slice of the twilio-go v2010 API the adapter needs.
// *api.ApiService satisfies it.
type MessageAPI interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
	ListMessage(params *api.ListMessageParams) ([]api.ApiV2010Message, error)
}

var _ MessageAPI = (*api.ApiService)(nil)

// twilioErrors maps Twilio error codes to messages shown in the UI.
var twilioErrors = map[int]string{
	21211: "The destination number is not a valid phone number.",
	21408: "Sending to this region is not enabled for the account.",
	21606: "The studio number cannot send SMS.",
	21610: "The recipient has unsubscribed from messages (STOP).",
	21614: "The destination number is not a mobile number.",
	30003: "The destination handset is unreachable.",
	30004: "The message was blocked by the recipient or carrier.",
	30005: "The destination number is unknown or no longer in service.",
	30006: "The destination is a landline or an unreachable carrier.",
	30007: "The carrier filtered the message as spam.",
	30008: "The message could not be delivered.",
}

const twilioUnknownError = "The message could not be sent. Please try again."

func twilioErrorMessage(code int) string {
	if msg, ok := twilioErrors[code]; ok {
		return msg
	}
	return twilioUnknownError
}

type Twilio struct {
	api   MessageAPI
	rec   Recorder
	limit int
	log   *zap.Logger
	now   func() time.Time
}

func NewTwilio(messages MessageAPI, rec Recorder, listLimit int, log *zap.Logger) *Twilio {
	if listLimit <= 0 {
		listLimit = 1000
	}
	return &Twilio{api: messages, rec: rec, limit: listLimit, log: log, now: time.Now}
}

func (t *Twilio) Name() model.Provider { return model.ProviderTwilio }

// Send creates the message and always records the attempt, whatever the outcome.
func (t *Twilio) Send(ctx context.Context, req SendRequest) (res SendResult, err error) {
	defer func() {
		attempt := Attempt{
			Provider:  model.ProviderTwilio,
			Request:   req,
			MessageID: res.MessageID,
			Err:       err,
			At:        t.now().UTC(),
		}
		if rerr := t.rec.Record(context.WithoutCancel(ctx), attempt); rerr != nil {
			t.log.Error("record twilio send",
				zap.String("studio_id", req.StudioID),
				zap.String("to", req.To),
				zap.Error(rerr),
			)
			if err == nil {
				err = rerr
			}
		}
	}()

	params := &api.CreateMessageParams{}
	params.SetTo(util.ForTwilio(req.To))
	params.SetFrom(util.ForTwilio(req.From))
	params.SetBody(req.Body)

	msg, sendErr := t.api.CreateMessage(params)
	if sendErr != nil {
		metrics.ProviderSendAttempts.WithLabelValues(model.ProviderTwilio.String(), "sdk", "failed").Inc()
		return SendResult{}, apperr.ExternalService("twilio.send", mapTwilioError(sendErr))
	}
	if msg == nil || msg.Sid == nil {
		metrics.ProviderSendAttempts.WithLabelValues(model.ProviderTwilio.String(), "sdk", "failed").Inc()
		return SendResult{}, apperr.ExternalService("twilio.send", &SendError{
			Provider: model.ProviderTwilio,
			Message:  twilioUnknownError,
		})
	}

	metrics.ProviderSendAttempts.WithLabelValues(model.ProviderTwilio.String(), "sdk", "ok").Inc()
	return SendResult{MessageID: *msg.Sid}, nil
}

func mapTwilioError(err error) error {
	var rest *client.TwilioRestError
	if errors.As(err, &rest) {
		return &SendError{
			Provider: model.ProviderTwilio,
			Code:     strconv.Itoa(rest.Code),
			Message:  twilioErrorMessage(rest.Code),
		}
	}
	return &SendError{Provider: model.ProviderTwilio, Message: twilioUnknownError}
}

// ListMessages returns messages sent to or from the phone, oldest first.
func (t *Twilio) ListMessages(ctx context.Context, f Filter) ([]Message, error) {
	phone := util.ForTwilio(f.Phone)
	if phone == "" {
		return nil, apperr.Validation("twilio.list", "phone is required")
	}

	var out []Message
	for _, dir := range []func(*api.ListMessageParams) *api.ListMessageParams{
		func(p *api.ListMessageParams) *api.ListMessageParams { return p.SetTo(phone) },
		func(p *api.ListMessageParams) *api.ListMessageParams { return p.SetFrom(phone) },
	} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		params := &api.ListMessageParams{}
		dir(params).SetLimit(t.limit)

		msgs, err := t.api.ListMessage(params)
		if err != nil {
			return nil, apperr.ExternalService("twilio.list", err)
		}
		for _, m := range msgs {
			if pm, ok := fromTwilio(m); ok {
				out = append(out, pm)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

func fromTwilio(m api.ApiV2010Message) (Message, bool) {
	if m.Sid == nil {
		return Message{}, false
	}
	pm := Message{
		Provider:  model.ProviderTwilio,
		ID:        *m.Sid,
		From:      util.NormalizePhone(model.Deref(m.From)),
		To:        util.NormalizePhone(model.Deref(m.To)),
		Body:      model.Deref(m.Body),
		Direction: model.DirectionOutbound,
		Status:    model.StatusSent,
	}
	if m.Direction != nil && *m.Direction == "inbound" {
		pm.Direction = model.DirectionInbound
		pm.Status = model.StatusReceived
	}
	if m.Status != nil && (*m.Status == "failed" || *m.Status == "undelivered") {
		pm.Status = model.StatusFailed
	}
	for _, raw := range []*string{m.DateSent, m.DateCreated} {
		if raw == nil {
			continue
		}
		if ts, err := time.Parse(time.RFC1123Z, *raw); err == nil {
			pm.SentAt = ts.UTC()
			break
		}
	}
	return pm, true
}
