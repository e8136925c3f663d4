package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/studiolink/smshub/internal/apperr"
	"github.com/studiolink/smshub/internal/metrics"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/repository"
	"github.com/studiolink/smshub/internal/service/followup"
	"github.com/studiolink/smshub/internal/service/inbound"
	"github.com/studiolink/smshub/internal/util"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"
)

// InboundProcessor runs the inbound SMS workflow.
type InboundProcessor interface {
	Handle(ctx context.Context, ev inbound.Event) (inbound.Outcome, error)
}

// Welcomer sends the welcome message for a new CRM lead.
type Welcomer interface {
	SendWelcome(ctx context.Context, req followup.WelcomeRequest) error
}

// Webhook handlers always answer 200: providers retry anything else, and a
// retry would process the same event twice.

func handleInbound(c echo.Context, p InboundProcessor, source string, ev inbound.Event, log *zap.Logger) {
	out, err := p.Handle(c.Request().Context(), ev)
	metrics.WebhooksTotal.WithLabelValues(source, string(out)).Inc()
	if err != nil {
		fields := []zap.Field{
			zap.String("source", source),
			zap.String("outcome", string(out)),
			zap.String("provider_message_id", ev.ProviderMessageID),
			zap.Error(err),
		}
		if apperr.Is(err, apperr.KindValidation) {
			log.Warn("inbound sms rejected", fields...)
		} else {
			log.Error("inbound sms", fields...)
		}
	}
}

func twilioSMSHandler(p InboundProcessor, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ev := inbound.Event{
			Provider:          model.ProviderTwilio,
			To:                c.FormValue("To"),
			From:              c.FormValue("From"),
			Body:              c.FormValue("Body"),
			ProviderMessageID: c.FormValue("MessageSid"),
		}
		handleInbound(c, p, "twilio_sms", ev, log)
		return c.NoContent(http.StatusOK)
	}
}

type rcNumber struct {
	PhoneNumber string `json:"phoneNumber"`
}

type rcNotification struct {
	UUID  string `json:"uuid"`
	Event string `json:"event"`
	Body  struct {
		ID        any        `json:"id"`
		Type      string     `json:"type"`
		Direction string     `json:"direction"`
		Subject   string     `json:"subject"`
		From      rcNumber   `json:"from"`
		To        []rcNumber `json:"to"`
	} `json:"body"`
}

func ringCentralSMSHandler(p InboundProcessor, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Subscription handshake: echo the token back.
		if tok := c.Request().Header.Get("Validation-Token"); tok != "" {
			c.Response().Header().Set("Validation-Token", tok)
			return c.NoContent(http.StatusOK)
		}

		var n rcNotification
		if err := c.Bind(&n); err != nil {
			log.Warn("ringcentral notification decode", zap.Error(err))
			return c.NoContent(http.StatusOK)
		}
		if !strings.EqualFold(n.Body.Direction, "inbound") || (n.Body.Type != "" && !strings.EqualFold(n.Body.Type, "sms")) {
			metrics.WebhooksTotal.WithLabelValues("ringcentral_sms", "ignored").Inc()
			return c.NoContent(http.StatusOK)
		}

		ev := inbound.Event{
			Provider:          model.ProviderRingCentral,
			From:              n.Body.From.PhoneNumber,
			Body:              n.Body.Subject,
			ProviderMessageID: idString(n.Body.ID),
		}
		if len(n.Body.To) > 0 {
			ev.To = n.Body.To[0].PhoneNumber
		}
		handleInbound(c, p, "ringcentral_sms", ev, log)
		return c.NoContent(http.StatusOK)
	}
}

// idString accepts the message id as a JSON string or number.
func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}

func zohoWelcomeHandler(w Welcomer, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := followup.WelcomeRequest{
			LeadID:    strings.TrimSpace(c.FormValue("leadId")),
			OwnerID:   strings.TrimSpace(c.FormValue("ownerId")),
			Mobile:    c.FormValue("mobile"),
			FirstName: strings.TrimSpace(c.FormValue("firstName")),
		}
		err := w.SendWelcome(c.Request().Context(), req)
		outcome := "sent"
		switch {
		case err == nil:
		case apperr.Is(err, apperr.KindConflict):
			outcome = "duplicate"
		default:
			outcome = "failed"
			log.Error("welcome message", zap.String("lead_id", req.LeadID), zap.Error(err))
		}
		metrics.WebhooksTotal.WithLabelValues("zoho_welcome", outcome).Inc()
		return c.NoContent(http.StatusOK)
	}
}

func twilioVoiceHandler(studios repository.StudiosRepository, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		to := util.NormalizePhone(c.FormValue("To"))
		var studio *model.Studio
		if to != "" {
			st, err := studios.GetByPhone(c.Request().Context(), to)
			if err != nil {
				log.Warn("voice studio lookup", zap.String("to", to), zap.Error(err))
			}
			studio = st
		}

		doc, err := twiml.Voice([]twiml.Element{&twiml.VoiceSay{Message: voiceMessage(studio)}})
		if err != nil {
			log.Error("render twiml", zap.Error(err))
			return c.NoContent(http.StatusOK)
		}
		metrics.WebhooksTotal.WithLabelValues("twilio_voice", "answered").Inc()
		return c.Blob(http.StatusOK, "text/xml", []byte(doc))
	}
}

func voiceMessage(st *model.Studio) string {
	name := "our studio"
	if st != nil && strings.TrimSpace(st.Name) != "" {
		name = strings.TrimSpace(st.Name)
	}
	if st != nil && util.NormalizePhone(model.Deref(st.CallbackPhone)) != "" {
		return "Thank you for calling " + name + ". We can't take your call on this line. " +
			"Please call us at " + spokenNumber(util.NormalizePhone(*st.CallbackPhone)) +
			", or send a text message to this number."
	}
	return "Thank you for calling " + name + ". We can't take your call on this line. " +
		"Please send a text message to this number and we will get right back to you."
}

// spokenNumber spaces digits so the voice reads them one by one.
func spokenNumber(d string) string {
	var b strings.Builder
	for i, r := range d {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
