// Package inbound runs the workflow for one inbound SMS: record it, resolve
// studio and contact, then follow up, opt out or open a CRM task.
package inbound

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/studiolink/smshub/internal/apperr"
	"github.com/studiolink/smshub/internal/crm"
	"github.com/studiolink/smshub/internal/events"
	"github.com/studiolink/smshub/internal/metrics"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/repository"
	"github.com/studiolink/smshub/internal/service/followup"
	"github.com/studiolink/smshub/internal/util"
	"go.uber.org/zap"
)

type Event struct {
	Provider          model.Provider
	To                string
	From              string
	Body              string
	ProviderMessageID string
}

type Outcome string

const (
	OutcomeDropped   Outcome = "dropped"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeNoStudio  Outcome = "no_studio"
	OutcomeNoContact Outcome = "no_contact"
	OutcomeFollowUp  Outcome = "follow_up"
	OutcomeOptedOut  Outcome = "opted_out"
	OutcomeTask      Outcome = "task_created"
	OutcomeRecorded  Outcome = "recorded"
)

// FollowUps is the part of the follow-up guard the processor drives.
type FollowUps interface {
	SendFollowUp(ctx context.Context, req followup.Request) error
	FollowUpSent(ctx context.Context, to string) (bool, error)
}

type Config struct {
	// AdminNumber is shared by all studios; replies to it belong to the
	// studio owning the contact in the CRM. Some studio row must hold the
	// number (twilio_phone or ringcentral_phone) so the CRM lookup has
	// credentials; CheckAdminNumber enforces that at startup.
	AdminNumber string
}

// CheckAdminNumber fails with a Configuration error when an admin number is
// set but no studio owns it. An empty number passes.
func CheckAdminNumber(ctx context.Context, studios repository.StudiosRepository, number string) error {
	n := util.NormalizePhone(number)
	if n == "" {
		return nil
	}
	st, err := studios.GetByPhone(ctx, n)
	if err != nil {
		return fmt.Errorf("admin number lookup: %w", err)
	}
	if st == nil {
		return apperr.Configuration("inbound.admin_number", "no studio owns admin number %s", n)
	}
	return nil
}

type Processor struct {
	messages  repository.MessagesRepository
	studios   repository.StudiosRepository
	tasks     repository.ZohoTasksRepository
	crm       crm.CRM
	followups FollowUps
	events    events.Publisher
	admin     string
	log       *zap.Logger
	now       func() time.Time
}

func NewProcessor(
	messages repository.MessagesRepository,
	studios repository.StudiosRepository,
	tasks repository.ZohoTasksRepository,
	c crm.CRM,
	followups FollowUps,
	pub events.Publisher,
	cfg Config,
	log *zap.Logger,
) *Processor {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Processor{
		messages:  messages,
		studios:   studios,
		tasks:     tasks,
		crm:       c,
		followups: followups,
		events:    pub,
		admin:     util.NormalizePhone(cfg.AdminNumber),
		log:       log,
		now:       time.Now,
	}
}

type intent int

const (
	intentOther intent = iota
	intentYes
	intentStop
)

func classify(body string) intent {
	switch strings.ToLower(strings.TrimSpace(body)) {
	case "yes":
		return intentYes
	case "stop":
		return intentStop
	default:
		return intentOther
	}
}

// Handle processes one delivery. The raw message is stored before any CRM
// call, so later failures never lose it.
func (p *Processor) Handle(ctx context.Context, ev Event) (Outcome, error) {
	to, from := util.NormalizePhone(ev.To), util.NormalizePhone(ev.From)
	sid := strings.TrimSpace(ev.ProviderMessageID)
	if to == "" || from == "" || sid == "" || ev.Body == "" {
		return OutcomeDropped, apperr.Validation("inbound.parse", "To, From, Body and message id are required")
	}
	if !ev.Provider.Valid() {
		ev.Provider = model.ProviderTwilio
	}
	log := p.log.With(
		zap.String("provider", ev.Provider.String()),
		zap.String("provider_message_id", sid),
		zap.String("to", to),
	)

	dup, err := p.messages.ExistsByProviderID(ctx, ev.Provider, sid)
	if err != nil {
		return OutcomeDropped, err
	}
	if dup {
		log.Info("inbound redelivery dropped")
		return OutcomeDuplicate, nil
	}

	studio, err := p.studios.GetByPhone(ctx, to)
	if err != nil {
		log.Warn("studio lookup failed", zap.Error(err))
	}

	raw, err := p.record(ctx, ev, to, from, sid, studio)
	if apperr.Is(err, apperr.KindConflict) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return OutcomeDropped, err
	}
	log = log.With(zap.String("message_id", raw.ID))

	if studio == nil {
		log.Warn("no studio owns the receiving number")
		return OutcomeNoStudio, nil
	}
	act := classify(ev.Body)

	contact, err := p.crm.FindByPhone(ctx, studio.ID, from)
	if err != nil {
		return OutcomeRecorded, fmt.Errorf("contact lookup: %w", err)
	}
	if contact == nil {
		if act == intentYes {
			// Leaves a contact-less sentinel for the sweep.
			if err := p.followups.SendFollowUp(ctx, followup.Request{Studio: studio, From: to, To: from}); err != nil && !apperr.Is(err, apperr.KindConflict) {
				return OutcomeNoContact, err
			}
		}
		log.Info("no CRM contact for sender")
		return OutcomeNoContact, nil
	}
	log = log.With(zap.String("contact_id", contact.ID))

	if p.admin != "" && to == p.admin && contact.OwnerID != "" {
		owned, err := p.studios.GetByOwnerID(ctx, contact.OwnerID)
		if err != nil {
			log.Warn("owner studio lookup failed", zap.Error(err))
		} else if owned != nil {
			studio = owned
		}
	}
	log = log.With(zap.String("studio_id", studio.ID))

	if err := p.messages.UpdateResolution(ctx, raw.ID, model.StrPtr(studio.ID), model.StrPtr(contact.ID)); err != nil {
		log.Warn("update message resolution", zap.Error(err))
	}

	switch act {
	case intentYes:
		sent, err := p.followups.FollowUpSent(ctx, from)
		if err != nil {
			return OutcomeRecorded, err
		}
		if !sent {
			err := p.followups.SendFollowUp(ctx, followup.Request{Contact: contact, Studio: studio, From: to, To: from})
			if err != nil && !apperr.Is(err, apperr.KindConflict) {
				return OutcomeFollowUp, err
			}
			return OutcomeFollowUp, nil
		}
	case intentStop:
		if err := p.crm.OptOut(ctx, studio.ID, *contact); err != nil {
			return OutcomeRecorded, err
		}
		log.Info("contact opted out")
		return OutcomeOptedOut, nil
	}

	if err := p.createTask(ctx, raw, studio, contact); err != nil {
		return OutcomeRecorded, err
	}
	return OutcomeTask, nil
}

func (p *Processor) record(ctx context.Context, ev Event, to, from, sid string, studio *model.Studio) (model.Message, error) {
	now := p.now().UTC()
	m := model.Message{
		ID:                util.NewID(),
		FromNumber:        from,
		ToNumber:          to,
		Body:              ev.Body,
		Provider:          ev.Provider,
		ProviderMessageID: model.StrPtr(sid),
		Status:            model.StatusReceived,
		Direction:         model.DirectionInbound,
		MessageDate:       &now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if studio != nil {
		m.StudioID = model.StrPtr(studio.ID)
	}
	if err := p.messages.Insert(ctx, m); err != nil {
		return model.Message{}, err
	}
	metrics.MessagesTotal.WithLabelValues("received", ev.Provider.String()).Inc()
	p.events.Publish(ctx, model.EventFromMessage(m))
	return m, nil
}

func (p *Processor) createTask(ctx context.Context, m model.Message, studio *model.Studio, contact *model.Contact) error {
	existing, err := p.tasks.GetByMessageID(ctx, m.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	name := strings.TrimSpace(contact.FirstName)
	if name == "" {
		name = m.FromNumber
	}
	subject := "SMS reply from " + name
	taskID, err := p.crm.CreateTask(ctx, studio.ID, crm.Task{
		Subject:     subject,
		Description: fmt.Sprintf("Inbound SMS from %s to %s:\n%s", m.FromNumber, studio.Name, m.Body),
		OwnerID:     model.Deref(studio.ZohoOwnerID),
		Contact:     contact,
	})
	if err != nil {
		return err
	}

	err = p.tasks.Insert(ctx, model.ZohoTask{
		ID:         util.NewID(),
		ZohoTaskID: taskID,
		MessageID:  m.ID,
		StudioID:   model.StrPtr(studio.ID),
		ContactID:  model.StrPtr(contact.ID),
		Subject:    subject,
		Status:     "Not Started",
	})
	if apperr.Is(err, apperr.KindConflict) {
		return nil
	}
	return err
}
