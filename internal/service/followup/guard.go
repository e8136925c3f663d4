// Package followup sends the follow-up and welcome messages at most once per
// recipient, using a pending sentinel row claimed before the provider call.
package followup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/studiolink/smshub/internal/apperr"
	"github.com/studiolink/smshub/internal/crm"
	"github.com/studiolink/smshub/internal/dispatcher"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/provider"
	"github.com/studiolink/smshub/internal/repository"
	"github.com/studiolink/smshub/internal/util"
	"go.uber.org/zap"
)

type Config struct {
	// SixDayStudios lists studio names or ids that book Monday through Saturday.
	SixDayStudios []string
	// StatusExcludedNumbers never get their CRM lead status changed.
	StatusExcludedNumbers []string
	ClaimLease            time.Duration
}

type Request struct {
	Contact *model.Contact
	Studio  *model.Studio
	From    string
	To      string
}

type WelcomeRequest struct {
	LeadID    string
	OwnerID   string
	Mobile    string
	FirstName string
}

type Guard struct {
	messages repository.MessagesRepository
	tasks    repository.ZohoTasksRepository
	studios  repository.StudiosRepository
	crm      crm.CRM
	sender   dispatcher.Sender
	lease    time.Duration
	sixDay   map[string]struct{}
	excluded map[string]struct{}
	log      *zap.Logger
	now      func() time.Time
}

func NewGuard(
	messages repository.MessagesRepository,
	tasks repository.ZohoTasksRepository,
	studios repository.StudiosRepository,
	c crm.CRM,
	sender dispatcher.Sender,
	cfg Config,
	log *zap.Logger,
) *Guard {
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 2 * time.Minute
	}
	g := &Guard{
		messages: messages,
		tasks:    tasks,
		studios:  studios,
		crm:      c,
		sender:   sender,
		lease:    cfg.ClaimLease,
		sixDay:   make(map[string]struct{}, len(cfg.SixDayStudios)),
		excluded: make(map[string]struct{}, len(cfg.StatusExcludedNumbers)),
		log:      log,
		now:      time.Now,
	}
	for _, s := range cfg.SixDayStudios {
		g.sixDay[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	for _, n := range cfg.StatusExcludedNumbers {
		if p := util.NormalizePhone(n); p != "" {
			g.excluded[p] = struct{}{}
		}
	}
	return g
}

// FollowUpSent reports whether a follow-up to this number was ever confirmed.
func (g *Guard) FollowUpSent(ctx context.Context, to string) (bool, error) {
	return g.messages.HasConfirmed(ctx, util.NormalizePhone(to), model.SentinelFollowUp)
}

// SendFollowUp sends the follow-up for a YES reply. A repeat call after a
// confirmed send fails with Conflict; no second message goes out.
func (g *Guard) SendFollowUp(ctx context.Context, req Request) error {
	const op = "followup.send"

	to := util.NormalizePhone(req.To)
	if to == "" {
		return apperr.Validation(op, "recipient number is required")
	}
	log := g.log.With(zap.String("to", to))
	if req.Studio != nil {
		log = log.With(zap.String("studio_id", req.Studio.ID))
	}
	if req.Contact != nil {
		log = log.With(zap.String("contact_id", req.Contact.ID))
	}

	sent, err := g.messages.HasConfirmed(ctx, to, model.SentinelFollowUp)
	if err != nil {
		return err
	}
	if sent {
		return apperr.Conflict(op, "follow-up already sent to %s", to)
	}

	sentinel, err := g.messages.FindPendingSentinel(ctx, to, model.SentinelFollowUp)
	if err != nil {
		return err
	}
	if sentinel == nil {
		switch {
		case req.Contact == nil:
			if _, err := g.messages.CreateSentinel(ctx, g.newSentinel(req, to, model.SentinelFollowUp)); err != nil {
				return err
			}
			log.Info("contact-less follow-up sentinel recorded")
			return nil
		case req.Contact.FreshLead():
			if sentinel, err = g.messages.CreateSentinel(ctx, g.newSentinel(req, to, model.SentinelFollowUp)); err != nil {
				return err
			}
		default:
			log.Debug("contact not eligible for follow-up", zap.String("lead_status", req.Contact.LeadStatus))
			return nil
		}
	}

	if req.Contact == nil || req.Studio == nil {
		log.Info("follow-up pending without routing info", zap.String("message_id", sentinel.ID))
		return nil
	}

	token, err := g.claim(ctx, op, sentinel, model.SentinelFollowUp)
	if err != nil {
		return err
	}

	g.linkTask(ctx, sentinel.ID, req, log)

	body := g.followUpText(*req.Studio, req.Contact)
	if err := g.send(ctx, sentinel.ID, token, model.SentinelFollowUp, body, req); err != nil {
		return err
	}
	log.Info("follow-up sent", zap.String("message_id", sentinel.ID))

	if g.updatesLeadStatus(*req.Studio, to) && req.Contact.IsLead() {
		if err := g.crm.UpdateLeadStatus(ctx, req.Studio.ID, req.Contact.ID, model.LeadStatusContactedNotBooked); err != nil {
			log.Warn("lead status update failed", zap.Error(err))
		}
	}
	return nil
}

// SendWelcome sends the first message to a new lead. The studio is the one
// owned by the CRM owner of the lead.
func (g *Guard) SendWelcome(ctx context.Context, req WelcomeRequest) error {
	const op = "followup.welcome"

	to := util.NormalizePhone(req.Mobile)
	if to == "" || req.LeadID == "" {
		return apperr.Validation(op, "lead id and mobile are required")
	}
	studio, err := g.studios.GetByOwnerID(ctx, req.OwnerID)
	if err != nil {
		return err
	}
	if studio == nil {
		return apperr.NotFound(op, "no active studio for owner %s", req.OwnerID)
	}

	sent, err := g.messages.HasConfirmed(ctx, to, model.SentinelWelcome)
	if err != nil {
		return err
	}
	if sent {
		return apperr.Conflict(op, "welcome already sent to %s", to)
	}

	contact := &model.Contact{ID: req.LeadID, Module: model.ModuleLeads, Mobile: to, FirstName: req.FirstName, OwnerID: req.OwnerID}
	if lead, err := g.crm.GetLead(ctx, studio.ID, req.LeadID); err != nil {
		g.log.Warn("lead lookup failed, using trigger payload", zap.String("lead_id", req.LeadID), zap.Error(err))
	} else if lead != nil {
		contact = lead
	}

	r := Request{Contact: contact, Studio: studio, To: to}
	sentinel, err := g.messages.CreateSentinel(ctx, g.newSentinel(r, to, model.SentinelWelcome))
	if err != nil {
		return err
	}
	token, err := g.claim(ctx, op, sentinel, model.SentinelWelcome)
	if err != nil {
		return err
	}
	return g.send(ctx, sentinel.ID, token, model.SentinelWelcome, welcomeText(*studio, contact), r)
}

// claim takes the send lease on a sentinel. The confirmed check is repeated
// under the claim: a sentinel created after another row was confirmed must
// not send.
func (g *Guard) claim(ctx context.Context, op string, m *model.Message, kind model.SentinelKind) (string, error) {
	token := util.NewID()
	ok, err := g.messages.Claim(ctx, m.ID, token, g.now().UTC(), g.lease)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.Conflict(op, "message %s is claimed by another sender", m.ID)
	}

	sent, err := g.messages.HasConfirmed(ctx, m.ToNumber, kind)
	if err == nil && !sent {
		return token, nil
	}
	if rerr := g.messages.Release(ctx, m.ID, token, repository.Failure{ErrorMessage: "superseded", At: g.now().UTC()}); rerr != nil {
		g.log.Warn("release claim", zap.String("message_id", m.ID), zap.Error(rerr))
	}
	if err != nil {
		return "", err
	}
	return "", apperr.Conflict(op, "%s already sent to %s", kind, m.ToNumber)
}

func (g *Guard) send(ctx context.Context, id, token string, kind model.SentinelKind, body string, req Request) error {
	_, err := g.sender.Send(ctx, dispatcher.SendRequest{
		To:       req.To,
		From:     req.From,
		Body:     body,
		StudioID: req.Studio.ID,
		Contact:  req.Contact,
		Target:   &provider.Target{ID: id, ClaimToken: token, Kind: kind},
	})
	if err == nil {
		return nil
	}
	// Rejections before the provider call leave the claim held; release
	// is a no-op when the recorder already did it.
	code, msg := provider.ErrorDetails(err)
	if rerr := g.messages.Release(context.WithoutCancel(ctx), id, token, repository.Failure{
		ErrorCode:    code,
		ErrorMessage: msg,
		At:           g.now().UTC(),
	}); rerr != nil {
		g.log.Warn("release claim", zap.String("message_id", id), zap.Error(rerr))
	}
	return err
}

func (g *Guard) linkTask(ctx context.Context, messageID string, req Request, log *zap.Logger) {
	existing, err := g.tasks.GetByMessageID(ctx, messageID)
	if err != nil {
		log.Warn("task lookup failed", zap.Error(err))
		return
	}
	if existing != nil {
		return
	}

	subject := "SMS follow-up: lead replied YES"
	taskID, err := g.crm.CreateTask(ctx, req.Studio.ID, crm.Task{
		Subject:     subject,
		Description: fmt.Sprintf("%s replied YES to the welcome message. A follow-up SMS was sent from %s.", displayName(req.Contact), req.Studio.Name),
		OwnerID:     model.Deref(req.Studio.ZohoOwnerID),
		Contact:     req.Contact,
	})
	if err != nil {
		log.Warn("follow-up task creation failed", zap.Error(err))
		return
	}
	err = g.tasks.Insert(ctx, model.ZohoTask{
		ID:         util.NewID(),
		ZohoTaskID: taskID,
		MessageID:  messageID,
		StudioID:   model.StrPtr(req.Studio.ID),
		ContactID:  model.StrPtr(req.Contact.ID),
		Subject:    subject,
		Status:     "Not Started",
	})
	if err != nil && !apperr.Is(err, apperr.KindConflict) {
		log.Warn("link follow-up task", zap.String("zoho_task_id", taskID), zap.Error(err))
	}
}

func (g *Guard) newSentinel(req Request, to string, kind model.SentinelKind) model.Message {
	now := g.now().UTC()
	m := model.Message{
		ID:                util.NewID(),
		FromNumber:        util.NormalizePhone(req.From),
		ToNumber:          to,
		Provider:          model.ProviderRingCentral,
		IsFollowUpMessage: kind == model.SentinelFollowUp,
		IsWelcomeMessage:  kind == model.SentinelWelcome,
		Status:            model.StatusSending,
		Direction:         model.DirectionOutbound,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.Studio != nil {
		m.StudioID = model.StrPtr(req.Studio.ID)
		if p, err := dispatcher.SelectProvider(*req.Studio, req.From); err == nil {
			m.Provider = p
			if m.FromNumber == "" {
				m.FromNumber = util.NormalizePhone(req.Studio.PhoneFor(p))
			}
		}
	}
	if req.Contact != nil {
		m.ContactID = model.StrPtr(req.Contact.ID)
	}
	return m
}

func (g *Guard) sixDayStudio(st model.Studio) bool {
	_, byName := g.sixDay[strings.ToLower(st.Name)]
	_, byID := g.sixDay[strings.ToLower(st.ID)]
	return byName || byID
}

func (g *Guard) updatesLeadStatus(st model.Studio, to string) bool {
	if g.sixDayStudio(st) {
		return false
	}
	_, skip := g.excluded[to]
	return !skip
}

func (g *Guard) followUpText(st model.Studio, c *model.Contact) string {
	days := "Monday through Friday"
	if g.sixDayStudio(st) {
		days = "Monday through Saturday"
	}
	return fmt.Sprintf("Great, %s! Someone from %s will call you %s to set up your first visit. Reply STOP to opt out.",
		displayName(c), st.Name, days)
}

func welcomeText(st model.Studio, c *model.Contact) string {
	return fmt.Sprintf("Hi %s, thanks for your interest in %s! Reply YES and we'll help you book your first visit, or STOP to opt out.",
		displayName(c), st.Name)
}

func displayName(c *model.Contact) string {
	if c == nil || strings.TrimSpace(c.FirstName) == "" {
		return "there"
	}
	return strings.TrimSpace(c.FirstName)
}
