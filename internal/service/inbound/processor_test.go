package inbound

import (
	"context"
	"testing"

	"github.com/studiolink/smshub/internal/apperr"
	"github.com/studiolink/smshub/internal/crm/crmtest"
	"github.com/studiolink/smshub/internal/dispatcher"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/provider"
	"github.com/studiolink/smshub/internal/provider/providertest"
	"github.com/studiolink/smshub/internal/repository/memstore"
	"github.com/studiolink/smshub/internal/service/followup"
	"go.uber.org/zap"
)

const (
	leadPhone   = "2145550111"
	planoPhone  = "8175550199"
	friscoPhone = "9725550199"
	adminPhone  = "4695550000"
)

func ptr(s string) *string { return &s }

type harness struct {
	store *memstore.Store
	crm   *crmtest.Fake
	rc    *providertest.Fake
	p     *Processor
}

func newHarness(contacts ...model.Contact) *harness {
	store := memstore.New()
	store.AddStudio(model.Studio{ID: "plano", Name: "Plano", Active: true, RingCentralPhone: ptr(planoPhone), ZohoOwnerID: ptr("owner-plano")})
	store.AddStudio(model.Studio{ID: "frisco", Name: "Frisco", Active: true, RingCentralPhone: ptr(friscoPhone), ZohoOwnerID: ptr("owner-frisco")})
	store.AddStudio(model.Studio{ID: "hq", Name: "HQ", Active: true, TwilioPhone: ptr(adminPhone)})

	c := crmtest.New(contacts...)
	rc := providertest.New(model.ProviderRingCentral)
	d := dispatcher.NewDispatcher(store.Studios(), []provider.Adapter{rc}, dispatcher.NewStoreRecorder(store, nil, zap.NewNop()), zap.NewNop())
	guard := followup.NewGuard(store, store.ZohoTasks(), store.Studios(), c, d, followup.Config{SixDayStudios: []string{"southlake"}}, zap.NewNop())
	p := NewProcessor(store, store.Studios(), store.ZohoTasks(), c, guard, nil, Config{AdminNumber: adminPhone}, zap.NewNop())
	return &harness{store: store, crm: c, rc: rc, p: p}
}

func freshLead() model.Contact {
	return model.Contact{ID: "lead-1", Module: model.ModuleLeads, Mobile: leadPhone, FirstName: "Ana", LeadStatus: model.LeadStatusNew, OwnerID: "owner-frisco"}
}

func event(to, body, sid string) Event {
	return Event{Provider: model.ProviderRingCentral, To: "+1" + to, From: "+1" + leadPhone, Body: body, ProviderMessageID: sid}
}

func TestYesFromFreshLeadSendsOneFollowUp(t *testing.T) {
	h := newHarness(freshLead())

	out, err := h.p.Handle(context.Background(), event(planoPhone, " yes ", "in-1"))
	if err != nil || out != OutcomeFollowUp {
		t.Fatalf("expected follow-up, got %s err=%v", out, err)
	}

	var followUps, inbound int
	for _, m := range h.store.Messages() {
		switch {
		case m.IsFollowUpMessage && m.Confirmed():
			followUps++
		case m.Direction == model.DirectionInbound:
			inbound++
		}
	}
	if followUps != 1 || inbound != 1 {
		t.Fatalf("expected one inbound and one confirmed follow-up, got inbound=%d follow_ups=%d", inbound, followUps)
	}
	if _, statuses, _ := h.crm.Snapshot(); statuses["lead-1"] != model.LeadStatusContactedNotBooked {
		t.Fatalf("expected lead status update, got %v", statuses)
	}

	// A second YES becomes a task instead of another follow-up.
	out, err = h.p.Handle(context.Background(), event(planoPhone, "YES", "in-2"))
	if err != nil || out != OutcomeTask {
		t.Fatalf("expected task on repeat yes, got %s err=%v", out, err)
	}
	if n := len(h.rc.Sends()); n != 1 {
		t.Fatalf("expected one provider send, got %d", n)
	}
}

func TestStopOptsOutWithoutTaskOrFollowUp(t *testing.T) {
	h := newHarness(freshLead())

	out, err := h.p.Handle(context.Background(), event(planoPhone, "STOP", "in-1"))
	if err != nil || out != OutcomeOptedOut {
		t.Fatalf("expected opt-out, got %s err=%v", out, err)
	}
	optedOut, _, tasks := h.crm.Snapshot()
	if len(optedOut) != 1 || optedOut[0] != "lead-1" {
		t.Fatalf("expected lead opted out, got %v", optedOut)
	}
	if len(tasks) != 0 || len(h.rc.Sends()) != 0 || len(h.store.Tasks()) != 0 {
		t.Fatalf("expected no task or send after STOP")
	}
}

func TestMissingToIsDropped(t *testing.T) {
	h := newHarness(freshLead())
	ev := event(planoPhone, "hi", "in-1")
	ev.To = ""

	out, err := h.p.Handle(context.Background(), ev)
	if out != OutcomeDropped || !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected dropped validation failure, got %s err=%v", out, err)
	}
	if len(h.store.Messages()) != 0 {
		t.Fatalf("malformed payload must not be stored")
	}
}

func TestOtherBodyCreatesLinkedTask(t *testing.T) {
	h := newHarness(freshLead())

	out, err := h.p.Handle(context.Background(), event(planoPhone, "Can I come Tuesday?", "in-1"))
	if err != nil || out != OutcomeTask {
		t.Fatalf("expected task, got %s err=%v", out, err)
	}
	msgs := h.store.Messages()
	if len(msgs) != 1 || model.Deref(msgs[0].StudioID) != "plano" || model.Deref(msgs[0].ContactID) != "lead-1" {
		t.Fatalf("expected resolved inbound row, got %+v", msgs)
	}
	links := h.store.Tasks()
	if len(links) != 1 || links[0].MessageID != msgs[0].ID || links[0].ZohoTaskID == "" {
		t.Fatalf("expected task linked to the message, got %+v", links)
	}
}

func TestAdminNumberResolvesStudioByOwner(t *testing.T) {
	h := newHarness(freshLead())

	out, err := h.p.Handle(context.Background(), event(adminPhone, "YES", "in-1"))
	if err != nil || out != OutcomeFollowUp {
		t.Fatalf("expected follow-up, got %s err=%v", out, err)
	}
	sends := h.rc.Sends()
	if len(sends) != 1 || sends[0].StudioID != "frisco" || sends[0].From != friscoPhone {
		t.Fatalf("expected send through the owner's studio, got %+v", sends)
	}
}

func TestRedeliveryIsDropped(t *testing.T) {
	h := newHarness(freshLead())
	ctx := context.Background()

	if _, err := h.p.Handle(ctx, event(planoPhone, "hello", "in-1")); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	out, err := h.p.Handle(ctx, event(planoPhone, "hello", "in-1"))
	if err != nil || out != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s err=%v", out, err)
	}
	if len(h.store.Messages()) != 1 || len(h.store.Tasks()) != 1 {
		t.Fatalf("expected one row and one task, got %d/%d", len(h.store.Messages()), len(h.store.Tasks()))
	}
}

func TestYesWithoutContactLeavesSentinel(t *testing.T) {
	h := newHarness()

	out, err := h.p.Handle(context.Background(), event(planoPhone, "Yes", "in-1"))
	if err != nil || out != OutcomeNoContact {
		t.Fatalf("expected no contact, got %s err=%v", out, err)
	}
	var raw, sentinels int
	for _, m := range h.store.Messages() {
		if m.IsFollowUpMessage && !m.Confirmed() {
			sentinels++
			if m.ToNumber != leadPhone || m.FromNumber != planoPhone {
				t.Fatalf("unexpected sentinel numbers %+v", m)
			}
		} else if m.Direction == model.DirectionInbound {
			raw++
		}
	}
	if raw != 1 || sentinels != 1 {
		t.Fatalf("expected raw row and pending sentinel, got raw=%d sentinels=%d", raw, sentinels)
	}
	if len(h.rc.Sends()) != 0 {
		t.Fatalf("expected no send without a contact")
	}
}

func TestUnknownReceivingNumberStillRecords(t *testing.T) {
	h := newHarness(freshLead())

	out, err := h.p.Handle(context.Background(), event("5555550000", "hello", "in-1"))
	if err != nil || out != OutcomeNoStudio {
		t.Fatalf("expected no studio, got %s err=%v", out, err)
	}
	if len(h.store.Messages()) != 1 {
		t.Fatalf("expected raw message recorded")
	}
}

func TestCheckAdminNumber(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if err := CheckAdminNumber(ctx, h.store.Studios(), "+1"+adminPhone); err != nil {
		t.Fatalf("expected owned admin number to pass, got %v", err)
	}
	if err := CheckAdminNumber(ctx, h.store.Studios(), ""); err != nil {
		t.Fatalf("expected empty admin number to pass, got %v", err)
	}
	if err := CheckAdminNumber(ctx, h.store.Studios(), "5555550000"); !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("expected configuration error for unowned number, got %v", err)
	}
}
