package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

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

const studioPhone = "8175550199"

func ptr(s string) *string { return &s }

type heldLock struct{ acquired bool }

func (l *heldLock) TryAcquire(context.Context) (func(), bool, error) {
	return func() {}, l.acquired, nil
}

type harness struct {
	store *memstore.Store
	crm   *crmtest.Fake
	rc    *providertest.Fake
	guard *followup.Guard
}

func newHarness(contacts ...model.Contact) *harness {
	store := memstore.New()
	store.AddStudio(model.Studio{ID: "plano", Name: "Plano", Active: true, RingCentralPhone: ptr(studioPhone)})
	c := crmtest.New(contacts...)
	rc := providertest.New(model.ProviderRingCentral)
	d := dispatcher.NewDispatcher(store.Studios(), []provider.Adapter{rc}, dispatcher.NewStoreRecorder(store, nil, zap.NewNop()), zap.NewNop())
	g := followup.NewGuard(store, store.ZohoTasks(), store.Studios(), c, d, followup.Config{}, zap.NewNop())
	return &harness{store: store, crm: c, rc: rc, guard: g}
}

func (h *harness) sweeper(lock Locker) *Sweeper {
	return NewSweeper(h.store, h.store.Studios(), h.crm, h.guard, lock, Config{Window: time.Hour, Concurrency: 2}, zap.NewNop())
}

func (h *harness) sentinel(t *testing.T, to string, age time.Duration) model.Message {
	t.Helper()
	m := model.Message{
		ID: "s-" + to, FromNumber: studioPhone, ToNumber: to, Provider: model.ProviderRingCentral,
		IsFollowUpMessage: true, Status: model.StatusSending, Direction: model.DirectionOutbound,
		CreatedAt: time.Now().UTC().Add(-age),
	}
	if err := h.store.Insert(context.Background(), m); err != nil {
		t.Fatalf("seed sentinel: %v", err)
	}
	return m
}

func byID(r Report) map[string]Result {
	out := make(map[string]Result, len(r.Results))
	for _, res := range r.Results {
		out[res.ID] = res
	}
	return out
}

func TestRunCompletesPendingSentinels(t *testing.T) {
	h := newHarness(
		model.Contact{ID: "lead-1", Module: model.ModuleLeads, Mobile: "2145550111", LeadStatus: model.LeadStatusNew},
		model.Contact{ID: "lead-2", Module: model.ModuleLeads, Mobile: "2145550112", LeadStatus: model.LeadStatusContactedNotBooked},
	)
	a := h.sentinel(t, "2145550111", 10*time.Minute)
	b := h.sentinel(t, "2145550112", 20*time.Minute)
	none := h.sentinel(t, "2145550113", 5*time.Minute)
	h.sentinel(t, "2145550114", 3*time.Hour) // outside the window

	rep, err := h.sweeper(nil).Run(context.Background())
	if err != nil || !rep.OK {
		t.Fatalf("run: %+v err=%v", rep, err)
	}
	if len(rep.Results) != 3 {
		t.Fatalf("expected 3 items inside the window, got %+v", rep.Results)
	}
	got := byID(rep)
	if got[a.ID].Status != StatusSent || got[b.ID].Status != StatusSent {
		t.Fatalf("expected both contacts sent, got %+v", rep.Results)
	}
	if got[none.ID].Status != StatusSkipped || got[none.ID].Reason != "no contact" {
		t.Fatalf("expected contactless sentinel skipped, got %+v", got[none.ID])
	}
	if n := len(h.rc.Sends()); n != 2 {
		t.Fatalf("expected two provider sends, got %d", n)
	}
}

func TestRunSettlesFailuresIndependently(t *testing.T) {
	h := newHarness(model.Contact{ID: "lead-1", Module: model.ModuleLeads, Mobile: "2145550111", LeadStatus: model.LeadStatusNew})
	h.rc.Err = apperr.ExternalService("ringcentral.send", errors.New("unavailable"))
	failed := h.sentinel(t, "2145550111", time.Minute)
	orphan := h.sentinel(t, "2145550199", time.Minute)

	rep, err := h.sweeper(nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := byID(rep)
	if got[failed.ID].Status != StatusFailed || got[failed.ID].Reason == "" {
		t.Fatalf("expected failure with reason, got %+v", got[failed.ID])
	}
	if got[orphan.ID].Status != StatusSkipped {
		t.Fatalf("expected the other item settled on its own, got %+v", got[orphan.ID])
	}

	// The failed sentinel stays pending and succeeds on the next run.
	h.rc.Err = nil
	rep, err = h.sweeper(nil).Run(context.Background())
	if err != nil || byID(rep)[failed.ID].Status != StatusSent {
		t.Fatalf("expected retry to send, got %+v err=%v", rep, err)
	}
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	h := newHarness()
	h.sentinel(t, "2145550111", time.Minute)

	rep, err := h.sweeper(&heldLock{acquired: false}).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !rep.OK || rep.Message != MessageAlreadyRunning || len(rep.Results) != 0 {
		t.Fatalf("expected already-running report, got %+v", rep)
	}
}

func TestRunSecondPassIsNoop(t *testing.T) {
	h := newHarness(model.Contact{ID: "lead-1", Module: model.ModuleLeads, Mobile: "2145550111", LeadStatus: model.LeadStatusNew})
	h.sentinel(t, "2145550111", time.Minute)

	if _, err := h.sweeper(nil).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	rep, err := h.sweeper(&heldLock{acquired: true}).Run(context.Background())
	if err != nil || len(rep.Results) != 0 {
		t.Fatalf("expected nothing pending after confirm, got %+v err=%v", rep, err)
	}
	if len(h.rc.Sends()) != 1 {
		t.Fatalf("expected exactly one send across runs")
	}
}
