package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/studiolink/smshub/internal/apperr"
	"github.com/studiolink/smshub/internal/cache"
	"github.com/studiolink/smshub/internal/config"
	"github.com/studiolink/smshub/internal/crm/crmtest"
	"github.com/studiolink/smshub/internal/dispatcher"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/provider"
	"github.com/studiolink/smshub/internal/provider/providertest"
	"github.com/studiolink/smshub/internal/repository/memstore"
	"github.com/studiolink/smshub/internal/service/conversation"
	"github.com/studiolink/smshub/internal/service/followup"
	"github.com/studiolink/smshub/internal/service/inbound"
	"github.com/studiolink/smshub/internal/service/sweep"
	"go.uber.org/zap"
)

const (
	leadPhone   = "2145550111"
	studioPhone = "8175550199"
	apiToken    = "ui-token"
	cronSecret  = "cron-secret"
)

func ptr(s string) *string { return &s }

type fakeSweeper struct {
	rep   sweep.Report
	err   error
	calls int
}

func (f *fakeSweeper) Run(context.Context) (sweep.Report, error) {
	f.calls++
	return f.rep, f.err
}

type testServer struct {
	srv   *Server
	store *memstore.Store
	crm   *crmtest.Fake
	rc    *providertest.Fake
	sweep *fakeSweeper
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memstore.New()
	store.AddStudio(model.Studio{
		ID: "plano", Name: "Plano", Active: true, RingCentralPhone: ptr(studioPhone),
		ZohoOwnerID: ptr("owner-1"), CallbackPhone: ptr("(817) 555-0100"),
	})
	c := crmtest.New(model.Contact{ID: "lead-1", Module: model.ModuleLeads, Mobile: leadPhone, FirstName: "Ana", LeadStatus: model.LeadStatusNew})
	rc := providertest.New(model.ProviderRingCentral)
	log := zap.NewNop()

	d := dispatcher.NewDispatcher(store.Studios(), []provider.Adapter{rc}, dispatcher.NewStoreRecorder(store, nil, log), log)
	guard := followup.NewGuard(store, store.ZohoTasks(), store.Studios(), c, d, followup.Config{}, log)
	proc := inbound.NewProcessor(store, store.Studios(), store.ZohoTasks(), c, guard, nil, inbound.Config{}, log)
	conv := conversation.NewService(store, store.Studios(), rc, nil, cache.NewStudioDirectory(nil, store.Studios(), 0, log), log)
	sw := &fakeSweeper{rep: sweep.Report{OK: true, Results: []sweep.Result{{ID: "m1", Status: sweep.StatusSent}}}}

	cfg := config.Config{
		Cron: config.CronConfig{Secret: cronSecret, RequireAuth: true},
		API:  config.APIConfig{Tokens: map[string]string{"ui": apiToken}},
	}
	srv := NewServer(cfg, Deps{
		Inbound:       proc,
		Welcome:       guard,
		Sweeper:       sw,
		Sender:        d,
		Conversations: conv,
		Studios:       store.Studios(),
		Log:           log,
	})
	return &testServer{srv: srv, store: store, crm: c, rc: rc, sweep: sw}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func form(path string, v url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(v.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestTwilioWebhookMissingToStillAcks(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(form("/webhooks/twilio/sms", url.Values{"From": {"+1" + leadPhone}, "Body": {"YES"}, "MessageSid": {"SM1"}}))

	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("expected empty 200, got %d %q", rec.Code, rec.Body.String())
	}
	if len(ts.store.Messages()) != 0 {
		t.Fatalf("malformed webhook must not store anything")
	}
}

func TestTwilioWebhookStopOptsOut(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(form("/webhooks/twilio/sms", url.Values{
		"To": {"+1" + studioPhone}, "From": {"+1" + leadPhone}, "Body": {"Stop"}, "MessageSid": {"SM1"},
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if opted, _, tasks := ts.crm.Snapshot(); len(opted) != 1 || len(tasks) != 0 {
		t.Fatalf("expected opt-out only, got opted=%v tasks=%d", opted, len(tasks))
	}
}

func TestRingCentralWebhook(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/ringcentral/sms", nil)
	req.Header.Set("Validation-Token", "abc")
	rec := ts.do(req)
	if rec.Code != http.StatusOK || rec.Header().Get("Validation-Token") != "abc" {
		t.Fatalf("expected validation token echoed, got %d %v", rec.Code, rec.Header())
	}

	body := `{"uuid":"u1","body":{"id":1234567890123,"type":"SMS","direction":"Inbound","subject":"YES",
		"from":{"phoneNumber":"+12145550111"},"to":[{"phoneNumber":"+18175550199"}]}}`
	req = httptest.NewRequest(http.MethodPost, "/webhooks/ringcentral/sms", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if rec := ts.do(req); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var inboundID string
	for _, m := range ts.store.Messages() {
		if m.Direction == model.DirectionInbound {
			inboundID = model.Deref(m.ProviderMessageID)
		}
	}
	if inboundID != "1234567890123" {
		t.Fatalf("expected numeric id kept intact, got %q", inboundID)
	}
	if len(ts.rc.Sends()) != 1 {
		t.Fatalf("expected follow-up sent for YES")
	}
}

func TestVoiceWebhookRendersTwiML(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(form("/webhooks/twilio/voice", url.Values{"To": {"+1" + studioPhone}}))

	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/xml") {
		t.Fatalf("expected xml 200, got %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<Say>") || !strings.Contains(body, "Plano") || !strings.Contains(body, "8 1 7 5 5 5 0 1 0 0") {
		t.Fatalf("unexpected twiml %s", body)
	}

	rec = ts.do(form("/webhooks/twilio/voice", url.Values{"To": {"9995550000"}}))
	if b := rec.Body.String(); !strings.Contains(b, "send a text message") || strings.Contains(b, "call us at") {
		t.Fatalf("expected text-us phrasing without callback, got %s", rec.Body.String())
	}
}

func TestZohoWelcomeAlwaysAcks(t *testing.T) {
	ts := newTestServer(t)
	v := url.Values{"leadId": {"lead-1"}, "ownerId": {"owner-1"}, "mobile": {leadPhone}, "firstName": {"Ana"}}

	for i := 0; i < 2; i++ {
		if rec := ts.do(form("/webhooks/zoho/welcome", v)); rec.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i, rec.Code)
		}
	}
	if n := len(ts.rc.Sends()); n != 1 {
		t.Fatalf("expected one welcome send, got %d", n)
	}

	v.Set("ownerId", "nobody")
	if rec := ts.do(form("/webhooks/zoho/welcome", v)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on failure, got %d", rec.Code)
	}
}

func TestCronRequiresSecret(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/cron/follow-ups", nil))
	if rec.Code != http.StatusUnauthorized || ts.sweep.calls != 0 {
		t.Fatalf("expected 401 without secret, got %d calls=%d", rec.Code, ts.sweep.calls)
	}

	req := httptest.NewRequest(http.MethodGet, "/cron/follow-ups", nil)
	req.Header.Set("Authorization", "Bearer "+cronSecret)
	rec = ts.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out struct {
		Results []sweep.Result `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || len(out.Results) != 1 {
		t.Fatalf("expected results body, got %s err=%v", rec.Body.String(), err)
	}

	ts.sweep.rep = sweep.Report{OK: true, Message: sweep.MessageAlreadyRunning}
	rec = ts.do(req)
	if !strings.Contains(rec.Body.String(), sweep.MessageAlreadyRunning) {
		t.Fatalf("expected already-running message, got %s", rec.Body.String())
	}

	ts.sweep.err = errors.New("store down")
	if rec = ts.do(req); rec.Code != http.StatusOK {
		t.Fatalf("expected sweep failure acked with 200, got %d", rec.Code)
	}
}

func sendRequest(body, token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/send", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestSendMessageAPI(t *testing.T) {
	ts := newTestServer(t)
	body := `{"to":"(214) 555-0111","message":"See you Tuesday","studioId":"plano","contact":{"id":"lead-1"}}`

	if rec := ts.do(sendRequest(body, "")); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec := ts.do(sendRequest(body, apiToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	var res dispatcher.SendResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil || !res.Success || res.Provider != model.ProviderRingCentral {
		t.Fatalf("unexpected result %s err=%v", rec.Body.String(), err)
	}

	optedOut := `{"to":"2145550111","message":"hi","studioId":"plano","contact":{"id":"lead-1","SMS_Opt_Out":true}}`
	if rec := ts.do(sendRequest(optedOut, apiToken)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for opted-out contact, got %d", rec.Code)
	}
	if len(ts.rc.Sends()) != 1 {
		t.Fatalf("opted-out send must not reach the provider")
	}

	for _, bad := range []string{
		`{"to":"5550000","message":"hi","studioId":"plano"}`,
		`{"to":"2145550111","from":"123","message":"hi","studioId":"plano"}`,
	} {
		if rec := ts.do(sendRequest(bad, apiToken)); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for invalid number in %s, got %d", bad, rec.Code)
		}
	}
	if len(ts.rc.Sends()) != 1 {
		t.Fatalf("invalid numbers must not reach the provider")
	}

	missing := `{"to":"2145550111","message":"hi","studioId":"nowhere"}`
	if rec := ts.do(sendRequest(missing, apiToken)); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown studio, got %d", rec.Code)
	}
}

func TestConversationAPI(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+apiToken)
	if rec := ts.do(req); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without mobile, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/conversations?mobile=2145550111&studioId=plano", nil)
	req.Header.Set("Authorization", "Bearer "+apiToken)
	rec := ts.do(req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"messages":[]`) {
		t.Fatalf("expected empty conversation, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.Validation("op", "x"), http.StatusBadRequest},
		{apperr.NotFound("op", "x"), http.StatusNotFound},
		{apperr.Authentication("op", errors.New("x")), http.StatusUnauthorized},
		{apperr.Configuration("op", "x"), http.StatusUnprocessableEntity},
		{apperr.Conflict("op", "x"), http.StatusConflict},
		{apperr.ExternalService("op", errors.New("x")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}
