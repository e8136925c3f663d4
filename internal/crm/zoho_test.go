package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/studiolink/smshub/internal/apperr"
	"github.com/studiolink/smshub/internal/model"
)

type tokenSource struct{}

func (tokenSource) Get(ctx context.Context, studioID string, platform model.Platform) (*model.Account, error) {
	return &model.Account{AccessToken: "zoho-token", Platform: platform}, nil
}

func TestFindByPhoneFallsBackToContacts(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Zoho-oauthtoken zoho-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/crm/v2/Leads/search":
			w.WriteHeader(http.StatusNoContent)
		case "/crm/v2/Contacts/search":
			if !strings.Contains(r.URL.Query().Get("criteria"), "2145550111") {
				t.Errorf("criteria missing normalized phone: %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"data":[{"id":"c-1","Mobile":"+1 (214) 555-0111","First_Name":"Ana","SMS_Opt_Out":true,"Owner":{"id":"owner-9"}}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c, err := NewZoho(server.URL, time.Second, tokenSource{}).FindByPhone(context.Background(), "studio_1", "214-555-0111")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if c == nil || c.ID != "c-1" || c.Module != model.ModuleContacts || !c.SMSOptOut || c.OwnerID != "owner-9" {
		t.Fatalf("unexpected contact %+v", c)
	}
	if c.Mobile != "2145550111" {
		t.Fatalf("expected normalized mobile, got %q", c.Mobile)
	}
	if len(paths) != 2 {
		t.Fatalf("expected leads then contacts, got %v", paths)
	}
}

func TestFindByPhoneNoMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c, err := NewZoho(server.URL, time.Second, tokenSource{}).FindByPhone(context.Background(), "studio_1", "2145550111")
	if err != nil || c != nil {
		t.Fatalf("expected nil contact, got %+v err=%v", c, err)
	}
}

func TestOptOutSetsFlag(t *testing.T) {
	var got map[string][]map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/crm/v2/Leads/l-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"data":[{"code":"SUCCESS","details":{"id":"l-1"}}]}`))
	}))
	defer server.Close()

	err := NewZoho(server.URL, time.Second, tokenSource{}).OptOut(context.Background(), "studio_1",
		model.Contact{ID: "l-1", Module: model.ModuleLeads})
	if err != nil {
		t.Fatalf("opt out: %v", err)
	}
	if len(got["data"]) != 1 || got["data"][0]["SMS_Opt_Out"] != true {
		t.Fatalf("unexpected update body %+v", got)
	}
}

func TestCreateTaskLinksLead(t *testing.T) {
	var got map[string][]map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"data":[{"code":"SUCCESS","details":{"id":"task-77"}}]}`))
	}))
	defer server.Close()

	id, err := NewZoho(server.URL, time.Second, tokenSource{}).CreateTask(context.Background(), "studio_1", Task{
		Subject: "SMS from lead", Description: "hello", OwnerID: "owner-1",
		Contact: &model.Contact{ID: "l-1", Module: model.ModuleLeads},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if id != "task-77" {
		t.Fatalf("unexpected task id %q", id)
	}
	task := got["data"][0]
	if task["What_Id"] != "l-1" || task["$se_module"] != model.ModuleLeads {
		t.Fatalf("expected lead link, got %+v", task)
	}
}

func TestWriteFailureIsExternalServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"code":"INVALID_DATA","message":"bad id"}]}`))
	}))
	defer server.Close()

	err := NewZoho(server.URL, time.Second, tokenSource{}).UpdateLeadStatus(context.Background(), "s", "l-1", model.LeadStatusContactedNotBooked)
	if !apperr.Is(err, apperr.KindExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}
