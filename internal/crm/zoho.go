// Package crm is the Zoho CRM client: contact lookup, opt-out, lead status and tasks.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/studiolink/smshub/internal/apperr"
	"github.com/studiolink/smshub/internal/credential"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/util"
)

// Task is a CRM task documenting an SMS interaction.
type Task struct {
	Subject     string
	Description string
	OwnerID     string
	Contact     *model.Contact
}

type CRM interface {
	// FindByPhone searches Leads, then Contacts, by mobile. Nil when absent.
	FindByPhone(ctx context.Context, studioID, phone string) (*model.Contact, error)
	GetLead(ctx context.Context, studioID, leadID string) (*model.Contact, error)
	OptOut(ctx context.Context, studioID string, c model.Contact) error
	UpdateLeadStatus(ctx context.Context, studioID, leadID, status string) error
	CreateTask(ctx context.Context, studioID string, t Task) (string, error)
}

type record struct {
	ID         string `json:"id"`
	Mobile     string `json:"Mobile"`
	Phone      string `json:"Phone"`
	FirstName  string `json:"First_Name"`
	SMSOptOut  bool   `json:"SMS_Opt_Out"`
	LeadStatus string `json:"Lead_Status"`
	Owner      struct {
		ID string `json:"id"`
	} `json:"Owner"`
}

func (r record) contact(module string) *model.Contact {
	mobile := r.Mobile
	if mobile == "" {
		mobile = r.Phone
	}
	return &model.Contact{
		ID:         r.ID,
		Module:     module,
		Mobile:     util.NormalizePhone(mobile),
		FirstName:  r.FirstName,
		SMSOptOut:  r.SMSOptOut,
		LeadStatus: r.LeadStatus,
		OwnerID:    r.Owner.ID,
	}
}

type Zoho struct {
	apiURL string
	client *http.Client
	creds  credential.Source
}

func NewZoho(apiURL string, timeout time.Duration, creds credential.Source) *Zoho {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Zoho{
		apiURL: strings.TrimRight(apiURL, "/"),
		client: &http.Client{Timeout: timeout},
		creds:  creds,
	}
}

var _ CRM = (*Zoho)(nil)

func (z *Zoho) FindByPhone(ctx context.Context, studioID, phone string) (*model.Contact, error) {
	n := util.NormalizePhone(phone)
	if n == "" {
		return nil, apperr.Validation("crm.find", "phone is required")
	}
	q := url.Values{}
	q.Set("criteria", "((Mobile:equals:"+n+")or(Phone:equals:"+n+"))")

	for _, module := range []string{model.ModuleLeads, model.ModuleContacts} {
		var out struct {
			Data []record `json:"data"`
		}
		found, err := z.do(ctx, studioID, http.MethodGet, "/crm/v2/"+module+"/search?"+q.Encode(), nil, &out)
		if err != nil {
			return nil, err
		}
		if found && len(out.Data) > 0 {
			return out.Data[0].contact(module), nil
		}
	}
	return nil, nil
}

func (z *Zoho) GetLead(ctx context.Context, studioID, leadID string) (*model.Contact, error) {
	var out struct {
		Data []record `json:"data"`
	}
	found, err := z.do(ctx, studioID, http.MethodGet, "/crm/v2/Leads/"+url.PathEscape(leadID), nil, &out)
	if err != nil {
		return nil, err
	}
	if !found || len(out.Data) == 0 {
		return nil, nil
	}
	return out.Data[0].contact(model.ModuleLeads), nil
}

func (z *Zoho) OptOut(ctx context.Context, studioID string, c model.Contact) error {
	return z.update(ctx, studioID, c.Module, c.ID, map[string]any{"SMS_Opt_Out": true})
}

func (z *Zoho) UpdateLeadStatus(ctx context.Context, studioID, leadID, status string) error {
	return z.update(ctx, studioID, model.ModuleLeads, leadID, map[string]any{"Lead_Status": status})
}

func (z *Zoho) update(ctx context.Context, studioID, module, id string, fields map[string]any) error {
	if id == "" {
		return apperr.Validation("crm.update", "record id is required")
	}
	body := map[string]any{"data": []map[string]any{fields}}
	var out writeResponse
	if _, err := z.do(ctx, studioID, http.MethodPut, "/crm/v2/"+module+"/"+url.PathEscape(id), body, &out); err != nil {
		return err
	}
	_, err := out.first("crm.update")
	return err
}

func (z *Zoho) CreateTask(ctx context.Context, studioID string, t Task) (string, error) {
	fields := map[string]any{
		"Subject":     t.Subject,
		"Description": t.Description,
		"Status":      "Not Started",
		"Priority":    "High",
	}
	if t.OwnerID != "" {
		fields["Owner"] = map[string]string{"id": t.OwnerID}
	}
	if c := t.Contact; c != nil && c.ID != "" {
		if c.IsLead() {
			fields["What_Id"] = c.ID
			fields["$se_module"] = model.ModuleLeads
		} else {
			fields["Who_Id"] = c.ID
		}
	}

	var out writeResponse
	body := map[string]any{"data": []map[string]any{fields}}
	if _, err := z.do(ctx, studioID, http.MethodPost, "/crm/v2/Tasks", body, &out); err != nil {
		return "", err
	}
	return out.first("crm.create_task")
}

type writeResponse struct {
	Data []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details struct {
			ID string `json:"id"`
		} `json:"details"`
	} `json:"data"`
}

func (w writeResponse) first(op string) (string, error) {
	if len(w.Data) == 0 {
		return "", apperr.ExternalService(op, fmt.Errorf("empty write response"))
	}
	d := w.Data[0]
	if d.Code != "SUCCESS" {
		return "", apperr.ExternalService(op, fmt.Errorf("code=%s message=%s", d.Code, d.Message))
	}
	return d.Details.ID, nil
}

// do runs one authorized call. The bool is false on 204, which Zoho returns
// for empty searches.
func (z *Zoho) do(ctx context.Context, studioID, method, path string, in, out any) (bool, error) {
	acc, err := z.creds.Get(ctx, studioID, model.PlatformZoho)
	if err != nil {
		return false, err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return false, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, z.apiURL+path, body)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+acc.AccessToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := z.client.Do(req)
	if err != nil {
		return false, apperr.ExternalService("crm."+strings.ToLower(method), err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNoContent {
		return false, nil
	}
	if res.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return false, apperr.ExternalService("crm."+strings.ToLower(method),
			fmt.Errorf("path=%s status=%d body=%s", path, res.StatusCode, snippet))
	}
	if out == nil {
		return true, nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode zoho response: %w", err)
	}
	return true, nil
}
