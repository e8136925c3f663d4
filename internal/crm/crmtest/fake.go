// Package crmtest provides an in-memory CRM for service tests.
package crmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/studiolink/smshub/internal/crm"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/util"
)

type Fake struct {
	mu            sync.Mutex
	byPhone       map[string]*model.Contact
	OptedOut      []string
	StatusUpdates map[string]string
	Tasks         []crm.Task
	FindErr       error
	TaskErr       error
}

func New(contacts ...model.Contact) *Fake {
	f := &Fake{byPhone: make(map[string]*model.Contact), StatusUpdates: make(map[string]string)}
	for _, c := range contacts {
		f.Add(c)
	}
	return f
}

var _ crm.CRM = (*Fake)(nil)

func (f *Fake) Add(c model.Contact) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.Mobile = util.NormalizePhone(c.Mobile)
	f.byPhone[c.Mobile] = &c
}

func (f *Fake) FindByPhone(_ context.Context, _, phone string) (*model.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FindErr != nil {
		return nil, f.FindErr
	}
	if c, ok := f.byPhone[util.NormalizePhone(phone)]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (f *Fake) GetLead(_ context.Context, _, leadID string) (*model.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.byPhone {
		if c.ID == leadID && c.IsLead() {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *Fake) OptOut(_ context.Context, _ string, c model.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OptedOut = append(f.OptedOut, c.ID)
	for _, stored := range f.byPhone {
		if stored.ID == c.ID {
			stored.SMSOptOut = true
		}
	}
	return nil
}

func (f *Fake) UpdateLeadStatus(_ context.Context, _, leadID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatusUpdates[leadID] = status
	for _, stored := range f.byPhone {
		if stored.ID == leadID {
			stored.LeadStatus = status
		}
	}
	return nil
}

func (f *Fake) CreateTask(_ context.Context, _ string, t crm.Task) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TaskErr != nil {
		return "", f.TaskErr
	}
	f.Tasks = append(f.Tasks, t)
	return fmt.Sprintf("task-%d", len(f.Tasks)), nil
}

// Snapshot returns copies of the recorded calls.
func (f *Fake) Snapshot() (optedOut []string, statuses map[string]string, tasks []crm.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	statuses = make(map[string]string, len(f.StatusUpdates))
	for k, v := range f.StatusUpdates {
		statuses[k] = v
	}
	return append([]string(nil), f.OptedOut...), statuses, append([]crm.Task(nil), f.Tasks...)
}
