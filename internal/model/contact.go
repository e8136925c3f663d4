package model

import "time"

const (
	ModuleLeads    = "Leads"
	ModuleContacts = "Contacts"

	LeadStatusNew                = "New"
	LeadStatusContactedNotBooked = "Contacted, Not Booked"
)

// Contact is a CRM-owned lead or customer, referenced by id only.
type Contact struct {
	ID         string `json:"id"`
	Module     string `json:"module"` // Leads | Contacts
	Mobile     string `json:"mobile"`
	FirstName  string `json:"first_name,omitempty"`
	SMSOptOut  bool   `json:"sms_opt_out"`
	LeadStatus string `json:"lead_status,omitempty"`
	OwnerID    string `json:"owner_id,omitempty"`
}

func (c Contact) IsLead() bool { return c.Module == ModuleLeads }

// FreshLead is a lead nobody has worked yet.
func (c Contact) FreshLead() bool {
	return c.IsLead() && c.LeadStatus == LeadStatusNew
}

// ZohoTask links a created CRM task to the message that triggered it.
type ZohoTask struct {
	ID         string    `db:"id"`
	ZohoTaskID string    `db:"zoho_task_id"`
	MessageID  string    `db:"message_id"`
	StudioID   *string   `db:"studio_id"`
	ContactID  *string   `db:"contact_id"`
	Subject    string    `db:"subject"`
	Status     string    `db:"status"`
	CreatedAt  time.Time `db:"created_at"`
}
