package model

import (
	"strings"
	"time"
)

// Studio is a business location. Managed by admin tooling, read-only here.
type Studio struct {
	ID               string    `db:"id"`
	Name             string    `db:"name"`
	ZohoOwnerID      *string   `db:"zoho_owner_id"`
	TwilioPhone      *string   `db:"twilio_phone"`
	RingCentralPhone *string   `db:"ringcentral_phone"`
	Active           bool      `db:"active"`
	ManagerName      *string   `db:"manager_name"`
	CallbackPhone    *string   `db:"callback_phone"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// PhoneFor returns the studio number configured for a provider ("" if none).
func (s Studio) PhoneFor(p Provider) string {
	switch p {
	case ProviderTwilio:
		return strings.TrimSpace(Deref(s.TwilioPhone))
	case ProviderRingCentral:
		return strings.TrimSpace(Deref(s.RingCentralPhone))
	default:
		return ""
	}
}

func (s Studio) HasProvider(p Provider) bool { return s.PhoneFor(p) != "" }
