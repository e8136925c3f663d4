package model

import "time"

type Provider string

const (
	ProviderTwilio      Provider = "twilio"
	ProviderRingCentral Provider = "ringcentral"
)

func (p Provider) String() string { return string(p) }

func (p Provider) Valid() bool {
	return p == ProviderTwilio || p == ProviderRingCentral
}

type MessageStatus string

const (
	StatusSending  MessageStatus = "sending"
	StatusSent     MessageStatus = "sent"
	StatusFailed   MessageStatus = "failed"
	StatusReceived MessageStatus = "received"
)

func (s MessageStatus) String() string {
	return string(s)
}

func (s MessageStatus) Valid() bool {
	return s == StatusSending || s == StatusSent || s == StatusFailed || s == StatusReceived
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// SentinelKind selects which single-send workflow flag a pending row carries.
type SentinelKind string

const (
	SentinelFollowUp SentinelKind = "follow_up"
	SentinelWelcome  SentinelKind = "welcome"
)

// Message is the DB entity persisted in messages table.
// A nil ProviderMessageID means the send has not been confirmed yet.
type Message struct {
	ID                string        `db:"id"`
	FromNumber        string        `db:"from_number"`
	ToNumber          string        `db:"to_number"`
	Body              string        `db:"body"`
	Provider          Provider      `db:"provider"`
	ProviderMessageID *string       `db:"provider_message_id"`
	StudioID          *string       `db:"studio_id"`
	ContactID         *string       `db:"contact_id"`
	IsWelcomeMessage  bool          `db:"is_welcome_message"`
	IsFollowUpMessage bool          `db:"is_follow_up_message"`
	ErrorCode         *string       `db:"error_code"`
	ErrorMessage      *string       `db:"error_message"`
	Status            MessageStatus `db:"status"`
	Direction         Direction     `db:"direction"`
	MessageDate       *time.Time    `db:"message_date"`
	ClaimToken        *string       `db:"claim_token"`
	ClaimedAt         *time.Time    `db:"claimed_at"`
	CreatedAt         time.Time     `db:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at"`
}

// Confirmed reports whether the provider acknowledged the message.
func (m Message) Confirmed() bool {
	return m.ProviderMessageID != nil && *m.ProviderMessageID != ""
}

// Kind returns the sentinel kind encoded in the workflow flags, if any.
func (m Message) Kind() (SentinelKind, bool) {
	switch {
	case m.IsFollowUpMessage:
		return SentinelFollowUp, true
	case m.IsWelcomeMessage:
		return SentinelWelcome, true
	default:
		return "", false
	}
}

// Timestamp is the effective ordering time: provider date, else creation time.
func (m Message) Timestamp() time.Time {
	if m.MessageDate != nil && !m.MessageDate.IsZero() {
		return *m.MessageDate
	}
	return m.CreatedAt
}

func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
