package model

import "time"

// MessageEvent is the payload published to Kafka and mirrored into ClickHouse.
type MessageEvent struct {
	ID                string        `json:"id" db:"id"`
	StudioID          string        `json:"studio_id" db:"studio_id"`
	ContactID         string        `json:"contact_id" db:"contact_id"`
	Provider          Provider      `json:"provider" db:"provider"`
	ProviderMessageID string        `json:"provider_message_id" db:"provider_message_id"`
	Direction         Direction     `json:"direction" db:"direction"`
	Status            MessageStatus `json:"status" db:"status"`
	FromNumber        string        `json:"from_number" db:"from_number"`
	ToNumber          string        `json:"to_number" db:"to_number"`
	FollowUp          bool          `json:"follow_up" db:"follow_up"`
	Welcome           bool          `json:"welcome" db:"welcome"`
	ErrorCode         string        `json:"error_code,omitempty" db:"error_code"`
	OccurredAt        time.Time     `json:"occurred_at" db:"occurred_at"`
}

// EventFromMessage projects a stored message into its event form.
func EventFromMessage(m Message) MessageEvent {
	return MessageEvent{
		ID:                m.ID,
		StudioID:          Deref(m.StudioID),
		ContactID:         Deref(m.ContactID),
		Provider:          m.Provider,
		ProviderMessageID: Deref(m.ProviderMessageID),
		Direction:         m.Direction,
		Status:            m.Status,
		FromNumber:        m.FromNumber,
		ToNumber:          m.ToNumber,
		FollowUp:          m.IsFollowUpMessage,
		Welcome:           m.IsWelcomeMessage,
		ErrorCode:         Deref(m.ErrorCode),
		OccurredAt:        m.UpdatedAt,
	}
}
