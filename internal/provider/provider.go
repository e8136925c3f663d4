package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/studiolink/smshub/internal/model"
)

// Message is a provider-native SMS as returned by a history listing.
// Numbers are already in the canonical 10-digit form.
type Message struct {
	Provider  model.Provider
	ID        string
	From      string
	To        string
	Body      string
	Direction model.Direction
	Status    model.MessageStatus
	SentAt    time.Time
}

// Filter narrows a history listing to one counter-party number.
type Filter struct {
	StudioID string
	Phone    string
}

// Target points a send at an existing sentinel row held under a claim.
type Target struct {
	ID         string
	ClaimToken string
	Kind       model.SentinelKind
}

type SendRequest struct {
	StudioID  string
	ContactID string
	From      string
	To        string
	Body      string
	Target    *Target
}

type SendResult struct {
	MessageID string
}

// Adapter is the fetch-history and send surface of one SMS provider.
type Adapter interface {
	Name() model.Provider
	ListMessages(ctx context.Context, f Filter) ([]Message, error)
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

// Attempt is one resolved send, successful or not.
type Attempt struct {
	Provider  model.Provider
	Request   SendRequest
	MessageID string
	Err       error
	At        time.Time
}

// Recorder persists send attempts.
type Recorder interface {
	Record(ctx context.Context, a Attempt) error
}

// SendError carries the provider error code and a user-facing message.
type SendError struct {
	Provider model.Provider
	Code     string
	Message  string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s send failed code=%s: %s", e.Provider, e.Code, e.Message)
}

// ErrorDetails extracts a code and message suitable for storing on a failed row.
func ErrorDetails(err error) (code, message string) {
	if err == nil {
		return "", ""
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Code, se.Message
	}
	return "", err.Error()
}
