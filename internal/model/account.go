package model

import "time"

type Platform string

const (
	PlatformZoho        Platform = "zoho"
	PlatformRingCentral Platform = "ringcentral"
)

func (p Platform) String() string { return string(p) }

// Account is a per-platform credential set.
type Account struct {
	ID           string    `db:"id"`
	Platform     Platform  `db:"platform"`
	ClientID     string    `db:"client_id"`
	ClientSecret string    `db:"client_secret"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresIn    int64     `db:"expires_in"` // seconds
	UpdatedAt    time.Time `db:"updated_at"`
	CreatedAt    time.Time `db:"created_at"`
}

// Expired reports updatedAt + expiresIn < now.
func (a Account) Expired(now time.Time) bool {
	return a.UpdatedAt.Add(time.Duration(a.ExpiresIn) * time.Second).Before(now)
}

type StudioAccount struct {
	StudioID  string `db:"studio_id"`
	AccountID string `db:"account_id"`
}
