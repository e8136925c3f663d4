package credential

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/studiolink/smshub/internal/model"
	"golang.org/x/oauth2"
)

// grant runs one refresh_token exchange. oauth2 keeps the old refresh token
// when the server does not send a new one.
func grant(ctx context.Context, client *http.Client, cfg oauth2.Config, a model.Account) (Token, error) {
	cfg.ClientID, cfg.ClientSecret = a.ClientID, a.ClientSecret

	start := time.Now()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: a.RefreshToken}).Token()
	if err != nil {
		return Token{}, fmt.Errorf("refresh grant: %w", err)
	}

	var expiresIn int64
	if !tok.Expiry.IsZero() {
		expiresIn = int64(tok.Expiry.Sub(start) / time.Second)
	}
	return Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, ExpiresIn: expiresIn}, nil
}

// ZohoRefresher runs the Zoho accounts refresh_token grant. Client
// credentials go in the form body.
type ZohoRefresher struct {
	cfg    oauth2.Config
	client *http.Client
}

func NewZohoRefresher(accountsURL string, timeout time.Duration) *ZohoRefresher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ZohoRefresher{
		cfg: oauth2.Config{Endpoint: oauth2.Endpoint{
			TokenURL:  strings.TrimRight(accountsURL, "/") + "/oauth/v2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		}},
		client: &http.Client{Timeout: timeout},
	}
}

func (z *ZohoRefresher) Refresh(ctx context.Context, a model.Account) (Token, error) {
	tok, err := grant(ctx, z.client, z.cfg, a)
	if err != nil {
		return Token{}, err
	}
	// Zoho does not rotate refresh tokens.
	tok.RefreshToken = ""
	return tok, nil
}

// RingCentralRefresher runs the RingCentral refresh_token grant with basic client auth.
type RingCentralRefresher struct {
	cfg    oauth2.Config
	client *http.Client
}

func NewRingCentralRefresher(tokenURL string, timeout time.Duration) *RingCentralRefresher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RingCentralRefresher{
		cfg: oauth2.Config{Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		}},
		client: &http.Client{Timeout: timeout},
	}
}

func (r *RingCentralRefresher) Refresh(ctx context.Context, a model.Account) (Token, error) {
	return grant(ctx, r.client, r.cfg, a)
}
