package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/studiolink/smshub/internal/apperr"
	"github.com/studiolink/smshub/internal/metrics"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Token is the outcome of an OAuth refresh exchange.
type Token struct {
	AccessToken  string
	RefreshToken string // set only when the platform rotates refresh tokens
	ExpiresIn    int64  // seconds
}

// Refresher exchanges an account's refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, a model.Account) (Token, error)
}

// Source hands out a valid credential for a studio and platform.
type Source interface {
	Get(ctx context.Context, studioID string, platform model.Platform) (*model.Account, error)
}

// Resolver returns non-expired credentials, refreshing at most once in flight
// per account id within this process.
type Resolver struct {
	accounts   repository.AccountsRepository
	refreshers map[model.Platform]Refresher
	group      singleflight.Group
	log        *zap.Logger
	now        func() time.Time
}

func NewResolver(accounts repository.AccountsRepository, refreshers map[model.Platform]Refresher, log *zap.Logger) *Resolver {
	return &Resolver{
		accounts:   accounts,
		refreshers: refreshers,
		log:        log,
		now:        time.Now,
	}
}

var _ Source = (*Resolver)(nil)

func (r *Resolver) Get(ctx context.Context, studioID string, platform model.Platform) (*model.Account, error) {
	acc, err := r.accounts.GetForStudio(ctx, studioID, platform)
	if err != nil {
		return nil, fmt.Errorf("load %s account for studio %s: %w", platform, studioID, err)
	}
	if acc == nil {
		return nil, apperr.NotFound("credential.get", "no %s account linked to studio %s", platform, studioID)
	}

	refresher, ok := r.refreshers[platform]
	if !ok || !acc.Expired(r.now()) {
		return acc, nil
	}

	// Concurrent callers for the same account share one refresh. The shared
	// call must not die with whichever request context started it.
	v, err, _ := r.group.Do(acc.ID, func() (any, error) {
		return r.refresh(context.WithoutCancel(ctx), *acc, refresher)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Account), nil
}

func (r *Resolver) refresh(ctx context.Context, acc model.Account, refresher Refresher) (*model.Account, error) {
	tok, err := refresher.Refresh(ctx, acc)
	if err != nil {
		metrics.CredentialRefreshTotal.WithLabelValues(acc.Platform.String(), "failed").Inc()
		r.log.Warn("credential refresh failed",
			zap.String("account_id", acc.ID),
			zap.String("platform", acc.Platform.String()),
			zap.Error(err),
		)
		return nil, apperr.Authentication("credential.refresh", err)
	}

	now := r.now().UTC()
	won, err := r.accounts.UpdateToken(ctx, acc.ID, tok.AccessToken, tok.RefreshToken, tok.ExpiresIn, acc.UpdatedAt, now)
	if err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}
	if !won {
		// Another instance refreshed first; its token is just as valid.
		metrics.CredentialRefreshTotal.WithLabelValues(acc.Platform.String(), "lost_race").Inc()
		latest, err := r.accounts.GetByID(ctx, acc.ID)
		if err != nil {
			return nil, fmt.Errorf("reload account %s: %w", acc.ID, err)
		}
		if latest != nil {
			return latest, nil
		}
	}

	metrics.CredentialRefreshTotal.WithLabelValues(acc.Platform.String(), "ok").Inc()
	acc.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		acc.RefreshToken = tok.RefreshToken
	}
	acc.ExpiresIn = tok.ExpiresIn
	acc.UpdatedAt = now
	return &acc, nil
}
