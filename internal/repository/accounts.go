package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/studiolink/smshub/internal/model"
)

type AccountsRepository interface {
	// GetForStudio resolves the account linked to a studio for a platform.
	GetForStudio(ctx context.Context, studioID string, platform model.Platform) (*model.Account, error)
	GetByID(ctx context.Context, id string) (*model.Account, error)
	// UpdateToken writes a refreshed token only if nobody else refreshed since
	// prevUpdatedAt. The bool reports whether this write won. An empty
	// refreshToken keeps the stored one.
	UpdateToken(ctx context.Context, id, accessToken, refreshToken string, expiresIn int64, prevUpdatedAt, now time.Time) (bool, error)
}

const accountColumns = `a.id, a.platform, a.client_id, a.client_secret, a.access_token, a.refresh_token,
	a.expires_in, a.updated_at, a.created_at`

type AccountsRepositoryImpl struct {
	db *sqlx.DB
}

func NewAccountsRepository(db *sqlx.DB) *AccountsRepositoryImpl {
	return &AccountsRepositoryImpl{db: db}
}

var _ AccountsRepository = (*AccountsRepositoryImpl)(nil)

func (r *AccountsRepositoryImpl) GetForStudio(ctx context.Context, studioID string, platform model.Platform) (*model.Account, error) {
	var a model.Account
	err := r.db.GetContext(ctx, &a, `
		SELECT `+accountColumns+`
		  FROM accounts a
		  JOIN studio_accounts sa ON sa.account_id = a.id
		 WHERE sa.studio_id = ? AND a.platform = ?
		 LIMIT 1
	`, studioID, platform.String())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	err := r.db.GetContext(ctx, &a, `SELECT `+accountColumns+` FROM accounts a WHERE a.id = ? LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountsRepositoryImpl) UpdateToken(ctx context.Context, id, accessToken, refreshToken string, expiresIn int64, prevUpdatedAt, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		   SET access_token = ?, refresh_token = COALESCE(NULLIF(?, ''), refresh_token),
		       expires_in = ?, updated_at = ?
		 WHERE id = ? AND updated_at = ?
	`, accessToken, refreshToken, expiresIn, now, id, prevUpdatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
