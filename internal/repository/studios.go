package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/util"
)

// StudiosRepository is read-only; studios are managed by admin tooling.
// Lookups return (nil, nil) when nothing matches.
type StudiosRepository interface {
	GetByID(ctx context.Context, id string) (*model.Studio, error)
	GetByPhone(ctx context.Context, phone string) (*model.Studio, error)
	GetByOwnerID(ctx context.Context, ownerID string) (*model.Studio, error)
	GetByName(ctx context.Context, name string) (*model.Studio, error)
	ListActive(ctx context.Context) ([]model.Studio, error)
}

const studioColumns = `id, name, zoho_owner_id, twilio_phone, ringcentral_phone, active,
	manager_name, callback_phone, created_at, updated_at`

type StudiosRepositoryImpl struct {
	db *sqlx.DB
}

func NewStudiosRepository(db *sqlx.DB) *StudiosRepositoryImpl {
	return &StudiosRepositoryImpl{db: db}
}

var _ StudiosRepository = (*StudiosRepositoryImpl)(nil)

func (r *StudiosRepositoryImpl) getOne(ctx context.Context, where string, arg any) (*model.Studio, error) {
	var s model.Studio
	err := r.db.GetContext(ctx, &s, `SELECT `+studioColumns+` FROM studios WHERE `+where+` LIMIT 1`, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *StudiosRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Studio, error) {
	return r.getOne(ctx, "id = ?", id)
}

// GetByPhone matches either provider number; active studios win ties.
// Stored numbers must be in the 10-digit form (see migrations/001_init.sql);
// the argument is normalized before the exact compare.
func (r *StudiosRepositoryImpl) GetByPhone(ctx context.Context, phone string) (*model.Studio, error) {
	phone = util.NormalizePhone(phone)
	if phone == "" {
		return nil, nil
	}
	var s model.Studio
	err := r.db.GetContext(ctx, &s, `
		SELECT `+studioColumns+`
		  FROM studios
		 WHERE twilio_phone = ? OR ringcentral_phone = ?
		 ORDER BY active DESC
		 LIMIT 1
	`, phone, phone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *StudiosRepositoryImpl) GetByOwnerID(ctx context.Context, ownerID string) (*model.Studio, error) {
	return r.getOne(ctx, "zoho_owner_id = ? AND active = 1", ownerID)
}

func (r *StudiosRepositoryImpl) GetByName(ctx context.Context, name string) (*model.Studio, error) {
	return r.getOne(ctx, "LOWER(name) = LOWER(?)", name)
}

func (r *StudiosRepositoryImpl) ListActive(ctx context.Context) ([]model.Studio, error) {
	var rows []model.Studio
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+studioColumns+` FROM studios WHERE active = 1 ORDER BY name`); err != nil {
		return nil, err
	}
	return rows, nil
}
