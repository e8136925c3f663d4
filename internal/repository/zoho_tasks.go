package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/studiolink/smshub/internal/apperr"
	"github.com/studiolink/smshub/internal/model"
)

// ZohoTasksRepository links CRM tasks to the messages that caused them.
// message_id is UNIQUE, so a second task for the same message is a Conflict.
type ZohoTasksRepository interface {
	GetByMessageID(ctx context.Context, messageID string) (*model.ZohoTask, error)
	Insert(ctx context.Context, t model.ZohoTask) error
}

type ZohoTasksRepositoryImpl struct {
	db *sqlx.DB
}

func NewZohoTasksRepository(db *sqlx.DB) *ZohoTasksRepositoryImpl {
	return &ZohoTasksRepositoryImpl{db: db}
}

var _ ZohoTasksRepository = (*ZohoTasksRepositoryImpl)(nil)

func (r *ZohoTasksRepositoryImpl) GetByMessageID(ctx context.Context, messageID string) (*model.ZohoTask, error) {
	var t model.ZohoTask
	err := r.db.GetContext(ctx, &t, `
		SELECT id, zoho_task_id, message_id, studio_id, contact_id, subject, status, created_at
		  FROM zoho_tasks
		 WHERE message_id = ? LIMIT 1
	`, messageID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *ZohoTasksRepositoryImpl) Insert(ctx context.Context, t model.ZohoTask) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO zoho_tasks (id, zoho_task_id, message_id, studio_id, contact_id, subject, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.ZohoTaskID, t.MessageID, t.StudioID, t.ContactID, t.Subject, t.Status, t.CreatedAt)
	if isDuplicate(err) {
		return apperr.Conflict("zoho_tasks.insert", "task already linked to message %s", t.MessageID)
	}
	return err
}
