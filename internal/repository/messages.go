package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/studiolink/smshub/internal/apperr"
	"github.com/studiolink/smshub/internal/model"
)

// Confirmation is what a successful provider send writes onto a sentinel.
type Confirmation struct {
	Provider          model.Provider
	ProviderMessageID string
	FromNumber        string
	Body              string
	StudioID          *string
	ContactID         *string
	At                time.Time
}

// Failure is what a failed send writes onto a sentinel before releasing it.
type Failure struct {
	Provider     model.Provider
	ErrorCode    string
	ErrorMessage string
	At           time.Time
}

// MessagesRepository defines persistence for the messages table.
//
// The sentinel methods rely on the unique indexes from 001_init.sql: one
// pending and one confirmed row per (to_number, kind).
type MessagesRepository interface {
	Insert(ctx context.Context, m model.Message) error
	InsertIgnoreBatch(ctx context.Context, ms []model.Message) (int64, error)
	GetByID(ctx context.Context, id string) (*model.Message, error)
	ListByPhone(ctx context.Context, phone string) ([]model.Message, error)
	ExistsByProviderID(ctx context.Context, provider model.Provider, providerMessageID string) (bool, error)
	UpdateResolution(ctx context.Context, id string, studioID, contactID *string) error

	FindPendingSentinel(ctx context.Context, to string, kind model.SentinelKind) (*model.Message, error)
	CreateSentinel(ctx context.Context, m model.Message) (*model.Message, error)
	HasConfirmed(ctx context.Context, to string, kind model.SentinelKind) (bool, error)
	Claim(ctx context.Context, id, token string, now time.Time, lease time.Duration) (bool, error)
	Confirm(ctx context.Context, id, token string, c Confirmation) error
	Release(ctx context.Context, id, token string, f Failure) error
	ListPendingSince(ctx context.Context, kind model.SentinelKind, since time.Time) ([]model.Message, error)
}

const messageColumns = `id, from_number, to_number, body, provider, provider_message_id, studio_id, contact_id,
	is_welcome_message, is_follow_up_message, error_code, error_message, status, direction,
	message_date, claim_token, claimed_at, created_at, updated_at`

type MessagesRepositoryImpl struct {
	db *sqlx.DB
}

func NewMessagesRepository(db *sqlx.DB) *MessagesRepositoryImpl {
	return &MessagesRepositoryImpl{db: db}
}

var _ MessagesRepository = (*MessagesRepositoryImpl)(nil)

func kindColumn(kind model.SentinelKind) string {
	if kind == model.SentinelWelcome {
		return "is_welcome_message"
	}
	return "is_follow_up_message"
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

func insertArgs(m model.Message) []any {
	return []any{
		m.ID, m.FromNumber, m.ToNumber, m.Body, m.Provider.String(), m.ProviderMessageID,
		m.StudioID, m.ContactID, m.IsWelcomeMessage, m.IsFollowUpMessage, m.ErrorCode,
		m.ErrorMessage, m.Status.String(), string(m.Direction), m.MessageDate,
		m.CreatedAt, m.UpdatedAt,
	}
}

const insertPrefix = `
	INSERT INTO messages
	    (id, from_number, to_number, body, provider, provider_message_id, studio_id, contact_id,
	     is_welcome_message, is_follow_up_message, error_code, error_message, status, direction,
	     message_date, created_at, updated_at)
	VALUES `

const insertRow = `(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func stamp(m *model.Message) {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
}

// Insert writes one row. A duplicate (provider, provider_message_id) is a Conflict.
func (r *MessagesRepositoryImpl) Insert(ctx context.Context, m model.Message) error {
	stamp(&m)
	_, err := r.db.ExecContext(ctx, insertPrefix+insertRow, insertArgs(m)...)
	if isDuplicate(err) {
		return apperr.Conflict("messages.insert", "message %s already stored", model.Deref(m.ProviderMessageID))
	}
	return err
}

// InsertIgnoreBatch bulk-inserts rows; rows whose provider id already exists are no-ops.
func (r *MessagesRepositoryImpl) InsertIgnoreBatch(ctx context.Context, ms []model.Message) (int64, error) {
	if len(ms) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(ms)*17)

	sb.WriteString(insertPrefix)
	for i := range ms {
		if i > 0 {
			sb.WriteString(",")
		}
		stamp(&ms[i])
		sb.WriteString(insertRow)
		args = append(args, insertArgs(ms[i])...)
	}
	sb.WriteString(` ON DUPLICATE KEY UPDATE id = id`)

	res, err := r.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *MessagesRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	err := r.db.GetContext(ctx, &m, `SELECT `+messageColumns+` FROM messages WHERE id = ? LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListByPhone returns every row where the phone is either party.
func (r *MessagesRepositoryImpl) ListByPhone(ctx context.Context, phone string) ([]model.Message, error) {
	var rows []model.Message
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+messageColumns+`
		  FROM messages
		 WHERE from_number = ? OR to_number = ?
		 ORDER BY COALESCE(message_date, created_at) ASC
	`, phone, phone)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *MessagesRepositoryImpl) ExistsByProviderID(ctx context.Context, provider model.Provider, providerMessageID string) (bool, error) {
	var one int
	err := r.db.QueryRowxContext(ctx,
		`SELECT 1 FROM messages WHERE provider = ? AND provider_message_id = ? LIMIT 1`,
		provider.String(), providerMessageID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *MessagesRepositoryImpl) UpdateResolution(ctx context.Context, id string, studioID, contactID *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		   SET studio_id = COALESCE(?, studio_id),
		       contact_id = COALESCE(?, contact_id),
		       updated_at = ?
		 WHERE id = ?
	`, studioID, contactID, time.Now().UTC(), id)
	return err
}

// FindPendingSentinel returns the newest unconfirmed row of the kind for a recipient.
func (r *MessagesRepositoryImpl) FindPendingSentinel(ctx context.Context, to string, kind model.SentinelKind) (*model.Message, error) {
	var m model.Message
	err := r.db.GetContext(ctx, &m, `
		SELECT `+messageColumns+`
		  FROM messages
		 WHERE to_number = ? AND `+kindColumn(kind)+` = 1 AND provider_message_id IS NULL
		 ORDER BY created_at DESC
		 LIMIT 1
	`, to)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateSentinel inserts a pending row unless one already exists for the
// recipient, and returns whichever row won.
func (r *MessagesRepositoryImpl) CreateSentinel(ctx context.Context, m model.Message) (*model.Message, error) {
	kind, ok := m.Kind()
	if !ok {
		return nil, apperr.Validation("messages.create_sentinel", "sentinel needs a workflow flag")
	}
	m.ProviderMessageID = nil
	stamp(&m)
	if _, err := r.db.ExecContext(ctx, insertPrefix+insertRow+` ON DUPLICATE KEY UPDATE id = id`, insertArgs(m)...); err != nil {
		return nil, err
	}
	return r.FindPendingSentinel(ctx, m.ToNumber, kind)
}

func (r *MessagesRepositoryImpl) HasConfirmed(ctx context.Context, to string, kind model.SentinelKind) (bool, error) {
	var one int
	err := r.db.QueryRowxContext(ctx, `
		SELECT 1 FROM messages
		 WHERE to_number = ? AND `+kindColumn(kind)+` = 1 AND provider_message_id IS NOT NULL
		 LIMIT 1
	`, to).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Claim takes the send lease on an unconfirmed row. Only one caller gets true
// until the lease expires or the claim is released.
func (r *MessagesRepositoryImpl) Claim(ctx context.Context, id, token string, now time.Time, lease time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		   SET claim_token = ?, claimed_at = ?, status = 'sending', updated_at = ?
		 WHERE id = ?
		   AND provider_message_id IS NULL
		   AND (claim_token IS NULL OR claimed_at < ?)
	`, token, now, now, id, now.Add(-lease))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *MessagesRepositoryImpl) Confirm(ctx context.Context, id, token string, c Confirmation) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		   SET provider = ?, provider_message_id = ?, from_number = ?, body = ?, status = 'sent',
		       error_code = NULL, error_message = NULL, claim_token = NULL, claimed_at = NULL,
		       message_date = ?, studio_id = COALESCE(?, studio_id), contact_id = COALESCE(?, contact_id),
		       updated_at = ?
		 WHERE id = ? AND claim_token = ?
	`, c.Provider.String(), c.ProviderMessageID, c.FromNumber, c.Body, c.At, c.StudioID, c.ContactID, c.At, id, token)
	if isDuplicate(err) {
		return apperr.Conflict("messages.confirm", "recipient already has a confirmed message of this kind")
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return apperr.Conflict("messages.confirm", "claim on %s lost", id)
	}
	return nil
}

// Release records a failed attempt and drops the claim; the row stays pending.
// An empty provider keeps the stored one.
func (r *MessagesRepositoryImpl) Release(ctx context.Context, id, token string, f Failure) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		   SET provider = COALESCE(NULLIF(?, ''), provider), status = 'failed', error_code = ?, error_message = ?,
		       claim_token = NULL, claimed_at = NULL, updated_at = ?
		 WHERE id = ? AND claim_token = ?
	`, f.Provider.String(), model.StrPtr(f.ErrorCode), model.StrPtr(f.ErrorMessage), f.At, id, token)
	return err
}

// ListPendingSince returns unconfirmed sentinels created after since, oldest first.
func (r *MessagesRepositoryImpl) ListPendingSince(ctx context.Context, kind model.SentinelKind, since time.Time) ([]model.Message, error) {
	var rows []model.Message
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+messageColumns+`
		  FROM messages
		 WHERE `+kindColumn(kind)+` = 1 AND provider_message_id IS NULL AND created_at >= ?
		 ORDER BY created_at ASC
	`, since)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
