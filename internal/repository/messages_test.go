package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/studiolink/smshub/internal/apperr"
	"github.com/studiolink/smshub/internal/model"
)

func newMockRepo(t *testing.T) (*MessagesRepositoryImpl, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	return NewMessagesRepository(sqlx.NewDb(db, "mysql")), mock
}

var messageColumnNames = []string{
	"id", "from_number", "to_number", "body", "provider", "provider_message_id", "studio_id", "contact_id",
	"is_welcome_message", "is_follow_up_message", "error_code", "error_message", "status", "direction",
	"message_date", "claim_token", "claimed_at", "created_at", "updated_at",
}

func sentinelRow(id, to string, at time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(messageColumnNames).AddRow(
		id, "8175550199", to, "", "ringcentral", nil, "plano", nil,
		false, true, nil, nil, "sending", "outbound",
		nil, nil, nil, at, at,
	)
}

func TestCreateSentinelRereadsWinningRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	// The insert loses to an existing pending row: nothing affected, the
	// re-read returns the other writer's sentinel.
	mock.ExpectExec(`INSERT INTO messages[\s\S]*ON DUPLICATE KEY UPDATE id = id`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE to_number = ? AND is_follow_up_message = 1 AND provider_message_id IS NULL`)).
		WithArgs("2145550111").
		WillReturnRows(sentinelRow("existing", "2145550111", at))

	got, err := repo.CreateSentinel(context.Background(), model.Message{
		ID: "mine", FromNumber: "8175550199", ToNumber: "2145550111",
		Provider: model.ProviderRingCentral, IsFollowUpMessage: true,
		Status: model.StatusSending, Direction: model.DirectionOutbound,
	})
	if err != nil {
		t.Fatalf("create sentinel: %v", err)
	}
	if got == nil || got.ID != "existing" || !got.IsFollowUpMessage || got.ProviderMessageID != nil {
		t.Fatalf("expected the existing pending row, got %+v", got)
	}
}

func TestCreateSentinelNeedsWorkflowFlag(t *testing.T) {
	repo, _ := newMockRepo(t)
	_, err := repo.CreateSentinel(context.Background(), model.Message{ID: "x", ToNumber: "2145550111"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClaimIsConditionalOnLease(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	lease := 2 * time.Minute
	claimSQL := `AND provider_message_id IS NULL\s+AND \(claim_token IS NULL OR claimed_at < \?\)`

	mock.ExpectExec(claimSQL).
		WithArgs("tok-1", now, now, "m1", now.Add(-lease)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(claimSQL).
		WithArgs("tok-2", now, now, "m1", now.Add(-lease)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Claim(context.Background(), "m1", "tok-1", now, lease)
	if err != nil || !ok {
		t.Fatalf("expected first claim to win, got ok=%v err=%v", ok, err)
	}
	ok, err = repo.Claim(context.Background(), "m1", "tok-2", now, lease)
	if err != nil || ok {
		t.Fatalf("expected second claim to lose, got ok=%v err=%v", ok, err)
	}
}

func TestConfirmMapsOutcomes(t *testing.T) {
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	c := Confirmation{
		Provider: model.ProviderRingCentral, ProviderMessageID: "rc-1",
		FromNumber: "8175550199", Body: "hello", At: at,
	}
	confirmSQL := regexp.QuoteMeta(`WHERE id = ? AND claim_token = ?`)

	tests := []struct {
		name     string
		expect   func(sqlmock.Sqlmock)
		conflict bool
	}{
		{
			name: "confirmed",
			expect: func(m sqlmock.Sqlmock) {
				m.ExpectExec(confirmSQL).WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "second confirmed row for recipient",
			expect: func(m sqlmock.Sqlmock) {
				m.ExpectExec(confirmSQL).WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
			},
			conflict: true,
		},
		{
			name: "claim lost",
			expect: func(m sqlmock.Sqlmock) {
				m.ExpectExec(confirmSQL).WillReturnResult(sqlmock.NewResult(0, 0))
			},
			conflict: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			tt.expect(mock)
			err := repo.Confirm(context.Background(), "m1", "tok", c)
			if tt.conflict != apperr.Is(err, apperr.KindConflict) {
				t.Fatalf("conflict=%v expected, got err=%v", tt.conflict, err)
			}
			if !tt.conflict && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestInsertDuplicateProviderIDIsConflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`INSERT INTO messages`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := repo.Insert(context.Background(), model.Message{
		ID: "m1", FromNumber: "2145550111", ToNumber: "8175550199", Body: "hi",
		Provider: model.ProviderTwilio, ProviderMessageID: model.StrPtr("SM1"),
		Status: model.StatusReceived, Direction: model.DirectionInbound,
	})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
