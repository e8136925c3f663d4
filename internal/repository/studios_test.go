package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func TestStudioGetByPhoneComparesNormalizedNumber(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewStudiosRepository(sqlx.NewDb(db, "mysql"))

	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "name", "zoho_owner_id", "twilio_phone", "ringcentral_phone", "active",
		"manager_name", "callback_phone", "created_at", "updated_at",
	}).AddRow("plano", "Plano", nil, nil, "8175550199", true, nil, nil, at, at)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE twilio_phone = ? OR ringcentral_phone = ?`)).
		WithArgs("8175550199", "8175550199").
		WillReturnRows(rows)

	st, err := repo.GetByPhone(context.Background(), "+1 (817) 555-0199")
	if err != nil || st == nil || st.ID != "plano" {
		t.Fatalf("expected plano, got %+v err=%v", st, err)
	}
	if st, err := repo.GetByPhone(context.Background(), "n/a"); err != nil || st != nil {
		t.Fatalf("expected no lookup for an empty number, got %+v err=%v", st, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
