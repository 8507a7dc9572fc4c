package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hitoshi/memberproof/internal/model"
)

func newMockSessionRepo(t *testing.T) (*PostgresSessionRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresSessionRepo(db), mock
}

// PostgresSessionRepoはSessionRepositoryインターフェースを満たすことを検証
func TestPostgresSessionRepo_ImplementsInterface(t *testing.T) {
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
}

func TestPostgresSessionRepo_Create_StoresCachedFieldsAsJSON(t *testing.T) {
	repo, mock := newMockSessionRepo(t)
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sessions`)).
		WithArgs("sess-1", "alice", []byte(`{"given_name":"Alice","family_name":"Anderson","is_member":false}`), now.Add(time.Hour), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &model.Session{
		ID:         "sess-1",
		Subject:    "alice",
		GivenName:  "Alice",
		FamilyName: "Anderson",
		ExpiresAt:  now.Add(time.Hour),
		CreatedAt:  now,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresSessionRepo_FindByID_DecodesData(t *testing.T) {
	repo, mock := newMockSessionRepo(t)
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "subject", "data", "expires_at", "created_at"}).
		AddRow("sess-1", "alice", []byte(`{"given_name":"Alice","family_name":"Anderson","is_member":true}`), now.Add(time.Hour), now)
	mock.ExpectQuery(`SELECT .+ FROM sessions\s+WHERE id = \$1 AND expires_at > now\(\)`).
		WithArgs("sess-1").
		WillReturnRows(rows)

	session, err := repo.FindByID(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if session == nil {
		t.Fatal("expected session, got nil")
	}
	if session.Subject != "alice" || session.GivenName != "Alice" || !session.IsMember {
		t.Errorf("session = %+v", session)
	}
}

func TestPostgresSessionRepo_FindByID_ExpiredOrMissing_ReturnsNil(t *testing.T) {
	repo, mock := newMockSessionRepo(t)

	mock.ExpectQuery(`SELECT .+ FROM sessions`).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"id", "subject", "data", "expires_at", "created_at"}))

	session, err := repo.FindByID(context.Background(), "gone")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if session != nil {
		t.Errorf("expected nil, got %+v", session)
	}
}

func TestPostgresSessionRepo_Update_RewritesData(t *testing.T) {
	repo, mock := newMockSessionRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sessions SET data = $2 WHERE id = $1`)).
		WithArgs("sess-1", []byte(`{"given_name":"Alice","family_name":"Anderson","is_member":true}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), &model.Session{
		ID:         "sess-1",
		Subject:    "alice",
		GivenName:  "Alice",
		FamilyName: "Anderson",
		IsMember:   true,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresSessionRepo_DeleteByID(t *testing.T) {
	repo, mock := newMockSessionRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM sessions WHERE id = $1`)).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.DeleteByID(context.Background(), "sess-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
