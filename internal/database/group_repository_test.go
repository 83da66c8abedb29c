package database_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/leadscout/leadscout/internal/database"
	"github.com/leadscout/leadscout/internal/domain"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, setupErr := sqlmock.New()
	if setupErr != nil {
		t.Fatalf("failed to create sqlmock: %v", setupErr)
	}
	t.Cleanup(func() { db.Close() })

	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestGroupRepository_AdvanceCursor(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewGroupRepository(sqlxDB)
	ctx := context.Background()

	groupID := "grp-1"
	observed := "https://groups.example/p/4"
	next := "https://groups.example/p/9"

	testCases := []struct {
		name          string
		setupMock     func()
		wantCursorErr bool
	}{
		{
			name: "advances when the stored cursor matches",
			setupMock: func() {
				mock.ExpectExec("UPDATE groups").
					WithArgs(groupID, observed, next).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "rejects when the cursor has moved",
			setupMock: func() {
				mock.ExpectExec("UPDATE groups").
					WithArgs(groupID, observed, next).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantCursorErr: true,
		},
		{
			name: "wraps database failures",
			setupMock: func() {
				mock.ExpectExec("UPDATE groups").
					WithArgs(groupID, observed, next).
					WillReturnError(sql.ErrConnDone)
			},
			wantCursorErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock()

			callErr := repo.AdvanceCursor(ctx, groupID, observed, next)
			if tc.wantCursorErr {
				if !errors.Is(callErr, domain.ErrCursorPersist) {
					t.Errorf("AdvanceCursor() error = %v, want ErrCursorPersist", callErr)
				}
			} else if callErr != nil {
				t.Errorf("AdvanceCursor() error = %v, want nil", callErr)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestGroupRepository_MarkInitialized(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewGroupRepository(sqlxDB)
	ctx := context.Background()

	testCases := []struct {
		name      string
		setupMock func()
		wantErr   error
	}{
		{
			name: "flips the flag once",
			setupMock: func() {
				mock.ExpectExec("UPDATE groups").
					WithArgs("grp-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "second flip reports not found",
			setupMock: func() {
				mock.ExpectExec("UPDATE groups").
					WithArgs("grp-1").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock()

			callErr := repo.MarkInitialized(ctx, "grp-1")
			if tc.wantErr != nil {
				if !errors.Is(callErr, tc.wantErr) {
					t.Errorf("MarkInitialized() error = %v, want %v", callErr, tc.wantErr)
				}
			} else if callErr != nil {
				t.Errorf("MarkInitialized() error = %v, want nil", callErr)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestGroupRepository_Reset(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewGroupRepository(sqlxDB)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM leads").
		WithArgs("grp-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM posts").
		WithArgs("grp-1").
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec("UPDATE groups").
		WithArgs("grp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.Reset(context.Background(), "grp-1"); err != nil {
		t.Errorf("Reset() error = %v, want nil", err)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestGroupRepository_Reset_UnknownGroupRollsBack(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewGroupRepository(sqlxDB)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM leads").
		WithArgs("grp-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM posts").
		WithArgs("grp-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE groups").
		WithArgs("grp-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	callErr := repo.Reset(context.Background(), "grp-missing")
	if !errors.Is(callErr, domain.ErrNotFound) {
		t.Errorf("Reset() error = %v, want ErrNotFound", callErr)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}
