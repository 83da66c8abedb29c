package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/leadscout/leadscout/internal/database"
	"github.com/leadscout/leadscout/internal/domain"
)

func TestAccountRepository_Upsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewAccountRepository(db)

	mock.ExpectExec("INSERT INTO accounts").
		WithArgs("acct-1", "maria.s", "vault:acct-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	account := &domain.Account{ID: "acct-1", Username: "maria.s", CredentialRef: "vault:acct-1"}
	if err := repo.Upsert(context.Background(), account); err != nil {
		t.Fatalf("Upsert() error = %v, want nil", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// A re-run with the same roster must not wipe session state: the conflict
// arm only refreshes identity fields.
func TestAccountRepository_Upsert_ExistingAccount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewAccountRepository(db)

	mock.ExpectExec("INSERT INTO accounts (.+) ON CONFLICT").
		WithArgs("acct-1", "maria.renamed", "vault:acct-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	account := &domain.Account{ID: "acct-1", Username: "maria.renamed", CredentialRef: "vault:acct-1"}
	if err := repo.Upsert(context.Background(), account); err != nil {
		t.Fatalf("Upsert() error = %v, want nil", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAccountRepository_MarkLoggedIn(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewAccountRepository(db)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE accounts").
		WithArgs("acct-1", []byte("fresh-state"), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkLoggedIn(context.Background(), "acct-1", []byte("fresh-state"), at); err != nil {
		t.Fatalf("MarkLoggedIn() error = %v, want nil", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAccountRepository_MarkLoggedIn_UnknownAccount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewAccountRepository(db)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE accounts").
		WithArgs("acct-missing", []byte("fresh-state"), at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkLoggedIn(context.Background(), "acct-missing", []byte("fresh-state"), at)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("MarkLoggedIn() error = %v, want ErrNotFound", err)
	}
}
