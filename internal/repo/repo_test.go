package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestContextExpiryClassifiedAsStoreTimeout(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	mock.ExpectQuery("SELECT").WillReturnError(context.DeadlineExceeded)

	r := Repo{DB: db}
	_, err = r.GetContact(context.Background(), "c-1")
	if !errors.Is(err, ErrStoreTimeout) {
		t.Fatalf("expected ErrStoreTimeout, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDomainErrorsNotMaskedAsTimeout(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	boom := errors.New("disk on fire")
	mock.ExpectQuery("SELECT").WillReturnError(boom)

	r := Repo{DB: db}
	_, err = r.GetContact(context.Background(), "c-1")
	if errors.Is(err, ErrStoreTimeout) {
		t.Fatalf("non-timeout error classified as timeout: %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("infrastructure error classified as not found: %v", err)
	}
}

func TestMissingRowIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	r := Repo{DB: db}
	_, err = r.GetContact(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClassifyPassesNil(t *testing.T) {
	if classify(nil) != nil {
		t.Fatal("classify(nil) must stay nil")
	}
}
