package store

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestGetSubscriptionSurfacesDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(migrations[len(migrations)-1].version))

	s, err := New(db)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	driverErr := errors.New("disk I/O error")
	mock.ExpectQuery("FROM subscriptions WHERE id").
		WillReturnError(driverErr)

	if _, err := s.GetSubscription("sub_x"); !errors.Is(err, driverErr) {
		t.Errorf("Expected driver error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestCreateSubscriptionSurfacesWriteError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(migrations[len(migrations)-1].version))

	s, err := New(db)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	writeErr := errors.New("database is locked")
	mock.ExpectExec("INSERT INTO subscriptions").WillReturnError(writeErr)

	if err := s.CreateSubscription(newSubscription("session-1")); !errors.Is(err, writeErr) {
		t.Errorf("Expected write error, got %v", err)
	}
}
