package config

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSQLStore_HandlerSpec(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT send_spec, recv_spec FROM handler WHERE send_ident = ?`)).
		WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"send_spec", "recv_spec"}).
			AddRow("tcp://127.0.0.1:9999", "tcp://127.0.0.1:9998"))

	s := NewSQLStore(db, "sqlite3")
	send, recv, err := s.HandlerSpec(context.Background(), "app")
	if err != nil || send != "tcp://127.0.0.1:9999" || recv != "tcp://127.0.0.1:9998" {
		t.Errorf("HandlerSpec = (%q, %q, %v)", send, recv, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLStore_PostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT chroot FROM server WHERE uuid = $1`)).
		WithArgs("srv").
		WillReturnRows(sqlmock.NewRows([]string{"chroot"}).AddRow("/var/www"))

	s := NewSQLStore(db, "postgres")
	if chroot, err := s.ServerChroot(context.Background(), "srv"); err != nil || chroot != "/var/www" {
		t.Errorf("ServerChroot = (%q, %v)", chroot, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLStore_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT send_spec").WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"send_spec", "recv_spec"}))
	mock.ExpectQuery("SELECT chroot").WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"chroot"}))

	s := NewSQLStore(db, "sqlite3")
	var he *UnknownHandlerError
	if _, _, err := s.HandlerSpec(context.Background(), "nope"); !errors.As(err, &he) {
		t.Errorf("HandlerSpec error = %v, want *UnknownHandlerError", err)
	}
	var se *UnknownServerError
	if _, err := s.ServerChroot(context.Background(), "nope"); !errors.As(err, &se) {
		t.Errorf("ServerChroot error = %v, want *UnknownServerError", err)
	}
}

func TestSQLStore_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	boom := errors.New("database is locked")
	mock.ExpectQuery("SELECT chroot").WillReturnError(boom)

	_, err = NewSQLStore(db, "sqlite3").ServerChroot(context.Background(), "srv")
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
}
