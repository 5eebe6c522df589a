package config

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
)

// SQLStore reads the server's own configuration database: the handler and
// server tables m2sh writes.
type SQLStore struct {
	db     *sql.DB
	dollar bool
}

// NewSQLStore returns a store querying db. driver is the name db was opened
// with; it decides the placeholder style ($1 for postgres, ? otherwise).
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, dollar: driver == "postgres" || driver == "pgx"}
}

// OpenSQLStore opens dsn with driver. The driver must be registered by the
// caller.
func OpenSQLStore(driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", driver)
	}
	return NewSQLStore(db, driver), nil
}

// query rewrites the single ? placeholder of q for the driver.
func (s *SQLStore) query(q string) string {
	if s.dollar {
		return strings.Replace(q, "?", "$1", 1)
	}
	return q
}

func (s *SQLStore) HandlerSpec(ctx context.Context, appID string) (string, string, error) {
	var send, recv string
	err := s.db.QueryRowContext(ctx,
		s.query(`SELECT send_spec, recv_spec FROM handler WHERE send_ident = ?`), appID,
	).Scan(&send, &recv)
	if err == sql.ErrNoRows {
		return "", "", &UnknownHandlerError{AppID: appID}
	}
	if err != nil {
		return "", "", errors.Wrapf(err, "look up handler %q", appID)
	}
	return send, recv, nil
}

func (s *SQLStore) ServerChroot(ctx context.Context, uuid string) (string, error) {
	var chroot string
	err := s.db.QueryRowContext(ctx,
		s.query(`SELECT chroot FROM server WHERE uuid = ?`), uuid,
	).Scan(&chroot)
	if err == sql.ErrNoRows {
		return "", &UnknownServerError{UUID: uuid}
	}
	if err != nil {
		return "", errors.Wrapf(err, "look up server %q", uuid)
	}
	return chroot, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
