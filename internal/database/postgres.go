package database

import (
	"database/sql"
	"errors"
	"sync/atomic"

	"github.com/lib/pq"
)

// undefinedColumn is the Postgres error code raised when a query names a
// column the table does not have.
const undefinedColumn = "42703"

type PgRepository struct {
	conn *sql.DB
	// legacySchema is set once the messages table is found to lack the
	// sender_id and embed columns, so later queries skip straight to the
	// reduced shape.
	legacySchema atomic.Bool
}

func NewPgRepository(dsn string) (*PgRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgRepository{conn: db}, nil
}

func (db *PgRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func isUndefinedColumn(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == undefinedColumn
	}
	return false
}

// attachmentError wraps failures of the uploads statements that run inside a
// message transaction. They say nothing about the messages table.
type attachmentError struct {
	op  string
	err error
}

func (e *attachmentError) Error() string {
	return e.op + ": " + e.err.Error()
}

func (e *attachmentError) Unwrap() error {
	return e.err
}

// isLegacySchema reports whether err shows the messages table lacks the
// sender_id and embed columns.
func isLegacySchema(err error) bool {
	var attErr *attachmentError
	if errors.As(err, &attErr) {
		return false
	}
	return isUndefinedColumn(err)
}

// withSchemaFallback runs full unless the schema is already known to be
// missing the optional columns. An undefined_column failure from a messages
// statement in full marks the schema as legacy and runs reduced instead.
func (db *PgRepository) withSchemaFallback(full, reduced func() error) error {
	if !db.legacySchema.Load() {
		err := full()
		if !isLegacySchema(err) {
			return err
		}
		db.legacySchema.Store(true)
	}

	return reduced()
}
