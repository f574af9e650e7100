package driver

import (
	"database/sql"

	// sqlite driver, pure go
	_ "modernc.org/sqlite"
)

// NewSQLiteConn opens a sqlite database at path, ":memory:" for a private
// in-memory one. Statements go through the mysql dialect rewrite.
func NewSQLiteConn(path string) (ITransactionalDB, error) {
	if path == "" {
		path = ":memory:"
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a sqlite file takes one writer, and every :memory: connection is a new database
	conn.SetMaxOpenConns(1)
	return NewSQLWrapper(conn), nil
}
