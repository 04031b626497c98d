// Package sqlite implements the customer, product and order repositories on
// an embedded SQLite database.
//
// The database handle is limited to a single connection, which serializes
// transactions. Functions passed to InTx must only use the given order.Tx.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/xenking/oolio-orders/db"
)

// Open opens the database at path, applies pragmas and runs the embedded
// schema.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	dsn := "file:" + path + "?" + q.Encode()

	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %q: %w", path, err)
	}
	sqldb.SetMaxOpenConns(1)

	if _, err := sqldb.ExecContext(ctx, db.SQLiteSchema); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return sqldb, nil
}
