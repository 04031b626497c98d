// Package db provides embedded database schema and migration files.
package db

import _ "embed"

// Schema contains the PostgreSQL DDL for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// SQLiteSchema contains the SQLite DDL for the same tables. Prices are stored
// as decimal strings.
//
//go:embed sqlite/001_schema.sql
var SQLiteSchema string
